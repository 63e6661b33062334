package mockapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

type User struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email,omitempty"`
	IsChef            bool   `json:"is_chef"`
	CurrentRole       string `json:"current_role"`
	Timezone          string `json:"timezone,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

type PantryItem struct {
	ID             int64  `json:"id"`
	ItemName       string `json:"item_name"`
	Quantity       int    `json:"quantity"`
	ExpirationDate string `json:"expiration_date,omitempty"`
	ItemType       string `json:"item_type,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type Meal struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type MealPlanMeal struct {
	MealPlanMealID int64  `json:"meal_plan_meal_id"`
	Day            string `json:"day"`
	MealType       string `json:"meal_type"`
	Meal           Meal   `json:"meal"`
}

type MealPlan struct {
	ID            int64          `json:"id"`
	WeekStartDate string         `json:"week_start_date"`
	WeekEndDate   string         `json:"week_end_date"`
	IsApproved    bool           `json:"is_approved"`
	Meals         []MealPlanMeal `json:"meals"`
}

type HealthMetric struct {
	ID           int64    `json:"id"`
	DateRecorded string   `json:"date_recorded"`
	Weight       *float64 `json:"weight,omitempty"`
	Mood         string   `json:"mood,omitempty"`
	EnergyLevel  int      `json:"energy_level,omitempty"`
}

type chatEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type threadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("mockapi: encode response: %v", err)
	}
}

// respondError uses the {"detail": ...} shape of the real backend.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}

// paginate slices items for the page query parameter and wraps them in the
// results/count/next/previous envelope.
func paginate[T any](r *http.Request, items []T) map[string]any {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if size < 1 {
		size = defaultPageSize
	}
	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	totalPages := (len(items) + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}

	var next, prev any
	if end < len(items) {
		next = pageURL(r, page+1)
	}
	if page > 1 {
		prev = pageURL(r, page-1)
	}
	results := items[start:end]
	if results == nil {
		results = []T{}
	}
	return map[string]any{
		"results":     results,
		"count":       len(items),
		"total_pages": totalPages,
		"next":        next,
		"previous":    prev,
	}
}

func pageURL(r *http.Request, page int) string {
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	return r.URL.Path + "?" + q.Encode()
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
