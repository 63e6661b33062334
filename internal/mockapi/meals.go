package mockapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePantryList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := append([]PantryItem(nil), s.pantry[userIDFrom(r.Context())]...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, paginate(r, items))
}

func (s *Server) handlePantryCreate(w http.ResponseWriter, r *http.Request) {
	var item PantryItem
	if err := decodeBody(r, &item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if item.ItemName == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"item_name": []string{"This field is required."}})
		return
	}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	item.ID = s.nextID
	s.nextID++
	s.pantry[userID] = append(s.pantry[userID], item)
	s.mu.Unlock()
	respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handlePantryUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var item PantryItem
	if err := decodeBody(r, &item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.pantry[userID] {
		if cur.ID == id {
			item.ID = id
			s.pantry[userID][i] = item
			respondJSON(w, http.StatusOK, item)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Not found.")
}

func (s *Server) handlePantryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.pantry[userID]
	for i, cur := range items {
		if cur.ID == id {
			s.pantry[userID] = append(items[:i], items[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Not found.")
}

// handleMealPlans uses the {"meal_plans": [...]} envelope of the real
// endpoint.
func (s *Server) handleMealPlans(w http.ResponseWriter, r *http.Request) {
	week := r.URL.Query().Get("week_start_date")
	s.mu.Lock()
	var out []MealPlan
	for _, p := range s.plans[userIDFrom(r.Context())] {
		if week == "" || p.WeekStartDate == week {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	if out == nil {
		out = []MealPlan{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"meal_plans": out})
}

func (s *Server) handleMealPlan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "planID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans[userIDFrom(r.Context())] {
		if p.ID == id {
			respondJSON(w, http.StatusOK, p)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Meal plan not found.")
}

var planDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

func (s *Server) handleGenerateMealPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WeekStartDate string `json:"week_start_date"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	start, err := time.Parse(time.DateOnly, body.WeekStartDate)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "week_start_date must be YYYY-MM-DD"})
		return
	}

	userID := userIDFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans[userID] {
		if p.WeekStartDate == body.WeekStartDate {
			respondJSON(w, http.StatusOK, p)
			return
		}
	}
	plan := MealPlan{
		ID:            s.nextID,
		WeekStartDate: body.WeekStartDate,
		WeekEndDate:   start.AddDate(0, 0, 6).Format(time.DateOnly),
	}
	s.nextID++
	for _, day := range planDays {
		plan.Meals = append(plan.Meals, MealPlanMeal{
			MealPlanMealID: s.nextID,
			Day:            day,
			MealType:       "Dinner",
			Meal:           Meal{ID: s.nextID, Name: day + " dinner"},
		})
		s.nextID++
	}
	s.plans[userID] = append(s.plans[userID], plan)
	respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleApproveMealPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MealPlanID int64 `json:"meal_plan_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.plans[userID] {
		if s.plans[userID][i].ID == body.MealPlanID {
			s.plans[userID][i].IsApproved = true
			respondJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Meal plan approved"})
			return
		}
	}
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "Meal plan not found."})
}

func (s *Server) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := append([]HealthMetric{}, s.metrics[userIDFrom(r.Context())]...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveHealthMetric(w http.ResponseWriter, r *http.Request) {
	var m HealthMetric
	if err := decodeBody(r, &m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if m.DateRecorded == "" {
		m.DateRecorded = time.Now().Format(time.DateOnly)
	}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	m.ID = s.nextID
	s.nextID++
	s.metrics[userID] = append(s.metrics[userID], m)
	s.mu.Unlock()
	respondJSON(w, http.StatusCreated, m)
}
