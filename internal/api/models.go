package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type User struct {
	ID                   int64  `json:"id,omitempty"`
	UserID               int64  `json:"user_id,omitempty"`
	Username             string `json:"username"`
	Email                string `json:"email,omitempty"`
	IsChef               bool   `json:"is_chef"`
	CurrentRole          string `json:"current_role,omitempty"`
	EmailConfirmed       bool   `json:"email_confirmed,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
	PreferredLanguage    string `json:"preferred_language,omitempty"`
	HouseholdMemberCount int    `json:"household_member_count,omitempty"`
}

// Role returns the active role, defaulting to customer.
func (u User) Role() string {
	if u.CurrentRole == "chef" || u.CurrentRole == "customer" {
		return u.CurrentRole
	}
	return "customer"
}

type Address struct {
	Street          string `json:"street,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	Country         string `json:"country,omitempty"`
	InputPostalCode string `json:"input_postalcode,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	Postalcode      string `json:"postalcode,omitempty"`
}

// Postal returns whichever postal code field the server filled.
func (a Address) Postal() string {
	for _, s := range []string{a.InputPostalCode, a.PostalCode, a.Postalcode} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

type ThreadSummary struct {
	ID        ID     `json:"id"`
	ThreadID  ID     `json:"thread_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// Key returns the identifier used to resume the thread.
func (t ThreadSummary) Key() string {
	if t.ID != "" {
		return t.ID.String()
	}
	return t.ThreadID.String()
}

type PantryItem struct {
	ID             int64   `json:"id,omitempty"`
	ItemName       string  `json:"item_name"`
	Quantity       int     `json:"quantity"`
	ExpirationDate string  `json:"expiration_date,omitempty"`
	ItemType       string  `json:"item_type,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	WeightPerUnit  float64 `json:"weight_per_unit,omitempty"`
	WeightUnit     string  `json:"weight_unit,omitempty"`
}

type MealInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type MealPlanMeal struct {
	MealPlanMealID int64    `json:"meal_plan_meal_id"`
	Day            string   `json:"day"`
	MealType       string   `json:"meal_type"`
	Meal           MealInfo `json:"meal"`
}

type MealPlan struct {
	ID            int64          `json:"id"`
	WeekStartDate string         `json:"week_start_date"`
	WeekEndDate   string         `json:"week_end_date"`
	IsApproved    bool           `json:"is_approved"`
	Meals         []MealPlanMeal `json:"meals"`
}

type Chef struct {
	ID   int64 `json:"id"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
	Bio           string `json:"bio,omitempty"`
	Experience    string `json:"experience,omitempty"`
	ReviewSummary string `json:"review_summary,omitempty"`
}

type MealEvent struct {
	ID        int64       `json:"id"`
	EventDate string      `json:"event_date"`
	EventTime string      `json:"event_time,omitempty"`
	Status    string      `json:"status,omitempty"`
	Price     json.Number `json:"price,omitempty"`
	Meal      MealInfo    `json:"meal"`
}

type Order struct {
	ID              int64  `json:"id"`
	MealEvent       int64  `json:"meal_event"`
	Quantity        int    `json:"quantity"`
	Status          string `json:"status,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

type OrderRequest struct {
	MealEvent       int64  `json:"meal_event"`
	Quantity        int    `json:"quantity"`
	SpecialRequests string `json:"special_requests"`
}

type HealthMetric struct {
	ID           int64    `json:"id,omitempty"`
	DateRecorded string   `json:"date_recorded"`
	Weight       *float64 `json:"weight,omitempty"`
	Mood         string   `json:"mood,omitempty"`
	EnergyLevel  int      `json:"energy_level,omitempty"`
}

type StripeStatus struct {
	HasAccount     bool   `json:"has_account"`
	IsActive       bool   `json:"is_active"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

type Link struct {
	URL string `json:"url"`
}
