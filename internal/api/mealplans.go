package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	mealPlansPath            = "/meals/api/meal_plans/"
	generateMealPlanPath     = "/meals/api/generate_meal_plan/"
	approveMealPlanPath      = "/meals/api/approve_meal_plan/"
	removeMealFromPlanPath   = "/meals/api/remove_meal_from_plan/"
	updateMealsPromptPath    = "/meals/api/update_meals_with_prompt/"
	replaceMealPlanMealPath  = "/meals/api/replace_meal_plan_meal/"
	generateInstructionsPath = "/meals/api/generate_cooking_instructions/"
	fetchInstructionsPath    = "/meals/api/fetch_instructions/"
	emailApprovedPlanPath    = "/meals/api/email_approved_meal_plan/"
	emergencySupplyPath      = "/meals/api/generate_emergency_supply/"
	instacartLinkPath        = "/meals/api/generate-instacart-link/"
)

// MealPlans lists plans, optionally for the week starting weekStart (YYYY-MM-DD).
func (c *Client) MealPlans(ctx context.Context, weekStart string, page int) (Page[MealPlan], error) {
	q := url.Values{}
	if weekStart != "" {
		q.Set("week_start_date", weekStart)
	}
	return getPage[MealPlan](ctx, c, mealPlansPath, q, page)
}

func (c *Client) MealPlan(ctx context.Context, id int64) (MealPlan, error) {
	var p MealPlan
	err := c.get(ctx, fmt.Sprintf("%s%d/", mealPlansPath, id), nil, &p)
	return p, err
}

// GenerateMealPlan requests a plan for the given week. The server either
// returns the plan or accepts the job; in the latter case the plan has no
// meals yet.
func (c *Client) GenerateMealPlan(ctx context.Context, weekStart string) (MealPlan, error) {
	var p MealPlan
	err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       generateMealPlanPath,
		body:       map[string]string{"week_start_date": weekStart},
		idempotent: true,
	}, &p)
	return p, err
}

func (c *Client) ApproveMealPlan(ctx context.Context, mealPlanID int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, approveMealPlanPath, map[string]int64{"meal_plan_id": mealPlanID}, &out)
	return out, err
}

func (c *Client) RemoveMealFromPlan(ctx context.Context, mealPlanMealID int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, removeMealFromPlanPath, map[string]int64{"meal_plan_meal_id": mealPlanMealID}, &out)
	return out, err
}

func (c *Client) UpdateMealsWithPrompt(ctx context.Context, mealPlanID int64, prompt string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, updateMealsPromptPath, map[string]any{"meal_plan_id": mealPlanID, "prompt": prompt}, &out)
	return out, err
}

type ReplaceMeal struct {
	MealPlanMealID  int64  `json:"meal_plan_meal_id"`
	ChefMealID      int64  `json:"chef_meal_id"`
	EventID         *int64 `json:"event_id,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

func (c *Client) ReplaceMealPlanMeal(ctx context.Context, r ReplaceMeal) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, call{method: http.MethodPut, path: replaceMealPlanMealPath, body: r}, &out)
	return out, err
}

func (c *Client) GenerateCookingInstructions(ctx context.Context, mealPlanMealIDs []int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, generateInstructionsPath, map[string][]int64{"meal_plan_meal_ids": mealPlanMealIDs}, &out)
	return out, err
}

func (c *Client) FetchInstructions(ctx context.Context, mealPlanMealIDs []int64) (json.RawMessage, error) {
	ids := make([]string, len(mealPlanMealIDs))
	for i, id := range mealPlanMealIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	var out json.RawMessage
	err := c.get(ctx, fetchInstructionsPath, url.Values{"meal_plan_meal_ids": {strings.Join(ids, ",")}}, &out)
	return out, err
}

func (c *Client) EmailApprovedMealPlan(ctx context.Context, mealPlanID int64, email string) error {
	return c.post(ctx, emailApprovedPlanPath, map[string]any{"meal_plan_id": mealPlanID, "email": email}, nil)
}

func (c *Client) GenerateEmergencySupply(ctx context.Context, days int) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, emergencySupplyPath, map[string]int{"days": days}, &out)
	return out, err
}

func (c *Client) GenerateInstacartLink(ctx context.Context, mealPlanID int64) (Link, error) {
	var l Link
	err := c.post(ctx, instacartLinkPath, map[string]int64{"meal_plan_id": mealPlanID}, &l)
	return l, err
}

func (c *Client) MealPlanInstacartURL(ctx context.Context, mealPlanID int64) (Link, error) {
	var l Link
	err := c.get(ctx, fmt.Sprintf("/meals/api/meal-plans/%d/instacart-url/", mealPlanID), nil, &l)
	return l, err
}
