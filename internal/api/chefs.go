package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const (
	publicChefsPath     = "/chefs/api/public/"
	chefMealsPostalPath = "/meals/api/chef-meals-by-postal-code/"
	chefDashboardPath   = "/meals/api/chef-dashboard-stats/"
	chefMealEventsPath  = "/meals/api/chef-meal-events/"
	chefMealOrdersPath  = "/meals/api/chef-meal-orders/"
)

func (c *Client) PublicChefs(ctx context.Context, page int) (Page[Chef], error) {
	return getPage[Chef](ctx, c, publicChefsPath, nil, page)
}

func (c *Client) PublicChef(ctx context.Context, id int64) (Chef, error) {
	var ch Chef
	err := c.get(ctx, fmt.Sprintf("%s%d/", publicChefsPath, id), nil, &ch)
	return ch, err
}

func (c *Client) ChefByUsername(ctx context.Context, username string) (Chef, error) {
	var ch Chef
	err := c.get(ctx, publicChefsPath+"by-username/"+url.PathEscape(username)+"/", nil, &ch)
	return ch, err
}

// ChefMealsByPostalCode searches meals offered near the caller; params are
// passed through as query parameters.
func (c *Client) ChefMealsByPostalCode(ctx context.Context, params url.Values, page int) (Page[MealEvent], error) {
	return getPage[MealEvent](ctx, c, chefMealsPostalPath, params, page)
}

func (c *Client) ChefDashboardStats(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, chefDashboardPath, nil, &out)
	return out, err
}

func (c *Client) ChefMealEvents(ctx context.Context, page int) (Page[MealEvent], error) {
	return getPage[MealEvent](ctx, c, chefMealEventsPath, nil, page)
}

func (c *Client) ChefMealOrders(ctx context.Context, page int) (Page[Order], error) {
	return getPage[Order](ctx, c, chefMealOrdersPath, nil, page)
}

// PlaceOrder orders a chef meal event. Each call carries a new
// Idempotency-Key so that a resent request is not charged twice.
func (c *Client) PlaceOrder(ctx context.Context, r OrderRequest) (Order, error) {
	if r.Quantity < 1 {
		r.Quantity = 1
	}
	var o Order
	err := c.do(ctx, call{method: http.MethodPost, path: chefMealOrdersPath, body: r, idempotent: true}, &o)
	return o, err
}
