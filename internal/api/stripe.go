package api

import (
	"context"
	"encoding/json"
	"net/url"
)

const (
	stripeStatusPath     = "/meals/api/stripe-account-status/"
	stripeLinkPath       = "/meals/api/stripe-account-link/"
	stripeRegeneratePath = "/meals/api/regenerate-stripe-link/"
	bankGuidancePath     = "/meals/api/bank-account-guidance/"
	fixRestrictedPath    = "/meals/api/fix-restricted-account/"
)

func (c *Client) StripeStatus(ctx context.Context) (StripeStatus, error) {
	var s StripeStatus
	err := c.get(ctx, stripeStatusPath, nil, &s)
	return s, err
}

// StripeAccountLink starts or continues payout onboarding.
func (c *Client) StripeAccountLink(ctx context.Context) (Link, error) {
	var l Link
	err := c.post(ctx, stripeLinkPath, struct{}{}, &l)
	return l, err
}

func (c *Client) RegenerateStripeLink(ctx context.Context) (Link, error) {
	var l Link
	err := c.post(ctx, stripeRegeneratePath, struct{}{}, &l)
	return l, err
}

func (c *Client) StripeRefreshSession(ctx context.Context, accountID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/meals/stripe-refresh/"+url.PathEscape(accountID)+"/", nil, &out)
	return out, err
}

func (c *Client) StripeReturnStatus(ctx context.Context, accountID string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, "/meals/stripe-return/"+url.PathEscape(accountID)+"/", nil, &out)
	return out, err
}

func (c *Client) BankAccountGuidance(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.get(ctx, bankGuidancePath, nil, &out)
	return out, err
}

func (c *Client) FixRestrictedAccount(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.post(ctx, fixRestrictedPath, struct{}{}, &out)
	return out, err
}
