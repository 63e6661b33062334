package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"sautai-client/internal/session"
)

const (
	loginPath          = "/auth/api/login/"
	registerPath       = "/auth/api/register/"
	userDetailsPath    = "/auth/api/user_details/"
	addressDetailsPath = "/auth/api/address_details/"
	switchRolePath     = "/auth/api/switch_role/"
	updateProfilePath  = "/auth/api/update_profile/"
)

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type loginResponse struct {
	User
	tokenResponse
}

// Registration is the new-account payload. It is sent wrapped as {"user": ...}.
type Registration struct {
	Username          string `json:"username"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	Timezone          string `json:"timezone,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

func (c *Client) requireSession() error {
	if c.session == nil {
		return session.ErrNoSession
	}
	return nil
}

// Login exchanges credentials for a token pair, stores it and returns the
// user's details. Credentials are form-encoded.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	if err := c.requireSession(); err != nil {
		return User{}, err
	}
	var resp loginResponse
	err := c.do(ctx, call{
		method:       http.MethodPost,
		path:         loginPath,
		form:         url.Values{"username": {username}, "password": {password}},
		skipIdentity: true,
	}, &resp)
	if err != nil {
		return User{}, err
	}
	if resp.Access == "" {
		return User{}, errors.New("login response carried no access token")
	}
	if err := c.session.SetTokens(session.Tokens{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
		return User{}, err
	}
	if u, err := c.UserDetails(ctx); err == nil {
		return u, nil
	}
	return resp.User, nil
}

// Register creates an account. When the server does not return tokens the
// new credentials are used to log in.
func (c *Client) Register(ctx context.Context, reg Registration) (User, error) {
	if err := c.requireSession(); err != nil {
		return User{}, err
	}
	var resp loginResponse
	err := c.do(ctx, call{
		method:       http.MethodPost,
		path:         registerPath,
		body:         map[string]any{"user": reg},
		skipIdentity: true,
	}, &resp)
	if err != nil {
		return User{}, err
	}
	if resp.Access == "" || resp.Refresh == "" {
		return c.Login(ctx, reg.Username, reg.Password)
	}
	if err := c.session.SetTokens(session.Tokens{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
		return User{}, err
	}
	return c.UserDetails(ctx)
}

// Logout invalidates the refresh token and forgets the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.session.Logout(ctx)
}

func (c *Client) UserDetails(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, userDetailsPath, nil, &u)
	return u, err
}

// AddressDetails is optional on the server; failures are not announced.
func (c *Client) AddressDetails(ctx context.Context) (Address, error) {
	var a Address
	err := c.do(ctx, call{method: http.MethodGet, path: addressDetailsPath, quiet: true}, &a)
	return a, err
}

// UpdateProfile sends the changed profile fields.
func (c *Client) UpdateProfile(ctx context.Context, fields map[string]any) (User, error) {
	var u User
	err := c.post(ctx, updateProfilePath, fields, &u)
	return u, err
}

// SwitchRole changes the active role. The server may reissue tokens and may
// return the updated user; otherwise the user is fetched again.
func (c *Client) SwitchRole(ctx context.Context, role string) (User, error) {
	body := map[string]string{}
	if role != "" {
		body["role"] = role
	}
	var resp struct {
		tokenResponse
		User *User `json:"user"`
	}
	if err := c.post(ctx, switchRolePath, body, &resp); err != nil {
		return User{}, err
	}
	if c.session != nil && (resp.Access != "" || resp.Refresh != "") {
		if err := c.session.SetTokens(session.Tokens{Access: resp.Access, Refresh: resp.Refresh}); err != nil {
			return User{}, err
		}
	}
	if resp.User != nil {
		return *resp.User, nil
	}
	return c.UserDetails(ctx)
}
