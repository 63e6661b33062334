// Package assistant opens streamed replies from the assistant service and
// exposes them as an iterator of decoded events.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"sautai-client/internal/session"
)

const (
	StreamPath      = "/customer_dashboard/api/assistant/stream-message/"
	GuestStreamPath = "/customer_dashboard/api/assistant/guest-stream-message/"
	SummaryPath     = "/customer_dashboard/api/stream_user_summary/"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected stream status")
	ErrUnauthorized     = errors.New("not authorized to open stream")
	ErrNoBody           = errors.New("stream response has no body")
)

type Request struct {
	Message string
	// ThreadID continues an existing conversation; empty starts a new one.
	ThreadID string
	// Guest uses the unauthenticated endpoint and sends no credentials.
	Guest bool
}

type Client struct {
	baseURL string
	authed  *http.Client
	guest   *http.Client
}

// NewClient builds a client. authed should come from session.Manager.NewClient
// so requests carry the bearer token and the 401 retry; guest may be nil.
func NewClient(baseURL string, authed, guest *http.Client) *Client {
	if authed == nil {
		authed = &http.Client{}
	}
	if guest == nil {
		guest = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), authed: authed, guest: guest}
}

// Stream sends one chat message and returns immediately; the reply is read
// in the background.
func (c *Client) Stream(ctx context.Context, r Request) *Stream {
	payload := map[string]string{"message": r.Message}
	if r.ThreadID != "" {
		payload["response_id"] = r.ThreadID
	}
	path, hc := StreamPath, c.authed
	if r.Guest {
		path, hc = GuestStreamPath, c.guest
	}
	return start(ctx, func(ctx context.Context) (*http.Response, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set(session.SkipIdentityHeader, "true")
		return hc.Do(req)
	})
}

// Summary streams the daily summary for date (YYYY-MM-DD, empty for today).
func (c *Client) Summary(ctx context.Context, date string) *Stream {
	u := c.baseURL + SummaryPath
	if date != "" {
		u += "?" + url.Values{"date": {date}}.Encode()
	}
	return start(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		return c.authed.Do(req)
	})
}

func checkResponse(resp *http.Response, err error) error {
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return ErrNoBody
	}
	return nil
}
