// Package api is a typed client for the sautAI REST endpoints. Requests go
// through the session transport, so every call carries the bearer token and
// the caller's user_id and survives one expired access token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"sautai-client/internal/notify"
	"sautai-client/internal/session"
)

const maxErrorBody = 64 << 10

type Options struct {
	BaseURL string
	Session *session.Manager
	Notify  *notify.Bus
	// Timeout bounds each REST call; 0 means no limit.
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	session *session.Manager
	notify  *notify.Bus
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		session: opts.Session,
		notify:  opts.Notify,
	}
	if opts.Session != nil {
		c.http = opts.Session.NewClient(opts.Timeout)
	} else {
		c.http = &http.Client{Timeout: opts.Timeout}
	}
	return c
}

// Session returns the token manager behind the client, or nil.
func (c *Client) Session() *session.Manager { return c.session }

// HTTPClient returns the session-aware HTTP client, for streaming callers.
func (c *Client) HTTPClient() *http.Client { return c.http }

// NewIdempotencyKey returns a fresh key for the Idempotency-Key header.
func NewIdempotencyKey() string { return uuid.NewString() }

type call struct {
	method string
	path   string
	query  url.Values
	// body is JSON-encoded unless form is set.
	body         any
	form         url.Values
	skipIdentity bool
	idempotent   bool
	// quiet suppresses the error toast.
	quiet bool
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	err := c.roundTrip(ctx, cl, out)
	if err != nil && !cl.quiet && ctx.Err() == nil {
		c.notify.Error(Message(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, cl call, out any) error {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case cl.form != nil:
		body = strings.NewReader(cl.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case cl.body != nil:
		b, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cl.skipIdentity {
		req.Header.Set(session.SkipIdentityHeader, "true")
	}
	if cl.idempotent {
		req.Header.Set("Idempotency-Key", NewIdempotencyKey())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return fmt.Errorf("%s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &Error{Status: resp.StatusCode, Message: BuildErrorMessage(raw, ""), Body: raw}
		log.Printf("api: %s %s -> %d", cl.method, cl.path, resp.StatusCode)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", cl.method, cl.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if rm, ok := out.(*json.RawMessage); ok {
		*rm = append((*rm)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, call{method: http.MethodGet, path: path, query: query}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, call{method: http.MethodPost, path: path, body: body}, out)
}

func getPage[T any](ctx context.Context, c *Client, path string, query url.Values, page int) (Page[T], error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("page", fmt.Sprint(page))
	var raw json.RawMessage
	if err := c.get(ctx, path, q, &raw); err != nil {
		return Page[T]{}, err
	}
	return DecodePage[T](raw, page)
}
