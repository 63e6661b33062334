package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// SkipIdentityHeader opts a request out of user_id injection. It is removed
// before the request leaves the process.
const SkipIdentityHeader = "X-Skip-UserId"

// Transport attaches the session to outgoing requests: bearer token after a
// proactive refresh, the user_id decoded from the token, and one
// refresh-and-retry on 401.
type Transport struct {
	Manager *Manager
	Base    http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	isRefreshCall := strings.Contains(req.URL.Path, RefreshPath)
	isTokenCall := isRefreshCall || strings.Contains(req.URL.Path, BlacklistPath)
	skipIdentity := strings.EqualFold(req.Header.Get(SkipIdentityHeader), "true")

	access := ""
	if !isRefreshCall {
		if tok, err := t.Manager.TokenContext(req.Context()); err == nil {
			access = tok.AccessToken
		}
	}

	out := t.prepare(req, body, access, !isTokenCall && !skipIdentity)
	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isRefreshCall {
		return resp, err
	}
	if access == "" && !t.Manager.CookieMode() {
		// Anonymous request, nothing to recover.
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	fresh, err := t.Manager.Refresh(req.Context())
	if err != nil {
		if req.Context().Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrNoRefreshToken) {
			// Refresh clears the session itself on network failures.
			t.Manager.expire(err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	retry := t.prepare(req, body, fresh, !isTokenCall && !skipIdentity)
	resp, err = t.base().RoundTrip(retry)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.Manager.expire(ErrSessionExpired)
	}
	return resp, err
}

func (t *Transport) prepare(req *http.Request, body []byte, access string, injectIdentity bool) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del(SkipIdentityHeader)
	if access != "" {
		out.Header.Set("Authorization", "Bearer "+access)
		if injectIdentity {
			body = injectUserID(out, body, access)
		}
	}
	if body == nil {
		out.Body = nil
		out.GetBody = nil
		out.ContentLength = 0
		return out
	}
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return out
}

// injectUserID adds user_id to the query of read/delete calls or merges it
// into the body of write calls. An existing user_id is never overwritten and
// unknown body types are left alone.
func injectUserID(req *http.Request, body []byte, access string) []byte {
	raw, uid, ok := userIDClaim(access)
	if !ok {
		return body
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		q := req.URL.Query()
		if q.Get("user_id") == "" {
			q.Set("user_id", uid)
			req.URL.RawQuery = q.Encode()
		}
		return body
	}

	ct := req.Header.Get("Content-Type")
	if len(body) == 0 && ct == "" {
		req.Header.Set("Content-Type", "application/json")
		b, _ := json.Marshal(map[string]any{"user_id": raw})
		return b
	}
	mediaType, params, _ := mime.ParseMediaType(ct)
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil || vals.Has("user_id") {
			return body
		}
		vals.Set("user_id", uid)
		return []byte(vals.Encode())
	case mediaType == "multipart/form-data":
		out, err := injectMultipart(body, params["boundary"], uid)
		if err != nil {
			return body
		}
		return out
	case mediaType == "application/json" || mediaType == "":
		if len(body) == 0 {
			b, _ := json.Marshal(map[string]any{"user_id": raw})
			return b
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
			return body
		}
		if v, ok := obj["user_id"]; ok && string(v) != "null" {
			return body
		}
		enc, err := json.Marshal(raw)
		if err != nil {
			return body
		}
		obj["user_id"] = enc
		b, err := json.Marshal(obj)
		if err != nil {
			return body
		}
		return b
	}
	return body
}

func injectMultipart(body []byte, boundary, uid string) ([]byte, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart body without boundary")
	}
	r := multipart.NewReader(bytes.NewReader(body), boundary)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, err
	}
	for {
		p, err := r.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if p.FormName() == "user_id" {
			return body, nil
		}
		pw, err := w.CreatePart(p.Header)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(pw, p); err != nil {
			return nil, err
		}
	}
	if err := w.WriteField("user_id", uid); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
