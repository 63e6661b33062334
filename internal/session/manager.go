package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	RefreshPath   = "/auth/api/token/refresh/"
	BlacklistPath = "/auth/api/token/blacklist/"

	DefaultKey            = "auth_tokens_v1"
	DefaultThreshold      = 30 * time.Second
	DefaultRefreshTimeout = 15 * time.Second
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrNoAccessToken  = errors.New("no access token in refresh response")
	ErrSessionExpired = errors.New("session expired")
)

// RefreshError is returned when the refresh endpoint answers with a non-2xx status.
type RefreshError struct {
	Status int
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d", e.Status)
}

// Tokens is the persisted token pair. Refresh is empty when the refresh
// credential lives in an http-only cookie.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type Options struct {
	BaseURL string
	Storage Storage
	// Key under which the token pair is stored. Defaults to DefaultKey.
	Key string
	// CookieMode expects the refresh credential in a cookie instead of
	// client-visible storage.
	CookieMode     bool
	Threshold      time.Duration
	RefreshTimeout time.Duration
	// HTTPClient performs refresh and blacklist calls. Its Jar, if any, is
	// shared with clients built by NewClient.
	HTTPClient *http.Client
	// OnExpired is called after the session was cleared because it could
	// not be recovered.
	OnExpired func(err error)
}

type refreshResult struct {
	access string
	err    error
}

// Manager owns the access/refresh token pair of one user. All token writes
// go through SetTokens, Clear and the single-flight Refresh.
type Manager struct {
	baseURL        string
	storage        Storage
	key            string
	cookieMode     bool
	threshold      time.Duration
	refreshTimeout time.Duration
	httpClient     *http.Client
	onExpired      func(error)
	now            func() time.Time

	mu     sync.Mutex
	tokens Tokens
	// legacyRefresh is a refresh token left in storage by an earlier
	// non-cookie login; cookie mode falls back to it.
	legacyRefresh string
	refreshing    bool
	waiters       []chan refreshResult
	// gen changes whenever the session is replaced or cleared, so a refresh
	// that started earlier does not write over it.
	gen uint64
}

func NewManager(opts Options) (*Manager, error) {
	m := &Manager{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		storage:        opts.Storage,
		key:            opts.Key,
		cookieMode:     opts.CookieMode,
		threshold:      opts.Threshold,
		refreshTimeout: opts.RefreshTimeout,
		httpClient:     opts.HTTPClient,
		onExpired:      opts.OnExpired,
		now:            time.Now,
	}
	if m.storage == nil {
		m.storage = NewMemoryStorage()
	}
	if m.key == "" {
		m.key = DefaultKey
	}
	if m.threshold == 0 {
		m.threshold = DefaultThreshold
	}
	if m.refreshTimeout == 0 {
		m.refreshTimeout = DefaultRefreshTimeout
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{}
	}
	if m.cookieMode && m.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		m.httpClient.Jar = jar
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	raw, err := m.storage.Get(m.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		log.Printf("session: ignoring unreadable tokens under %q: %v", m.key, err)
		return nil
	}
	if m.cookieMode {
		m.legacyRefresh = t.Refresh
		t.Refresh = ""
	}
	m.tokens = t
	return nil
}

func (m *Manager) persistLocked() error {
	rec := m.tokens
	if m.cookieMode {
		rec.Refresh = m.legacyRefresh
	}
	if rec.Access == "" && rec.Refresh == "" {
		return m.storage.Remove(m.key)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.storage.Set(m.key, data)
}

// SetTokens stores the tokens from a login, registration or role switch.
// Empty fields leave the current value untouched. In cookie mode the refresh
// token is never kept client-side.
func (m *Manager) SetTokens(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if t.Access != "" {
		m.tokens.Access = t.Access
	}
	if !m.cookieMode && t.Refresh != "" {
		m.tokens.Refresh = t.Refresh
	}
	return m.persistLocked()
}

// Clear drops the session.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.tokens = Tokens{}
	return m.persistLocked()
}

func (m *Manager) Tokens() Tokens {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens.Access != ""
}

func (m *Manager) CookieMode() bool { return m.cookieMode }

// CanRefresh reports whether a refresh credential is available.
func (m *Manager) CanRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canRefreshLocked()
}

func (m *Manager) canRefreshLocked() bool {
	return m.cookieMode || m.tokens.Refresh != ""
}

// UserID decodes the user id from the current access token.
func (m *Manager) UserID() (string, bool) {
	m.mu.Lock()
	access := m.tokens.Access
	m.mu.Unlock()
	if access == "" {
		return "", false
	}
	return UserIDFromToken(access)
}

func (m *Manager) willExpireSoon(token string) bool {
	return willExpireSoonAt(token, m.threshold, m.now())
}

// Token implements oauth2.TokenSource.
func (m *Manager) Token() (*oauth2.Token, error) {
	return m.TokenContext(context.Background())
}

// TokenContext returns the access token to attach to an outgoing request.
// A token about to expire is refreshed first when possible; if that refresh
// fails the stale token is still returned and the server's 401 decides.
func (m *Manager) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	t := m.tokens
	canRefresh := m.canRefreshLocked()
	m.mu.Unlock()
	if t.Access == "" {
		return nil, ErrNoSession
	}
	if m.willExpireSoon(t.Access) && canRefresh {
		if access, err := m.Refresh(ctx); err == nil {
			t.Access = access
		}
	}
	tok := &oauth2.Token{AccessToken: t.Access, TokenType: "Bearer", RefreshToken: t.Refresh}
	if exp, ok := Expiry(t.Access); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

// Refresh obtains a new access token. Concurrent callers share a single
// network call and all observe its outcome. A failed refresh clears the
// session.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.canRefreshLocked() {
		m.mu.Unlock()
		return "", ErrNoRefreshToken
	}
	if m.refreshing {
		ch := make(chan refreshResult, 1)
		m.waiters = append(m.waiters, ch)
		m.mu.Unlock()
		select {
		case r := <-ch:
			return r.access, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.refreshing = true
	gen := m.gen
	refresh := m.tokens.Refresh
	legacy := m.legacyRefresh
	m.mu.Unlock()

	// One caller giving up must not fail the refresh for everyone queued.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	access, rotated, usedLegacy, err := m.doRefresh(rctx, refresh, legacy)
	cancel()

	m.mu.Lock()
	waiters := m.waiters
	m.waiters = nil
	m.refreshing = false
	stale := gen != m.gen
	switch {
	case stale:
		// Logged out or logged in again meanwhile: keep the newer session and
		// hand its token, if any, to the callers.
		access, err = m.tokens.Access, nil
		if access == "" {
			err = ErrNoSession
		}
	case err != nil:
		m.tokens = Tokens{}
	default:
		m.tokens.Access = access
		if rotated != "" {
			if !m.cookieMode {
				m.tokens.Refresh = rotated
			} else if usedLegacy {
				m.legacyRefresh = rotated
			}
		}
	}
	if !stale {
		if perr := m.persistLocked(); perr != nil {
			log.Printf("session: failed to persist tokens: %v", perr)
		}
	}
	m.mu.Unlock()

	for _, w := range waiters {
		w <- refreshResult{access: access, err: err}
	}
	if stale {
		if err != nil {
			return "", err
		}
		return access, nil
	}
	if err != nil {
		log.Printf("session: refresh failed, session cleared: %v", err)
		m.expired(err)
		return "", err
	}
	return access, nil
}

func (m *Manager) doRefresh(ctx context.Context, refresh, legacy string) (access, rotated string, usedLegacy bool, err error) {
	if !m.cookieMode {
		access, rotated, err = m.postRefresh(ctx, map[string]string{"refresh": refresh})
		return access, rotated, false, err
	}
	access, rotated, err = m.postRefresh(ctx, map[string]string{})
	if err == nil {
		return access, rotated, false, nil
	}
	if legacy == "" {
		return "", "", false, err
	}
	log.Printf("session: cookie refresh failed (%v), retrying with stored refresh token", err)
	access, rotated, err = m.postRefresh(ctx, map[string]string{"refresh": legacy})
	return access, rotated, true, err
}

func (m *Manager) postRefresh(ctx context.Context, payload map[string]string) (string, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+RefreshPath, bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", "", &RefreshError{Status: resp.StatusCode}
	}
	var out struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", "", ErrNoAccessToken
	}
	return out.Access, out.Refresh, nil
}

// expire clears the session after an unrecoverable auth failure.
func (m *Manager) expire(cause error) {
	if err := m.Clear(); err != nil {
		log.Printf("session: failed to clear tokens: %v", err)
	}
	m.expired(cause)
}

func (m *Manager) expired(cause error) {
	if m.onExpired != nil {
		m.onExpired(cause)
	}
}

// Logout invalidates the refresh token server-side, best effort, and clears
// the local session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.tokens.Refresh
	m.mu.Unlock()

	var payload map[string]string
	switch {
	case m.cookieMode:
		payload = map[string]string{}
	case refresh != "":
		payload = map[string]string{"refresh": refresh}
	}
	if payload != nil {
		if err := m.blacklist(ctx, payload); err != nil {
			log.Printf("session: blacklist failed: %v", err)
		}
	}
	return m.Clear()
}

func (m *Manager) blacklist(ctx context.Context, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+BlacklistPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("blacklist status %d", resp.StatusCode)
	}
	return nil
}

// NewClient returns an HTTP client whose requests carry this session's
// bearer token, user identity and 401 handling. timeout 0 means none.
func (m *Manager) NewClient(timeout time.Duration) *http.Client {
	base := m.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &Transport{Manager: m, Base: base},
		Jar:       m.httpClient.Jar,
		Timeout:   timeout,
	}
}
