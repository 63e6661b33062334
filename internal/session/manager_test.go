package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func makeJWT(t *testing.T, userID any, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"user_id": userID}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func decodeRefresh(r *http.Request) string {
	var body struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body.Refresh
}

func TestWillExpireSoon(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"expires inside window", makeJWT(t, 1, now.Add(10*time.Second)), true},
		{"expires later", makeJWT(t, 1, now.Add(time.Hour)), false},
		{"already expired", makeJWT(t, 1, now.Add(-time.Minute)), true},
		{"no exp claim", makeJWT(t, 1, time.Time{}), true},
		{"not a jwt", "A1", true},
		{"empty", "", true},
	}
	for _, tc := range cases {
		if got := WillExpireSoon(tc.token, 30*time.Second); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestUserIDFromToken(t *testing.T) {
	if id, ok := UserIDFromToken(makeJWT(t, 42, time.Now().Add(time.Hour))); !ok || id != "42" {
		t.Fatalf("numeric id: %q %v", id, ok)
	}
	if id, ok := UserIDFromToken(makeJWT(t, "abc", time.Now().Add(time.Hour))); !ok || id != "abc" {
		t.Fatalf("string id: %q %v", id, ok)
	}
	if _, ok := UserIDFromToken("garbage"); ok {
		t.Fatalf("garbage token must not yield an id")
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != RefreshPath {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		entered <- struct{}{}
		<-release
		_, _ = io.WriteString(w, `{"access":"A2"}`)
	}))
	defer srv.Close()

	m, err := NewManager(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.SetTokens(Tokens{Access: "A1", Refresh: "R1"}); err != nil {
		t.Fatalf("set tokens: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}

	<-entered
	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		queued := len(m.waiters)
		m.mu.Unlock()
		if queued == n-1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d callers queued", queued)
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("want exactly one refresh call, got %d", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i] != "A2" {
			t.Fatalf("caller %d: token=%q err=%v", i, results[i], errs[i])
		}
	}
}

func TestLoginThenProactiveRefresh(t *testing.T) {
	var refreshCalls atomic.Int32
	var seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RefreshPath:
			refreshCalls.Add(1)
			if decodeRefresh(r) != "R1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"access":"A2"}`)
		case "/auth/api/user_details/":
			seenAuth = r.Header.Get("Authorization")
			_, _ = io.WriteString(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := NewMemoryStorage()
	m, err := NewManager(Options{BaseURL: srv.URL, Storage: store})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	// "A1" has no decodable expiry, so it is treated as expiring.
	if err := m.SetTokens(Tokens{Access: "A1", Refresh: "R1"}); err != nil {
		t.Fatalf("set tokens: %v", err)
	}

	resp, err := m.NewClient(0).Get(srv.URL + "/auth/api/user_details/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if refreshCalls.Load() != 1 {
		t.Fatalf("want 1 refresh call, got %d", refreshCalls.Load())
	}
	if seenAuth != "Bearer A2" {
		t.Fatalf("request carried %q", seenAuth)
	}
	if got := m.Tokens(); got.Access != "A2" || got.Refresh != "R1" {
		t.Fatalf("unexpected tokens: %+v", got)
	}
	raw, err := store.Get(DefaultKey)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	var persisted Tokens
	if err := json.Unmarshal(raw, &persisted); err != nil || persisted.Access != "A2" || persisted.Refresh != "R1" {
		t.Fatalf("persisted %s (%v)", raw, err)
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access":"A2","refresh":"R2"}`)
	}))
	defer srv.Close()

	m, _ := NewManager(Options{BaseURL: srv.URL})
	_ = m.SetTokens(Tokens{Access: "A1", Refresh: "R1"})
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := m.Tokens(); got.Access != "A2" || got.Refresh != "R2" {
		t.Fatalf("unexpected tokens: %+v", got)
	}
}

func TestRefreshFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var expired atomic.Int32
	store := NewMemoryStorage()
	m, _ := NewManager(Options{BaseURL: srv.URL, Storage: store, OnExpired: func(error) { expired.Add(1) }})
	_ = m.SetTokens(Tokens{Access: "A1", Refresh: "R1"})

	_, err := m.Refresh(context.Background())
	var rerr *RefreshError
	if !errors.As(err, &rerr) || rerr.Status != http.StatusUnauthorized {
		t.Fatalf("want RefreshError 401, got %v", err)
	}
	if m.HasSession() {
		t.Fatalf("session must be cleared")
	}
	if _, err := store.Get(DefaultKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tokens must be removed from storage, got %v", err)
	}
	if expired.Load() != 1 {
		t.Fatalf("OnExpired called %d times", expired.Load())
	}
}

func TestRefreshWithoutCredential(t *testing.T) {
	m, _ := NewManager(Options{BaseURL: "http://unused.invalid"})
	_ = m.SetTokens(Tokens{Access: "A1"})
	if _, err := m.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("want ErrNoRefreshToken, got %v", err)
	}
	if !m.HasSession() {
		t.Fatalf("missing refresh credential alone must not clear the session")
	}
}

func TestCookieModeFallsBackToStoredRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if decodeRefresh(r) == "LEGACY" {
			_, _ = io.WriteString(w, `{"access":"A2"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := NewMemoryStorage()
	_ = store.Set(DefaultKey, []byte(`{"access":"A1","refresh":"LEGACY"}`))
	m, err := NewManager(Options{BaseURL: srv.URL, Storage: store, CookieMode: true})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.Tokens().Refresh != "" {
		t.Fatalf("cookie mode must not expose a refresh token")
	}

	access, err := m.Refresh(context.Background())
	if err != nil || access != "A2" {
		t.Fatalf("refresh: %q %v", access, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("want cookie attempt + fallback, got %d calls", calls.Load())
	}
}

func TestLogoutBlacklistsAndClears(t *testing.T) {
	var blacklisted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == BlacklistPath {
			blacklisted = decodeRefresh(r)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, _ := NewManager(Options{BaseURL: srv.URL})
	_ = m.SetTokens(Tokens{Access: "A1", Refresh: "R1"})
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if blacklisted != "R1" {
		t.Fatalf("blacklist got %q", blacklisted)
	}
	if m.HasSession() {
		t.Fatalf("session not cleared")
	}
}

func TestManagerLoadsPersistedTokens(t *testing.T) {
	store, err := NewFileStorage(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatalf("file storage: %v", err)
	}
	access := makeJWT(t, 7, time.Now().Add(time.Hour))
	m1, _ := NewManager(Options{Storage: store, Key: "k"})
	_ = m1.SetTokens(Tokens{Access: access, Refresh: "R1"})

	m2, err := NewManager(Options{Storage: store, Key: "k"})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := m2.Tokens(); got.Access != access || got.Refresh != "R1" {
		t.Fatalf("reloaded %+v", got)
	}
	token, err := m2.Token()
	if err != nil || token.AccessToken != access || token.TokenType != "Bearer" || token.Expiry.IsZero() {
		t.Fatalf("token source: %+v %v", token, err)
	}
	if id, ok := m2.UserID(); !ok || id != "7" {
		t.Fatalf("user id: %q %v", id, ok)
	}
}

// refreshGate answers refresh calls with A2 only after release is closed.
func refreshGate(t *testing.T, entered chan<- struct{}, release <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RefreshPath:
			entered <- struct{}{}
			<-release
			_, _ = io.WriteString(w, `{"access":"A2","refresh":"R2"}`)
		case BlacklistPath:
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLogoutDuringRefreshStaysLoggedOut(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := refreshGate(t, entered, release)

	store := NewMemoryStorage()
	m, err := NewManager(Options{BaseURL: srv.URL, Storage: store})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.SetTokens(Tokens{Access: "A1", Refresh: "R1"}); err != nil {
		t.Fatalf("set tokens: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()
	<-entered
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrNoSession) {
		t.Fatalf("refresh after logout: want ErrNoSession, got %v", err)
	}
	if m.HasSession() {
		t.Fatalf("session came back after logout: %+v", m.Tokens())
	}
	if _, err := store.Get(DefaultKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("tokens persisted after logout: %v", err)
	}
}

func TestLoginDuringRefreshKeepsNewSession(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := refreshGate(t, entered, release)

	m, err := NewManager(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.SetTokens(Tokens{Access: "A1", Refresh: "R1"}); err != nil {
		t.Fatalf("set tokens: %v", err)
	}

	done := make(chan string, 1)
	go func() {
		access, _ := m.Refresh(context.Background())
		done <- access
	}()
	<-entered
	if err := m.SetTokens(Tokens{Access: "B1", Refresh: "S1"}); err != nil {
		t.Fatalf("set tokens: %v", err)
	}
	close(release)

	if got := <-done; got != "B1" {
		t.Fatalf("refresh should hand out the current token, got %q", got)
	}
	if got := m.Tokens(); got.Access != "B1" || got.Refresh != "S1" {
		t.Fatalf("new login overwritten by stale refresh: %+v", got)
	}
}
