package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sautai-client/internal/session"
	"sautai-client/internal/sse"
)

func drain(st *Stream) []sse.Event {
	var out []sse.Event
	for st.Next() {
		out = append(out, st.Event())
	}
	return out
}

func TestGuestStreamEvents(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != GuestStreamPath {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		f := w.(http.Flusher)
		_, _ = io.WriteString(w, "data: {\"type\":\"response.created\",\"id\":\"T1\"}\n")
		f.Flush()
		_, _ = io.WriteString(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":{\"text\":\"Hi there\"}}\n")
		f.Flush()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	st := c.Stream(context.Background(), Request{Message: "Hello", ThreadID: "T0", Guest: true})
	events := drain(st)
	if err := st.Err(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(events) != 2 || events[0].ID != "T1" || events[1].Text != "Hi there" {
		t.Fatalf("events: %+v", events)
	}
	if gotBody["message"] != "Hello" || gotBody["response_id"] != "T0" {
		t.Fatalf("request body: %v", gotBody)
	}
	if gotAuth != "" {
		t.Fatalf("guest stream must not send credentials, got %q", gotAuth)
	}
	<-st.Done()
}

func TestAuthenticatedStreamUsesSession(t *testing.T) {
	var gotAuth, gotSkip string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSkip = r.Header.Get(session.SkipIdentityHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, "data: {\"type\":\"response.completed\"}\n")
	}))
	defer srv.Close()

	m, _ := session.NewManager(session.Options{BaseURL: srv.URL})
	_ = m.SetTokens(session.Tokens{Access: "A1"})
	c := NewClient(srv.URL, m.NewClient(0), nil)

	st := c.Stream(context.Background(), Request{Message: "Hi"})
	events := drain(st)
	if st.Err() != nil || len(events) != 1 || events[0].Type != sse.TypeCompleted {
		t.Fatalf("events=%+v err=%v", events, st.Err())
	}
	if gotAuth != "Bearer A1" || gotSkip != "" {
		t.Fatalf("auth=%q skip header leaked=%q", gotAuth, gotSkip)
	}
	if _, ok := gotBody["response_id"]; ok {
		t.Fatalf("new conversation must not send response_id: %v", gotBody)
	}
}

func TestStreamStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, ErrUnexpectedStatus},
		{http.StatusUnauthorized, ErrUnauthorized},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		st := NewClient(srv.URL, nil, nil).Stream(context.Background(), Request{Message: "x", Guest: true})
		if st.Next() {
			t.Fatalf("status %d: unexpected event", tc.status)
		}
		if err := st.Err(); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: want %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestTransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	st := NewClient(url, nil, nil).Stream(context.Background(), Request{Message: "x", Guest: true})
	if st.Next() {
		t.Fatalf("unexpected event")
	}
	if st.Err() == nil {
		t.Fatalf("want transport error")
	}
}

func TestCancelIsIdempotentAndSilent(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"a\"}\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	st := NewClient(srv.URL, nil, nil).Stream(context.Background(), Request{Message: "x", Guest: true})
	if !st.Next() || st.Event().Text != "a" {
		t.Fatalf("first event missing")
	}
	<-started
	st.Cancel()
	st.Cancel()
	if st.Next() {
		t.Fatalf("no events may be delivered after cancel")
	}
	select {
	case <-st.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("request not released after cancel")
	}
	if err := st.Err(); err != nil {
		t.Fatalf("cancel must not surface an error, got %v", err)
	}
	st.Close()
}

func TestSummaryStream(t *testing.T) {
	var gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != SummaryPath {
			http.NotFound(w, r)
			return
		}
		gotDate = r.URL.Query().Get("date")
		_, _ = io.WriteString(w, "data: {\"type\":\"summary\",\"summary\":\"all good\"}\n\n")
	}))
	defer srv.Close()

	st := NewClient(srv.URL, nil, nil).Summary(context.Background(), "2024-01-15")
	events := drain(st)
	if st.Err() != nil || len(events) != 1 {
		t.Fatalf("events=%+v err=%v", events, st.Err())
	}
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(events[0].Data, &payload); err != nil || payload.Summary != "all good" {
		t.Fatalf("payload %s: %v", events[0].Data, err)
	}
	if gotDate != "2024-01-15" {
		t.Fatalf("date %q", gotDate)
	}
}

func TestParentContextCancelIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	st := NewClient(srv.URL, nil, nil).Stream(ctx, Request{Message: "x", Guest: true})
	cancel()
	drain(st)
	if err := st.Err(); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 5, "exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// rejectingStreamServer answers the stream endpoint with 401 until the
// request carries accepted as its bearer token.
type rejectingStreamServer struct {
	accepted  string
	refreshed string

	refreshes atomic.Int32
	mu        sync.Mutex
	bodies    []string
	bearers   []string
}

func (s *rejectingStreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == session.RefreshPath {
		s.refreshes.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access": s.refreshed})
		return
	}
	b, _ := io.ReadAll(r.Body)
	auth := r.Header.Get("Authorization")
	s.mu.Lock()
	s.bodies = append(s.bodies, string(b))
	s.bearers = append(s.bearers, auth)
	s.mu.Unlock()
	if auth != "Bearer "+s.accepted {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"ok\"}\n")
}

func (s *rejectingStreamServer) attempts() (bodies, bearers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...), append([]string(nil), s.bearers...)
}

func TestStreamReplaysOnceAfterRefresh(t *testing.T) {
	old := signedToken(t, time.Now().Add(time.Hour))
	fresh := signedToken(t, time.Now().Add(2*time.Hour))
	h := &rejectingStreamServer{accepted: fresh, refreshed: fresh}
	srv := httptest.NewServer(h)
	defer srv.Close()

	m, _ := session.NewManager(session.Options{BaseURL: srv.URL})
	_ = m.SetTokens(session.Tokens{Access: old, Refresh: "R1"})
	st := NewClient(srv.URL, m.NewClient(0), nil).Stream(context.Background(), Request{Message: "Hello", ThreadID: "T1"})
	events := drain(st)
	if err := st.Err(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(events) != 1 || events[0].Text != "ok" {
		t.Fatalf("events: %+v", events)
	}
	if h.refreshes.Load() != 1 {
		t.Fatalf("want one refresh, got %d", h.refreshes.Load())
	}
	bodies, bearers := h.attempts()
	if len(bodies) != 2 || bodies[0] != bodies[1] {
		t.Fatalf("body not replayed as sent: %q", bodies)
	}
	if bearers[0] != "Bearer "+old || bearers[1] != "Bearer "+fresh {
		t.Fatalf("bearers: %q", bearers)
	}
}

func TestStreamSecondUnauthorizedEndsSession(t *testing.T) {
	h := &rejectingStreamServer{accepted: "never", refreshed: signedToken(t, time.Now().Add(2*time.Hour))}
	srv := httptest.NewServer(h)
	defer srv.Close()

	m, _ := session.NewManager(session.Options{BaseURL: srv.URL})
	_ = m.SetTokens(session.Tokens{Access: signedToken(t, time.Now().Add(time.Hour)), Refresh: "R1"})
	st := NewClient(srv.URL, m.NewClient(0), nil).Stream(context.Background(), Request{Message: "Hello"})
	if st.Next() {
		t.Fatalf("unexpected event %+v", st.Event())
	}
	if err := st.Err(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if bodies, _ := h.attempts(); h.refreshes.Load() != 1 || len(bodies) != 2 {
		t.Fatalf("refreshes=%d attempts=%d", h.refreshes.Load(), len(bodies))
	}
	if m.HasSession() {
		t.Fatalf("session must be cleared")
	}
}
