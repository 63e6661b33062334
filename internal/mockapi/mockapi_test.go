package mockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sautai-client/internal/api"
	"sautai-client/internal/assistant"
	"sautai-client/internal/chat"
	"sautai-client/internal/history"
	"sautai-client/internal/notify"
	"sautai-client/internal/session"
)

type fixture struct {
	srv     *Server
	ts      *httptest.Server
	manager *session.Manager
	api     *api.Client
	bus     *notify.Bus
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	opts.Quiet = true
	srv := New(opts)
	srv.AddUser("alice", "pw")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	m, err := session.NewManager(session.Options{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	bus := notify.NewBus()
	return &fixture{
		srv:     srv,
		ts:      ts,
		manager: m,
		api:     api.NewClient(api.Options{BaseURL: ts.URL, Session: m, Notify: bus}),
		bus:     bus,
	}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	u, err := f.api.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("user: %+v", u)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t, Options{})
	toasts, stop := f.bus.Subscribe(1)
	defer stop()

	_, err := f.api.Login(context.Background(), "alice", "nope")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("want 400 api error, got %v", err)
	}
	if apiErr.Message != "Invalid username or password." {
		t.Fatalf("message %q", apiErr.Message)
	}
	if toast := <-toasts; toast.Tone != notify.ToneError || toast.Text != apiErr.Message {
		t.Fatalf("toast %+v", toast)
	}
	if f.manager.HasSession() {
		t.Fatalf("failed login must not store a session")
	}
}

func TestRevokedAccessIsRefreshedOnce(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	refresh := f.manager.Tokens().Refresh

	f.srv.RevokeAccess()
	u, err := f.api.UserDetails(context.Background())
	if err != nil || u.Username != "alice" {
		t.Fatalf("user details after revoke: %+v %v", u, err)
	}
	if got := f.srv.Stats.Refreshes.Load(); got != 1 {
		t.Fatalf("want 1 refresh, got %d", got)
	}
	if got := f.srv.Stats.Unauthorized.Load(); got != 1 {
		t.Fatalf("want 1 rejected request, got %d", got)
	}
	if f.manager.Tokens().Refresh != refresh {
		t.Fatalf("refresh token must be kept when the server does not rotate it")
	}
}

func TestRotatedRefreshIsStored(t *testing.T) {
	f := newFixture(t, Options{RotateRefresh: true})
	f.login(t)
	before := f.manager.Tokens().Refresh

	if _, err := f.manager.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	after := f.manager.Tokens().Refresh
	if after == "" || after == before {
		t.Fatalf("refresh token not rotated")
	}
	// The old refresh token is spent.
	body, _ := json.Marshal(map[string]string{"refresh": before})
	resp, err := http.Post(f.ts.URL+session.RefreshPath, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("spent token accepted: %d", resp.StatusCode)
	}
}

func TestLogoutBlacklistsRefreshToken(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)

	if err := f.api.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if f.srv.Stats.Blacklisted.Load() != 1 {
		t.Fatalf("refresh token not blacklisted")
	}
	if f.manager.HasSession() {
		t.Fatalf("session still present")
	}
	if _, err := f.api.UserDetails(context.Background()); err == nil {
		t.Fatalf("anonymous user details must fail")
	}
}

func TestPantryCRUDAndPaging(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	ctx := context.Background()

	var firstID int64
	for i := 0; i < 12; i++ {
		item, err := f.api.CreatePantryItem(ctx, api.PantryItem{ItemName: "rice", Quantity: i + 1})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if i == 0 {
			firstID = item.ID
		}
	}

	p1, err := f.api.PantryItems(ctx, 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(p1.Items) != 10 || p1.Count != 12 || p1.TotalPages != 2 || !p1.HasNext() {
		t.Fatalf("page 1: %+v", p1)
	}
	p2, err := f.api.PantryItems(ctx, 2)
	if err != nil || len(p2.Items) != 2 || p2.HasNext() {
		t.Fatalf("page 2: %+v %v", p2, err)
	}

	updated, err := f.api.UpdatePantryItem(ctx, firstID, api.PantryItem{ItemName: "beans", Quantity: 3})
	if err != nil || updated.ItemName != "beans" || updated.ID != firstID {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := f.api.DeletePantryItem(ctx, firstID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	p1, _ = f.api.PantryItems(ctx, 1)
	if p1.Count != 11 {
		t.Fatalf("count after delete: %d", p1.Count)
	}

	var apiErr *api.Error
	if err := f.api.DeletePantryItem(ctx, firstID); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMealPlanLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	ctx := context.Background()

	plan, err := f.api.GenerateMealPlan(ctx, "2025-03-03")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if plan.WeekEndDate != "2025-03-09" || len(plan.Meals) != 7 {
		t.Fatalf("plan: %+v", plan)
	}
	if _, err := f.api.ApproveMealPlan(ctx, plan.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	plans, err := f.api.MealPlans(ctx, "2025-03-03", 1)
	if err != nil || len(plans.Items) != 1 || !plans.Items[0].IsApproved {
		t.Fatalf("plans: %+v %v", plans, err)
	}
	got, err := f.api.MealPlan(ctx, plan.ID)
	if err != nil || got.Meals[0].Day != "Monday" {
		t.Fatalf("plan by id: %+v %v", got, err)
	}
}

func TestSwitchRole(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)

	if _, err := f.api.SwitchRole(context.Background(), "chef"); err == nil {
		t.Fatalf("non-chef switched to chef")
	}
	f.srv.SetChef("alice", true)
	u, err := f.api.SwitchRole(context.Background(), "")
	if err != nil || u.Role() != "chef" {
		t.Fatalf("switch: %+v %v", u, err)
	}
}

func newController(f *fixture) *chat.Controller {
	ac := assistant.NewClient(f.ts.URL, f.api.HTTPClient(), nil)
	return chat.New(chat.Options{Streamer: ac, Notify: f.bus})
}

func TestConversationCanBeResumed(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	ctx := context.Background()
	c := newController(f)

	reply, err := c.Send(ctx, "Hello", nil)
	if err != nil || reply.Content != "You said: Hello" {
		t.Fatalf("first reply: %+v %v", reply, err)
	}
	threadID := c.Transcript().ThreadID()
	if !strings.HasPrefix(threadID, "resp_") {
		t.Fatalf("thread id %q", threadID)
	}
	if _, err := c.Send(ctx, "More", nil); err != nil {
		t.Fatalf("second send: %v", err)
	}

	threads, err := f.api.ThreadHistory(ctx, 1)
	if err != nil || len(threads.Items) != 1 || threads.Items[0].Key() != threadID {
		t.Fatalf("threads: %+v %v", threads, err)
	}
	msgs, err := f.api.ThreadMessages(ctx, threadID)
	if err != nil {
		t.Fatalf("thread messages: %v", err)
	}
	want := []string{"Hello", "You said: Hello", "More", "You said: More"}
	if len(msgs) != len(want) {
		t.Fatalf("messages: %+v", msgs)
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("message %d: %q want %q", i, m.Content, want[i])
		}
	}
	if msgs[0].Role != history.RoleUser || msgs[1].Role != history.RoleAssistant {
		t.Fatalf("roles: %+v", msgs)
	}

	resumed := newController(f)
	if err := resumed.Resume(threadID, msgs); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := resumed.Send(ctx, "Again", nil); err != nil {
		t.Fatalf("send after resume: %v", err)
	}
	if resumed.Transcript().ThreadID() != threadID {
		t.Fatalf("resumed conversation forked into %q", resumed.Transcript().ThreadID())
	}
	threads, _ = f.api.ThreadHistory(ctx, 1)
	if len(threads.Items) != 1 {
		t.Fatalf("resume created a new thread: %+v", threads.Items)
	}
}

func TestFailingStreamApologises(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	f.srv.FailStreams(true)
	c := newController(f)

	reply, err := c.Send(context.Background(), "Hello", nil)
	if !errors.Is(err, assistant.ErrUnexpectedStatus) {
		t.Fatalf("want ErrUnexpectedStatus, got %v", err)
	}
	if !reply.Failed || reply.Content != chat.Apology {
		t.Fatalf("reply: %+v", reply)
	}
}

func TestGuestStream(t *testing.T) {
	f := newFixture(t, Options{})
	ac := assistant.NewClient(f.ts.URL, nil, nil)

	st := ac.Stream(context.Background(), assistant.Request{Message: "hi", Guest: true})
	var text string
	var created bool
	for st.Next() {
		ev := st.Event()
		if ev.Type == "response.created" && strings.HasPrefix(ev.ID, "guest_") {
			created = true
		}
		if ev.IsText() {
			text += ev.Text
		}
	}
	if err := st.Err(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !created || text != "You said: hi" {
		t.Fatalf("created=%v text=%q", created, text)
	}

	// The authenticated endpoint refuses anonymous callers.
	st = ac.Stream(context.Background(), assistant.Request{Message: "hi"})
	for st.Next() {
	}
	if !errors.Is(st.Err(), assistant.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", st.Err())
	}
}

func TestSummaryStream(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	ac := assistant.NewClient(f.ts.URL, f.api.HTTPClient(), nil)

	st := ac.Summary(context.Background(), "2025-03-03")
	var text string
	for st.Next() {
		if ev := st.Event(); ev.IsText() {
			text += ev.Text
		}
	}
	if err := st.Err(); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.HasPrefix(text, "Summary for 2025-03-03.") {
		t.Fatalf("summary text %q", text)
	}
}

func TestHealthMetrics(t *testing.T) {
	f := newFixture(t, Options{})
	f.login(t)
	ctx := context.Background()

	w := 71.5
	if _, err := f.api.SaveHealthMetric(ctx, api.HealthMetric{DateRecorded: "2025-03-03", Weight: &w, Mood: "good"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.api.HealthMetrics(ctx, 0)
	if err != nil || len(got) != 1 || got[0].Weight == nil || *got[0].Weight != w {
		t.Fatalf("metrics: %+v %v", got, err)
	}
}
