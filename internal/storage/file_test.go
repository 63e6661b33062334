package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileRecorder_AppendAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "logs", "turns.jsonl")
	rec, err := NewFileRecorder(p)
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}

	ev1 := Event{Timestamp: time.Unix(1, 0).UTC(), UserID: 1, ThreadID: "T1", UserMessage: "hi", AssistantResponse: "hello"}
	ev2 := Event{Timestamp: time.Unix(2, 0).UTC(), UserID: 2, UserMessage: "foo", AssistantResponse: "Sorry", Failed: true}
	if err := rec.AppendInteraction(ev1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := rec.AppendInteraction(ev2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	events, err := rec.LoadInteractions()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2, got %d", len(events))
	}
	if events[0].ThreadID != "T1" || !events[1].Failed {
		t.Fatalf("fields lost: %+v", events)
	}
	if got := Filter(events, Query{UserID: 2}); len(got) != 1 || got[0].UserMessage != "foo" {
		t.Fatalf("Filter by user: %+v", got)
	}

	st, err := os.Stat(p)
	if err != nil || st.Size() == 0 {
		t.Fatalf("file not written")
	}
}

func TestFileRecorder_SkipsCorruptLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "turns.jsonl")
	if err := os.WriteFile(p, []byte("{not json}\n\n{\"user_id\":5,\"user_message\":\"x\"}\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec, err := NewFileRecorder(p)
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}
	events, err := rec.LoadInteractions()
	if err != nil || len(events) != 1 || events[0].UserID != 5 {
		t.Fatalf("events=%+v err=%v", events, err)
	}
}

func TestFileRecorder_TurnsQuery(t *testing.T) {
	rec, err := NewFileRecorder(filepath.Join(t.TempDir(), "turns.jsonl"))
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	seed := []Event{
		{Timestamp: day.Add(-time.Hour), UserID: 1, ThreadID: "T1", UserMessage: "yesterday"},
		{Timestamp: day.Add(time.Hour), UserID: 1, ThreadID: "T1", UserMessage: "today"},
		{Timestamp: day.Add(2 * time.Hour), UserID: 2, ThreadID: "T2", UserMessage: "other"},
		{UserID: 3, UserMessage: "unstamped"},
	}
	for _, ev := range seed {
		if err := rec.AppendInteraction(ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := rec.Turns(Query{UserID: 1, Since: day})
	if err != nil || len(got) != 1 || got[0].UserMessage != "today" {
		t.Fatalf("user 1 since day: %+v err=%v", got, err)
	}
	if got, _ := rec.Turns(Query{ThreadID: "T2"}); len(got) != 1 || got[0].UserID != 2 {
		t.Fatalf("thread T2: %+v", got)
	}
	got, _ = rec.Turns(Query{UserID: 3})
	if len(got) != 1 || got[0].Timestamp.IsZero() {
		t.Fatalf("unstamped turn should get a timestamp: %+v", got)
	}
}

func TestFileRecorder_TruncatedLastLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "turns.jsonl")
	if err := os.WriteFile(p, []byte("{\"user_id\":1,\"user_message\":\"a\"}\n{\"user_id\":2,\"user_me"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec, err := NewFileRecorder(p)
	if err != nil {
		t.Fatalf("init recorder: %v", err)
	}
	events, err := rec.LoadInteractions()
	if err != nil || len(events) != 1 || events[0].UserID != 1 {
		t.Fatalf("events=%+v err=%v", events, err)
	}
}
