package mockapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sautai-client/internal/sse"
)

type streamRequest struct {
	Message    string `json:"message"`
	ResponseID string `json:"response_id"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streamReply(w, r, userIDFrom(r.Context()))
}

func (s *Server) handleGuestStream(w http.ResponseWriter, r *http.Request) {
	s.streamReply(w, r, 0)
}

// streamReply answers a chat message as an SSE stream. Authenticated
// conversations are stored so they can be listed and resumed.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, userID int64) {
	var req streamRequest
	if err := decodeBody(r, &req); err != nil || req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	s.Stats.Streams.Add(1)

	s.mu.Lock()
	if s.failStreams {
		s.mu.Unlock()
		respondError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	threadID := req.ResponseID
	if userID != 0 {
		t, ok := s.threads[threadID]
		if !ok || t.userID != userID {
			threadID = "resp_" + uuid.NewString()
			t = &thread{id: threadID, userID: userID, title: req.Message, created: time.Now()}
			s.threads[threadID] = t
			s.threadOrder = append(s.threadOrder, threadID)
		}
		t.messages = append(t.messages, chatEntry{Role: "user", Content: req.Message, CreatedAt: stamp()})
	} else if threadID == "" {
		threadID = "guest_" + uuid.NewString()
	}
	s.mu.Unlock()

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	ctx := r.Context()

	if err := sse.WriteEvent(w, map[string]string{"type": sse.TypeCreated, "id": threadID}); err != nil {
		return
	}

	var reply string
	for _, frag := range s.opts.Reply(req.Message) {
		if ctx.Err() != nil {
			return
		}
		ev := map[string]any{"type": sse.TypeDelta, "delta": map[string]string{"text": frag}}
		if err := sse.WriteEvent(w, ev); err != nil {
			return
		}
		reply += frag
	}
	_ = sse.WriteEvent(w, map[string]string{"type": sse.TypeCompleted})

	if userID != 0 {
		s.mu.Lock()
		if t, ok := s.threads[threadID]; ok {
			t.messages = append(t.messages, chatEntry{Role: "assistant", Content: reply, CreatedAt: stamp()})
		}
		s.mu.Unlock()
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	for _, part := range []string{"Summary for " + date + ". ", "Stay hydrated and ", "check your pantry."} {
		if err := sse.WriteEvent(w, map[string]string{"type": sse.TypeText, "content": part}); err != nil {
			return
		}
	}
	_ = sse.WriteEvent(w, map[string]string{"type": sse.TypeCompleted})
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	var out []threadSummary
	for i := len(s.threadOrder) - 1; i >= 0; i-- {
		t := s.threads[s.threadOrder[i]]
		if t.userID != userID {
			continue
		}
		out = append(out, threadSummary{ID: t.id, Title: t.title, CreatedAt: t.created.UTC().Format(time.RFC3339Nano)})
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, paginate(r, out))
}

func (s *Server) handleThreadDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	s.mu.Lock()
	t, ok := s.threads[id]
	var entries []chatEntry
	if ok && t.userID == userIDFrom(r.Context()) {
		entries = append(entries, t.messages...)
	}
	s.mu.Unlock()
	if entries == nil {
		respondError(w, http.StatusNotFound, "Thread not found.")
		return
	}
	// Newest first, as the real endpoint does; clients sort.
	reversed := make([]chatEntry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}
	respondJSON(w, http.StatusOK, map[string]any{"chat_history": reversed})
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
