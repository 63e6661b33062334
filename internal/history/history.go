package history

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrTurnInProgress = errors.New("assistant turn already in progress")
	ErrNoOpenTurn     = errors.New("no assistant turn is open")
)

type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Failed  bool   `json:"failed,omitempty"`
}

// MergeDelta folds a streamed fragment into the accumulated content. A
// fragment that repeats the whole reply so far replaces it; a fragment that
// is already part of the reply is dropped; anything else is appended.
func MergeDelta(current, fragment string) string {
	if fragment == "" {
		return current
	}
	if strings.HasPrefix(fragment, current) {
		return fragment
	}
	if current != "" && strings.Contains(current, fragment) {
		return current
	}
	return current + fragment
}

// Transcript is the ordered message list of one conversation. At most one
// assistant message is open for appending at a time.
type Transcript struct {
	mu       sync.RWMutex
	threadID string
	messages []Message
	open     int // index of the open assistant message, -1 if none
}

func NewTranscript() *Transcript {
	return &Transcript{open: -1}
}

func (t *Transcript) AppendUser(content string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := Message{ID: uuid.NewString(), Role: RoleUser, Content: content}
	t.messages = append(t.messages, msg)
	return msg
}

// OpenAssistant starts a new assistant message with empty content.
func (t *Transcript) OpenAssistant() (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open >= 0 {
		return Message{}, ErrTurnInProgress
	}
	return t.openLocked(), nil
}

func (t *Transcript) openLocked() Message {
	msg := Message{ID: uuid.NewString(), Role: RoleAssistant}
	t.messages = append(t.messages, msg)
	t.open = len(t.messages) - 1
	return msg
}

// AppendDelta merges fragment into the open assistant message and returns
// its new content.
func (t *Transcript) AppendDelta(fragment string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open < 0 {
		return "", ErrNoOpenTurn
	}
	m := &t.messages[t.open]
	m.Content = MergeDelta(m.Content, fragment)
	return m.Content, nil
}

// Close ends the open turn, if any. The message is immutable afterwards.
func (t *Transcript) Close() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open < 0 {
		return Message{}, false
	}
	msg := t.messages[t.open]
	t.open = -1
	return msg, true
}

// Fail closes the current turn as failed. When no assistant message was
// opened yet one is created so the failure stays visible. Empty content is
// replaced with apology.
func (t *Transcript) Fail(apology string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open < 0 {
		t.openLocked()
	}
	m := &t.messages[t.open]
	m.Failed = true
	if strings.TrimSpace(m.Content) == "" {
		m.Content = apology
	}
	t.open = -1
	return *m
}

func (t *Transcript) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open >= 0
}

func (t *Transcript) ThreadID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threadID
}

// SetThreadID records the conversation id unless one is already known.
func (t *Transcript) SetThreadID(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || t.threadID != "" {
		return false
	}
	t.threadID = id
	return true
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Load replaces the transcript with a stored conversation.
func (t *Transcript) Load(threadID string, msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threadID = threadID
	t.messages = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		t.messages = append(t.messages, m)
	}
	t.open = -1
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threadID = ""
	t.messages = nil
	t.open = -1
}

// Manager keeps one transcript per chat user.
type Manager struct {
	mu          sync.Mutex
	transcripts map[int64]*Transcript
}

func NewManager() *Manager {
	return &Manager{transcripts: make(map[int64]*Transcript)}
}

// Get returns the user's transcript, creating it on first use.
func (m *Manager) Get(userID int64) *Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transcripts[userID]
	if !ok {
		t = NewTranscript()
		m.transcripts[userID] = t
	}
	return t
}

func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, userID)
}
