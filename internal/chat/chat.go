// Package chat drives one conversation: it sends user input to the assistant
// and folds the streamed reply into a transcript.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"sautai-client/internal/assistant"
	"sautai-client/internal/history"
	"sautai-client/internal/notify"
	"sautai-client/internal/sse"
	"sautai-client/internal/storage"
)

// Apology replaces the content of a reply that failed before producing text.
const Apology = "Sorry, something went wrong. Please try again."

var (
	ErrBusy         = errors.New("a reply is still streaming")
	ErrEmptyMessage = errors.New("message is empty")
)

// Streamer opens assistant streams. *assistant.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, r assistant.Request) *assistant.Stream
}

// Update is delivered for every stream event applied to the transcript.
type Update struct {
	Event    sse.Event
	ThreadID string
	// Content is the reply accumulated so far.
	Content string
}

type Options struct {
	Streamer   Streamer
	Transcript *history.Transcript
	Recorder   storage.Recorder
	Notify     *notify.Bus
	// UserID tags recorded turns.
	UserID int64
	Guest  bool
}

// Controller serialises turns on one transcript.
type Controller struct {
	streamer   Streamer
	transcript *history.Transcript
	recorder   storage.Recorder
	notify     *notify.Bus
	userID     int64
	guest      bool

	mu      sync.Mutex
	current *assistant.Stream
}

func New(opts Options) *Controller {
	t := opts.Transcript
	if t == nil {
		t = history.NewTranscript()
	}
	return &Controller{
		streamer:   opts.Streamer,
		transcript: t,
		recorder:   opts.Recorder,
		notify:     opts.Notify,
		userID:     opts.UserID,
		guest:      opts.Guest,
	}
}

func (c *Controller) Transcript() *history.Transcript { return c.transcript }

// SetGuest switches between the guest and the authenticated endpoint for
// subsequent turns.
func (c *Controller) SetGuest(guest bool) {
	c.mu.Lock()
	c.guest = guest
	c.mu.Unlock()
}

// Streaming reports whether a turn is in flight.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Send appends the user message, streams the reply and blocks until the turn
// is over. onUpdate, if set, is called from the calling goroutine after each
// applied event. The returned message is the final assistant reply; it is
// the zero Message when the stream ended without any event.
func (c *Controller) Send(ctx context.Context, text string, onUpdate func(Update)) (history.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return history.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.current != nil || c.transcript.IsOpen() {
		c.mu.Unlock()
		return history.Message{}, ErrBusy
	}
	c.transcript.AppendUser(text)
	st := c.streamer.Stream(ctx, assistant.Request{
		Message:  text,
		ThreadID: c.transcript.ThreadID(),
		Guest:    c.guest,
	})
	c.current = st
	guest := c.guest
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.current == st {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	var (
		opened, closed bool
		final          history.Message
	)
	for st.Next() {
		ev := st.Event()
		if closed {
			// Anything after the completion event belongs to no turn.
			continue
		}
		if !opened {
			if _, err := c.transcript.OpenAssistant(); err != nil {
				st.Cancel()
				return history.Message{}, err
			}
			opened = true
		}
		content := c.apply(ev)
		if ev.Type == sse.TypeCompleted {
			final, _ = c.transcript.Close()
			closed = true
		}
		if onUpdate != nil {
			onUpdate(Update{Event: ev, ThreadID: c.transcript.ThreadID(), Content: content})
		}
	}

	err := st.Err()
	switch {
	case err != nil && closed:
		// The reply was already complete; a late transport error does not
		// turn it into a failure.
		log.Printf("chat: stream error after completion: %v", err)
		err = nil
	case err != nil:
		final = c.transcript.Fail(Apology)
		log.Printf("❌ chat: turn failed: %v", err)
		c.notify.Error(Apology)
	case opened && !closed:
		final, _ = c.transcript.Close()
	}

	if opened || err != nil {
		c.record(text, final, guest, st.Cancelled())
	}
	return final, err
}

// apply reduces one event into the transcript and returns the reply so far.
func (c *Controller) apply(ev sse.Event) string {
	switch {
	case ev.Type == sse.TypeCreated:
		c.transcript.SetThreadID(ev.ID)
	case ev.IsText():
		content, err := c.transcript.AppendDelta(ev.Text)
		if err == nil {
			return content
		}
	}
	last, _ := c.transcript.Last()
	return last.Content
}

func (c *Controller) record(text string, reply history.Message, guest, cancelled bool) {
	if c.recorder == nil {
		return
	}
	ev := storage.Event{
		Timestamp:         time.Now().UTC(),
		UserID:            c.userID,
		ThreadID:          c.transcript.ThreadID(),
		UserMessage:       text,
		AssistantResponse: reply.Content,
		Failed:            reply.Failed,
		Cancelled:         cancelled && !reply.Failed,
		Guest:             guest,
	}
	if err := c.recorder.AppendInteraction(ev); err != nil {
		log.Printf("chat: failed to record turn: %v", err)
	}
}

// Stop cancels the streaming turn. The partial reply is kept.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()
	if st == nil {
		return false
	}
	st.Cancel()
	return true
}

// Reset stops any turn and starts a new conversation.
func (c *Controller) Reset() {
	c.Stop()
	c.transcript.Reset()
}

// Resume replaces the transcript with a stored conversation so that the
// next Send continues it.
func (c *Controller) Resume(threadID string, msgs []history.Message) error {
	if c.Streaming() {
		return ErrBusy
	}
	c.transcript.Load(threadID, msgs)
	return nil
}
