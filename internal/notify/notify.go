// Package notify carries short user-facing notices from the API layer to
// whatever front-end is rendering them.
package notify

import (
	"log"
	"sync"
	"time"
)

type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
)

const DefaultDuration = 3500 * time.Millisecond

type Toast struct {
	Text     string
	Tone     Tone
	Duration time.Duration
}

// Bus fans toasts out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the toast.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Toast
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Toast)}
}

// Subscribe returns a channel of toasts and a function that unsubscribes and
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Toast, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Toast, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(t Toast) {
	if b == nil || t.Text == "" {
		return
	}
	if t.Tone == "" {
		t.Tone = ToneInfo
	}
	if t.Duration <= 0 {
		t.Duration = DefaultDuration
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
			log.Printf("notify: subscriber full, dropping %q", t.Text)
		}
	}
}

func (b *Bus) Error(text string)   { b.Publish(Toast{Text: text, Tone: ToneError}) }
func (b *Bus) Success(text string) { b.Publish(Toast{Text: text, Tone: ToneSuccess}) }
func (b *Bus) Info(text string)    { b.Publish(Toast{Text: text, Tone: ToneInfo}) }
