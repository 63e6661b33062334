package assistant

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"sautai-client/internal/sse"
)

const eventBuffer = 64

// Stream is one in-flight reply. Iterate with Next/Event, then check Err:
//
//	for st.Next() {
//		ev := st.Event()
//	}
//	if err := st.Err(); err != nil { ... }
type Stream struct {
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	cancelled atomic.Bool

	events chan sse.Event
	done   chan struct{}
	cur    sse.Event

	mu  sync.Mutex
	err error
}

func start(parent context.Context, open func(context.Context) (*http.Response, error)) *Stream {
	ctx, cancel := context.WithCancel(parent)
	st := &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan sse.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go st.run(open)
	return st
}

func (st *Stream) run(open func(context.Context) (*http.Response, error)) {
	defer close(st.done)
	defer st.cancel()
	defer close(st.events)

	resp, err := open(st.ctx)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err := checkResponse(resp, err); err != nil {
		st.fail(err)
		return
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			st.fail(err)
			return
		}
		select {
		case st.events <- ev:
		case <-st.ctx.Done():
			st.fail(st.ctx.Err())
			return
		}
	}
}

// fail records the terminal error unless the stream was cancelled through
// Cancel, which ends it silently.
func (st *Stream) fail(err error) {
	if st.cancelled.Load() {
		return
	}
	if ctxErr := st.ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
}

// Next waits for the next event. It returns false when the stream ended,
// failed or was cancelled.
func (st *Stream) Next() bool {
	if st.cancelled.Load() {
		return false
	}
	ev, ok := <-st.events
	if !ok || st.cancelled.Load() {
		return false
	}
	st.cur = ev
	return true
}

func (st *Stream) Event() sse.Event { return st.cur }

// Err returns the terminal error once Next has returned false. Cancellation
// through Cancel is not an error.
func (st *Stream) Err() error {
	if st.cancelled.Load() {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Cancel aborts the request. It is safe to call more than once.
func (st *Stream) Cancel() {
	st.once.Do(func() {
		st.cancelled.Store(true)
		st.cancel()
	})
}

// Cancelled reports whether Cancel was called.
func (st *Stream) Cancelled() bool { return st.cancelled.Load() }

// Done is closed once the underlying request has been released.
func (st *Stream) Done() <-chan struct{} { return st.done }

// Close cancels the stream and waits for the request to be released.
func (st *Stream) Close() {
	st.Cancel()
	<-st.done
}
