package events

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// subscription is one consumer. stalled is set while its buffer is full so
// a stuck consumer logs once per stall, not once per event.
type subscription struct {
	ch      chan Event
	keep    func(Event) bool
	stalled atomic.Bool
}

// Router delivers every emitted event to each subscriber without ever
// blocking the emitter.
type Router struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	logger     *slog.Logger
	dropped    atomic.Int64
	closed     bool
}

// NewRouter creates a router whose Subscribe channels hold bufferSize
// events. Non-positive sizes use DefaultBufferSize.
func NewRouter(bufferSize int) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Router{
		bufferSize: bufferSize,
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger used to report dropped events.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Emit publishes event to every subscriber that wants it. A full
// subscriber loses the event and it is counted in Dropped.
// Emit is safe for concurrent use, a no-op after Close, and a nil Router
// discards every event.
func (r *Router) Emit(event Event) {
	if r == nil || event == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	for _, sub := range r.subs {
		if sub.keep != nil && !sub.keep(event) {
			continue
		}
		select {
		case sub.ch <- event:
			sub.stalled.Store(false)
		default:
			r.dropped.Add(1)
			if !sub.stalled.Swap(true) {
				r.logger.Warn("event subscriber full, dropping events",
					"event_type", event.Type(),
					"source", event.Source(),
					"buffer", cap(sub.ch),
				)
			}
		}
	}
}

// Dropped returns how many deliveries were lost to full subscribers.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// Subscribe returns a channel of every event, buffered to the router's
// default size. It is closed by Close or Unsubscribe.
func (r *Router) Subscribe() <-chan Event {
	return r.SubscribeBuffered(r.bufferSize)
}

// SubscribeBuffered is Subscribe with an explicit buffer size.
func (r *Router) SubscribeBuffered(size int) <-chan Event {
	return r.subscribe(size, nil)
}

// SubscribeTypes returns a channel that only receives the listed event
// types.
func (r *Router) SubscribeTypes(size int, types ...EventType) <-chan Event {
	return r.subscribe(size, func(e Event) bool {
		return slices.Contains(types, e.Type())
	})
}

// SubscribeExcept returns a channel that receives every event type except
// the listed ones.
func (r *Router) SubscribeExcept(size int, types ...EventType) <-chan Event {
	return r.subscribe(size, func(e Event) bool {
		return !slices.Contains(types, e.Type())
	})
}

func (r *Router) subscribe(size int, keep func(Event) bool) <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &subscription{ch: make(chan Event, max(0, size)), keep: keep}
	r.subs = append(r.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown or
// already removed channels are ignored.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.ch == ch {
			r.subs = slices.Delete(r.subs, i, i+1)
			close(sub.ch)
			return
		}
	}
}

// Close closes every subscriber channel. It is safe to call repeatedly.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		close(sub.ch)
	}
	r.subs = nil
}
