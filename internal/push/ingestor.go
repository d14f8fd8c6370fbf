package push

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/blackmichael/clipfeed/internal/domain"
)

// Handler receives canonical events. Handlers run on the ingesting
// goroutine in delivery order and must not block.
type Handler func(domain.Event)

// Ingestor normalizes push frames and fans canonical events out to
// handlers registered per classification tag.
type Ingestor struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[domain.EventKind][]*Subscription
}

// NewIngestor creates an Ingestor with no subscriptions.
func NewIngestor(logger *slog.Logger) *Ingestor {
	return &Ingestor{
		logger:   logger,
		handlers: make(map[domain.EventKind][]*Subscription),
	}
}

// Subscription is a handler registration for one classification tag.
type Subscription struct {
	ingestor *Ingestor
	kind     domain.EventKind
	handler  Handler
}

// Subscribe registers h for events of the given kind. Multiple
// subscriptions for the same kind are independent.
func (i *Ingestor) Subscribe(kind domain.EventKind, h Handler) *Subscription {
	sub := &Subscription{ingestor: i, kind: kind, handler: h}

	i.mu.Lock()
	i.handlers[kind] = append(i.handlers[kind], sub)
	i.mu.Unlock()

	return sub
}

// Unsubscribe removes the registration. Calling it more than once is a
// no-op.
func (s *Subscription) Unsubscribe() {
	i := s.ingestor
	i.mu.Lock()
	defer i.mu.Unlock()

	subs := i.handlers[s.kind]
	for idx, other := range subs {
		if other == s {
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:idx]...)
			next = append(next, subs[idx+1:]...)
			i.handlers[s.kind] = next
			return
		}
	}
}

// Kind returns the classification tag the subscription listens to.
func (s *Subscription) Kind() domain.EventKind {
	return s.kind
}

// HandlerCount returns the number of handlers registered for kind.
func (i *Ingestor) HandlerCount(kind domain.EventKind) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.handlers[kind])
}

// Ingest normalizes a raw frame and dispatches it. Malformed and unknown
// frames are logged and dropped. It reports whether the frame was
// dispatched.
func (i *Ingestor) Ingest(data []byte) bool {
	env, err := decodeEnvelope(data)
	if err != nil {
		i.logger.Warn("dropping undecodable push frame", "error", err)
		return false
	}
	return i.ingestEnvelope(env)
}

func (i *Ingestor) ingestEnvelope(env *envelope) bool {
	ev, err := normalizeEnvelope(env)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			i.logger.Debug("ignoring push event", "event", env.Event)
		} else {
			i.logger.Warn("dropping malformed push event", "event", env.Event, "seq", env.Seq, "error", err)
		}
		return false
	}
	i.Dispatch(ev)
	return true
}

// Dispatch delivers an already-normalized event to every handler
// subscribed to its kind. Handlers may unsubscribe during dispatch.
func (i *Ingestor) Dispatch(ev domain.Event) {
	i.mu.RLock()
	subs := i.handlers[ev.Kind]
	i.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ev)
	}
}
