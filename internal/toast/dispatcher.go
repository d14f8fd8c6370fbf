package toast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackmichael/clipfeed/internal/domain"
)

const (
	defaultLifetime   = 5 * time.Second
	defaultMaxVisible = 3
)

// State is the lifecycle of a toast:
// queued -> visible -> (expired | dismissed) -> removed.
type State string

const (
	StateQueued    State = "queued"
	StateVisible   State = "visible"
	StateExpired   State = "expired"
	StateDismissed State = "dismissed"
	StateRemoved   State = "removed"
)

// Toast is the display projection of a notification.
type Toast struct {
	ID           string              `json:"id"`
	Key          string              `json:"key"`
	Notification domain.Notification `json:"notification"`
	State        State               `json:"state"`
	Lifetime     time.Duration       `json:"lifetime"`
	ShownAt      time.Time           `json:"shownAt,omitempty"`
}

// Options tunes the dispatcher.
type Options struct {
	// Lifetime is how long a toast stays visible before it expires.
	Lifetime time.Duration

	// MaxVisible caps simultaneously visible toasts; the rest wait queued.
	MaxVisible int

	// OnChange, if set, is called with the visible toasts after every
	// change. It runs outside the dispatcher's lock.
	OnChange func(visible []Toast)
}

type timer interface {
	Stop() bool
}

// Dispatcher keeps a short-lived, deduplicated queue of notification
// toasts. Expiry and dismissal both end in the same removal.
type Dispatcher struct {
	lifetime   time.Duration
	maxVisible int
	onChange   func([]Toast)
	logger     *slog.Logger

	afterFunc func(time.Duration, func()) timer
	now       func() time.Time

	mu      sync.Mutex
	closed  bool
	seen    map[string]struct{}
	visible []*Toast
	queue   []*Toast
	timers  map[string]timer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Lifetime <= 0 {
		opts.Lifetime = defaultLifetime
	}
	if opts.MaxVisible <= 0 {
		opts.MaxVisible = defaultMaxVisible
	}
	return &Dispatcher{
		lifetime:   opts.Lifetime,
		maxVisible: opts.MaxVisible,
		onChange:   opts.OnChange,
		logger:     logger.With("component", "toast"),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now:    time.Now,
		seen:   make(map[string]struct{}),
		timers: make(map[string]timer),
	}
}

// Push enqueues a toast for n unless its key was already shown in this
// session. It reports whether a toast was created.
func (d *Dispatcher) Push(n domain.Notification) bool {
	key := n.Key()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		d.logger.Debug("duplicate notification dropped", "key", key)
		return false
	}
	d.seen[key] = struct{}{}

	t := &Toast{
		ID:           uuid.NewString(),
		Key:          key,
		Notification: n,
		State:        StateQueued,
		Lifetime:     d.lifetime,
	}
	d.queue = append(d.queue, t)
	d.promoteLocked()
	visible := d.snapshotLocked(d.visible)
	d.mu.Unlock()

	d.changed(visible)
	return true
}

// Dismiss removes a visible toast immediately and cancels its timer.
// Dismissing an unknown, queued, or already removed toast is a no-op.
func (d *Dispatcher) Dismiss(id string) bool {
	return d.remove(id, StateDismissed)
}

func (d *Dispatcher) expire(id string) {
	d.remove(id, StateExpired)
}

// remove is the single exit path for visible toasts.
func (d *Dispatcher) remove(id string, reason State) bool {
	d.mu.Lock()
	idx := -1
	for i, t := range d.visible {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}

	t := d.visible[idx]
	t.State = reason
	if tm, ok := d.timers[id]; ok {
		tm.Stop()
		delete(d.timers, id)
	}
	d.visible = append(d.visible[:idx], d.visible[idx+1:]...)
	t.State = StateRemoved

	d.promoteLocked()
	visible := d.snapshotLocked(d.visible)
	d.mu.Unlock()

	d.logger.Debug("toast removed", "toast_id", id, "reason", reason)
	d.changed(visible)
	return true
}

// promoteLocked moves queued toasts into free visible slots and starts
// their expiry timers.
func (d *Dispatcher) promoteLocked() {
	for len(d.visible) < d.maxVisible && len(d.queue) > 0 {
		t := d.queue[0]
		d.queue = d.queue[1:]

		t.State = StateVisible
		t.ShownAt = d.now().UTC()
		d.visible = append(d.visible, t)

		id := t.ID
		d.timers[id] = d.afterFunc(t.Lifetime, func() { d.expire(id) })
	}
}

func (d *Dispatcher) snapshotLocked(list []*Toast) []Toast {
	out := make([]Toast, len(list))
	for i, t := range list {
		out[i] = *t
	}
	return out
}

func (d *Dispatcher) changed(visible []Toast) {
	if d.onChange != nil {
		d.onChange(visible)
	}
}

// Visible returns the toasts currently shown, oldest first.
func (d *Dispatcher) Visible() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked(d.visible)
}

// Queued returns the toasts waiting for a visible slot.
func (d *Dispatcher) Queued() []Toast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked(d.queue)
}

// Close stops every expiry timer and rejects further pushes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, tm := range d.timers {
		tm.Stop()
		delete(d.timers, id)
	}
}
