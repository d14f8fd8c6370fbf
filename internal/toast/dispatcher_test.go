package toast

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/clipfeed/internal/domain"
)

type fakeTimer struct {
	fire    func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(_ time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{fire: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) timer(i int) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func newTestDispatcher(opts Options) (*Dispatcher, *fakeClock) {
	d := NewDispatcher(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := &fakeClock{}
	d.afterFunc = clock.afterFunc
	return d, clock
}

func note(id string) domain.Notification {
	return domain.Notification{ID: id, Type: "like", CreatedAt: time.Unix(1700000000, 0)}
}

func TestPush_DedupByID(t *testing.T) {
	d, _ := newTestDispatcher(Options{})

	assert.True(t, d.Push(note("n1")))
	assert.False(t, d.Push(note("n1")))

	visible := d.Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, "n1", visible[0].Key)
	assert.Equal(t, StateVisible, visible[0].State)
}

func TestPush_DedupByCompositeKey(t *testing.T) {
	d, _ := newTestDispatcher(Options{})
	at := time.Unix(1700000000, 0)
	actor := &domain.Author{ID: "u1"}

	assert.True(t, d.Push(domain.Notification{Type: "follow", Actor: actor, CreatedAt: at}))
	assert.False(t, d.Push(domain.Notification{Type: "follow", Actor: actor, CreatedAt: at}))
	assert.True(t, d.Push(domain.Notification{Type: "follow", Actor: actor, CreatedAt: at.Add(time.Second)}))
	assert.True(t, d.Push(domain.Notification{Type: "like", Actor: actor, CreatedAt: at}))

	assert.Len(t, d.Visible(), 3)
}

func TestDismissed_KeyStaysSeen(t *testing.T) {
	d, _ := newTestDispatcher(Options{})

	require.True(t, d.Push(note("n1")))
	id := d.Visible()[0].ID
	require.True(t, d.Dismiss(id))

	assert.False(t, d.Push(note("n1")))
	assert.Empty(t, d.Visible())
}

func TestExpiryAndDismissConverge(t *testing.T) {
	d, clock := newTestDispatcher(Options{})

	require.True(t, d.Push(note("n1")))
	id := d.Visible()[0].ID

	clock.timer(0).fire()
	assert.Empty(t, d.Visible())

	// Dismiss after expiry is a no-op.
	assert.False(t, d.Dismiss(id))
}

func TestDismissStopsTimer(t *testing.T) {
	d, clock := newTestDispatcher(Options{})

	require.True(t, d.Push(note("n1")))
	require.True(t, d.Dismiss(d.Visible()[0].ID))
	assert.True(t, clock.timer(0).stopped)

	// A late fire of the stopped timer is harmless.
	clock.timer(0).fire()
	assert.Empty(t, d.Visible())
}

func TestQueuedToastsPromoteWhenSlotsFree(t *testing.T) {
	d, clock := newTestDispatcher(Options{MaxVisible: 2})

	for _, id := range []string{"n1", "n2", "n3"} {
		require.True(t, d.Push(note(id)))
	}
	assert.Len(t, d.Visible(), 2)
	queued := d.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, StateQueued, queued[0].State)

	// Queued toasts cannot be dismissed; only visible ones can.
	assert.False(t, d.Dismiss(queued[0].ID))

	clock.timer(0).fire()

	visible := d.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "n2", visible[0].Key)
	assert.Equal(t, "n3", visible[1].Key)
	assert.Empty(t, d.Queued())
	assert.Len(t, clock.timers, 3)
}

func TestOnChange(t *testing.T) {
	var calls [][]Toast
	d, _ := newTestDispatcher(Options{OnChange: func(v []Toast) { calls = append(calls, v) }})

	d.Push(note("n1"))
	d.Push(note("n1"))
	d.Dismiss(d.Visible()[0].ID)

	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 1)
	assert.Empty(t, calls[1])
}

func TestRealTimerExpires(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := NewDispatcher(Options{Lifetime: 10 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer d.Close()

	require.True(t, d.Push(note("n1")))
	require.Eventually(t, func() bool { return len(d.Visible()) == 0 }, time.Second, 2*time.Millisecond)
}

func TestClose_RejectsPush(t *testing.T) {
	d, clock := newTestDispatcher(Options{})
	d.Push(note("n1"))
	d.Close()

	assert.True(t, clock.timer(0).stopped)
	assert.False(t, d.Push(note("n2")))
}
