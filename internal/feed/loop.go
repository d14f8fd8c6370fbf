package feed

import (
	"context"
	"sync"
	"time"
)

const defaultLoopBuffer = 256

// Loop is a single-goroutine cooperative executor. All view model state is
// touched only from tasks running on the loop, so none of it needs locking.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// pending counts Go continuations not yet run. Loop-owned.
	pending int
}

// NewLoop creates a loop with a task buffer of the given size.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = defaultLoopBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run executes posted tasks in order until ctx is cancelled. Work started
// with Go observes the cancellation through its context.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

func (l *Loop) stop() {
	l.once.Do(func() {
		l.cancel()
		close(l.done)
	})
}

// Post enqueues fn. It returns false once the loop has stopped. Post must
// not be called from a loop task when the buffer may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return context.Canceled
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

// Go runs work on its own goroutine and posts the continuation it returns
// back onto the loop. Go must be called from a loop task.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.pending++
	go func() {
		cont := work(l.ctx)
		l.Post(func() {
			l.pending--
			if cont != nil {
				cont()
			}
		})
	}()
}

// Settle blocks until no continuation started with Go is outstanding.
func (l *Loop) Settle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		var pending int
		if err := l.Do(ctx, func() { pending = l.pending }); err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
