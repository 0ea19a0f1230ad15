// Package loop runs the tasks of one page strictly one at a time, in arrival
// order, on a dedicated goroutine. Timer continuations are delivered onto the
// same queue, so everything touching page state is single-writer.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("loop closed")

	// ErrPanicked is returned by Do when the task panicked.
	ErrPanicked = errors.New("loop task panicked")
)

// Loop is a sequential task queue.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	timers map[*Timer]struct{}
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a loop.
func New(clock Clock, logger *slog.Logger) *Loop {
	l := &Loop{
		clock:  clock,
		logger: logger,
		timers: make(map[*Timer]struct{}),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.exec(task)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// exec runs one task, recovering a panic so the loop survives it.
func (l *Loop) exec(task func()) (panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			l.logger.Error("loop task panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	task()
	return false
}

// Post enqueues fn and reports whether it was accepted.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a task running on the same loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan bool, 1)
	if !l.Post(func() {
		panicked := true
		defer func() { finished <- panicked }()
		fn()
		panicked = false
	}) {
		return ErrClosed
	}

	select {
	case panicked := <-finished:
		if panicked {
			return ErrPanicked
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for loop: %w", ctx.Err())
	case <-l.quit:
		select {
		case panicked := <-finished:
			if panicked {
				return ErrPanicked
			}
			return nil
		default:
			return ErrClosed
		}
	}
}

// Now reads the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Timer is a one-shot callback scheduled onto a loop.
type Timer struct {
	loop    *Loop
	stopper Stopper
	done    atomic.Bool
}

// AfterFunc runs fn on the loop once d has elapsed, unless the timer is
// stopped first. On a closed loop the timer is inert.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.done.Store(true)
		return t
	}
	l.timers[t] = struct{}{}
	defer l.mu.Unlock()

	t.stopper = l.clock.AfterFunc(d, func() {
		// Deliver on the loop and wait, so a manual clock observes the
		// continuation before it moves on.
		_ = l.Do(context.Background(), func() {
			if !t.done.CompareAndSwap(false, true) {
				return
			}
			l.forget(t)
			fn()
		})
	})
	return t
}

// Stop cancels the timer. It reports whether fn was prevented from running.
func (t *Timer) Stop() bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	t.loop.mu.Lock()
	stopper := t.stopper
	delete(t.loop.timers, t)
	t.loop.mu.Unlock()
	if stopper != nil {
		stopper.Stop()
	}
	return true
}

// Active reports whether the timer has neither fired nor been stopped.
func (t *Timer) Active() bool {
	return !t.done.Load()
}

func (l *Loop) forget(t *Timer) {
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
}

// PendingTimers is the number of active timers.
func (l *Loop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Close stops every pending timer, discards queued tasks and waits for the
// loop goroutine to exit. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	timers := make([]*Timer, 0, len(l.timers))
	for t := range l.timers {
		timers = append(timers, t)
	}
	l.queue = nil
	l.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	close(l.quit)
	<-l.done
}
