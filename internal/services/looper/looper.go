package looper

import (
	"context"
	"sync"
	"time"
)

// Clock schedules callbacks. The real clock uses time.AfterFunc; tests drive
// a ManualClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Handle identifies a delayed task so it can be cancelled.
type Handle uint64

// Looper serialises all controller state changes onto one goroutine. Work is
// posted as closures; blocking I/O runs elsewhere (see Go) and posts its
// result back.
type Looper struct {
	clock Clock

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	nextID  Handle
	pending map[Handle]Timer
}

func New(clock Clock) *Looper {
	if clock == nil {
		clock = RealClock()
	}
	return &Looper{
		clock:   clock,
		wake:    make(chan struct{}, 1),
		pending: map[Handle]Timer{},
	}
}

func (l *Looper) Clock() Clock { return l.clock }

// Post enqueues fn to run on the loop goroutine. Never blocks.
func (l *Looper) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostDelayed runs fn on the loop after d unless the handle is cancelled first.
func (l *Looper) PostDelayed(d time.Duration, fn func()) Handle {
	l.mu.Lock()
	l.nextID++
	h := l.nextID
	l.mu.Unlock()

	t := l.clock.AfterFunc(d, func() {
		l.Post(func() {
			l.mu.Lock()
			_, live := l.pending[h]
			delete(l.pending, h)
			l.mu.Unlock()
			if live {
				fn()
			}
		})
	})

	l.mu.Lock()
	l.pending[h] = t
	l.mu.Unlock()
	return h
}

// Cancel drops a delayed task. It reports whether the task was still pending.
func (l *Looper) Cancel(h Handle) bool {
	l.mu.Lock()
	t, ok := l.pending[h]
	delete(l.pending, h)
	l.mu.Unlock()
	if ok && t != nil {
		t.Stop()
	}
	return ok
}

// Pending returns the number of delayed tasks not yet run or cancelled.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Call posts fn and waits until it has run on the loop.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is done. Pending delayed tasks are cancelled
// on exit.
func (l *Looper) Run(ctx context.Context) error {
	defer l.stopAll()

	for {
		for {
			fn, ok := l.pop()
			if !ok {
				break
			}
			fn()
			if ctx.Err() != nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *Looper) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Looper) stopAll() {
	l.mu.Lock()
	timers := l.pending
	l.pending = map[Handle]Timer{}
	l.mu.Unlock()
	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
}

// Go runs work off the loop and delivers its result to done on the loop.
func Go[T any](l *Looper, ctx context.Context, work func(context.Context) (T, error), done func(T, error)) {
	go func() {
		v, err := work(ctx)
		l.Post(func() { done(v, err) })
	}()
}
