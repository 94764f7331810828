package orchestration

import (
	"sync"
	"time"
)

// Scheduler runs callbacks on the foreground. Post must never block the
// caller, callbacks must be short and must not block either.
type Scheduler interface {
	Post(fn func())
	After(d time.Duration, fn func())
}

// EventLoop is a single goroutine Scheduler with an unbounded mailbox.
type EventLoop struct {
	mu      sync.Mutex
	pending []func()

	signal  chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
}

func NewEventLoop() *EventLoop {
	return &EventLoop{
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (l *EventLoop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

func (l *EventLoop) run() {
	defer close(l.done)

	for {
		select {
		case <-l.closeCh:
			return
		case <-l.signal:
		}

		for {
			fn := l.next()
			if fn == nil {
				break
			}
			if l.isClosed() {
				return
			}
			l.invoke(fn)
		}
	}
}

func (l *EventLoop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("foreground callback panicked", "panic", recovered)
		}
	}()
	fn()
}

// Post queues fn. Callbacks posted after Close are dropped.
func (l *EventLoop) Post(fn func()) {
	if fn == nil || l.isClosed() {
		return
	}

	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *EventLoop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops the loop after the running callback returns. Pending callbacks
// are dropped.
func (l *EventLoop) Close() {
	l.closeOnce.Do(func() {
		close(l.closeCh)
		// A loop that never started has nothing to wait for.
		l.startOnce.Do(func() { close(l.done) })
	})
}

func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

func (l *EventLoop) isClosed() bool {
	select {
	case <-l.closeCh:
		return true
	default:
		return false
	}
}
