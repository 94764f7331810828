package tui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// runMsg carries a posted callback onto the bubbletea goroutine.
type runMsg struct {
	fn func()
}

// Scheduler runs controller callbacks on the bubbletea update goroutine, in
// the order they were posted. Posting never blocks, so it is safe from
// inside Update as well.
type Scheduler struct {
	mu      sync.Mutex
	queue   []func()
	send    func(tea.Msg)
	closed  bool
	signal  chan struct{}
	closeCh chan struct{}
	once    sync.Once
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Attach starts forwarding posted callbacks to send, usually
// (*tea.Program).Send. Callbacks posted earlier are forwarded first.
func (s *Scheduler) Attach(send func(tea.Msg)) {
	s.mu.Lock()
	if s.send != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.send = send
	s.mu.Unlock()

	go s.pump(send)
	s.notify()
}

func (s *Scheduler) pump(send func(tea.Msg)) {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.closed {
				s.mu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			send(runMsg{fn: fn})
		}
	}
}

func (s *Scheduler) Post(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	s.notify()
}

func (s *Scheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.Post(fn) })
}

// Close drops pending callbacks and stops forwarding.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.closeCh)
	})
}

func (s *Scheduler) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
