// Package speech narrates text through a replaceable synthesis engine. The
// Manager owns a single worker that speaks one utterance at a time and can be
// interrupted at any point without waiting for the engine.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultRate         = 200
)

type State int

const (
	StateIdle State = iota
	StateSpeaking
	StateInterrupting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateInterrupting:
		return "interrupting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type utterance struct {
	text       string
	generation uint64
}

type Manager struct {
	factory      EngineFactory
	settings     Settings
	pollInterval time.Duration
	onState      func(State)

	mu         sync.Mutex
	pending    []utterance
	generation uint64
	// Utterances with a generation up to cutoff are invalid.
	cutoff uint64
	active uint64
	state  State
	closed bool

	// engineMu guards the one engine that may exist at a time.
	engineMu     sync.Mutex
	engine       Engine
	engineGen    uint64
	engineCancel context.CancelFunc

	// reports holds state changes in the order they happened until the
	// reporter hands them to onState.
	reports      []State
	reportSignal chan struct{}

	signal    chan struct{}
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type ManagerOption func(*Manager)

// WithStateCallback reports state changes in the order they happen. The
// callback runs on a goroutine of its own, outside the manager's locks.
func WithStateCallback(callback func(State)) ManagerOption {
	return func(m *Manager) {
		m.onState = callback
	}
}

// WithPollInterval sets how long the worker waits for new text before it
// checks whether the manager was closed.
func WithPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

func WithRate(wordsPerMinute int) ManagerOption {
	return func(m *Manager) {
		if wordsPerMinute > 0 {
			m.settings.Rate = wordsPerMinute
		}
	}
}

// NewManager starts the worker. Call Close to stop it.
func NewManager(factory EngineFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:      factory,
		settings:     Settings{Rate: DefaultRate},
		pollInterval: DefaultPollInterval,
		signal:       make(chan struct{}, 1),
		reportSignal: make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.run()
	if m.onState != nil {
		go m.reportStates()
	}
	return m
}

// Speak queues text. With interrupt set, whatever is being said or waiting
// to be said is dropped first. Speak never waits for the engine.
func (m *Manager) Speak(text string, interrupt bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var interrupted bool
	if interrupt {
		m.cutoff = m.generation
		m.pending = nil
		interrupted = m.state == StateSpeaking
		if interrupted {
			m.setState(StateInterrupting)
		}
	}
	if strings.TrimSpace(text) != "" {
		m.generation++
		m.pending = append(m.pending, utterance{text: text, generation: m.generation})
	}
	cutoff := m.cutoff
	m.mu.Unlock()

	if interrupted {
		interruptionCounter.Add(context.Background(), 1)
		m.stopEngine(cutoff)
	}
	m.notify()
}

// Stop drops the utterance being spoken. Queued ones are kept.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed || m.state != StateSpeaking {
		m.mu.Unlock()
		return
	}
	m.cutoff = max(m.cutoff, m.active)
	m.setState(StateInterrupting)
	cutoff := m.cutoff
	m.mu.Unlock()

	interruptionCounter.Add(context.Background(), 1)
	m.stopEngine(cutoff)
}

// Close stops speaking, drops everything queued and lets the worker exit.
// It does not wait for the worker, use Done for that.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.cutoff = m.generation
		m.pending = nil
		m.setState(StateClosed)
		cutoff := m.cutoff
		m.mu.Unlock()

		m.stopEngine(cutoff)
		close(m.closeCh)
	})
}

// Done is closed once the worker has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		u, ok := m.next()
		if ok {
			m.speak(u)
			continue
		}

		select {
		case <-m.closeCh:
			return
		case <-m.signal:
		case <-time.After(m.pollInterval):
		}
	}
}

func (m *Manager) next() (utterance, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return utterance{}, false
	}

	for len(m.pending) > 0 {
		u := m.pending[0]
		m.pending = m.pending[1:]
		if u.generation <= m.cutoff {
			continue
		}

		m.active = u.generation
		m.setState(StateSpeaking)
		m.mu.Unlock()

		return u, true
	}

	m.mu.Unlock()
	return utterance{}, false
}

func (m *Manager) speak(u utterance) {
	ctx, span := tracer.Start(context.Background(), "synthesize utterance", trace.WithAttributes(
		attribute.Int64("speech.generation", int64(u.generation)),
		attribute.Int("speech.text_length", len(u.text)),
	))
	defer span.End()
	defer m.finish(u)

	engine, ctx, err := m.openEngine(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("failed to create speech engine", "error", err)
		return
	}
	if engine == nil {
		return
	}
	defer m.closeEngine()

	units := 0
	err = protect("synthesize", func() error {
		return engine.Synthesize(ctx, u.text, func(Unit) bool {
			units++
			return m.isCurrent(u.generation)
		})
	})
	span.SetAttributes(attribute.Int("speech.units", units))
	if err != nil && m.isCurrent(u.generation) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("speech synthesis failed", "error", err)
	}
}

// openEngine creates the engine for u unless u was invalidated meanwhile.
func (m *Manager) openEngine(ctx context.Context, u utterance) (Engine, context.Context, error) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	if !m.isCurrent(u.generation) {
		return nil, ctx, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	var engine Engine
	err := protect("create engine", func() error {
		var err error
		engine, err = m.factory(ctx, m.settings)
		return err
	})
	if err != nil {
		cancel()
		return nil, ctx, err
	}
	if engine == nil {
		cancel()
		return nil, ctx, fmt.Errorf("engine factory returned no engine")
	}

	m.engine = engine
	m.engineGen = u.generation
	m.engineCancel = cancel
	return engine, ctx, nil
}

func (m *Manager) closeEngine() {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	if m.engine == nil {
		return
	}
	if err := protect("close engine", m.engine.Close); err != nil {
		logger.Warn("failed to close speech engine", "error", err)
	}
	m.engineCancel()
	m.engine = nil
	m.engineCancel = nil
}

// stopEngine stops the current engine if it speaks an utterance at or below
// cutoff.
func (m *Manager) stopEngine(cutoff uint64) {
	m.engineMu.Lock()
	defer m.engineMu.Unlock()

	if m.engine == nil || m.engineGen > cutoff {
		return
	}
	if err := protect("stop engine", m.engine.Stop); err != nil {
		logger.Warn("failed to stop speech engine", "error", err)
	}
	m.engineCancel()
}

func (m *Manager) finish(u utterance) {
	m.mu.Lock()
	if m.closed || m.active != u.generation {
		m.mu.Unlock()
		return
	}
	m.setState(StateIdle)
	m.mu.Unlock()
}

func (m *Manager) isCurrent(generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.closed && generation > m.cutoff
}

func (m *Manager) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// setState records a transition. Callers hold mu.
func (m *Manager) setState(state State) {
	m.state = state
	if m.onState == nil {
		return
	}
	m.reports = append(m.reports, state)
	select {
	case m.reportSignal <- struct{}{}:
	default:
	}
}

// reportStates delivers recorded transitions one by one. Closed is always the
// last transition, the reporter exits after delivering it.
func (m *Manager) reportStates() {
	for range m.reportSignal {
		m.mu.Lock()
		states := m.reports
		m.reports = nil
		m.mu.Unlock()

		for _, state := range states {
			m.report(state)
			if state == StateClosed {
				return
			}
		}
	}
}

func (m *Manager) report(state State) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("speech state callback panicked", "panic", recovered)
		}
	}()
	m.onState(state)
}

func protect(name string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s panicked: %v", name, recovered)
		}
	}()
	return fn()
}
