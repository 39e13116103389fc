package ack

import (
	"context"
	"sync"
	"time"

	"agentbus/pkg/logger"
	"agentbus/pkg/models"
	"agentbus/pkg/telemetry"
)

// DeliverFunc re-attempts delivery of an envelope and reports how many
// live sockets it reached.
type DeliverFunc func(models.Envelope) int

// Options tune the manager; zero values select the documented defaults
// (30s timeout, 3 retries, 2s sweep).
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

type entry struct {
	env models.Envelope
	ack *models.PendingAck
}

// Manager wraps sends that require confirmation. Every tracked message
// walks the pending/sent/delivered/acknowledged machine and reaches
// exactly one terminal state, firing exactly one terminal callback.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*entry
	opts    Options
	deliver DeliverFunc

	onAcked   []func(models.PendingAck)
	onFailed  []func(models.PendingAck)
	onTimeout []func(models.PendingAck)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a Manager using deliver for retries.
func NewManager(opts Options, deliver DeliverFunc) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Manager{pending: map[string]*entry{}, opts: opts, deliver: deliver}
}

// OnAcked registers a handler fired when a tracked message is
// acknowledged. Handlers run synchronously in registration order.
func (m *Manager) OnAcked(fn func(models.PendingAck)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAcked = append(m.onAcked, fn)
}

// OnFailed registers a handler fired once retries are exhausted.
func (m *Manager) OnFailed(fn func(models.PendingAck)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailed = append(m.onFailed, fn)
}

// OnTimeout registers a handler fired when a tracked message exceeds its
// per-message timeout.
func (m *Manager) OnTimeout(fn func(models.PendingAck)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTimeout = append(m.onTimeout, fn)
}

// Track begins confirmation tracking for an envelope and makes the first
// delivery attempt, reporting how many live sockets it reached. sentTo
// lists the clients expected to acknowledge.
func (m *Manager) Track(env models.Envelope, sentTo []string) int {
	pa := &models.PendingAck{
		MessageID: env.ID,
		State:     models.AckPending,
		SentTo:    map[string]struct{}{},
		AckedBy:   map[string]struct{}{},
		CreatedAt: time.Now().UTC(),
		Timeout:   m.opts.Timeout,
	}
	for _, c := range sentTo {
		pa.SentTo[c] = struct{}{}
	}
	e := &entry{env: env, ack: pa}
	m.mu.Lock()
	m.pending[env.ID] = e
	m.mu.Unlock()

	return m.attempt(e)
}

// attempt pushes the envelope through the delivery func and advances the
// state: a live socket write means delivered, otherwise the message sits
// in sent awaiting poll or retry.
func (m *Manager) attempt(e *entry) int {
	written := 0
	if m.deliver != nil {
		written = m.deliver(e.env)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ack.State.Terminal() {
		return written
	}
	if written > 0 {
		e.ack.State = models.AckDelivered
	} else {
		e.ack.State = models.AckSent
	}
	return written
}

// Ack acknowledges a tracked message. Unknown ids return false rather
// than an error; the caller may have raced a terminal sweep.
func (m *Manager) Ack(messageID, from string) bool {
	m.mu.Lock()
	e, ok := m.pending[messageID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.ack.AckedBy[from] = struct{}{}
	e.ack.State = models.AckAcknowledged
	delete(m.pending, messageID)
	handlers := append([]func(models.PendingAck){}, m.onAcked...)
	snapshot := *e.ack
	m.mu.Unlock()

	telemetry.AcksReceived.Inc()
	telemetry.AckTerminals.WithLabelValues(string(models.AckAcknowledged)).Inc()
	fire(handlers, snapshot)
	return true
}

// State reports the tracked state for a message id.
func (m *Manager) State(messageID string) (models.AckState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.pending[messageID]
	if !ok {
		return "", false
	}
	return e.ack.State, true
}

// PendingCount returns the number of messages still awaiting a terminal
// state.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Sweep marks timed-out entries and retries undelivered ones. It is
// exported so tests can drive the machine without waiting on the ticker.
func (m *Manager) Sweep() {
	now := time.Now().UTC()

	m.mu.Lock()
	var timedOut, failed []*entry
	var retry []*entry
	for id, e := range m.pending {
		if now.Sub(e.ack.CreatedAt) > e.ack.Timeout {
			e.ack.State = models.AckTimeout
			delete(m.pending, id)
			timedOut = append(timedOut, e)
			continue
		}
		if e.ack.State == models.AckSent {
			if e.ack.Retries >= m.opts.MaxRetries {
				e.ack.State = models.AckFailed
				delete(m.pending, id)
				failed = append(failed, e)
				continue
			}
			e.ack.Retries++
			// retry returns the entry to pending before the next attempt
			e.ack.State = models.AckPending
			retry = append(retry, e)
		}
	}
	onTimeout := append([]func(models.PendingAck){}, m.onTimeout...)
	onFailed := append([]func(models.PendingAck){}, m.onFailed...)
	m.mu.Unlock()

	for _, e := range timedOut {
		telemetry.AckTerminals.WithLabelValues(string(models.AckTimeout)).Inc()
		logger.Warn("ack_timeout", "id", e.ack.MessageID, "to", e.env.To)
		fire(onTimeout, *e.ack)
	}
	for _, e := range failed {
		telemetry.AckTerminals.WithLabelValues(string(models.AckFailed)).Inc()
		logger.Warn("ack_failed", "id", e.ack.MessageID, "to", e.env.To, "retries", e.ack.Retries)
		fire(onFailed, *e.ack)
	}
	for _, e := range retry {
		telemetry.AckRetries.Inc()
		m.attempt(e)
	}
}

// Start launches the periodic sweep on a background goroutine until the
// context is canceled or Close is called.
func (m *Manager) Start(ctx context.Context) {
	ctx2, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		t := time.NewTicker(m.opts.RetryDelay)
		defer t.Stop()
		for {
			select {
			case <-ctx2.Done():
				return
			case <-t.C:
				m.Sweep()
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it to exit.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// fire invokes callbacks with panic isolation so one failing handler
// cannot block the rest.
func fire(handlers []func(models.PendingAck), pa models.PendingAck) {
	for _, fn := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("ack_callback_panic", "id", pa.MessageID, "panic", rec)
				}
			}()
			fn(pa)
		}()
	}
}
