// Package health provides health reporting and the reinitialization timer for the service.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/config"
)

// Status represents the health status of the service.
type Status struct {
	UptimeSeconds    int64     `json:"uptime"`
	LastMessage      time.Time `json:"lastMessage"`
	ReinitCount      int       `json:"reinitCount"`
	MessagesReceived int64     `json:"messagesReceived"`
	MessagesSent     int64     `json:"messagesSent"`
	RetryPending     bool      `json:"retryPending"`
}

// Monitor tracks service health and owns the single pending retry timer.
type Monitor struct {
	log *slog.Logger

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	startTime        time.Time
	lastMessage      time.Time
	reinitCount      int
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64

	pending    context.CancelFunc
	pendingSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg *config.Config) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		log:         slog.Default().With("component", "health"),
		baseDelay:   cfg.ReinitBaseDelay,
		maxDelay:    cfg.ReinitMaxDelay,
		maxAttempts: cfg.ReinitMaxAttempts,
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the health monitoring.
func (m *Monitor) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	m.log.Info("health monitor started", "max_attempts", m.maxAttempts)
}

// Stop cancels any pending retry and waits for timer goroutines to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.log.Info("health monitor stopped")
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		LastMessage:      m.lastMessage,
		ReinitCount:      m.reinitCount,
		MessagesReceived: m.messagesReceived.Load(),
		MessagesSent:     m.messagesSent.Load(),
		RetryPending:     m.pending != nil,
	}
}

// Uptime returns how long the monitor has been running.
func (m *Monitor) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// RecordMessageReceived records an incoming message.
func (m *Monitor) RecordMessageReceived() {
	m.messagesReceived.Add(1)
	m.mu.Lock()
	m.lastMessage = time.Now()
	m.mu.Unlock()
}

// RecordMessageSent records an outgoing message.
func (m *Monitor) RecordMessageSent() {
	m.messagesSent.Add(1)
}

// MaxAttempts returns the retry budget.
func (m *Monitor) MaxAttempts() int {
	return m.maxAttempts
}

// Delay returns the wait before the next attempt after attempt number
// attempt failed: base * 2^(attempt-1), capped at the max delay.
func (m *Monitor) Delay(attempt int) time.Duration {
	return ReinitDelay(m.baseDelay, m.maxDelay, attempt)
}

// ReinitDelay computes the capped exponential delay without jitter.
func ReinitDelay(base, max time.Duration, attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // Never stop based on elapsed time
	bo.Reset()

	if attempt < 1 {
		attempt = 1
	}
	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// Schedule runs fn once after delay. Any previously scheduled callback that
// has not fired yet is cancelled first, so at most one is ever pending.
// The returned function cancels this callback.
func (m *Monitor) Schedule(delay time.Duration, fn func()) (cancel func()) {
	m.mu.Lock()
	if m.pending != nil {
		m.pending()
		m.log.Debug("cancelled pending retry")
	}
	ctx, cancelTimer := context.WithCancel(m.ctx)
	m.pendingSeq++
	seq := m.pendingSeq
	m.pending = cancelTimer
	m.mu.Unlock()

	m.log.Info("scheduling reinitialization", "delay", delay)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if !m.clearPending(seq) {
				return
			}
			m.mu.Lock()
			m.reinitCount++
			m.mu.Unlock()
			fn()
		case <-ctx.Done():
			return
		}
	}()

	return func() {
		cancelTimer()
		m.clearPending(seq)
	}
}

// CancelPending cancels the pending retry, if any.
func (m *Monitor) CancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending()
		m.pending = nil
	}
}

// HasPending reports whether a retry is waiting to fire.
func (m *Monitor) HasPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending != nil
}

// clearPending drops the pending handle if it still belongs to seq.
func (m *Monitor) clearPending(seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingSeq != seq || m.pending == nil {
		return false
	}
	m.pending = nil
	return true
}
