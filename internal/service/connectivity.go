package service

import (
	"context"
	"log"
	"sync"
	"time"

	"lesson-notes-sync/internal/clock"
)

// Prober reports whether the notes server is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// ConnectivityMonitor probes the notes server on an interval and reports
// online/offline transitions. It starts out assuming online.
type ConnectivityMonitor struct {
	probeMu sync.Mutex

	mu       sync.Mutex
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	onChange func(online bool)

	online  bool
	running bool
	timer   clock.Timer
}

func NewConnectivityMonitor(prober Prober, interval, timeout time.Duration, clk clock.Clock, onChange func(online bool)) *ConnectivityMonitor {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 || (interval > 0 && timeout > interval) {
		timeout = interval
	}
	return &ConnectivityMonitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		clock:    clk,
		onChange: onChange,
		online:   true,
	}
}

// Start schedules probes every interval until Stop. A non-positive interval
// leaves probing to explicit Check calls.
func (m *ConnectivityMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.interval <= 0 {
		return
	}
	m.running = true
	m.timer = m.clock.AfterFunc(m.interval, m.tick)
}

func (m *ConnectivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectivityMonitor) tick() {
	m.Check(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.timer = m.clock.AfterFunc(m.interval, m.tick)
	}
}

// Check probes now and returns the resulting state. A probe cut short by
// the caller's ctx leaves the state unchanged.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	err := m.prober.Ping(probeCtx)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}
	online := err == nil

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return online
	}
	if online {
		log.Printf("[Connectivity] notes server reachable again")
	} else {
		log.Printf("[Connectivity] notes server unreachable: %v", err)
	}
	if m.onChange != nil {
		m.onChange(online)
	}
	return online
}

func (m *ConnectivityMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
