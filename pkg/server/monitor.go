package server

import (
	"sync"
	"time"
)

// LivenessMonitor pings every registered client on an interval and evicts
// clients that did not answer the previous ping
type LivenessMonitor struct {
	registry *Registry
	interval time.Duration
	metrics  *Metrics

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewLivenessMonitor creates a stopped monitor. metrics may be nil.
func NewLivenessMonitor(registry *Registry, interval time.Duration, metrics *Metrics) *LivenessMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LivenessMonitor{
		registry: registry,
		interval: interval,
		metrics:  metrics,
	}
}

// Start launches the sweep loop. Calling Start on a running monitor does nothing.
func (m *LivenessMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
}

// Stop ends the loop and waits for it to exit. Safe to call when not running.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *LivenessMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pinged, evicted := m.Sweep()
			if evicted > 0 {
				debugLog.Printf("Liveness sweep: pinged %d, evicted %d", pinged, evicted)
			}
		}
	}
}

// Sweep runs one liveness cycle: clients that answered since the last cycle
// are pinged again, the rest are evicted
func (m *LivenessMonitor) Sweep() (pinged, evicted int) {
	for _, c := range m.registry.Snapshot() {
		if c.alive.CompareAndSwap(true, false) {
			// a failed ping surfaces on the next sweep or the next write
			_ = c.transport.Ping()
			pinged++
			continue
		}
		m.registry.Evict(c, "no pong since last sweep")
		if m.metrics != nil {
			m.metrics.RecordEviction()
		}
		evicted++
	}
	return pinged, evicted
}
