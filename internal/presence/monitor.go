// Package presence derives a binary "peer active" signal from periodic
// liveness beacons. Any message observed from the peer role counts as a
// beacon, so a chatty peer never reads as offline between heartbeats.
package presence

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lottopos/terminal/internal/protocol"
)

// State is the peer liveness state machine: Unknown until the first message
// from the peer, then Connected/Disconnected as beacons arrive or time out.
type State int

const (
	StateUnknown State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Monitor emits heartbeats for the local role and tracks the peer's.
// The only externally observable effect is the Active transition; it is
// advisory (an "Offline" badge), never a forced state reset.
type Monitor struct {
	role     protocol.Role
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	beat     func() // sends one HEARTBEAT on the channel

	mu       sync.Mutex
	state    State
	lastSeen time.Time
	onChange func(active bool)

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor for the given local role. timeout must be at
// least twice interval so one missed beat does not flap the signal; config
// validation enforces that upstream. beat is invoked from the monitor's tick
// goroutine.
func NewMonitor(role protocol.Role, interval, timeout time.Duration, clock clockwork.Clock, beat func()) *Monitor {
	return &Monitor{
		role:     role,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		beat:     beat,
		stop:     make(chan struct{}),
	}
}

// OnChange registers a callback fired on every Connected/Disconnected
// transition. Must be called before Start.
func (m *Monitor) OnChange(fn func(active bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start begins the heartbeat/evaluation loop. The first beat goes out
// immediately so the peer learns about us without waiting a full interval.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	m.beat()
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.beat()
			m.evaluate()
		}
	}
}

// Observe records a message seen from the given sender role. Messages from
// the local role are ignored. A message from the peer flips the state to
// Connected immediately.
func (m *Monitor) Observe(from protocol.Role) {
	if from != m.role.Other() {
		return
	}

	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	prev := m.state
	m.state = StateConnected
	fn := m.onChange
	m.mu.Unlock()

	if prev != StateConnected {
		log.Info().
			Str("role", string(m.role)).
			Str("peer", string(from)).
			Str("from", prev.String()).
			Msg("peer connected")
		if fn != nil {
			fn(true)
		}
	}
}

// evaluate flips Connected to Disconnected once the timeout window elapses
// with no message from the peer.
func (m *Monitor) evaluate() {
	m.mu.Lock()
	if m.state != StateConnected || m.clock.Since(m.lastSeen) < m.timeout {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	fn := m.onChange
	silent := m.clock.Since(m.lastSeen)
	m.mu.Unlock()

	log.Info().
		Str("role", string(m.role)).
		Dur("silent_for", silent).
		Msg("peer disconnected")
	if fn != nil {
		fn(false)
	}
}

// Active reports whether the peer is currently considered alive.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// PeerState returns the raw state machine position.
func (m *Monitor) PeerState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop halts the heartbeat loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
