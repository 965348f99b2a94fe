package transport

import (
	"sync"
	"time"
)

// connectivityLossSlack is the epsilon added on top of three missed pings
// before the primary transport is judged unavailable.
const connectivityLossSlack = time.Second

// Selector tracks per-client connectivity and decides which transport
// carries the next send. Connectivity is updated only by confirmed
// acknowledgments: a transmit success proves nothing about the far side.
type Selector struct {
	// mu guards the connectivity fields.
	mu sync.Mutex
	// pingInterval is the keepalive interval the thresholds derive from.
	pingInterval time.Duration
	// lastAck is when the last acknowledgment of any kind arrived.
	lastAck time.Time
	// ipConnected reports whether the primary transport is judged usable.
	ipConnected bool
}

// NewSelector starts optimistic: the primary is assumed usable until
// acknowledgments stop arriving.
func NewSelector(pingInterval time.Duration, now time.Time) *Selector {
	return &Selector{
		pingInterval: pingInterval,
		lastAck:      now,
		ipConnected:  true,
	}
}

// AckReceived records a confirmed acknowledgment and reports whether it
// restored connectivity. The flip is idempotent: one restoration yields
// exactly one true result.
func (s *Selector) AckReceived(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAck = now

	if s.ipConnected {
		return false
	}

	s.ipConnected = true

	return true
}

// ShouldProbe reports whether silence has lasted long enough (more than
// two ping intervals) to warrant an extra out-of-band probe.
func (s *Selector) ShouldProbe(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ipConnected && now.Sub(s.lastAck) > 2*s.pingInterval
}

// Evaluate applies the loss policy: silence beyond three ping intervals
// plus slack marks the primary unavailable. Reports whether connectivity
// was lost by this call; repeated evaluation is a no-op.
func (s *Selector) Evaluate(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ipConnected {
		return false
	}

	if now.Sub(s.lastAck) <= 3*s.pingInterval+connectivityLossSlack {
		return false
	}

	s.ipConnected = false

	return true
}

// MarkLost records a definite local send failure on the primary.
// Reports whether connectivity was lost by this call.
func (s *Selector) MarkLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ipConnected {
		return false
	}

	s.ipConnected = false

	return true
}

// Connected reports whether the primary transport is judged usable.
func (s *Selector) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ipConnected
}

// LastAck reports when the last acknowledgment arrived.
func (s *Selector) LastAck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastAck
}
