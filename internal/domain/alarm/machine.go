package alarm

import "time"

// ArmState is the alarm condition of one client.
type ArmState int

const (
	// StateOK means no pending alarm.
	StateOK ArmState = iota
	// StateTriggered means a sensor fired and the disarm clock is running.
	StateTriggered
	// StateBreach means the disarm clock ran out.
	StateBreach
)

// String returns the state name used in logs and API responses.
func (s ArmState) String() string {
	switch s {
	case StateOK:
		return "OK"
	case StateTriggered:
		return "TRIGGERED"
	case StateBreach:
		return "BREACH"
	default:
		return "UNKNOWN"
	}
}

// ParseArmState maps a state name back to its value.
func ParseArmState(name string) (ArmState, bool) {
	switch name {
	case "OK":
		return StateOK, true
	case "TRIGGERED":
		return StateTriggered, true
	case "BREACH":
		return StateBreach, true
	default:
		return StateOK, false
	}
}

// Machine is the disarm/breach state machine shared by the node and the
// central mirror. It is not safe for concurrent use; the owner serializes
// access under its own lock.
type Machine struct {
	// State is the current alarm condition.
	State ArmState
	// BreachDeadline is when a pending trigger becomes a breach.
	// The zero value means no deadline is pending.
	BreachDeadline time.Time
	// LastArm is when the system was last armed for egress.
	LastArm time.Time
	// EgressWindow suppresses alarm consequences of triggers shortly after arming.
	EgressWindow time.Duration
}

// InEgress reports whether now falls inside the egress grace window.
func (m *Machine) InEgress(now time.Time) bool {
	return !m.LastArm.IsZero() && now.Sub(m.LastArm) < m.EgressWindow
}

// Trigger applies a sensor trigger and reports whether it had an alarm
// consequence. Triggers during egress or on zero-delay sensors are recorded
// by the caller as events but change neither state nor deadline. A pending
// deadline only ever moves earlier.
func (m *Machine) Trigger(disarmDelay time.Duration, now time.Time) bool {
	if disarmDelay <= 0 || m.InEgress(now) {
		return false
	}

	m.MarkTriggered(now.Add(disarmDelay))

	return true
}

// MarkTriggered moves the machine to TRIGGERED with the given absolute
// deadline, keeping an existing sooner deadline. Used directly by the
// central mirror, which receives the deadline in the event payload.
func (m *Machine) MarkTriggered(deadline time.Time) {
	if m.State == StateOK {
		m.State = StateTriggered
	}

	if m.BreachDeadline.IsZero() || deadline.Before(m.BreachDeadline) {
		m.BreachDeadline = deadline
	}
}

// Disarm clears any pending deadline and returns to OK. A late disarm
// still recovers from BREACH. Reports whether anything changed.
func (m *Machine) Disarm() bool {
	changed := m.State != StateOK || !m.BreachDeadline.IsZero()

	m.State = StateOK
	m.BreachDeadline = time.Time{}

	return changed
}

// ArmForEgress opens the egress grace window.
func (m *Machine) ArmForEgress(now time.Time) {
	m.LastArm = now
}

// CheckBreach declares a breach when the deadline has elapsed without a
// disarm. A deadline already in the past fires on the next check rather
// than being an error. Reports whether a breach was declared.
func (m *Machine) CheckBreach(now time.Time) bool {
	if m.State != StateTriggered || m.BreachDeadline.IsZero() {
		return false
	}

	if now.Before(m.BreachDeadline) {
		return false
	}

	m.State = StateBreach

	return true
}
