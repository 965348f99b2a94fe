package alarm

import (
	"strconv"
	"time"
)

// EventType enumerates the alarm event kinds. The numeric values are part
// of the wire format and must not be renumbered.
type EventType int

const (
	// EventOK reports a healthy, disarmed system.
	EventOK EventType = 0
	// EventTriggered reports a sensor going active.
	EventTriggered EventType = 1
	// EventRestored reports a sensor returning to rest.
	EventRestored EventType = 2
	// EventDisarmed reports an operator disarm.
	EventDisarmed EventType = 3
	// EventTempDisarmed reports an arm-for-egress (temporary disarm).
	EventTempDisarmed EventType = 4
	// EventBreach is inferred when a triggered alarm is not disarmed in time.
	EventBreach EventType = 5
	// EventConnectivityLost is inferred from prolonged client silence.
	EventConnectivityLost EventType = 6
	// EventConnectivityRestored is inferred when a silent client reappears.
	EventConnectivityRestored EventType = 7
	// EventPing is a keepalive; it is transmitted but never sequenced.
	EventPing EventType = 8
)

// String returns the event type name used in logs and topics.
func (t EventType) String() string {
	switch t {
	case EventOK:
		return "OK"
	case EventTriggered:
		return "TRIGGERED"
	case EventRestored:
		return "RESTORED"
	case EventDisarmed:
		return "DISARMED"
	case EventTempDisarmed:
		return "TEMP_DISARMED"
	case EventBreach:
		return "BREACH"
	case EventConnectivityLost:
		return "CONNECTIVITY_LOST"
	case EventConnectivityRestored:
		return "CONNECTIVITY_RESTORED"
	case EventPing:
		return "PING"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

// Inferred reports whether the event type is derived locally from elapsed
// time or observed silence and is never carried over the wire.
func (t EventType) Inferred() bool {
	switch t {
	case EventBreach, EventConnectivityLost, EventConnectivityRestored:
		return true
	default:
		return false
	}
}

// Sequenced reports whether the event type consumes a sequence number.
// Pings and inferred events never do.
func (t EventType) Sequenced() bool {
	return t != EventPing && !t.Inferred()
}

// Event is one alarm occurrence. Events are immutable once created.
type Event struct {
	// Type is the event kind.
	Type EventType
	// Sequence is the per-client sequence number, zero for events that are
	// never transmitted or acknowledged.
	Sequence uint64
	// Timestamp is when the event was created.
	Timestamp time.Time
	// SensorID names the originating sensor, when there is one.
	SensorID string
	// Payload carries extra data, e.g. the absolute breach deadline for
	// TRIGGERED events, encoded as unix seconds.
	Payload string
}

// DeadlinePayload renders an absolute deadline for the event payload.
func DeadlinePayload(deadline time.Time) string {
	return strconv.FormatInt(deadline.Unix(), 10)
}

// ParseDeadlinePayload decodes a deadline payload produced by DeadlinePayload.
// The second return value reports whether the payload was a valid deadline.
func ParseDeadlinePayload(payload string) (time.Time, bool) {
	seconds, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	return time.Unix(seconds, 0), true
}

// Sensor is a binary input owned by one client.
type Sensor struct {
	// ID identifies the sensor.
	ID string
	// DisarmDelay is the trigger-to-breach grace period.
	// Zero means the sensor never causes an alarm.
	DisarmDelay time.Duration
	// Triggered is the sensor's current raw state.
	Triggered bool
}
