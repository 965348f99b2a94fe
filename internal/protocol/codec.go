package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
)

const (
	// FieldSeparator delimits fields inside a message.
	FieldSeparator = "*"
	// Terminator ends every message.
	Terminator = "#"
	// SessionReady is the synchronization marker the central sends once it
	// has answered a secondary session and is ready for the identity line.
	SessionReady = "*#"
	// TimestampLayout renders event timestamps as a minute:second string.
	TimestampLayout = "04:05"

	// minFields is the smallest field count of a well-formed message:
	// client_id, pin, sequence, timestamp, event_type.
	minFields = 5
	// maxFields additionally allows sensor_id and payload.
	maxFields = 7
)

// ErrMalformedMessage is returned when a wire message cannot be decoded.
// The condition is not retryable: callers drop the message and log it.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the decoded form of one wire message.
type Message struct {
	// ClientID identifies the sending client.
	ClientID string
	// PIN is the client's shared secret.
	PIN string
	// Sequence is the event sequence number, zero for pings.
	Sequence uint64
	// Timestamp is the minute:second string as sent, empty for pings.
	Timestamp string
	// Type is the event kind.
	Type alarm.EventType
	// SensorID names the originating sensor, when present.
	SensorID string
	// Payload carries extra data, when present.
	Payload string
}

// Event converts the message back into a domain event.
func (m *Message) Event() alarm.Event {
	return alarm.Event{
		Type:     m.Type,
		Sequence: m.Sequence,
		SensorID: m.SensorID,
		Payload:  m.Payload,
	}
}

// Encode renders an event as a wire message:
//
//	client_id*pin*sequence*timestamp*event_type*sensor_id*payload#
//
// Pings keep the sequence and timestamp positions empty. The trailing
// sensor_id and payload fields are emitted only when non-empty.
func Encode(clientID, pin string, event alarm.Event) string {
	var sequence, timestamp string
	if event.Type != alarm.EventPing {
		sequence = strconv.FormatUint(event.Sequence, 10)
		timestamp = event.Timestamp.Format(TimestampLayout)
	}

	fields := []string{
		clientID,
		pin,
		sequence,
		timestamp,
		strconv.Itoa(int(event.Type)),
	}

	if event.SensorID != "" || event.Payload != "" {
		fields = append(fields, event.SensorID)
	}

	if event.Payload != "" {
		fields = append(fields, event.Payload)
	}

	return strings.Join(fields, FieldSeparator) + Terminator
}

// Decode parses a wire message. The input is never mutated.
func Decode(raw string) (*Message, error) {
	if !strings.HasSuffix(raw, Terminator) {
		return nil, fmt.Errorf("%w: missing terminator", ErrMalformedMessage)
	}

	fields := strings.Split(strings.TrimSuffix(raw, Terminator), FieldSeparator)
	if len(fields) < minFields || len(fields) > maxFields {
		return nil, fmt.Errorf("%w: %d fields", ErrMalformedMessage, len(fields))
	}

	eventType, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, fmt.Errorf("%w: bad event type %q", ErrMalformedMessage, fields[4])
	}

	message := &Message{
		ClientID:  fields[0],
		PIN:       fields[1],
		Timestamp: fields[3],
		Type:      alarm.EventType(eventType),
	}

	if fields[2] != "" {
		message.Sequence, err = strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sequence %q", ErrMalformedMessage, fields[2])
		}
	}

	if len(fields) > minFields {
		message.SensorID = fields[5]
	}

	if len(fields) > minFields+1 {
		message.Payload = fields[6]
	}

	return message, nil
}

// FormatTimestamp renders an event timestamp for the wire.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
