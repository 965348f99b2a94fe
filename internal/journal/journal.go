package journal

import (
	"context"
	"time"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
)

// Entry is one journaled alarm event.
type Entry struct {
	// ID is a generated row identifier.
	ID string
	// ClientID is the reporting client.
	ClientID string
	// Type is the event kind name (TRIGGERED, BREACH, ...).
	Type string
	// Sequence is the event's sequence number, zero for unsequenced events.
	Sequence uint64
	// SensorID names the originating sensor, when present.
	SensorID string
	// Payload carries the event payload, when present.
	Payload string
	// Inferred reports whether the server derived the event itself.
	Inferred bool
	// OccurredAt is when the server recorded the event, UTC.
	OccurredAt time.Time
}

// Filter narrows a journal listing. Zero values mean "no constraint".
type Filter struct {
	// From and To bound OccurredAt inclusively.
	From, To time.Time
	// ClientID restricts to one client.
	ClientID string
	// Type restricts to one event kind name.
	Type string
	// Limit caps the result size; zero means no cap.
	Limit int
}

// Repository persists applied and inferred events on the central server.
type Repository interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// EntryFromEvent builds a journal entry for an event of one client.
func EntryFromEvent(clientID string, event alarm.Event, now time.Time) Entry {
	return Entry{
		ClientID:   clientID,
		Type:       event.Type.String(),
		Sequence:   event.Sequence,
		SensorID:   event.SensorID,
		Payload:    event.Payload,
		Inferred:   event.Type.Inferred(),
		OccurredAt: now.UTC(),
	}
}

// Nop is the journal used when no path is configured.
type Nop struct{}

// Append discards the entry.
func (Nop) Append(context.Context, Entry) error { return nil }

// List returns nothing.
func (Nop) List(context.Context, Filter) ([]Entry, error) { return nil, nil }
