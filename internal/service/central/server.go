package central

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/journal"
	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/notify"
	"github.com/oshokin/alarm-central/internal/protocol"
)

// processResult classifies one sequenced message.
type processResult int

const (
	// resultApplied means the event advanced the mirrored state.
	resultApplied processResult = iota
	// resultDuplicate means the sequence was already applied; it is
	// re-acknowledged without reapplying state changes.
	resultDuplicate
	// resultRejected means the sequence is ahead of the expected one; the
	// client must retransmit from the expected sequence.
	resultRejected
)

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	// Clients are the configured credentials.
	Clients []config.ClientSettings
	// LossTolerance is how long a client may stay silent before the
	// server infers connectivity loss.
	LossTolerance time.Duration
	// Hooks receives every applied and inferred event.
	Hooks *notify.Registry
	// Journal persists every applied and inferred event.
	Journal journal.Repository
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Server authenticates clients, enforces per-client sequencing, mirrors
// each client's alarm state and infers the events clients can never send.
type Server struct {
	// registryMu guards the records map itself; each record has its own lock.
	registryMu sync.RWMutex
	// records holds one mirror per configured client.
	records map[string]*clientRecord

	// tolerance is the silence limit before connectivity loss is inferred.
	tolerance time.Duration
	// hooks dispatches events to host integrations.
	hooks *notify.Registry
	// journal persists events.
	journal journal.Repository
	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewServer builds the server from validated settings.
func NewServer(cfg ServerConfig) *Server {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	hooks := cfg.Hooks
	if hooks == nil {
		hooks = notify.NewRegistry()
	}

	journalRepo := cfg.Journal
	if journalRepo == nil {
		journalRepo = journal.Nop{}
	}

	records := make(map[string]*clientRecord, len(cfg.Clients))
	for _, client := range cfg.Clients {
		records[client.ID] = &clientRecord{
			id:           client.ID,
			pin:          client.PIN,
			nextExpected: 1,
		}
	}

	return &Server{
		records:   records,
		tolerance: cfg.LossTolerance,
		hooks:     hooks,
		journal:   journalRepo,
		now:       now,
	}
}

// authenticate resolves the client record for the presented credentials.
// Unknown clients and pin mismatches are logged and answered with nil;
// the network side stays silent to avoid becoming a probing oracle.
func (s *Server) authenticate(ctx context.Context, clientID, pin string) *clientRecord {
	s.registryMu.RLock()
	record, ok := s.records[clientID]
	s.registryMu.RUnlock()

	if !ok {
		logger.WarnKV(ctx, "Message from unknown client", "client_id", clientID)

		return nil
	}

	if record.pin != pin {
		logger.WarnKV(ctx, "Client pin mismatch", "client_id", clientID)

		return nil
	}

	return record
}

// HandleDatagram processes one primary-transport datagram and returns the
// response to send back, if any. Malformed input and authentication
// failures produce no response.
func (s *Server) HandleDatagram(ctx context.Context, raw string) (string, bool) {
	message, err := protocol.Decode(raw)
	if err != nil {
		logger.Warnf(ctx, "Dropping malformed message: %v", err)

		return "", false
	}

	record := s.authenticate(ctx, message.ClientID, message.PIN)
	if record == nil {
		return "", false
	}

	if message.Type == alarm.EventPing {
		record.mu.Lock()
		restored, ok := s.touchContactLocked(record, s.now())
		record.mu.Unlock()

		if ok {
			s.emit(ctx, record.id, restored)
		}

		return protocol.EncodePingAck(), true
	}

	result, nextExpected := s.processMessage(ctx, record, message)
	if result == resultRejected {
		return "", false
	}

	return protocol.EncodeAck(nextExpected), true
}

// processMessage validates sequencing and applies the event under the
// record's lock. The first message from a client ever adopts its sequence
// number, handling counters restarted by a client reload. Journal and
// hook work happens after the lock is released: a slow journal write or a
// stalled hook must not block this client's sequencing or anyone else's
// traffic.
func (s *Server) processMessage(ctx context.Context, record *clientRecord, message *protocol.Message) (processResult, uint64) {
	now := s.now()

	record.mu.Lock()

	var emits []alarm.Event

	if restored, ok := s.touchContactLocked(record, now); ok {
		emits = append(emits, restored)
	}

	if !record.receivedFirst {
		record.nextExpected = message.Sequence
		record.receivedFirst = true

		logger.InfoKV(ctx, "First contact, adopting client sequence",
			"client_id", record.id, "sequence", message.Sequence)
	}

	result := resultApplied

	switch {
	case message.Sequence < record.nextExpected:
		logger.DebugKV(ctx, "Duplicate event re-acknowledged",
			"client_id", record.id, "sequence", message.Sequence)

		result = resultDuplicate
	case message.Sequence > record.nextExpected:
		logger.WarnKV(ctx, "Sequence gap, rejecting",
			"client_id", record.id,
			"sequence", message.Sequence,
			"expected", record.nextExpected)

		result = resultRejected
	default:
		emits = append(emits, s.applyLocked(ctx, record, message, now))
		record.nextExpected++
	}

	nextExpected := record.nextExpected

	record.mu.Unlock()

	for _, event := range emits {
		s.emit(ctx, record.id, event)
	}

	return result, nextExpected
}

// applyLocked drives the mirrored state machine with one in-order event
// and returns the event for emission. The server never decides
// TRIGGERED/OK transitions itself; it follows the client's events and
// only infers breach and connectivity changes.
func (s *Server) applyLocked(ctx context.Context, record *clientRecord, message *protocol.Message, now time.Time) alarm.Event {
	switch message.Type {
	case alarm.EventTriggered:
		if deadline, ok := alarm.ParseDeadlinePayload(message.Payload); ok {
			record.machine.MarkTriggered(deadline)
		}
	case alarm.EventDisarmed:
		record.machine.Disarm()
	case alarm.EventTempDisarmed:
		record.machine.ArmForEgress(now)
	case alarm.EventOK, alarm.EventRestored:
		// Informational only.
	default:
		logger.WarnKV(ctx, "Event type has no mirror action",
			"client_id", record.id, "type", int(message.Type))
	}

	event := message.Event()
	event.Timestamp = now

	return event
}

// touchContactLocked updates last-contact bookkeeping for a valid message
// and returns a CONNECTIVITY_RESTORED event when the client reappears.
// The very first contact establishes connectivity without an event.
func (s *Server) touchContactLocked(record *clientRecord, now time.Time) (alarm.Event, bool) {
	record.lastContact = now

	if !record.everContacted {
		record.everContacted = true
		record.ipConnected = true

		return alarm.Event{}, false
	}

	if record.ipConnected {
		return alarm.Event{}, false
	}

	record.ipConnected = true

	return alarm.Event{
		Type:      alarm.EventConnectivityRestored,
		Timestamp: now,
	}, true
}

// clientEvent pairs an inferred event with the client it belongs to so
// emission can happen after the record locks are released.
type clientEvent struct {
	clientID string
	event    alarm.Event
}

// Sweep runs one pass of the periodic inference: connectivity loss from
// silence and breach from elapsed deadlines. Records are visited under
// their own locks; clients never contend with each other, and journal and
// hook work runs only after every lock is released.
func (s *Server) Sweep(ctx context.Context) {
	now := s.now()

	s.registryMu.RLock()
	records := make([]*clientRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.registryMu.RUnlock()

	var emits []clientEvent

	for _, record := range records {
		record.mu.Lock()

		if record.ipConnected && now.Sub(record.lastContact) > s.tolerance {
			record.ipConnected = false

			emits = append(emits, clientEvent{record.id, alarm.Event{
				Type:      alarm.EventConnectivityLost,
				Timestamp: now,
			}})
		}

		if record.machine.CheckBreach(now) {
			emits = append(emits, clientEvent{record.id, alarm.Event{
				Type:      alarm.EventBreach,
				Timestamp: now,
				Payload:   alarm.DeadlinePayload(record.machine.BreachDeadline),
			}})
		}

		record.mu.Unlock()
	}

	for _, e := range emits {
		s.emit(ctx, e.clientID, e.event)
	}
}

// emit journals and dispatches one event. Journal failures are logged and
// never interrupt event processing.
func (s *Server) emit(ctx context.Context, clientID string, event alarm.Event) {
	if err := s.journal.Append(ctx, journal.EntryFromEvent(clientID, event, event.Timestamp)); err != nil {
		logger.Errorf(ctx, "Failed to journal event: %v", err)
	}

	s.hooks.Dispatch(ctx, clientID, event)
}

// ClientStatuses snapshots every client for the status API, sorted by id.
func (s *Server) ClientStatuses() []alarm.ClientStatus {
	s.registryMu.RLock()
	records := make([]*clientRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.registryMu.RUnlock()

	statuses := make([]alarm.ClientStatus, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, record.snapshot())
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ClientID < statuses[j].ClientID
	})

	return statuses
}

// ClientStatus snapshots one client for the status API.
func (s *Server) ClientStatus(clientID string) (alarm.ClientStatus, bool) {
	s.registryMu.RLock()
	record, ok := s.records[clientID]
	s.registryMu.RUnlock()

	if !ok {
		return alarm.ClientStatus{}, false
	}

	return record.snapshot(), true
}
