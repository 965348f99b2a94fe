package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/protocol"
)

// DefaultAnswerTimeout bounds waiting for the peer's synchronization
// marker and for the cumulative acknowledgment.
const DefaultAnswerTimeout = 30 * time.Second

// errNoSyncMarker is returned when the peer answers without the expected marker.
var errNoSyncMarker = errors.New("peer did not send synchronization marker")

// Secondary is the connection-oriented fallback transport. It runs the
// call script: place session, await the peer's synchronization marker,
// identify, deliver every unacknowledged event serially, collect one
// cumulative acknowledgment. After a delivery the session stays parked for
// an idle grace period so an immediate follow-up reuses it, then it is
// torn down.
type Secondary struct {
	// dialer places the outbound session.
	dialer Dialer
	// clientID and pin identify this node during the session handshake.
	clientID, pin string
	// idleGrace is how long a parked session survives between deliveries.
	idleGrace time.Duration
	// answerTimeout bounds handshake and acknowledgment waits.
	answerTimeout time.Duration

	// mu serializes session use; a delivery can block for seconds and must
	// never run under the event-queue lock.
	mu sync.Mutex
	// session is the parked session, nil when torn down.
	session io.ReadWriteCloser
	// reader frames '#'-terminated responses from the session.
	reader *bufio.Reader
	// sessionID correlates log lines of one session.
	sessionID string
	// idleTimer tears the parked session down after the grace period.
	idleTimer *time.Timer
	// parkGeneration invalidates idle timers that fired while a delivery
	// was already waiting on the lock.
	parkGeneration uint64
}

// NewSecondary creates the fallback transport for one node.
func NewSecondary(dialer Dialer, clientID, pin string, idleGrace time.Duration) *Secondary {
	return &Secondary{
		dialer:        dialer,
		clientID:      clientID,
		pin:           pin,
		idleGrace:     idleGrace,
		answerTimeout: DefaultAnswerTimeout,
	}
}

// Deliver transmits the events in ascending sequence order and returns the
// server's cumulative acknowledgment. Establishment or answer failures
// tear the session down and are never fatal to the caller: the next
// wake-up retries.
func (s *Secondary) Deliver(ctx context.Context, events []alarm.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if err := s.ensureSessionLocked(ctx); err != nil {
		return 0, err
	}

	nextExpected, err := s.deliverLocked(ctx, events)
	if err != nil {
		s.teardownLocked(ctx)

		return 0, err
	}

	s.parkLocked(ctx)

	return nextExpected, nil
}

// Close tears down any parked session.
func (s *Secondary) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	s.teardownLocked(context.Background())
}

// ensureSessionLocked establishes the session and runs the handshake:
// await the peer's synchronization marker, then send the identity line.
func (s *Secondary) ensureSessionLocked(ctx context.Context) error {
	if s.session != nil {
		return nil
	}

	session, err := s.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	s.session = session
	s.reader = bufio.NewReader(session)
	s.sessionID = uuid.NewString()

	logger.InfoKV(ctx, "Secondary session placed", "session_id", s.sessionID)

	marker, err := s.readResponseLocked()
	if err != nil {
		s.teardownLocked(ctx)

		return fmt.Errorf("await answer: %w", err)
	}

	if marker != protocol.SessionReady {
		s.teardownLocked(ctx)

		return fmt.Errorf("%w: got %q", errNoSyncMarker, marker)
	}

	if _, err = io.WriteString(session, protocol.EncodeIdentity(s.clientID, s.pin)); err != nil {
		s.teardownLocked(ctx)

		return fmt.Errorf("send identity: %w", err)
	}

	return nil
}

// deliverLocked sends the event batch and reads the cumulative acknowledgment.
func (s *Secondary) deliverLocked(ctx context.Context, events []alarm.Event) (uint64, error) {
	for _, event := range events {
		if _, err := io.WriteString(s.session, protocol.Encode(s.clientID, s.pin, event)); err != nil {
			return 0, fmt.Errorf("send event %d: %w", event.Sequence, err)
		}
	}

	// A lone terminator ends the batch.
	if _, err := io.WriteString(s.session, protocol.Terminator); err != nil {
		return 0, fmt.Errorf("send batch terminator: %w", err)
	}

	response, err := s.readResponseLocked()
	if err != nil {
		return 0, fmt.Errorf("await acknowledgment: %w", err)
	}

	nextExpected, err := protocol.DecodeSessionAck(response)
	if err != nil {
		return 0, err
	}

	logger.DebugKV(ctx, "Secondary delivery acknowledged",
		"session_id", s.sessionID, "events", len(events), "next_expected", nextExpected)

	return nextExpected, nil
}

// readResponseLocked reads one '#'-terminated response under the answer timeout.
func (s *Secondary) readResponseLocked() (string, error) {
	if conn, ok := s.session.(net.Conn); ok {
		if err := conn.SetReadDeadline(time.Now().Add(s.answerTimeout)); err != nil {
			return "", fmt.Errorf("arm answer deadline: %w", err)
		}
	}

	response, err := s.reader.ReadString(protocol.Terminator[0])
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	return response, nil
}

// parkLocked keeps the session alive for the idle grace period so an
// event raised right after this one reuses it without a new call.
func (s *Secondary) parkLocked(ctx context.Context) {
	if s.idleGrace <= 0 {
		s.teardownLocked(ctx)

		return
	}

	s.parkGeneration++

	var (
		generation = s.parkGeneration
		sessionID  = s.sessionID
	)

	s.idleTimer = time.AfterFunc(s.idleGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// A delivery may have reclaimed the session in the meantime.
		if s.parkGeneration != generation || s.session == nil {
			return
		}

		logger.DebugKV(ctx, "Parked secondary session expired", "session_id", sessionID)
		s.teardownLocked(ctx)
	})
}

// teardownLocked closes and forgets the current session.
func (s *Secondary) teardownLocked(ctx context.Context) {
	if s.session == nil {
		return
	}

	if err := s.session.Close(); err != nil {
		logger.Warnf(ctx, "Failed to close secondary session: %v", err)
	}

	s.session = nil
	s.reader = nil
	s.sessionID = ""
}
