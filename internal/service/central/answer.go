package central

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/protocol"
)

const (
	// readPollInterval bounds blocking reads so serving loops can observe
	// context cancellation.
	readPollInterval = time.Second

	// sessionIdleTimeout is how long an answered session may sit parked
	// between batches before the server hangs up.
	sessionIdleTimeout = 90 * time.Second

	// maxDatagramSize bounds one primary-transport message.
	maxDatagramSize = 1024
)

// ServeUDP answers primary-transport datagrams until the context ends.
// Each datagram is processed on its own goroutine: one client's slow
// journal write or hook never blocks the read loop, and record locks keep
// per-client processing serialized.
func (s *Server) ServeUDP(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	buffer := make([]byte, maxDatagramSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return err
		}

		length, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}

			return err
		}

		datagram := string(buffer[:length])

		go func() {
			response, ok := s.HandleDatagram(ctx, datagram)
			if !ok {
				return
			}

			if _, err := conn.WriteTo([]byte(response), addr); err != nil {
				logger.Warnf(ctx, "Failed to answer %s: %v", addr, err)
			}
		}()
	}
}

// ServeTCP accepts secondary-transport sessions until the context ends.
// Each session is answered on its own goroutine.
func (s *Server) ServeTCP(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return err
		}

		go s.answerSession(ctx, conn)
	}
}

// answerSession speaks the answering side of the secondary call script:
// announce readiness, verify identity, then acknowledge event batches
// until the caller hangs up or goes idle.
//
// Authentication failures close the connection without a word.
func (s *Server) answerSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = logger.WithKV(ctx, "remote", conn.RemoteAddr().String())

	if _, err := conn.Write([]byte(protocol.SessionReady)); err != nil {
		logger.Warnf(ctx, "Failed to announce session: %v", err)

		return
	}

	reader := bufio.NewReader(conn)

	token, err := s.readToken(ctx, conn, reader)
	if err != nil {
		logger.Warnf(ctx, "Failed to read identity: %v", err)

		return
	}

	clientID, pin, err := protocol.DecodeIdentity(token)
	if err != nil {
		logger.Warnf(ctx, "Malformed identity: %v", err)

		return
	}

	record := s.authenticate(ctx, clientID, pin)
	if record == nil {
		return
	}

	ctx = logger.WithKV(ctx, "client_id", clientID)
	logger.Infof(ctx, "Secondary session established")

	for {
		if err = s.answerBatch(ctx, conn, reader, record); err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				logger.Infof(ctx, "Secondary session closed: %v", err)
			}

			return
		}
	}
}

// answerBatch reads one batch of events, applies each in order and writes
// the cumulative session acknowledgment for the whole batch.
func (s *Server) answerBatch(ctx context.Context, conn net.Conn, reader *bufio.Reader, record *clientRecord) error {
	for {
		token, err := s.readToken(ctx, conn, reader)
		if err != nil {
			return err
		}

		// A lone terminator ends the batch.
		if token == protocol.Terminator {
			break
		}

		message, err := protocol.Decode(token)
		if err != nil {
			logger.Warnf(ctx, "Dropping malformed session event: %v", err)

			continue
		}

		if message.ClientID != record.id || message.PIN != record.pin {
			return errors.New("identity changed mid-session")
		}

		s.processMessage(ctx, record, message)
	}

	record.mu.Lock()
	nextExpected := record.nextExpected
	record.mu.Unlock()

	_, err := conn.Write([]byte(protocol.EncodeSessionAck(nextExpected)))

	return err
}

// readToken reads one terminator-delimited token, polling the deadline so
// context cancellation and idle sessions both end the read.
func (s *Server) readToken(ctx context.Context, conn net.Conn, reader *bufio.Reader) (string, error) {
	var pending strings.Builder

	deadline := time.Now().Add(sessionIdleTimeout)

	for {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if time.Now().After(deadline) {
			return "", os.ErrDeadlineExceeded
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return "", err
		}

		chunk, err := reader.ReadString(protocol.Terminator[0])
		pending.WriteString(chunk)

		if err == nil {
			return pending.String(), nil
		}

		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}

		return "", err
	}
}
