package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/oshokin/alarm-central/internal/logger"
)

const (
	// primaryReadBufferSize bounds one acknowledgment datagram.
	primaryReadBufferSize = 256
	// primaryReadTick bounds how long a blocked read defers a shutdown check.
	primaryReadTick = time.Second
)

// Primary is the datagram transport: low latency, fire-and-forget, may
// silently drop packets. A transmit success never implies the far side
// received anything; only acknowledgments do.
type Primary struct {
	// conn is the connected UDP socket.
	conn *net.UDPConn
	// acks delivers raw acknowledgment datagrams to the agent loop.
	acks chan string
}

// DialPrimary opens a connected UDP socket to the central server.
func DialPrimary(address string) (*Primary, error) {
	remote, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve primary address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("dial primary: %w", err)
	}

	return &Primary{
		conn: conn,
		acks: make(chan string, 16),
	}, nil
}

// Send transmits one message. Errors are returned for connectivity
// accounting only; the caller never treats them as fatal.
func (p *Primary) Send(message string) error {
	if _, err := p.conn.Write([]byte(message)); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}

	return nil
}

// Acks returns the channel carrying raw acknowledgment datagrams.
func (p *Primary) Acks() <-chan string {
	return p.acks
}

// ReadLoop pumps incoming datagrams into the ack channel until the context
// is canceled. It checks for shutdown at least once per read tick.
func (p *Primary) ReadLoop(ctx context.Context) {
	buffer := make([]byte, primaryReadBufferSize)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := p.conn.SetReadDeadline(time.Now().Add(primaryReadTick)); err != nil {
			logger.Warnf(ctx, "Failed to arm read deadline: %v", err)

			return
		}

		n, err := p.conn.Read(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			if ctx.Err() == nil {
				logger.Warnf(ctx, "Primary receive failed: %v", err)
			}

			return
		}

		select {
		case p.acks <- string(buffer[:n]):
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the socket.
func (p *Primary) Close() error {
	return p.conn.Close()
}
