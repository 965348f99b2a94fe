package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultDialTimeout bounds a secondary session establishment attempt.
// Placing the session can take several seconds on a narrowband path.
const DefaultDialTimeout = 30 * time.Second

// Dialer places an outbound call-like session to the central server.
// It is the collaborator boundary for the secondary transport: the host
// integration provides the actual signaling technology.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// TCPDialer is the default Dialer, modeling the call as a TCP connection.
type TCPDialer struct {
	// Address is the central server's secondary listen address.
	Address string
	// Timeout bounds the connection attempt; zero means DefaultDialTimeout.
	Timeout time.Duration
}

// Dial places the session.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("place secondary session: %w", err)
	}

	return conn, nil
}
