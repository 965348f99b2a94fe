package central

import (
	"sync"
	"time"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
)

// clientRecord mirrors one reporting client on the server.
//
// Each record has its own mutex: sequence validation, contact tracking and
// state transitions are serialized per client but never block other
// clients' traffic.
type clientRecord struct {
	// mu guards every mutable field below.
	mu sync.Mutex
	// id and pin are the configured credentials.
	id, pin string
	// nextExpected is the only sequence number the server accepts.
	nextExpected uint64
	// receivedFirst reports whether first-contact resynchronization has
	// happened: the very first reported sequence number is adopted as-is.
	receivedFirst bool
	// everContacted reports whether any valid message ever arrived.
	everContacted bool
	// lastContact is when the last valid message arrived.
	lastContact time.Time
	// machine mirrors the client's alarm state, driven by received events.
	machine alarm.Machine
	// ipConnected reports whether the client is currently reachable.
	ipConnected bool
}

// snapshot captures the record under its lock.
func (r *clientRecord) snapshot() alarm.ClientStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := alarm.ClientStatus{
		ClientID:     r.id,
		State:        r.machine.State.String(),
		IPConnected:  r.ipConnected,
		NextExpected: r.nextExpected,
		LastContact:  r.lastContact,
	}

	if !r.machine.BreachDeadline.IsZero() {
		deadline := r.machine.BreachDeadline
		status.BreachDeadline = &deadline
	}

	return status
}
