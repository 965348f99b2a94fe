package alarm

import "time"

// ClientStatus is a point-in-time snapshot of one mirrored client,
// served by the monitoring API.
type ClientStatus struct {
	// ClientID identifies the client.
	ClientID string `json:"client_id"`
	// State is the mirrored alarm state name.
	State string `json:"state"`
	// IPConnected reports current reachability.
	IPConnected bool `json:"ip_connected"`
	// NextExpected is the next sequence number the server will accept.
	NextExpected uint64 `json:"next_expected_sequence"`
	// LastContact is when the last valid message arrived, zero when never.
	LastContact time.Time `json:"last_contact"`
	// BreachDeadline is the pending breach deadline, nil when none.
	BreachDeadline *time.Time `json:"breach_deadline,omitempty"`
}
