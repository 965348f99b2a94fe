// Package transport provides the two channels events travel over and the
// policy that chooses between them: Primary (connected UDP,
// fire-and-forget), Secondary (a connection-oriented call-like session
// with a handshake, serial delivery and a parked-idle grace period), and
// Selector (ack-driven connectivity tracking). The Dialer interface is
// the collaborator boundary for how a secondary session is actually placed.
package transport
