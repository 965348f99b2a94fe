// Package protocol implements the ASCII wire format shared by both
// transports: *-separated fields terminated by #, with the ack,
// session-identity and session-ack variants used by the secondary
// transport's call script. Decoding returns structured records and a typed
// ErrMalformedMessage; input buffers are never mutated.
package protocol
