// Package central implements the receiving side of the alarm reporting
// protocol: it authenticates clients, enforces strict per-client event
// sequencing with cumulative acknowledgments, mirrors each client's alarm
// state and infers the events clients can never send themselves, such as
// BREACH after a missed disarm deadline and connectivity transitions
// derived from silence.
//
// The server answers the primary transport datagram by datagram and the
// secondary transport session by session. Applied and inferred events are
// journaled and dispatched to host integration hooks.
package central
