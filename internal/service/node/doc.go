// Package node implements the client agent: it owns one client's sensors,
// disarm/breach state machine, reliable delivery queue and transports, and
// runs the loop that multiplexes wake-ups, acknowledgments and timers.
package node
