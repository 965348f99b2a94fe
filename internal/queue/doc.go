// Package queue implements the client-side reliable delivery queue:
// a mutex-guarded FIFO with monotonic sequence assignment, cumulative-ack
// purge and in-order retransmission snapshots.
package queue
