// Package journal persists the central server's applied and inferred
// events. The SQLite implementation keeps an append-only table with
// time-range, client and type filtering; Nop serves deployments that do
// not configure a journal path.
package journal
