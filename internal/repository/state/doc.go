// Package state implements persistence for the node agent Snapshot.
//
// The FileRepository stores and loads the snapshot as JSON on disk and
// exposes a Repository interface that the node service depends on.
package state
