package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshot captures the node agent's durable state between restarts.
// Restoring the sequence counter lets a restarted node continue its
// numbering instead of forcing a server-side resynchronization.
type Snapshot struct {
	// NextSequence is the number the next transmitted event will take.
	NextSequence uint64 `json:"next_sequence"`
	// State is the alarm state name at the time of the snapshot.
	State string `json:"state"`
	// BreachDeadline is the pending disarm deadline, zero when none.
	BreachDeadline time.Time `json:"breach_deadline,omitzero"`
	// Triggered lists sensors that were active at the time of the snapshot.
	Triggered []string `json:"triggered,omitempty"`
	// SavedAt is when the snapshot was written.
	SavedAt time.Time `json:"saved_at"`
}

// Repository defines persistence operations for the agent snapshot.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// ErrNotFound is returned when the snapshot file does not exist yet.
var ErrNotFound = errors.New("snapshot not found")

// snapshotFilePermissions keeps the file readable by the agent user only.
const snapshotFilePermissions = 0o600

// FileRepository persists the snapshot to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON snapshot file.
	path string
	// mu protects concurrent access to the snapshot file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the snapshot from disk.
func (r *FileRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err = json.Unmarshal(contents, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot file: %w", err)
	}

	return &snapshot, nil
}

// Save writes the snapshot to disk.
func (r *FileRepository) Save(_ context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err = os.WriteFile(r.path, data, snapshotFilePermissions); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}

	return nil
}
