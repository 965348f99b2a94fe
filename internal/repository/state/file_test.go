package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	snapshot, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, snapshot)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns an equal snapshot.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "snapshot.json")
	repo := NewFileRepository(file)

	ts := time.Now().UTC().Truncate(time.Second)
	want := &Snapshot{
		NextSequence:   42,
		State:          "TRIGGERED",
		BreachDeadline: ts.Add(15 * time.Second),
		Triggered:      []string{"door"},
		SavedAt:        ts,
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.NextSequence, got.NextSequence)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.BreachDeadline.Unix(), got.BreachDeadline.Unix())
	require.Equal(t, want.Triggered, got.Triggered)

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestFileRepository_CorruptFile verifies decode failures surface as errors.
func TestFileRepository_CorruptFile(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o600))

	repo := NewFileRepository(file)

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
