package sensors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeReader serves scripted pin levels.
type fakeReader struct {
	levels map[string]bool
	err    error
}

func (r *fakeReader) Read(name string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}

	return r.levels[name], nil
}

// recordingTarget collects reported transitions.
type recordingTarget struct {
	calls []string
}

func (t *recordingTarget) Trigger(_ context.Context, sensorID string) error {
	t.calls = append(t.calls, "trigger:"+sensorID)

	return nil
}

func (t *recordingTarget) Restore(_ context.Context, sensorID string) error {
	t.calls = append(t.calls, "restore:"+sensorID)

	return nil
}

// TestPoller_EdgeDetection verifies only transitions are reported.
func TestPoller_EdgeDetection(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{levels: map[string]bool{"GPIO17": false}}
	target := &recordingTarget{}

	p := NewPoller(reader, target, []Input{{SensorID: "door", Pin: "GPIO17", Mode: "NO"}}, 0)

	// Resting line at startup: nothing to report.
	p.sample(context.Background())
	require.Empty(t, target.calls)

	// Steady state stays quiet.
	p.sample(context.Background())
	require.Empty(t, target.calls)

	// Rising edge.
	reader.levels["GPIO17"] = true
	p.sample(context.Background())
	require.Equal(t, []string{"trigger:door"}, target.calls)

	// Falling edge.
	reader.levels["GPIO17"] = false
	p.sample(context.Background())
	require.Equal(t, []string{"trigger:door", "restore:door"}, target.calls)
}

// TestPoller_NormallyClosedMode verifies NC circuits invert the level and
// that an already-tripped line is reported on the first sample.
func TestPoller_NormallyClosedMode(t *testing.T) {
	t.Parallel()

	// NC at low level means the circuit is broken, i.e. tripped.
	reader := &fakeReader{levels: map[string]bool{"GPIO4": false}}
	target := &recordingTarget{}

	p := NewPoller(reader, target, []Input{{SensorID: "window", Pin: "GPIO4", Mode: "NC"}}, 0)

	p.sample(context.Background())
	require.Equal(t, []string{"trigger:window"}, target.calls)

	// Circuit closes again.
	reader.levels["GPIO4"] = true
	p.sample(context.Background())
	require.Equal(t, []string{"trigger:window", "restore:window"}, target.calls)
}

// TestPoller_ReadFailureKeepsState verifies a flaky line generates no
// phantom transitions.
func TestPoller_ReadFailureKeepsState(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{levels: map[string]bool{"GPIO17": true}}
	target := &recordingTarget{}

	p := NewPoller(reader, target, []Input{{SensorID: "door", Pin: "GPIO17"}}, 0)

	p.sample(context.Background())
	require.Equal(t, []string{"trigger:door"}, target.calls)

	reader.err = errors.New("line noise")
	p.sample(context.Background())
	require.Equal(t, []string{"trigger:door"}, target.calls)

	// Recovered read with unchanged level stays quiet.
	reader.err = nil
	p.sample(context.Background())
	require.Equal(t, []string{"trigger:door"}, target.calls)
}
