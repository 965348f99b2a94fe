package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
)

// TestRegistry_DispatchOrderAndKeying verifies catch-all hooks run before
// type-specific ones and only matching types fire.
func TestRegistry_DispatchOrderAndKeying(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	var calls []string

	registry.OnAll(func(_ context.Context, clientID string, event alarm.Event) {
		calls = append(calls, "all:"+clientID+":"+event.Type.String())
	})
	registry.On(alarm.EventBreach, func(_ context.Context, _ string, _ alarm.Event) {
		calls = append(calls, "breach")
	})
	registry.On(alarm.EventTriggered, func(_ context.Context, _ string, _ alarm.Event) {
		calls = append(calls, "triggered")
	})

	registry.Dispatch(context.Background(), "garage", alarm.Event{Type: alarm.EventBreach})

	require.Equal(t, []string{"all:garage:BREACH", "breach"}, calls)
}

// TestRegistry_NoHooksIsSafe verifies dispatch with nothing registered.
func TestRegistry_NoHooksIsSafe(t *testing.T) {
	t.Parallel()

	NewRegistry().Dispatch(context.Background(), "garage", alarm.Event{Type: alarm.EventPing})
}

// TestCommandHook_WritesArguments verifies the hook passes client id and
// event type to the program.
func TestCommandHook_WritesArguments(t *testing.T) {
	t.Parallel()

	output := filepath.Join(t.TempDir(), "out")
	script := filepath.Join(t.TempDir(), "alert.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1 $2\" > "+output+"\n"), 0o700))

	hook := CommandHook(script)
	hook(context.Background(), "garage", alarm.Event{Type: alarm.EventBreach})

	require.Eventually(t, func() bool {
		contents, err := os.ReadFile(output)

		return err == nil && strings.TrimSpace(string(contents)) == "garage BREACH"
	}, 2*time.Second, 20*time.Millisecond)
}

// TestCommandHook_MissingProgramIsNonFatal verifies a bad path only logs.
func TestCommandHook_MissingProgramIsNonFatal(t *testing.T) {
	t.Parallel()

	hook := CommandHook(filepath.Join(t.TempDir(), "missing"))
	hook(context.Background(), "garage", alarm.Event{Type: alarm.EventBreach})
}
