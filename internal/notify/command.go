package notify

import (
	"context"
	"os/exec"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/logger"
)

// CommandHook returns a hook that starts an external program for each
// event it receives, passing the client id and event type as arguments.
// The program runs asynchronously; event processing never waits for it.
func CommandHook(command string) Hook {
	return func(ctx context.Context, clientID string, event alarm.Event) {
		cmd := exec.CommandContext(ctx, command, clientID, event.Type.String())

		if err := cmd.Start(); err != nil {
			logger.Errorf(ctx, "Failed to start alert command: %v", err)

			return
		}

		// Reap the child; its exit status is informational.
		go func() {
			if err := cmd.Wait(); err != nil {
				logger.Warnf(ctx, "Alert command failed: %v", err)
			}
		}()
	}
}
