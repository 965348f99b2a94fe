package node

import (
	"context"
	"fmt"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/notify"
	"github.com/oshokin/alarm-central/internal/repository/state"
	"github.com/oshokin/alarm-central/internal/sensors"
	"github.com/oshokin/alarm-central/internal/transport"
)

// Options controls the alarm-node process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
}

// Run wires the agent from configuration and blocks until the context is
// canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-node")

	settings, err := config.LoadNode(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	primary, err := transport.DialPrimary(settings.ServerAddress)
	if err != nil {
		return err
	}
	defer primary.Close()

	go primary.ReadLoop(ctx)

	var secondary SecondaryDeliverer
	if settings.SecondaryAddress != "" {
		fallback := transport.NewSecondary(
			&transport.TCPDialer{Address: settings.SecondaryAddress},
			settings.ClientID,
			settings.PIN,
			settings.PostCallIdle(),
		)
		defer fallback.Close()

		secondary = fallback
	}

	hooks := notify.NewRegistry()
	hooks.OnAll(notify.LogHook())

	var snapshots state.Repository
	if settings.SnapshotPath != "" {
		snapshots = state.NewFileRepository(settings.SnapshotPath)
	}

	agent := NewAgent(AgentConfig{
		Settings:  settings,
		Primary:   primary,
		Acks:      primary.Acks(),
		Secondary: secondary,
		Hooks:     hooks,
		Snapshots: snapshots,
	})

	startSensorPoller(ctx, settings, agent)

	logger.InfoKV(ctx, "Node agent starting",
		"client_id", settings.ClientID,
		"server", settings.ServerAddress,
		"sensors", len(settings.Sensors),
	)

	return agent.Run(ctx)
}

// startSensorPoller launches GPIO sampling for sensors bound to pins.
// A node without pins relies entirely on external signals.
func startSensorPoller(ctx context.Context, settings *config.NodeSettings, agent *Agent) {
	inputs := make([]sensors.Input, 0, len(settings.Sensors))
	for _, s := range settings.Sensors {
		if s.GPIOPin == "" {
			continue
		}

		inputs = append(inputs, sensors.Input{
			SensorID: s.ID,
			Pin:      s.GPIOPin,
			Mode:     s.GPIOMode,
		})
	}

	if len(inputs) == 0 {
		return
	}

	reader, err := sensors.NewGPIOReader()
	if err != nil {
		logger.Warnf(ctx, "GPIO unavailable, sensors run on external signals only: %v", err)

		return
	}

	poller := sensors.NewPoller(reader, agent, inputs, settings.GPIOPollPeriod())

	go poller.Run(ctx)
}
