package central

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	apihttp "github.com/oshokin/alarm-central/internal/api/http"
	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/journal"
	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/notify"
)

// Options controls the alarm-central process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
}

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpWriteTimeout      = 10 * time.Second
	httpShutdownTimeout   = 5 * time.Second
)

// Run wires the server from configuration and blocks until the context is
// canceled or a serving loop fails.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-central")

	settings, err := config.LoadCentral(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if level, ok := logger.ParseLogLevel(settings.LogLevel); ok {
		logger.SetLevel(level)
	}

	journalRepo, closeJournal, err := openJournal(ctx, settings)
	if err != nil {
		return err
	}
	defer closeJournal()

	hooks := notify.NewRegistry()
	hooks.OnAll(notify.LogHook())

	if settings.MQTT != nil {
		publisher, err := notify.NewMQTTPublisher(settings.MQTT)
		if err != nil {
			return fmt.Errorf("connect MQTT broker: %w", err)
		}
		defer publisher.Close()

		hooks.OnAll(publisher.Hook())
	}

	if settings.AlertCommand != "" {
		hooks.On(alarm.EventBreach, notify.CommandHook(settings.AlertCommand))
	}

	server := NewServer(ServerConfig{
		Clients:       settings.Clients,
		LossTolerance: settings.LossTolerance(),
		Hooks:         hooks,
		Journal:       journalRepo,
	})

	lc := net.ListenConfig{}

	packetConn, err := lc.ListenPacket(ctx, "udp", settings.ListenUDP)
	if err != nil {
		return fmt.Errorf("listen UDP on %s: %w", settings.ListenUDP, err)
	}

	var listener net.Listener
	if settings.ListenTCP != "" {
		listener, err = lc.Listen(ctx, "tcp", settings.ListenTCP)
		if err != nil {
			packetConn.Close()

			return fmt.Errorf("listen TCP on %s: %w", settings.ListenTCP, err)
		}
	}

	logger.InfoKV(ctx, "Central server listening",
		"udp", settings.ListenUDP,
		"tcp", settings.ListenTCP,
		"clients", len(settings.Clients),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failures := make(chan error, 4)

	go func() { failures <- server.ServeUDP(ctx, packetConn) }()

	if listener != nil {
		go func() { failures <- server.ServeTCP(ctx, listener) }()
	}

	if settings.HTTPAddress != "" {
		go func() { failures <- serveHTTP(ctx, settings.HTTPAddress, server, journalRepo) }()
	}

	go server.sweepLoop(ctx, settings.SweepPeriod())

	err = <-failures
	cancel()

	if errors.Is(err, context.Canceled) {
		logger.Info(ctx, "Central server stopped")

		return nil
	}

	return err
}

// sweepLoop runs the periodic inference pass until the context ends.
func (s *Server) sweepLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// openJournal builds the event journal, using SQLite when a path is
// configured and a no-op repository otherwise.
func openJournal(ctx context.Context, settings *config.CentralSettings) (journal.Repository, func(), error) {
	if settings.JournalPath == "" {
		logger.Info(ctx, "No journal path configured, events will not be persisted")

		return journal.Nop{}, func() {}, nil
	}

	db, err := journal.OpenDB(settings.JournalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal %s: %w", settings.JournalPath, err)
	}

	return journal.NewSQLite(db), func() { db.Close() }, nil
}

// serveHTTP runs the monitoring API until the context ends.
func serveHTTP(ctx context.Context, address string, statuses apihttp.StatusProvider, events journal.Repository) error {
	handler := apihttp.NewHandler(statuses, events)

	srv := &http.Server{
		Addr:              address,
		Handler:           handler.InitRoutes(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		WriteTimeout:      httpWriteTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		srv.Shutdown(shutdownCtx) //nolint:errcheck // Best effort on the way out.
	}()

	logger.InfoKV(ctx, "Monitoring API listening", "address", address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	return ctx.Err()
}
