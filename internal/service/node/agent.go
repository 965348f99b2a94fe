package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/logger"
	"github.com/oshokin/alarm-central/internal/notify"
	"github.com/oshokin/alarm-central/internal/protocol"
	"github.com/oshokin/alarm-central/internal/queue"
	"github.com/oshokin/alarm-central/internal/repository/state"
	"github.com/oshokin/alarm-central/internal/transport"
)

// checkTick paces breach-deadline and connectivity evaluation.
const checkTick = time.Second

// errUnknownSensor is returned for signals naming a sensor the node does not own.
var errUnknownSensor = errors.New("unknown sensor")

// PrimarySender sends fire-and-forget datagrams to the central server.
type PrimarySender interface {
	Send(message string) error
}

// SecondaryDeliverer runs the fallback call script for a batch of events.
type SecondaryDeliverer interface {
	Deliver(ctx context.Context, events []alarm.Event) (uint64, error)
}

// AgentConfig wires one agent's collaborators.
type AgentConfig struct {
	// Settings is the validated node configuration.
	Settings *config.NodeSettings
	// Primary is the datagram transport.
	Primary PrimarySender
	// Acks delivers raw acknowledgment datagrams from the primary transport.
	Acks <-chan string
	// Secondary is the fallback transport; nil disables failover.
	Secondary SecondaryDeliverer
	// Hooks receives every event the agent raises.
	Hooks *notify.Registry
	// Snapshots persists agent state across restarts; nil disables it.
	Snapshots state.Repository
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Agent owns one client's sensors, state machine, delivery queue and
// transports, and runs the polling loop that ties them together.
type Agent struct {
	// clientID and pin identify this node to the central server.
	clientID, pin string
	// pingInterval is the keepalive cadence.
	pingInterval time.Duration

	// queue holds unacknowledged outbound events.
	queue *queue.Queue
	// selector tracks primary connectivity.
	selector *transport.Selector
	// primary and secondary are the two delivery channels.
	primary   PrimarySender
	secondary SecondaryDeliverer
	// acks feeds acknowledgment datagrams into the loop.
	acks <-chan string
	// hooks dispatches raised events to host integrations.
	hooks *notify.Registry
	// snapshots persists durable state; nil disables persistence.
	snapshots state.Repository

	// mu guards the state machine, sensors and probe bookkeeping.
	mu sync.Mutex
	// machine is the disarm/breach state machine.
	machine alarm.Machine
	// sensors is this node's sensor set, keyed by id.
	sensors map[string]*alarm.Sensor
	// lastProbe rate-limits out-of-band probes during silence.
	lastProbe time.Time

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewAgent builds an agent from validated settings.
func NewAgent(cfg AgentConfig) *Agent {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	sensors := make(map[string]*alarm.Sensor, len(cfg.Settings.Sensors))
	for _, s := range cfg.Settings.Sensors {
		sensors[s.ID] = &alarm.Sensor{
			ID:          s.ID,
			DisarmDelay: time.Duration(s.DisarmDelay) * time.Second,
		}
	}

	return &Agent{
		clientID:     cfg.Settings.ClientID,
		pin:          cfg.Settings.PIN,
		pingInterval: cfg.Settings.PingPeriod(),
		queue:        queue.New(),
		selector:     transport.NewSelector(cfg.Settings.PingPeriod(), now()),
		primary:      cfg.Primary,
		secondary:    cfg.Secondary,
		acks:         cfg.Acks,
		hooks:        cfg.Hooks,
		snapshots:    cfg.Snapshots,
		machine:      alarm.Machine{EgressWindow: cfg.Settings.EgressWindow()},
		sensors:      sensors,
		now:          now,
	}
}

// Trigger reports a sensor going active. Within the egress window or for
// zero-delay sensors the event is informational: no deadline is set.
func (a *Agent) Trigger(ctx context.Context, sensorID string) error {
	a.mu.Lock()

	sensor, ok := a.sensors[sensorID]
	if !ok {
		a.mu.Unlock()

		return fmt.Errorf("%w: %s", errUnknownSensor, sensorID)
	}

	sensor.Triggered = true

	var payload string
	if a.machine.Trigger(sensor.DisarmDelay, a.now()) {
		payload = alarm.DeadlinePayload(a.machine.BreachDeadline)
	}

	a.mu.Unlock()

	a.raise(ctx, alarm.Event{
		Type:     alarm.EventTriggered,
		SensorID: sensorID,
		Payload:  payload,
	})

	return nil
}

// Restore reports a sensor returning to rest.
func (a *Agent) Restore(ctx context.Context, sensorID string) error {
	a.mu.Lock()

	sensor, ok := a.sensors[sensorID]
	if !ok {
		a.mu.Unlock()

		return fmt.Errorf("%w: %s", errUnknownSensor, sensorID)
	}

	sensor.Triggered = false
	a.mu.Unlock()

	a.raise(ctx, alarm.Event{
		Type:     alarm.EventRestored,
		SensorID: sensorID,
	})

	return nil
}

// Disarm clears any pending breach deadline and returns to OK.
// A late disarm still recovers the system after a breach.
func (a *Agent) Disarm(ctx context.Context) {
	a.mu.Lock()
	a.machine.Disarm()
	a.mu.Unlock()

	a.raise(ctx, alarm.Event{Type: alarm.EventDisarmed})
}

// ArmForEgress opens the egress grace window: triggers within it are
// reported but carry no alarm consequence.
func (a *Agent) ArmForEgress(ctx context.Context) {
	a.mu.Lock()
	a.machine.ArmForEgress(a.now())
	a.mu.Unlock()

	a.raise(ctx, alarm.Event{Type: alarm.EventTempDisarmed})
}

// State returns the current alarm state.
func (a *Agent) State() alarm.ArmState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.machine.State
}

// BreachDeadline returns the pending breach deadline, zero when none.
func (a *Agent) BreachDeadline() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.machine.BreachDeadline
}

// Run drives the agent until the context is canceled: it multiplexes the
// queue wake-up, the primary ack path and the ping timer, and checks the
// breach deadline and connectivity policy once per second.
func (a *Agent) Run(ctx context.Context) error {
	a.restoreSnapshot(ctx)

	// The opening OK report establishes first contact and lets the server
	// adopt this node's sequence numbering.
	a.raise(ctx, alarm.Event{Type: alarm.EventOK})

	pingTicker := time.NewTicker(a.pingInterval)
	defer pingTicker.Stop()

	checkTicker := time.NewTicker(checkTick)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Agent shutting down")

			return nil
		case <-a.queue.Wake():
			a.deliverPending(ctx)
		case raw := <-a.acks:
			a.handleAck(ctx, raw)
		case <-pingTicker.C:
			a.sendPing(ctx)
		case <-checkTicker.C:
			a.tick(ctx)
		}
	}
}

// raise stamps, sequences, dispatches and schedules delivery of an event.
// Inferred events reach the hooks only; they are never transmitted.
func (a *Agent) raise(ctx context.Context, event alarm.Event) {
	event.Timestamp = a.now()
	event = a.queue.Enqueue(event)

	a.hooks.Dispatch(ctx, a.clientID, event)
	a.saveSnapshot(ctx)
}

// restoreSnapshot resumes sequence numbering and alarm state from the
// previous run. A missing or unreadable snapshot means a cold start; the
// server resynchronizes on first contact either way.
func (a *Agent) restoreSnapshot(ctx context.Context) {
	if a.snapshots == nil {
		return
	}

	snapshot, err := a.snapshots.Load(ctx)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			logger.Warnf(ctx, "Failed to load snapshot, starting cold: %v", err)
		}

		return
	}

	a.queue.Resume(snapshot.NextSequence)

	a.mu.Lock()
	if armState, ok := alarm.ParseArmState(snapshot.State); ok {
		a.machine.State = armState
		a.machine.BreachDeadline = snapshot.BreachDeadline
	}

	for _, sensorID := range snapshot.Triggered {
		if sensor, ok := a.sensors[sensorID]; ok {
			sensor.Triggered = true
		}
	}
	a.mu.Unlock()

	logger.InfoKV(ctx, "Resumed from snapshot",
		"next_sequence", snapshot.NextSequence,
		"state", snapshot.State,
	)
}

// saveSnapshot persists durable state after every raised event and state
// transition. Failures are logged; persistence is best effort.
func (a *Agent) saveSnapshot(ctx context.Context) {
	if a.snapshots == nil {
		return
	}

	a.mu.Lock()
	snapshot := &state.Snapshot{
		NextSequence:   a.queue.NextSequence(),
		State:          a.machine.State.String(),
		BreachDeadline: a.machine.BreachDeadline,
		SavedAt:        a.now(),
	}

	for id, sensor := range a.sensors {
		if sensor.Triggered {
			snapshot.Triggered = append(snapshot.Triggered, id)
		}
	}
	a.mu.Unlock()

	if err := a.snapshots.Save(ctx, snapshot); err != nil {
		logger.Warnf(ctx, "Failed to save snapshot: %v", err)
	}
}

// deliverPending retransmits every unacknowledged event in order over the
// selected transport. The secondary path blocks for seconds; it works on
// a snapshot and never holds the queue lock.
func (a *Agent) deliverPending(ctx context.Context) {
	pending := a.queue.Pending()
	if len(pending) == 0 {
		return
	}

	if a.selector.Connected() {
		for _, entry := range pending {
			if err := a.primary.Send(protocol.Encode(a.clientID, a.pin, entry.Event)); err != nil {
				logger.Warnf(ctx, "Primary send failed: %v", err)
				a.connectivityLost(ctx)

				return
			}

			a.queue.MarkAttempted(entry.Event.Sequence)
		}

		return
	}

	if a.secondary == nil {
		return
	}

	events := make([]alarm.Event, 0, len(pending))
	for _, entry := range pending {
		events = append(events, entry.Event)
	}

	nextExpected, err := a.secondary.Deliver(ctx, events)
	if err != nil {
		logger.Warnf(ctx, "Secondary delivery failed: %v", err)

		return
	}

	for _, event := range events {
		a.queue.MarkAttempted(event.Sequence)
	}

	a.queue.Purge(nextExpected)
}

// handleAck processes one acknowledgment datagram from the primary path.
func (a *Agent) handleAck(ctx context.Context, raw string) {
	ack, err := protocol.DecodeAck(raw)
	if err != nil {
		logger.Warnf(ctx, "Dropping malformed acknowledgment: %v", err)

		return
	}

	if a.selector.AckReceived(a.now()) {
		a.raiseInferred(ctx, alarm.EventConnectivityRestored)
	}

	if !ack.Ping {
		a.queue.Purge(ack.NextExpected)
	}

	// Anything still unacknowledged goes out again on the next wake-up.
	// Ping acks count too: a lost event datagram must not sit in the queue
	// while the keepalive path stays healthy.
	if a.queue.Len() > 0 {
		a.queue.Signal()
	}
}

// sendPing transmits a keepalive outside the queue; pings are never stored
// and never consume a sequence number.
func (a *Agent) sendPing(ctx context.Context) {
	// The ping tick doubles as the retransmit cadence: whatever is still
	// unacknowledged goes out again, on whichever transport is selected.
	if a.queue.Len() > 0 {
		a.queue.Signal()
	}

	message := protocol.Encode(a.clientID, a.pin, alarm.Event{Type: alarm.EventPing})
	if err := a.primary.Send(message); err != nil {
		logger.Warnf(ctx, "Ping send failed: %v", err)
		a.connectivityLost(ctx)
	}
}

// tick runs the per-second checks: breach deadline, silence policy and
// out-of-band probing.
func (a *Agent) tick(ctx context.Context) {
	now := a.now()

	a.mu.Lock()
	breached := a.machine.CheckBreach(now)
	a.mu.Unlock()

	if breached {
		a.raiseInferred(ctx, alarm.EventBreach)
	}

	if a.selector.Evaluate(now) {
		a.raiseInferred(ctx, alarm.EventConnectivityLost)
		a.queue.Signal()
	}

	if a.selector.ShouldProbe(now) {
		a.mu.Lock()
		probe := now.Sub(a.lastProbe) >= a.pingInterval
		if probe {
			a.lastProbe = now
		}
		a.mu.Unlock()

		if probe {
			a.sendPing(ctx)
		}
	}
}

// raiseInferred dispatches an event both sides derive independently.
func (a *Agent) raiseInferred(ctx context.Context, eventType alarm.EventType) {
	a.hooks.Dispatch(ctx, a.clientID, alarm.Event{
		Type:      eventType,
		Timestamp: a.now(),
	})
	a.saveSnapshot(ctx)
}

// connectivityLost flips to the secondary transport after a definite
// primary send failure and reschedules pending deliveries.
func (a *Agent) connectivityLost(ctx context.Context) {
	if a.selector.MarkLost() {
		a.raiseInferred(ctx, alarm.EventConnectivityLost)
		a.queue.Signal()
	}
}
