package node

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/notify"
	"github.com/oshokin/alarm-central/internal/repository/state"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

// fakePrimary records sent messages and can be made to fail.
type fakePrimary struct {
	sent []string
	err  error
}

func (p *fakePrimary) Send(message string) error {
	if p.err != nil {
		return p.err
	}

	p.sent = append(p.sent, message)

	return nil
}

// fakeSecondary records delivered batches and acknowledges a scripted sequence.
type fakeSecondary struct {
	batches [][]alarm.Event
	ackSeq  uint64
	err     error
}

func (s *fakeSecondary) Deliver(_ context.Context, events []alarm.Event) (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}

	s.batches = append(s.batches, events)

	return s.ackSeq, nil
}

// eventRecorder captures dispatched events.
type eventRecorder struct {
	events []alarm.Event
}

func (r *eventRecorder) hook() notify.Hook {
	return func(_ context.Context, _ string, event alarm.Event) {
		r.events = append(r.events, event)
	}
}

func (r *eventRecorder) ofType(t alarm.EventType) []alarm.Event {
	var matched []alarm.Event

	for _, e := range r.events {
		if e.Type == t {
			matched = append(matched, e)
		}
	}

	return matched
}

// newTestAgent builds an agent over fakes with a 10s ping interval.
func newTestAgent(t *testing.T, primary *fakePrimary, secondary SecondaryDeliverer) (*Agent, *eventRecorder, *fakeClock) {
	t.Helper()

	settings := &config.NodeSettings{
		ClientID:      "garage",
		PIN:           "1234",
		ServerAddress: "127.0.0.1:8750",
		PingInterval:  10,
		EgressDelay:   30,
		Sensors: []config.SensorSettings{
			{ID: "door", DisarmDelay: 30},
			{ID: "window", DisarmDelay: 10},
			{ID: "bell", DisarmDelay: 0},
		},
	}
	require.NoError(t, config.ValidateNode(settings))

	clock := &fakeClock{t: time.Unix(1_000_000, 0)}
	recorder := &eventRecorder{}
	hooks := notify.NewRegistry()
	hooks.OnAll(recorder.hook())

	agent := NewAgent(AgentConfig{
		Settings:  settings,
		Primary:   primary,
		Secondary: secondary,
		Hooks:     hooks,
		Clock:     clock.Now,
	})

	return agent, recorder, clock
}

// TestAgent_PingsNeverConsumeSequences verifies three events interleaved
// with ten pings end up with sequence numbers 1, 2, 3.
func TestAgent_PingsNeverConsumeSequences(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))

	for range 5 {
		agent.sendPing(ctx)
	}

	require.NoError(t, agent.Restore(ctx, "door"))

	for range 5 {
		agent.sendPing(ctx)
	}

	agent.Disarm(ctx)

	var sequences []uint64
	for _, e := range recorder.events {
		sequences = append(sequences, e.Sequence)
	}

	require.Equal(t, []uint64{1, 2, 3}, sequences)
	require.Len(t, primary.sent, 10)
}

// TestAgent_DeliverPendingOverPrimary verifies the retransmit pass sends
// every unacknowledged event in order.
func TestAgent_DeliverPendingOverPrimary(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, _, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))
	require.NoError(t, agent.Restore(ctx, "door"))

	agent.deliverPending(ctx)
	require.Len(t, primary.sent, 2)
	require.Contains(t, primary.sent[0], "*1*")
	require.Contains(t, primary.sent[1], "*2*")

	// A second pass retransmits the same messages; nothing was acked.
	agent.deliverPending(ctx)
	require.Len(t, primary.sent, 4)
}

// TestAgent_AckPurgesAndRestoresOnce verifies cumulative purge and that a
// single restoration emits exactly one CONNECTIVITY_RESTORED event.
func TestAgent_AckPurgesAndRestoresOnce(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))
	require.NoError(t, agent.Restore(ctx, "door"))
	require.True(t, agent.selector.MarkLost())

	agent.handleAck(ctx, "*2#")
	agent.handleAck(ctx, "*3#")

	require.Len(t, recorder.ofType(alarm.EventConnectivityRestored), 1)
	require.Zero(t, agent.queue.Len())

	// Malformed acknowledgments are dropped without effect.
	agent.handleAck(ctx, "garbage")
	require.Len(t, recorder.ofType(alarm.EventConnectivityRestored), 1)
}

// TestAgent_FailoverToSecondary verifies a primary send failure flips the
// selector and the next pass delivers the backlog over the secondary.
func TestAgent_FailoverToSecondary(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{err: errors.New("network is down")}
	secondary := &fakeSecondary{ackSeq: 3}
	agent, recorder, _ := newTestAgent(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))
	require.NoError(t, agent.Restore(ctx, "door"))

	// The failing primary marks connectivity lost.
	agent.deliverPending(ctx)
	require.False(t, agent.selector.Connected())
	require.Len(t, recorder.ofType(alarm.EventConnectivityLost), 1)

	// The next pass goes over the secondary and purges on its ack.
	agent.deliverPending(ctx)
	require.Len(t, secondary.batches, 1)
	require.Len(t, secondary.batches[0], 2)
	require.Equal(t, uint64(1), secondary.batches[0][0].Sequence)
	require.Zero(t, agent.queue.Len())
}

// TestAgent_SecondaryFailureIsRetryable verifies a failed call leaves the
// backlog queued for the next wake-up.
func TestAgent_SecondaryFailureIsRetryable(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{err: errors.New("network is down")}
	secondary := &fakeSecondary{err: errors.New("busy")}
	agent, _, _ := newTestAgent(t, primary, secondary)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))

	agent.deliverPending(ctx)
	agent.deliverPending(ctx)
	require.Equal(t, 1, agent.queue.Len())

	// A delivery that never completed is not a transmission attempt.
	require.Zero(t, agent.queue.Pending()[0].Attempts)
}

// TestAgent_BreachTiming verifies overlapping triggers breach at the
// sooner deadline and a timely disarm prevents it.
func TestAgent_BreachTiming(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, clock := newTestAgent(t, primary, nil)
	ctx := context.Background()

	// door: 30s delay at t=0; window: 10s delay at t=5 -> deadline t=15.
	require.NoError(t, agent.Trigger(ctx, "door"))
	clock.Advance(5 * time.Second)
	require.NoError(t, agent.Trigger(ctx, "window"))

	require.Equal(t, alarm.StateTriggered, agent.State())
	require.Equal(t, time.Unix(1_000_000, 0).Add(15*time.Second), agent.BreachDeadline())

	// t=14: no breach yet.
	clock.Advance(9 * time.Second)
	agent.tick(ctx)
	require.Empty(t, recorder.ofType(alarm.EventBreach))

	// t=15: breach fires exactly once, without a sequence number.
	clock.Advance(time.Second)
	agent.tick(ctx)
	agent.tick(ctx)

	breaches := recorder.ofType(alarm.EventBreach)
	require.Len(t, breaches, 1)
	require.Zero(t, breaches[0].Sequence)

	// A late disarm still recovers the state.
	agent.Disarm(ctx)
	require.Equal(t, alarm.StateOK, agent.State())
}

// TestAgent_DisarmBeforeDeadline verifies the disarm path clears the deadline.
func TestAgent_DisarmBeforeDeadline(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, clock := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "window"))
	clock.Advance(9 * time.Second)
	agent.Disarm(ctx)

	require.Equal(t, alarm.StateOK, agent.State())
	require.True(t, agent.BreachDeadline().IsZero())

	clock.Advance(10 * time.Second)
	agent.tick(ctx)
	require.Empty(t, recorder.ofType(alarm.EventBreach))
}

// TestAgent_EgressWindowSuppressesDeadline verifies egress-window triggers
// are reported without alarm consequence.
func TestAgent_EgressWindowSuppressesDeadline(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, clock := newTestAgent(t, primary, nil)
	ctx := context.Background()

	agent.ArmForEgress(ctx)
	clock.Advance(10 * time.Second)
	require.NoError(t, agent.Trigger(ctx, "door"))

	require.Equal(t, alarm.StateOK, agent.State())
	require.True(t, agent.BreachDeadline().IsZero())

	triggered := recorder.ofType(alarm.EventTriggered)
	require.Len(t, triggered, 1)
	require.Empty(t, triggered[0].Payload)
}

// TestAgent_ZeroDelaySensorNeverAlarms verifies informational sensors.
func TestAgent_ZeroDelaySensorNeverAlarms(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "bell"))

	require.Equal(t, alarm.StateOK, agent.State())
	require.Len(t, recorder.ofType(alarm.EventTriggered), 1)
}

// TestAgent_SilenceMarksConnectivityLost verifies the 3*ping_interval+1s
// policy via the periodic tick.
func TestAgent_SilenceMarksConnectivityLost(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, clock := newTestAgent(t, primary, nil)
	ctx := context.Background()

	clock.Advance(31 * time.Second)
	agent.tick(ctx)
	require.True(t, agent.selector.Connected())

	clock.Advance(time.Second)
	agent.tick(ctx)
	agent.tick(ctx)

	require.False(t, agent.selector.Connected())
	require.Len(t, recorder.ofType(alarm.EventConnectivityLost), 1)
}

// TestAgent_UnknownSensorRejected verifies signals for unowned sensors error.
func TestAgent_UnknownSensorRejected(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, recorder, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.ErrorIs(t, agent.Trigger(ctx, "basement"), errUnknownSensor)
	require.ErrorIs(t, agent.Restore(ctx, "basement"), errUnknownSensor)
	require.Empty(t, recorder.events)
}

// TestAgent_SnapshotSurvivesRestart verifies sequence numbering and alarm
// state persist across an agent rebuild.
func TestAgent_SnapshotSurvivesRestart(t *testing.T) {
	t.Parallel()

	repo := state.NewFileRepository(filepath.Join(t.TempDir(), "snapshot.json"))
	ctx := context.Background()

	settings := &config.NodeSettings{
		ClientID:      "garage",
		PIN:           "1234",
		ServerAddress: "127.0.0.1:8750",
		PingInterval:  10,
		EgressDelay:   30,
		Sensors: []config.SensorSettings{
			{ID: "door", DisarmDelay: 30},
		},
	}
	require.NoError(t, config.ValidateNode(settings))

	clock := &fakeClock{t: time.Unix(1_000_000, 0)}

	build := func(recorder *eventRecorder) *Agent {
		hooks := notify.NewRegistry()
		hooks.OnAll(recorder.hook())

		return NewAgent(AgentConfig{
			Settings:  settings,
			Primary:   &fakePrimary{},
			Hooks:     hooks,
			Snapshots: repo,
			Clock:     clock.Now,
		})
	}

	first := build(&eventRecorder{})
	require.NoError(t, first.Trigger(ctx, "door"))
	require.Equal(t, alarm.StateTriggered, first.State())

	recorder := &eventRecorder{}
	second := build(recorder)
	second.restoreSnapshot(ctx)

	require.Equal(t, alarm.StateTriggered, second.State())
	require.Equal(t, first.BreachDeadline().Unix(), second.BreachDeadline().Unix())

	// Numbering continues where the previous run stopped.
	require.NoError(t, second.Restore(ctx, "door"))
	restored := recorder.ofType(alarm.EventRestored)
	require.Len(t, restored, 1)
	require.Equal(t, uint64(2), restored[0].Sequence)
}

// TestAgent_LostEventAckRetransmitsUnderHealthyPings verifies an event
// whose acknowledgment never arrives keeps being retransmitted while the
// keepalive path stays healthy: both the ping tick and a ping ack must
// reschedule delivery of a non-empty backlog.
func TestAgent_LostEventAckRetransmitsUnderHealthyPings(t *testing.T) {
	t.Parallel()

	primary := &fakePrimary{}
	agent, _, _ := newTestAgent(t, primary, nil)
	ctx := context.Background()

	require.NoError(t, agent.Trigger(ctx, "door"))

	// Consume the enqueue wake-up so later wake-ups are freshly raised.
	select {
	case <-agent.queue.Wake():
	default:
	}

	agent.deliverPending(ctx)
	require.Len(t, primary.sent, 1)

	// The event's ack is lost; only ping acks keep arriving.
	for range 3 {
		agent.sendPing(ctx)
		agent.handleAck(ctx, "*#")

		select {
		case <-agent.queue.Wake():
		default:
			t.Fatal("expected a retransmit wake-up while the backlog is pending")
		}

		agent.deliverPending(ctx)
	}

	eventSends := 0
	for _, message := range primary.sent {
		if strings.Contains(message, "*1234*1*") {
			eventSends++
		}
	}

	require.Equal(t, 4, eventSends)
	require.Equal(t, 1, agent.queue.Len())

	// The real ack finally lands and clears the backlog.
	agent.handleAck(ctx, "*2#")
	require.Zero(t, agent.queue.Len())
}
