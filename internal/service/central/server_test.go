package central

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/journal"
	"github.com/oshokin/alarm-central/internal/notify"
	"github.com/oshokin/alarm-central/internal/protocol"
)

type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memoryJournal) Append(_ context.Context, entry journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)

	return nil
}

func (j *memoryJournal) List(_ context.Context, _ journal.Filter) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]journal.Entry(nil), j.entries...), nil
}

func (j *memoryJournal) typeCounts() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()

	counts := make(map[string]int)
	for _, entry := range j.entries {
		counts[entry.Type]++
	}

	return counts
}

type serverFixture struct {
	server  *Server
	journal *memoryJournal
	now     time.Time
	mu      sync.Mutex
}

func (f *serverFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *serverFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	fixture := &serverFixture{
		journal: &memoryJournal{},
		now:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	fixture.server = NewServer(ServerConfig{
		Clients: []config.ClientSettings{
			{ID: "garage", PIN: "1234"},
			{ID: "office", PIN: "9999"},
		},
		LossTolerance: 30 * time.Second,
		Hooks:         notify.NewRegistry(),
		Journal:       fixture.journal,
		Clock:         fixture.clock,
	})

	return fixture
}

func encodeEvent(t *testing.T, clientID, pin string, event alarm.Event) string {
	t.Helper()

	return protocol.Encode(clientID, pin, event)
}

func TestServer_InOrderEventsAdvanceSequence(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		raw := encodeEvent(t, "garage", "1234", alarm.Event{
			Type:     alarm.EventRestored,
			Sequence: seq,
			SensorID: "door",
		})

		response, ok := fixture.server.HandleDatagram(ctx, raw)
		require.True(t, ok)
		require.Equal(t, protocol.EncodeAck(seq+1), response)
	}

	status, found := fixture.server.ClientStatus("garage")
	require.True(t, found)
	require.Equal(t, uint64(4), status.NextExpected)
	require.Len(t, fixture.journal.entries, 3)
}

func TestServer_FirstContactAdoptsClientSequence(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	raw := encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventOK,
		Sequence: 500,
	})

	response, ok := fixture.server.HandleDatagram(ctx, raw)
	require.True(t, ok)
	require.Equal(t, protocol.EncodeAck(501), response)
}

func TestServer_DuplicateReAcknowledgedWithoutReapply(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	raw := encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventRestored,
		Sequence: 1,
		SensorID: "door",
	})

	_, ok := fixture.server.HandleDatagram(ctx, raw)
	require.True(t, ok)

	response, ok := fixture.server.HandleDatagram(ctx, raw)
	require.True(t, ok)
	require.Equal(t, protocol.EncodeAck(2), response)

	require.Len(t, fixture.journal.entries, 1)
}

func TestServer_SequenceGapRejectedSilently(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	_, ok := fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventOK,
		Sequence: 1,
	}))
	require.True(t, ok)

	_, ok = fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventRestored,
		Sequence: 5,
		SensorID: "door",
	}))
	require.False(t, ok)

	status, _ := fixture.server.ClientStatus("garage")
	require.Equal(t, uint64(2), status.NextExpected)
}

func TestServer_PingAnsweredWithoutSequencing(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	response, ok := fixture.server.HandleDatagram(ctx, protocol.Encode("garage", "1234", alarm.Event{
		Type: alarm.EventPing,
	}))
	require.True(t, ok)
	require.Equal(t, protocol.EncodePingAck(), response)

	status, _ := fixture.server.ClientStatus("garage")
	require.Equal(t, uint64(1), status.NextExpected)
	require.Equal(t, fixture.clock(), status.LastContact)
}

func TestServer_AuthenticationFailuresStaySilent(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	_, ok := fixture.server.HandleDatagram(ctx, encodeEvent(t, "intruder", "0000", alarm.Event{
		Type:     alarm.EventOK,
		Sequence: 1,
	}))
	require.False(t, ok)

	_, ok = fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "9999", alarm.Event{
		Type:     alarm.EventOK,
		Sequence: 1,
	}))
	require.False(t, ok)

	_, ok = fixture.server.HandleDatagram(ctx, "not a message")
	require.False(t, ok)

	require.Empty(t, fixture.journal.entries)
}

func TestServer_TriggeredMirrorsDeadlineAndSweepInfersBreach(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	deadline := fixture.clock().Add(15 * time.Second)

	_, ok := fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventTriggered,
		Sequence: 1,
		SensorID: "door",
		Payload:  alarm.DeadlinePayload(deadline),
	}))
	require.True(t, ok)

	status, _ := fixture.server.ClientStatus("garage")
	require.Equal(t, alarm.StateTriggered.String(), status.State)
	require.NotNil(t, status.BreachDeadline)
	require.Equal(t, deadline.Unix(), status.BreachDeadline.Unix())

	fixture.advance(10 * time.Second)
	fixture.server.Sweep(ctx)

	status, _ = fixture.server.ClientStatus("garage")
	require.Equal(t, alarm.StateTriggered.String(), status.State)

	fixture.advance(6 * time.Second)
	fixture.server.Sweep(ctx)
	fixture.server.Sweep(ctx)

	status, _ = fixture.server.ClientStatus("garage")
	require.Equal(t, alarm.StateBreach.String(), status.State)
	require.Equal(t, 1, fixture.journal.typeCounts()["BREACH"])
}

func TestServer_DisarmClearsPendingBreach(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	deadline := fixture.clock().Add(15 * time.Second)

	_, ok := fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventTriggered,
		Sequence: 1,
		SensorID: "door",
		Payload:  alarm.DeadlinePayload(deadline),
	}))
	require.True(t, ok)

	_, ok = fixture.server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventDisarmed,
		Sequence: 2,
	}))
	require.True(t, ok)

	fixture.advance(time.Minute)
	fixture.server.Sweep(ctx)

	status, _ := fixture.server.ClientStatus("garage")
	require.Equal(t, alarm.StateOK.String(), status.State)
	require.Zero(t, fixture.journal.typeCounts()["BREACH"])
}

func TestServer_SweepInfersConnectivityLossAndRestore(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	_, ok := fixture.server.HandleDatagram(ctx, protocol.Encode("garage", "1234", alarm.Event{
		Type: alarm.EventPing,
	}))
	require.True(t, ok)

	fixture.advance(31 * time.Second)
	fixture.server.Sweep(ctx)
	fixture.server.Sweep(ctx)

	counts := fixture.journal.typeCounts()
	require.Equal(t, 1, counts["CONNECTIVITY_LOST"])

	status, _ := fixture.server.ClientStatus("garage")
	require.False(t, status.IPConnected)

	_, ok = fixture.server.HandleDatagram(ctx, protocol.Encode("garage", "1234", alarm.Event{
		Type: alarm.EventPing,
	}))
	require.True(t, ok)

	counts = fixture.journal.typeCounts()
	require.Equal(t, 1, counts["CONNECTIVITY_RESTORED"])

	status, _ = fixture.server.ClientStatus("garage")
	require.True(t, status.IPConnected)
}

func TestServer_NeverContactedClientStaysQuietOnSweep(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)
	ctx := context.Background()

	fixture.advance(time.Hour)
	fixture.server.Sweep(ctx)

	require.Empty(t, fixture.journal.entries)
}

func TestServer_ClientStatusesSortedByID(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)

	statuses := fixture.server.ClientStatuses()
	require.Len(t, statuses, 2)
	require.Equal(t, "garage", statuses[0].ClientID)
	require.Equal(t, "office", statuses[1].ClientID)
}

func TestServer_SlowHookDoesNotHoldRecordLock(t *testing.T) {
	t.Parallel()

	journal := &memoryJournal{}
	hooks := notify.NewRegistry()

	entered := make(chan struct{})
	release := make(chan struct{})

	hooks.OnAll(func(_ context.Context, clientID string, _ alarm.Event) {
		if clientID != "garage" {
			return
		}

		close(entered)
		<-release
	})

	server := NewServer(ServerConfig{
		Clients: []config.ClientSettings{
			{ID: "garage", PIN: "1234"},
			{ID: "office", PIN: "9999"},
		},
		LossTolerance: 30 * time.Second,
		Hooks:         hooks,
		Journal:       journal,
		Clock:         time.Now,
	})

	ctx := context.Background()
	handled := make(chan struct{})

	go func() {
		defer close(handled)

		server.HandleDatagram(ctx, encodeEvent(t, "garage", "1234", alarm.Event{
			Type:     alarm.EventRestored,
			Sequence: 1,
			SensorID: "door",
		}))
	}()

	<-entered

	// The hook is still blocked. The record lock must already be released
	// so status reads and other clients' traffic proceed.
	status, found := server.ClientStatus("garage")
	require.True(t, found)
	require.Equal(t, uint64(2), status.NextExpected)

	response, ok := server.HandleDatagram(ctx, encodeEvent(t, "office", "9999", alarm.Event{
		Type:     alarm.EventOK,
		Sequence: 1,
	}))
	require.True(t, ok)
	require.Equal(t, protocol.EncodeAck(2), response)

	close(release)

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked hook never returned")
	}
}

func TestServer_AnswerSessionFullCallScript(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		fixture.server.answerSession(ctx, serverSide)
	}()

	reader := make([]byte, 64)

	length, err := clientSide.Read(reader)
	require.NoError(t, err)
	require.Equal(t, protocol.SessionReady, string(reader[:length]))

	_, err = clientSide.Write([]byte(protocol.EncodeIdentity("garage", "1234")))
	require.NoError(t, err)

	batch := encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventRestored,
		Sequence: 1,
		SensorID: "door",
	})
	batch += encodeEvent(t, "garage", "1234", alarm.Event{
		Type:     alarm.EventRestored,
		Sequence: 2,
		SensorID: "window",
	})
	batch += protocol.Terminator

	_, err = clientSide.Write([]byte(batch))
	require.NoError(t, err)

	length, err = clientSide.Read(reader)
	require.NoError(t, err)
	require.Equal(t, protocol.EncodeSessionAck(3), string(reader[:length]))

	status, _ := fixture.server.ClientStatus("garage")
	require.Equal(t, uint64(3), status.NextExpected)

	clientSide.Close()
	<-done
}

func TestServer_AnswerSessionRejectsBadIdentity(t *testing.T) {
	t.Parallel()

	fixture := newServerFixture(t)

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})

	done := make(chan struct{})

	go func() {
		defer close(done)

		fixture.server.answerSession(context.Background(), serverSide)
	}()

	reader := make([]byte, 64)

	_, err := clientSide.Read(reader)
	require.NoError(t, err)

	_, err = clientSide.Write([]byte(protocol.EncodeIdentity("garage", "0000")))
	require.NoError(t, err)

	<-done

	_, err = clientSide.Read(reader)
	require.Error(t, err)
}
