package winding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"winder-service/internal/events"
	"winder-service/internal/model"
	"winder-service/internal/protocol"
)

type recordingSender struct {
	mutex    sync.Mutex
	commands []model.CommandType
	failOn   model.CommandType
	err      error
}

func (s *recordingSender) SendCommand(_ context.Context, cmd model.Command) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.err != nil && (s.failOn == "" || s.failOn == cmd.Type) {
		return s.err
	}
	s.commands = append(s.commands, cmd.Type)
	return nil
}

func (s *recordingSender) sent() []model.CommandType {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]model.CommandType(nil), s.commands...)
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var matched []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (p *recordingPublisher) types() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

func newTestTracker() (*Tracker, *recordingSender, *recordingPublisher) {
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	tracker := NewTracker(sender, publisher, clockwork.NewFakeClock(), 0, zap.NewNop())
	tracker.HandleConnectionChanged(true)
	return tracker, sender, publisher
}

func configure(t *testing.T, tracker *Tracker, turns uint32) {
	t.Helper()
	_, err := tracker.UserConfigure(context.Background(), model.WindingConfig{
		Turns:          turns,
		RPM:            800,
		WireDiameterMm: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
}

func pulse() model.ProtocolEvent {
	return model.TurnPulse("CNT:1")
}

func TestProgress(t *testing.T) {
	tests := []struct {
		turns      uint32
		configured uint32
		want       uint8
	}{
		{0, 0, 0},
		{50, 0, 0},
		{0, 100, 0},
		{1, 3, 33},
		{2, 3, 67},
		{1, 200, 1},
		{1, 201, 0},
		{50, 100, 50},
		{100, 100, 100},
		{150, 100, 100},
		{4294967295, 1, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.turns, tt.configured), "turns=%d configured=%d", tt.turns, tt.configured)
	}
}

func TestInitialSnapshot(t *testing.T) {
	tracker := NewTracker(&recordingSender{}, nil, clockwork.NewFakeClock(), 0, zap.NewNop())

	snapshot := tracker.Snapshot()
	assert.Equal(t, model.RunStateIdle, snapshot.RunState)
	assert.Zero(t, snapshot.TurnsDone)
	assert.False(t, snapshot.AlarmRaised)
	assert.False(t, snapshot.Connected)
	assert.Nil(t, snapshot.SessionID)
}

func TestUserStartSendsResetThenStartAfterGap(t *testing.T) {
	sender := &recordingSender{}
	publisher := &recordingPublisher{}
	clock := clockwork.NewFakeClock()
	tracker := NewTracker(sender, publisher, clock, 100*time.Millisecond, zap.NewNop())

	done := make(chan model.Snapshot, 1)
	go func() {
		snapshot, err := tracker.UserStart(context.Background())
		assert.NoError(t, err)
		done <- snapshot
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []model.CommandType{model.CommandReset}, sender.sent())

	clock.Advance(100 * time.Millisecond)

	var snapshot model.Snapshot
	select {
	case snapshot = <-done:
	case <-time.After(time.Second):
		t.Fatal("UserStart did not return")
	}

	assert.Equal(t, []model.CommandType{model.CommandReset, model.CommandStart}, sender.sent())
	assert.Equal(t, model.RunStateRunning, snapshot.RunState)
	assert.Equal(t, StatusTextWinding, snapshot.StatusText)
	require.NotNil(t, snapshot.SessionID)
	require.NotNil(t, snapshot.StartedAt)
	assert.Len(t, publisher.ofType(events.TypeSessionStarted), 1)
}

func TestUserStartZeroesSession(t *testing.T) {
	tracker, _, _ := newTestTracker()
	configure(t, tracker, 2)

	for i := 0; i < 3; i++ {
		tracker.HandleEvent(pulse())
	}
	require.True(t, tracker.Snapshot().AlarmRaised)

	snapshot, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	assert.Zero(t, snapshot.TurnsDone)
	assert.Zero(t, snapshot.ProgressPercent)
	assert.False(t, snapshot.AlarmRaised)
	assert.Empty(t, snapshot.AlarmText)
	assert.Equal(t, uint32(2), snapshot.ConfiguredTurns)
}

func TestUserStartWhileRunning(t *testing.T) {
	tracker, sender, _ := newTestTracker()

	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	snapshot, err := tracker.UserStart(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, model.RunStateRunning, snapshot.RunState)
	assert.Len(t, sender.sent(), 2)
}

func TestUserStartSendFailureKeepsState(t *testing.T) {
	tracker, sender, publisher := newTestTracker()
	sender.failOn = model.CommandStart
	sender.err = &protocol.SendError{Kind: protocol.SendErrorNotConnected, Err: protocol.ErrNotReady}

	snapshot, err := tracker.UserStart(context.Background())
	require.Error(t, err)
	assert.True(t, protocol.IsNotConnected(err))
	assert.Equal(t, model.RunStateIdle, snapshot.RunState)
	assert.Equal(t, []model.CommandType{model.CommandReset}, sender.sent())
	assert.Empty(t, publisher.ofType(events.TypeSessionStarted))
}

func TestStopThenStopResets(t *testing.T) {
	tracker, sender, publisher := newTestTracker()

	snapshot, err := tracker.UserStop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStateAwaitingReset, snapshot.RunState)
	assert.True(t, snapshot.ResetArmed)
	assert.Equal(t, StatusTextStopped, snapshot.StatusText)

	snapshot, err = tracker.UserStop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStateIdle, snapshot.RunState)
	assert.False(t, snapshot.ResetArmed)

	assert.Equal(t, []model.CommandType{model.CommandStop, model.CommandReset}, sender.sent())
	assert.Len(t, publisher.ofType(events.TypeSessionStopped), 1)
	assert.Len(t, publisher.ofType(events.TypeSessionReset), 1)

	// no session was running, so nothing is recorded
	assert.Empty(t, publisher.ofType(events.TypeSessionFinished))
}

func TestStopPassesThroughStopped(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	_, err = tracker.UserStop(context.Background())
	require.NoError(t, err)

	var states []model.RunState
	for _, event := range publisher.ofType(events.TypeSnapshotChanged) {
		states = append(states, event.Data.(model.Snapshot).RunState)
	}
	assert.Contains(t, states, model.RunStateStopped)
	assert.Equal(t, model.RunStateAwaitingReset, states[len(states)-1])
}

func TestStopWhileRunningFinishesSession(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	configure(t, tracker, 10)

	started, err := tracker.UserStart(context.Background())
	require.NoError(t, err)
	tracker.HandleEvent(pulse())
	tracker.HandleEvent(pulse())

	_, err = tracker.UserStop(context.Background())
	require.NoError(t, err)

	finished := publisher.ofType(events.TypeSessionFinished)
	require.Len(t, finished, 1)

	record := finished[0].Data.(Finished)
	assert.Equal(t, *started.SessionID, record.SessionID)
	assert.Equal(t, model.SessionOutcomeStopped, record.Outcome)
	assert.Equal(t, uint32(2), record.TurnsDone)
	assert.Equal(t, uint32(10), record.ConfiguredTurns)
	require.NotNil(t, record.Config)
	assert.Equal(t, uint32(800), record.Config.RPM)
}

func TestStopSendFailureLeavesStateUnchanged(t *testing.T) {
	tracker, sender, _ := newTestTracker()
	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	sender.err = errors.New("write failed")
	snapshot, err := tracker.UserStop(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.RunStateRunning, snapshot.RunState)
	assert.False(t, snapshot.ResetArmed)
}

func TestPulsesPastTargetRaiseOneShotAlarm(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	configure(t, tracker, 2)

	for i := 0; i < 3; i++ {
		tracker.HandleEvent(pulse())
	}

	snapshot := tracker.Snapshot()
	assert.Equal(t, uint32(3), snapshot.TurnsDone)
	assert.True(t, snapshot.AlarmRaised)
	assert.Equal(t, AlarmTextTurnsExceeded, snapshot.AlarmText)
	assert.Equal(t, uint8(100), snapshot.ProgressPercent)
	assert.Equal(t, "CNT:1", snapshot.LastFrame)

	tracker.HandleEvent(pulse())
	tracker.HandleEvent(model.TurnCount("STATUS:Voltas:1", 1))

	snapshot = tracker.Snapshot()
	assert.Equal(t, uint32(1), snapshot.TurnsDone)
	assert.True(t, snapshot.AlarmRaised)
	assert.Equal(t, uint8(50), snapshot.ProgressPercent)
	assert.Len(t, publisher.ofType(events.TypeAlarm), 1)
}

func TestAbsoluteTurnCount(t *testing.T) {
	tracker, _, _ := newTestTracker()
	configure(t, tracker, 3)

	tracker.HandleEvent(model.TurnCount("STATUS:Voltas Reais: 2", 2))

	snapshot := tracker.Snapshot()
	assert.Equal(t, uint32(2), snapshot.TurnsDone)
	assert.Equal(t, uint8(67), snapshot.ProgressPercent)
	assert.False(t, snapshot.AlarmRaised)
}

func TestTurnsWithoutTargetKeepZeroProgress(t *testing.T) {
	tracker, _, _ := newTestTracker()

	tracker.HandleEvent(model.TurnCount("STATUS:Voltas:40", 40))

	snapshot := tracker.Snapshot()
	assert.Zero(t, snapshot.ProgressPercent)
	assert.True(t, snapshot.AlarmRaised)
}

func TestWireProgressOverwrites(t *testing.T) {
	tracker, _, _ := newTestTracker()
	configure(t, tracker, 100)

	tracker.HandleEvent(model.TurnCount("STATUS:Voltas:10", 10))
	assert.Equal(t, uint8(10), tracker.Snapshot().ProgressPercent)

	tracker.HandleEvent(model.Progress("PROG:75", 75))
	assert.Equal(t, uint8(75), tracker.Snapshot().ProgressPercent)

	tracker.HandleEvent(pulse())
	assert.Equal(t, uint8(11), tracker.Snapshot().ProgressPercent)
}

func TestConfigureRecomputesProgress(t *testing.T) {
	tracker, sender, publisher := newTestTracker()

	tracker.HandleEvent(model.TurnCount("STATUS:Voltas:25", 25))
	configure(t, tracker, 50)

	snapshot := tracker.Snapshot()
	assert.Equal(t, uint32(50), snapshot.ConfiguredTurns)
	assert.Equal(t, uint8(50), snapshot.ProgressPercent)
	require.NotNil(t, snapshot.Config)
	assert.Equal(t, "0.50", snapshot.Config.WireDiameterMm.StringFixed(2))
	assert.Equal(t, []model.CommandType{model.CommandConfigure}, sender.sent())
	assert.Len(t, publisher.ofType(events.TypeConfigured), 1)
}

func TestConfigureRejectsInvalid(t *testing.T) {
	tracker, sender, _ := newTestTracker()

	_, err := tracker.UserConfigure(context.Background(), model.WindingConfig{
		Turns:          0,
		RPM:            800,
		WireDiameterMm: decimal.RequireFromString("0.5"),
	})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
	assert.Empty(t, sender.sent())
}

func TestConfigureSendFailureKeepsTarget(t *testing.T) {
	tracker, sender, _ := newTestTracker()
	configure(t, tracker, 10)

	sender.err = errors.New("write failed")
	_, err := tracker.UserConfigure(context.Background(), model.WindingConfig{
		Turns:          20,
		RPM:            800,
		WireDiameterMm: decimal.RequireFromString("0.5"),
	})
	require.Error(t, err)
	assert.Equal(t, uint32(10), tracker.Snapshot().ConfiguredTurns)
}

func TestCompletionStatus(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	configure(t, tracker, 5)
	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	tracker.HandleEvent(model.Status("STATUS:CONCLUIDO", "CONCLUIDO", model.StatusCompleted))

	snapshot := tracker.Snapshot()
	assert.Equal(t, model.RunStateAwaitingReset, snapshot.RunState)
	assert.True(t, snapshot.ResetArmed)
	assert.Equal(t, "CONCLUIDO", snapshot.StatusText)
	assert.Len(t, publisher.ofType(events.TypeSessionCompleted), 1)

	finished := publisher.ofType(events.TypeSessionFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, model.SessionOutcomeCompleted, finished[0].Data.(Finished).Outcome)

	// a repeated completion while not running changes nothing
	tracker.HandleEvent(model.Status("STATUS:CONCLUIDO", "CONCLUIDO", model.StatusCompleted))
	assert.Len(t, publisher.ofType(events.TypeSessionCompleted), 1)
}

func TestInternalStatusesAreSuppressed(t *testing.T) {
	tracker, _, _ := newTestTracker()
	tracker.HandleEvent(model.Status("STATUS:Aguardando", "Aguardando", model.StatusText))

	tracker.HandleEvent(model.Status("STATUS:Config OK", "Config OK", model.StatusConfigAck))
	assert.Equal(t, "Aguardando", tracker.Snapshot().StatusText)

	tracker.HandleEvent(model.Status("STATUS:INICIADO", "INICIADO", model.StatusStarted))
	snapshot := tracker.Snapshot()
	assert.Equal(t, "Aguardando", snapshot.StatusText)
	assert.Equal(t, model.RunStateRunning, snapshot.RunState)
	assert.NotNil(t, snapshot.SessionID)
}

func TestControllerResetReturnsToIdle(t *testing.T) {
	tracker, _, _ := newTestTracker()
	configure(t, tracker, 5)

	_, err := tracker.UserStop(context.Background())
	require.NoError(t, err)
	tracker.HandleEvent(model.TurnCount("STATUS:Voltas:3", 3))

	tracker.HandleEvent(model.Status("STATUS:RESETADO", "RESETADO", model.StatusReset))

	snapshot := tracker.Snapshot()
	assert.Equal(t, model.RunStateIdle, snapshot.RunState)
	assert.False(t, snapshot.ResetArmed)
	assert.Zero(t, snapshot.TurnsDone)
	assert.Equal(t, StatusTextStopped, snapshot.StatusText)
}

func TestControllerResetIgnoredWhileRunning(t *testing.T) {
	tracker, _, _ := newTestTracker()
	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)
	tracker.HandleEvent(pulse())

	tracker.HandleEvent(model.Status("STATUS:RESETADO", "RESETADO", model.StatusReset))

	snapshot := tracker.Snapshot()
	assert.Equal(t, model.RunStateRunning, snapshot.RunState)
	assert.Equal(t, uint32(1), snapshot.TurnsDone)
}

func TestFreeTextStatus(t *testing.T) {
	tracker, _, _ := newTestTracker()

	tracker.HandleEvent(model.Status("STATUS:Motor parado", "Motor parado", model.StatusText))

	assert.Equal(t, "Motor parado", tracker.Snapshot().StatusText)
}

func TestIgnoredFrameOnlyUpdatesLastFrame(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	before := tracker.Snapshot()

	tracker.HandleEvent(model.Ignored("garbage", model.IgnoreUnknown))

	after := tracker.Snapshot()
	assert.Equal(t, "garbage", after.LastFrame)
	assert.Equal(t, before.TurnsDone, after.TurnsDone)
	assert.Equal(t, before.RunState, after.RunState)
	assert.NotEmpty(t, publisher.ofType(events.TypeSnapshotChanged))
}

func TestDisconnectDuringRunningResetsSession(t *testing.T) {
	tracker, _, publisher := newTestTracker()
	configure(t, tracker, 2)
	_, err := tracker.UserStart(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tracker.HandleEvent(pulse())
	}

	tracker.HandleConnectionChanged(false)

	snapshot := tracker.Snapshot()
	assert.Equal(t, model.RunStateIdle, snapshot.RunState)
	assert.Zero(t, snapshot.TurnsDone)
	assert.Zero(t, snapshot.ProgressPercent)
	assert.False(t, snapshot.AlarmRaised)
	assert.False(t, snapshot.ResetArmed)
	assert.False(t, snapshot.Connected)
	assert.Nil(t, snapshot.SessionID)
	assert.Equal(t, StatusTextDisconnected, snapshot.StatusText)

	finished := publisher.ofType(events.TypeSessionFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, model.SessionOutcomeDisconnected, finished[0].Data.(Finished).Outcome)
	assert.Equal(t, uint32(3), finished[0].Data.(Finished).TurnsDone)
}

func TestDisconnectDisarmsReset(t *testing.T) {
	tracker, sender, _ := newTestTracker()

	_, err := tracker.UserStop(context.Background())
	require.NoError(t, err)
	tracker.HandleConnectionChanged(false)

	assert.False(t, tracker.Snapshot().ResetArmed)

	_, err = tracker.UserStop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.CommandType{model.CommandStop, model.CommandStop}, sender.sent())
}

func TestEverySnapshotIsPublished(t *testing.T) {
	tracker, _, publisher := newTestTracker()

	tracker.HandleEvent(pulse())
	tracker.HandleEvent(model.Progress("PROG:10", 10))

	types := publisher.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, events.TypeSnapshotChanged, types[len(types)-1])
	assert.Equal(t, events.TypeSnapshotChanged, types[len(types)-2])
}
