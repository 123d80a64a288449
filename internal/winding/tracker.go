// internal/winding/tracker.go
package winding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"winder-service/internal/events"
	"winder-service/internal/model"
)

const eventSource = "winding-tracker"

// Status texts shown for operator-driven transitions
const (
	StatusTextWinding      = "Winding"
	StatusTextStopped      = "Stopped by operator"
	StatusTextReset        = "Counter reset"
	StatusTextDisconnected = "Disconnected"

	AlarmTextTurnsExceeded = "Turn limit exceeded"
)

// ErrAlreadyRunning is returned by UserStart while a session is running
var ErrAlreadyRunning = errors.New("winding already running")

// CommandSender sends commands to the machine
type CommandSender interface {
	SendCommand(ctx context.Context, cmd model.Command) error
}

// Finished describes a session that left the Running state
type Finished struct {
	SessionID       uuid.UUID            `json:"session_id"`
	Outcome         model.SessionOutcome `json:"outcome"`
	TurnsDone       uint32               `json:"turns_done"`
	ConfiguredTurns uint32               `json:"configured_turns"`
	AlarmRaised     bool                 `json:"alarm_raised"`
	Config          *model.WindingConfig `json:"config,omitempty"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
}

// Tracker owns the winding session and its run-state machine.
//
// Operator intents are serialized by opMutex, which is held across the
// command sends. Session state is guarded by mutex, which is never held
// while sending, so inbound frames are applied while a send is pending.
type Tracker struct {
	sender    CommandSender
	publisher events.Publisher
	clock     clockwork.Clock
	gap       time.Duration
	logger    *zap.Logger

	opMutex sync.Mutex

	mutex           sync.Mutex
	sessionID       *uuid.UUID
	runState        model.RunState
	turnsDone       uint32
	configuredTurns uint32
	progressPercent uint8
	alarmRaised     bool
	alarmText       string
	statusText      string
	resetArmed      bool
	connected       bool
	lastFrame       string
	config          *model.WindingConfig
	startedAt       *time.Time
	updatedAt       time.Time
}

// NewTracker creates a tracker in the Idle state
func NewTracker(
	sender CommandSender,
	publisher events.Publisher,
	clock clockwork.Clock,
	sequenceGap time.Duration,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		sender:    sender,
		publisher: publisher,
		clock:     clock,
		gap:       sequenceGap,
		logger:    logger.With(zap.String("component", "winding-tracker")),
		runState:  model.RunStateIdle,
		updatedAt: clock.Now(),
	}
}

// Snapshot returns the current session view
func (t *Tracker) Snapshot() model.Snapshot {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.snapshotLocked()
}

// UserStart resets the device counter, starts winding and opens a new session
func (t *Tracker) UserStart(ctx context.Context) (model.Snapshot, error) {
	t.opMutex.Lock()
	defer t.opMutex.Unlock()

	t.mutex.Lock()
	running := t.runState == model.RunStateRunning
	t.mutex.Unlock()
	if running {
		return t.Snapshot(), ErrAlreadyRunning
	}

	if err := t.sender.SendCommand(ctx, model.ResetCommand()); err != nil {
		return t.Snapshot(), fmt.Errorf("failed to reset before start: %w", err)
	}

	t.clock.Sleep(t.gap)

	if err := t.sender.SendCommand(ctx, model.StartCommand()); err != nil {
		return t.Snapshot(), fmt.Errorf("failed to start winding: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.zeroLocked()
	id := uuid.New()
	now := t.clock.Now()
	t.sessionID = &id
	t.startedAt = &now
	t.runState = model.RunStateRunning
	t.statusText = StatusTextWinding

	t.logger.Info("Winding session started",
		zap.String("session_id", id.String()),
		zap.Uint32("configured_turns", t.configuredTurns),
	)

	snapshot := t.publishLocked(events.TypeSessionStarted)
	return snapshot, nil
}

// UserStop stops winding. A second stop without a start in between resets
// the device counter and returns the tracker to Idle.
func (t *Tracker) UserStop(ctx context.Context) (model.Snapshot, error) {
	t.opMutex.Lock()
	defer t.opMutex.Unlock()

	t.mutex.Lock()
	armed := t.resetArmed
	t.mutex.Unlock()

	if armed {
		return t.reset(ctx)
	}

	if err := t.sender.SendCommand(ctx, model.StopCommand()); err != nil {
		return t.Snapshot(), fmt.Errorf("failed to stop winding: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	wasRunning := t.runState == model.RunStateRunning
	t.statusText = StatusTextStopped
	t.stopLocked(events.TypeSessionStopped)

	if wasRunning {
		t.finishLocked(model.SessionOutcomeStopped)
	}

	t.logger.Info("Winding stopped by operator", zap.Uint32("turns_done", t.turnsDone))
	return t.snapshotLocked(), nil
}

func (t *Tracker) reset(ctx context.Context) (model.Snapshot, error) {
	if err := t.sender.SendCommand(ctx, model.ResetCommand()); err != nil {
		return t.Snapshot(), fmt.Errorf("failed to reset counter: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.zeroLocked()
	t.runState = model.RunStateIdle
	t.resetArmed = false
	t.statusText = StatusTextReset

	t.logger.Info("Winding counter reset")
	return t.publishLocked(events.TypeSessionReset), nil
}

// UserConfigure sends a configuration and mirrors its turn target locally
func (t *Tracker) UserConfigure(ctx context.Context, cfg model.WindingConfig) (model.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return t.Snapshot(), err
	}

	t.opMutex.Lock()
	defer t.opMutex.Unlock()

	if err := t.sender.SendCommand(ctx, model.ConfigureCommand(cfg.Turns, cfg.RPM, cfg.WireDiameterMm)); err != nil {
		return t.Snapshot(), fmt.Errorf("failed to send configuration: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	stored := cfg
	t.config = &stored
	t.configuredTurns = cfg.Turns
	t.progressPercent = Progress(t.turnsDone, t.configuredTurns)

	t.logger.Info("Winding configured",
		zap.Uint32("turns", cfg.Turns),
		zap.Uint32("rpm", cfg.RPM),
		zap.String("wire_diameter_mm", cfg.WireDiameterMm.StringFixed(2)),
	)

	return t.publishLocked(events.TypeConfigured), nil
}

// HandleEvent applies one parsed frame to the session
func (t *Tracker) HandleEvent(event model.ProtocolEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lastFrame = event.Frame

	switch event.Kind {
	case model.ProtocolEventTurnCount:
		t.applyTurnsLocked(event)
	case model.ProtocolEventProgress:
		t.progressPercent = event.Percent
	case model.ProtocolEventStatus:
		t.applyStatusLocked(event)
	case model.ProtocolEventIgnored:
		t.logger.Debug("Frame ignored",
			zap.String("frame", event.Frame),
			zap.String("reason", string(event.Reason)),
		)
	}

	t.publishLocked("")
}

func (t *Tracker) applyTurnsLocked(event model.ProtocolEvent) {
	if event.Pulse {
		if t.turnsDone < math.MaxUint32 {
			t.turnsDone++
		}
	} else {
		t.turnsDone = event.Turns
	}

	t.progressPercent = Progress(t.turnsDone, t.configuredTurns)

	if t.turnsDone > t.configuredTurns && !t.alarmRaised {
		t.alarmRaised = true
		t.alarmText = AlarmTextTurnsExceeded

		t.logger.Error("Turn limit exceeded",
			zap.Uint32("turns_done", t.turnsDone),
			zap.Uint32("configured_turns", t.configuredTurns),
		)
		t.publishEventLocked(events.TypeAlarm, t.snapshotLocked())
	}
}

func (t *Tracker) applyStatusLocked(event model.ProtocolEvent) {
	switch event.Status {
	case model.StatusCompleted:
		t.statusText = event.Text
		if t.runState != model.RunStateRunning {
			return
		}
		t.logger.Info("Winding completed", zap.Uint32("turns_done", t.turnsDone))
		t.stopLocked(events.TypeSessionCompleted)
		t.finishLocked(model.SessionOutcomeCompleted)

	case model.StatusReset:
		t.logger.Debug("Controller reported reset", zap.String("status", event.Text))
		if t.runState == model.RunStateRunning {
			return
		}
		t.zeroLocked()
		t.runState = model.RunStateIdle
		t.resetArmed = false

	case model.StatusStarted:
		t.logger.Debug("Controller reported start", zap.String("status", event.Text))
		if t.runState == model.RunStateRunning {
			return
		}
		t.runState = model.RunStateRunning
		t.resetArmed = false
		if t.sessionID == nil {
			id := uuid.New()
			now := t.clock.Now()
			t.sessionID = &id
			t.startedAt = &now
		}

	case model.StatusConfigAck:
		t.logger.Debug("Controller acknowledged configuration", zap.String("status", event.Text))

	default:
		t.statusText = event.Text
	}
}

// HandleConnectionChanged discards the session whenever the link closes
func (t *Tracker) HandleConnectionChanged(connected bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.connected = connected
	if connected {
		t.publishLocked("")
		return
	}

	if t.runState == model.RunStateRunning {
		t.finishLocked(model.SessionOutcomeDisconnected)
	}

	t.zeroLocked()
	t.runState = model.RunStateIdle
	t.resetArmed = false
	t.statusText = StatusTextDisconnected

	t.logger.Info("Link closed, winding session discarded")
	t.publishLocked("")
}

// stopLocked moves to Stopped and immediately arms the reset affordance
func (t *Tracker) stopLocked(eventType string) {
	t.runState = model.RunStateStopped
	t.publishLocked(eventType)

	t.runState = model.RunStateAwaitingReset
	t.resetArmed = true
	t.publishLocked("")
}

func (t *Tracker) finishLocked(outcome model.SessionOutcome) {
	if t.sessionID == nil {
		return
	}

	finished := Finished{
		SessionID:       *t.sessionID,
		Outcome:         outcome,
		TurnsDone:       t.turnsDone,
		ConfiguredTurns: t.configuredTurns,
		AlarmRaised:     t.alarmRaised,
		FinishedAt:      t.clock.Now(),
	}
	if t.config != nil {
		cfg := *t.config
		finished.Config = &cfg
	}
	if t.startedAt != nil {
		finished.StartedAt = *t.startedAt
	}

	t.publishEventLocked(events.TypeSessionFinished, finished)
}

// zeroLocked clears the per-session counters. The configuration survives.
func (t *Tracker) zeroLocked() {
	t.sessionID = nil
	t.startedAt = nil
	t.turnsDone = 0
	t.progressPercent = 0
	t.alarmRaised = false
	t.alarmText = ""
}

// publishLocked publishes a snapshot change, preceded by eventType when set
func (t *Tracker) publishLocked(eventType string) model.Snapshot {
	t.updatedAt = t.clock.Now()
	snapshot := t.snapshotLocked()

	if eventType != "" {
		t.publishEventLocked(eventType, snapshot)
	}
	t.publishEventLocked(events.TypeSnapshotChanged, snapshot)
	return snapshot
}

func (t *Tracker) publishEventLocked(eventType string, data interface{}) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(events.NewEvent(eventType, eventSource, data))
}

func (t *Tracker) snapshotLocked() model.Snapshot {
	snapshot := model.Snapshot{
		RunState:        t.runState,
		TurnsDone:       t.turnsDone,
		ConfiguredTurns: t.configuredTurns,
		ProgressPercent: t.progressPercent,
		AlarmRaised:     t.alarmRaised,
		AlarmText:       t.alarmText,
		StatusText:      t.statusText,
		ResetArmed:      t.resetArmed,
		Connected:       t.connected,
		LastFrame:       t.lastFrame,
		UpdatedAt:       t.updatedAt,
	}

	if t.sessionID != nil {
		id := *t.sessionID
		snapshot.SessionID = &id
	}
	if t.config != nil {
		cfg := *t.config
		snapshot.Config = &cfg
	}
	if t.startedAt != nil {
		startedAt := *t.startedAt
		snapshot.StartedAt = &startedAt
	}

	return snapshot
}

// Progress derives the completion percentage, 0 when no target is configured
func Progress(turnsDone, configuredTurns uint32) uint8 {
	if configuredTurns == 0 {
		return 0
	}

	percent := math.Round(float64(turnsDone) / float64(configuredTurns) * 100)
	if percent > 100 {
		return 100
	}
	return uint8(percent)
}
