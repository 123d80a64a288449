// internal/model/winding.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RunState represents the winding state machine state
type RunState string

const (
	RunStateIdle          RunState = "IDLE"
	RunStateRunning       RunState = "RUNNING"
	RunStateStopped       RunState = "STOPPED"
	RunStateAwaitingReset RunState = "AWAITING_RESET"
)

// Snapshot is an immutable view of the winding session after an event
type Snapshot struct {
	SessionID       *uuid.UUID     `json:"session_id,omitempty"`
	RunState        RunState       `json:"run_state"`
	TurnsDone       uint32         `json:"turns_done"`
	ConfiguredTurns uint32         `json:"configured_turns"`
	ProgressPercent uint8          `json:"progress_percent"`
	AlarmRaised     bool           `json:"alarm_raised"`
	AlarmText       string         `json:"alarm_text,omitempty"`
	StatusText      string         `json:"status_text"`
	ResetArmed      bool           `json:"reset_armed"`
	Connected       bool           `json:"connected"`
	LastFrame       string         `json:"last_frame,omitempty"`
	Config          *WindingConfig `json:"config,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SessionOutcome describes how a winding session ended
type SessionOutcome string

const (
	SessionOutcomeCompleted    SessionOutcome = "COMPLETED"
	SessionOutcomeStopped      SessionOutcome = "STOPPED"
	SessionOutcomeDisconnected SessionOutcome = "DISCONNECTED"
)

// SessionRecord is a finished winding session kept in history
type SessionRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Port            string          `json:"port" db:"port"`
	ConfiguredTurns uint32          `json:"configured_turns" db:"configured_turns"`
	RPM             uint32          `json:"rpm" db:"rpm"`
	WireDiameterMm  decimal.Decimal `json:"wire_diameter_mm" db:"wire_diameter_mm" swaggertype:"number"`
	TurnsDone       uint32          `json:"turns_done" db:"turns_done"`
	AlarmRaised     bool            `json:"alarm_raised" db:"alarm_raised"`
	Outcome         SessionOutcome  `json:"outcome" db:"outcome"`
	StartedAt       time.Time       `json:"started_at" db:"started_at"`
	FinishedAt      time.Time       `json:"finished_at" db:"finished_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Duration returns how long the session ran
func (r *SessionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
