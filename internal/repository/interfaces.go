// internal/repository/interfaces.go
package repository

import (
	"context"
	"errors"
	"time"

	"winder-service/internal/model"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id has no history row
var ErrSessionNotFound = errors.New("winding session not found")

// SessionRepository defines winding session history access
type SessionRepository interface {
	Create(ctx context.Context, session *model.SessionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error)

	// Listing and filtering
	List(ctx context.Context, filter *SessionFilter) ([]*model.SessionRecord, int, error)

	// Analytics
	GetSessionStats(ctx context.Context, since *time.Time) (*SessionStats, error)

	// Cleanup
	DeleteOldSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionFilter represents session listing filters
type SessionFilter struct {
	Outcome   *model.SessionOutcome `json:"outcome,omitempty"`
	Port      *string               `json:"port,omitempty"`
	StartDate *time.Time            `json:"start_date,omitempty"`
	EndDate   *time.Time            `json:"end_date,omitempty"`
	Page      int                   `json:"page"`
	PerPage   int                   `json:"per_page"`
}

// SessionStats represents aggregated history
type SessionStats struct {
	TotalSessions int                          `json:"total_sessions"`
	TotalTurns    int64                        `json:"total_turns"`
	AlarmCount    int                          `json:"alarm_count"`
	ByOutcome     map[model.SessionOutcome]int `json:"by_outcome"`
}
