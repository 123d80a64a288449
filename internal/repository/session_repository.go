// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"winder-service/internal/database"
	"winder-service/internal/model"
)

const sessionColumns = `id, port, configured_turns, rpm, wire_diameter_mm, turns_done,
			   alarm_raised, outcome, started_at, finished_at, created_at`

// sessionRepository implements SessionRepository
type sessionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *database.DB, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a finished session
func (r *sessionRepository) Create(ctx context.Context, session *model.SessionRecord) error {
	query := `
		INSERT INTO winding_sessions (
			id, port, configured_turns, rpm, wire_diameter_mm, turns_done,
			alarm_raised, outcome, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		session.ID, session.Port, int64(session.ConfiguredTurns), int64(session.RPM),
		session.WireDiameterMm, int64(session.TurnsDone), session.AlarmRaised,
		string(session.Outcome), session.StartedAt, session.FinishedAt,
	).Scan(&session.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to create winding session", zap.Error(err))
		return fmt.Errorf("failed to create winding session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by ID
func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM winding_sessions WHERE id = $1`, sessionColumns)

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get winding session: %w", err)
	}

	return session, nil
}

// List retrieves sessions with filtering and pagination, newest first
func (r *sessionRepository) List(ctx context.Context, filter *SessionFilter) ([]*model.SessionRecord, int, error) {
	// Build WHERE clause
	whereConditions := []string{}
	args := []interface{}{}
	argIndex := 1

	if filter.Outcome != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("outcome = $%d", argIndex))
		args = append(args, string(*filter.Outcome))
		argIndex++
	}

	if filter.Port != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("port = $%d", argIndex))
		args = append(args, *filter.Port)
		argIndex++
	}

	if filter.StartDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}

	if filter.EndDate != nil {
		whereConditions = append(whereConditions, fmt.Sprintf("started_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}

	// Count total records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM winding_sessions %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count winding sessions: %w", err)
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM winding_sessions %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d
	`, sessionColumns, whereClause, argIndex, argIndex+1)

	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list winding sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*model.SessionRecord{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			r.logger.Error("Failed to scan winding session row", zap.Error(err))
			continue
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate winding sessions: %w", err)
	}

	return sessions, total, nil
}

// GetSessionStats aggregates history, optionally from a start time
func (r *sessionRepository) GetSessionStats(ctx context.Context, since *time.Time) (*SessionStats, error) {
	whereClause := ""
	args := []interface{}{}
	if since != nil {
		whereClause = "WHERE started_at >= $1"
		args = append(args, *since)
	}

	query := fmt.Sprintf(`
		SELECT outcome, COUNT(*), COALESCE(SUM(turns_done), 0),
			   COUNT(*) FILTER (WHERE alarm_raised)
		FROM winding_sessions %s
		GROUP BY outcome
	`, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get winding session stats: %w", err)
	}
	defer rows.Close()

	stats := &SessionStats{
		ByOutcome: make(map[model.SessionOutcome]int),
	}

	for rows.Next() {
		var (
			outcome string
			count   int
			turns   int64
			alarms  int
		)
		if err := rows.Scan(&outcome, &count, &turns, &alarms); err != nil {
			return nil, fmt.Errorf("failed to scan winding session stats: %w", err)
		}

		stats.ByOutcome[model.SessionOutcome(outcome)] = count
		stats.TotalSessions += count
		stats.TotalTurns += turns
		stats.AlarmCount += alarms
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate winding session stats: %w", err)
	}

	return stats, nil
}

// DeleteOldSessions removes sessions finished before the cutoff
func (r *sessionRepository) DeleteOldSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM winding_sessions WHERE finished_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old winding sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Old winding sessions deleted", zap.Int64("count", rowsAffected))
	return rowsAffected, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*model.SessionRecord, error) {
	var (
		session         model.SessionRecord
		configuredTurns int64
		rpm             int64
		turnsDone       int64
		outcome         string
	)

	err := row.Scan(
		&session.ID, &session.Port, &configuredTurns, &rpm,
		&session.WireDiameterMm, &turnsDone, &session.AlarmRaised,
		&outcome, &session.StartedAt, &session.FinishedAt, &session.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.ConfiguredTurns = uint32(configuredTurns)
	session.RPM = uint32(rpm)
	session.TurnsDone = uint32(turnsDone)
	session.Outcome = model.SessionOutcome(outcome)

	return &session, nil
}
