// internal/service/history_recorder.go
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"winder-service/internal/events"
	"winder-service/internal/model"
	"winder-service/internal/repository"
	"winder-service/internal/utils"
	"winder-service/internal/winding"
)

// HistoryRecorder persists every finished winding session
type HistoryRecorder struct {
	repo     repository.SessionRepository
	events   <-chan events.Event
	timeout  time.Duration
	logger   *utils.ServiceLogger
	lastPort string
}

// NewHistoryRecorder subscribes to the bus. It must be created before the bus starts.
func NewHistoryRecorder(
	repo repository.SessionRepository,
	bus *events.EventBus,
	queueSize int,
	timeout time.Duration,
	logger *zap.Logger,
) *HistoryRecorder {
	return &HistoryRecorder{
		repo:    repo,
		events:  bus.SubscribeBuffered(events.Wildcard, queueSize),
		timeout: timeout,
		logger:  utils.NewServiceLogger(logger, "history-recorder"),
	}
}

// Run records sessions until the context is cancelled or the bus stops
func (r *HistoryRecorder) Run(ctx context.Context) error {
	r.logger.Info("History recorder started")
	defer r.logger.Info("History recorder stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-r.events:
			if !ok {
				return nil
			}
			r.handle(ctx, event)
		}
	}
}

func (r *HistoryRecorder) handle(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.TypeConnectionStatusChanged:
		if status, ok := event.Data.(model.LinkStatus); ok && status.Connected {
			r.lastPort = status.Port
		}

	case events.TypeSessionFinished:
		finished, ok := event.Data.(winding.Finished)
		if !ok {
			return
		}
		r.record(ctx, finished)
	}
}

func (r *HistoryRecorder) record(ctx context.Context, finished winding.Finished) {
	record := &model.SessionRecord{
		ID:              finished.SessionID,
		Port:            r.lastPort,
		ConfiguredTurns: finished.ConfiguredTurns,
		TurnsDone:       finished.TurnsDone,
		AlarmRaised:     finished.AlarmRaised,
		Outcome:         finished.Outcome,
		StartedAt:       finished.StartedAt,
		FinishedAt:      finished.FinishedAt,
	}
	if finished.Config != nil {
		record.RPM = finished.Config.RPM
		record.WireDiameterMm = finished.Config.WireDiameterMm
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.repo.Create(ctx, record)
	r.logger.LogDatabaseQuery("INSERT winding_sessions", []interface{}{record.ID.String(), string(record.Outcome)}, time.Since(start), err)

	if err != nil {
		utils.LogError(r.logger.Logger, "Failed to record winding session", err,
			zap.String("session_id", record.ID.String()),
		)
		return
	}

	r.logger.Info("Winding session recorded",
		zap.String("session_id", record.ID.String()),
		zap.String("outcome", string(record.Outcome)),
		zap.Uint32("turns_done", record.TurnsDone),
		zap.Duration("duration", record.Duration()),
	)
}
