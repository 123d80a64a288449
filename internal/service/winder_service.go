// internal/service/winder_service.go
package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"winder-service/internal/config"
	"winder-service/internal/events"
	"winder-service/internal/link"
	"winder-service/internal/model"
	"winder-service/internal/protocol"
	"winder-service/internal/repository"
	"winder-service/internal/utils"
	"winder-service/internal/winding"
)

var (
	// ErrNoPort means no port was requested and none is configured
	ErrNoPort = errors.New("no port given and serial.default_port is not set")

	// ErrInvalidCommand means a raw command line was empty or multi-line
	ErrInvalidCommand = errors.New("command must be a single non-empty line")

	// ErrHistoryDisabled means session history has no database behind it
	ErrHistoryDisabled = errors.New("session history is disabled")
)

// Option configures a WinderService
type Option func(*WinderService)

// WithClock replaces the clock shared by the link and the tracker
func WithClock(clock clockwork.Clock) Option {
	return func(s *WinderService) {
		s.clock = clock
	}
}

// WinderService wires the serial link, the parser and the winding tracker
// and exposes operator intents
type WinderService struct {
	config    *config.Config
	manager   *link.Manager
	sender    *link.Sender
	parser    *protocol.Parser
	tracker   *winding.Tracker
	sessions  repository.SessionRepository
	publisher events.Publisher
	clock     clockwork.Clock
	logger    *utils.ServiceLogger
	audit     *utils.AuditLogger
}

// NewWinderService creates the service. sessions may be nil when history is disabled.
func NewWinderService(
	cfg *config.Config,
	opener protocol.PortOpener,
	publisher events.Publisher,
	sessions repository.SessionRepository,
	logger *zap.Logger,
	opts ...Option,
) *WinderService {
	s := &WinderService{
		config:    cfg,
		sessions:  sessions,
		publisher: publisher,
		clock:     clockwork.NewRealClock(),
		logger:    utils.NewServiceLogger(logger, "winder-service"),
		audit:     utils.NewAuditLogger(logger),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.parser = protocol.NewParser(logger)
	s.manager = link.NewManager(opener, &cfg.Serial, s.handleFrame, logger, link.WithClock(s.clock))
	s.sender = link.NewSender(s.manager, logger)
	s.tracker = winding.NewTracker(s.sender, publisher, s.clock, cfg.Winding.SequenceGap, logger)
	s.manager.OnStatusChanged(s.handleConnectionChanged)

	return s
}

// Start connects to the default port when auto-connect is enabled.
// A failed auto-connect is logged and left for the operator to retry.
func (s *WinderService) Start(ctx context.Context) {
	if !s.config.Serial.AutoConnect || s.config.Serial.DefaultPort == "" {
		return
	}

	if err := s.manager.Connect(ctx, s.config.Serial.DefaultPort); err != nil {
		s.logger.Warn("Auto-connect failed",
			zap.String("port", s.config.Serial.DefaultPort),
			zap.Error(err),
		)
	}
}

// Close disconnects the link
func (s *WinderService) Close() error {
	return s.manager.Close()
}

func (s *WinderService) handleFrame(frame string) {
	s.tracker.HandleEvent(s.parser.Parse(frame))
}

func (s *WinderService) handleConnectionChanged(connected bool) {
	s.tracker.HandleConnectionChanged(connected)

	if s.publisher != nil {
		s.publisher.Publish(events.NewEvent(events.TypeConnectionStatusChanged, "link-manager", s.manager.Status()))
	}
}

// Connect opens the given port, or the configured default when port is empty
func (s *WinderService) Connect(ctx context.Context, port string) (model.LinkStatus, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = s.config.Serial.DefaultPort
	}
	if port == "" {
		return s.manager.Status(), ErrNoPort
	}

	err := s.manager.Connect(ctx, port)
	s.audit.LogLinkAction("connect", port, ClientIPFromContext(ctx), err == nil)
	if err != nil {
		return s.manager.Status(), err
	}

	return s.manager.Status(), nil
}

// Disconnect closes the link
func (s *WinderService) Disconnect(ctx context.Context) (model.LinkStatus, error) {
	port := s.manager.PortName()

	err := s.manager.Disconnect()
	s.audit.LogLinkAction("disconnect", port, ClientIPFromContext(ctx), err == nil)

	return s.manager.Status(), err
}

// LinkStatus returns the link state
func (s *WinderService) LinkStatus() model.LinkStatus {
	return s.manager.Status()
}

// LinkStats returns link counters
func (s *WinderService) LinkStats() protocol.ProtocolStats {
	return s.manager.Stats()
}

// WaitReady blocks until the link has settled
func (s *WinderService) WaitReady(ctx context.Context) error {
	return s.manager.WaitReady(ctx)
}

// SendRaw sends a diagnostic command line as typed by the operator
func (s *WinderService) SendRaw(ctx context.Context, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || strings.ContainsAny(line, "\r\n") {
		return ErrInvalidCommand
	}

	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	err := s.sender.Send(ctx, line)
	s.audit.LogLinkAction("send:"+line, s.manager.PortName(), ClientIPFromContext(ctx), err == nil)
	return err
}

// Snapshot returns the winding session view
func (s *WinderService) Snapshot() model.Snapshot {
	return s.tracker.Snapshot()
}

// StartWinding resets the counter and starts the machine
func (s *WinderService) StartWinding(ctx context.Context) (model.Snapshot, error) {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	snapshot, err := s.tracker.UserStart(ctx)
	s.audit.LogWindingAction("start", sessionID(snapshot), ClientIPFromContext(ctx), err == nil)
	return snapshot, err
}

// StopWinding stops the machine, or resets it when already stopped
func (s *WinderService) StopWinding(ctx context.Context) (model.Snapshot, error) {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	before := s.tracker.Snapshot()
	action := "stop"
	if before.ResetArmed {
		action = "reset"
	}

	snapshot, err := s.tracker.UserStop(ctx)
	s.audit.LogWindingAction(action, sessionID(before), ClientIPFromContext(ctx), err == nil)
	return snapshot, err
}

// ConfigureWinding sends a new turn target, speed and wire diameter
func (s *WinderService) ConfigureWinding(ctx context.Context, cfg model.WindingConfig) (model.Snapshot, error) {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	before := s.tracker.Snapshot()

	snapshot, err := s.tracker.UserConfigure(ctx, cfg)
	if err == nil {
		s.audit.LogConfiguration(ClientIPFromContext(ctx), before.Config, snapshot.Config)
	}
	return snapshot, err
}

// ListSessions returns finished sessions from history
func (s *WinderService) ListSessions(ctx context.Context, filter *repository.SessionFilter) ([]*model.SessionRecord, int, error) {
	if s.sessions == nil {
		return nil, 0, ErrHistoryDisabled
	}
	return s.sessions.List(ctx, filter)
}

// GetSession returns one finished session
func (s *WinderService) GetSession(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	if s.sessions == nil {
		return nil, ErrHistoryDisabled
	}
	return s.sessions.GetByID(ctx, id)
}

// SessionStats aggregates session history
func (s *WinderService) SessionStats(ctx context.Context) (*repository.SessionStats, error) {
	if s.sessions == nil {
		return nil, ErrHistoryDisabled
	}
	return s.sessions.GetSessionStats(ctx, nil)
}

func (s *WinderService) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.Winding.CommandTimeout)
}

func sessionID(snapshot model.Snapshot) string {
	if snapshot.SessionID == nil {
		return ""
	}
	return snapshot.SessionID.String()
}

type clientIPKey struct{}

// WithClientIP tags a context with the operator address for audit logging
func WithClientIP(ctx context.Context, clientIP string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, clientIP)
}

// ClientIPFromContext returns the operator address, if any
func ClientIPFromContext(ctx context.Context) string {
	if clientIP, ok := ctx.Value(clientIPKey{}).(string); ok {
		return clientIP
	}
	return ""
}
