// internal/link/sender.go
package link

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"winder-service/internal/model"
	"winder-service/internal/protocol"
)

// Sender writes command lines to the link managed by a Manager.
// Sends are serialized and each successful write is followed by the pacing delay.
type Sender struct {
	manager      *Manager
	writeTimeout time.Duration
	pacing       time.Duration
	logger       *zap.Logger

	mutex     sync.Mutex
	writeSlot chan struct{}
}

// NewSender creates a sender bound to a manager
func NewSender(manager *Manager, logger *zap.Logger) *Sender {
	return &Sender{
		manager:      manager,
		writeTimeout: manager.config.WriteTimeout,
		pacing:       manager.config.PacingDelay,
		logger:       logger.With(zap.String("component", "link-sender")),
		writeSlot:    make(chan struct{}, 1),
	}
}

// SendCommand encodes and sends a winding command
func (s *Sender) SendCommand(ctx context.Context, cmd model.Command) error {
	line, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return s.Send(ctx, line)
}

// Send writes one command line, appending the terminator if it is missing.
// It fails with a NOT_CONNECTED SendError until the link has settled.
func (s *Sender) Send(ctx context.Context, line string) error {
	line = protocol.EnsureTerminated(line)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	port, linkLogger, ok := s.manager.readyPort()
	if !ok {
		s.logger.Warn("Command rejected, link not ready",
			zap.String("command", strings.TrimSpace(line)),
		)
		return &protocol.SendError{
			Kind:    protocol.SendErrorNotConnected,
			Command: line,
			Err:     protocol.ErrNotReady,
		}
	}

	start := s.manager.clock.Now()
	err := s.write(ctx, port, []byte(line))
	duration := s.manager.clock.Since(start)

	if err != nil {
		s.manager.stats.recordError()
		linkLogger.LogCommand(line, duration, err)
		return &protocol.SendError{
			Kind:    protocol.SendErrorIo,
			Command: line,
			Err:     err,
		}
	}

	s.manager.stats.recordWrite(len(line), duration, s.manager.clock.Now())
	linkLogger.LogCommand(line, duration, nil)

	s.manager.clock.Sleep(s.pacing)
	return nil
}

// write performs a single write bounded by the write timeout. A write that
// outlives its timeout keeps the slot until it returns, so later sends fail
// fast with ErrWriteBusy instead of interleaving bytes on the wire.
func (s *Sender) write(ctx context.Context, port protocol.Port, data []byte) error {
	select {
	case s.writeSlot <- struct{}{}:
	default:
		return protocol.ErrWriteBusy
	}

	result := make(chan error, 1)
	go func() {
		defer func() { <-s.writeSlot }()

		n, err := port.Write(data)
		if err == nil && n < len(data) {
			err = protocol.ErrShortWrite
		}
		result <- err
	}()

	timer := s.manager.clock.NewTimer(s.writeTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.Chan():
		return protocol.ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
