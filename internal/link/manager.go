// internal/link/manager.go
package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"winder-service/internal/config"
	"winder-service/internal/model"
	"winder-service/internal/protocol"
	"winder-service/internal/utils"
)

// StatusListener is called on every open and every close of the link.
// Listeners run synchronously and must not call Connect or Disconnect.
type StatusListener func(connected bool)

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the clock used for the settle window and pacing
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// Manager owns the serial link lifecycle: open, settle, receive and close
type Manager struct {
	opener  protocol.PortOpener
	config  *config.SerialConfig
	handler FrameHandler
	clock   clockwork.Clock
	logger  *zap.Logger

	// lifecycle serializes Connect, Disconnect and link-lost handling
	lifecycle sync.Mutex

	mutex       sync.RWMutex
	port        protocol.Port
	portName    string
	state       model.ConnectionState
	connectedAt time.Time
	readyAt     time.Time
	receiver    *Receiver
	linkLogger  *utils.LinkLogger

	listenersMutex sync.RWMutex
	listeners      []StatusListener

	stats  *linkStats
	lostWg sync.WaitGroup
}

// NewManager creates a new connection manager
func NewManager(
	opener protocol.PortOpener,
	cfg *config.SerialConfig,
	handler FrameHandler,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		opener:  opener,
		config:  cfg,
		handler: handler,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With(zap.String("component", "link-manager")),
		state:   model.ConnectionStateDisconnected,
		stats:   &linkStats{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnStatusChanged registers a connection status listener
func (m *Manager) OnStatusChanged(listener StatusListener) {
	m.listenersMutex.Lock()
	defer m.listenersMutex.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Connect opens the named port. Connecting while already open is a no-op.
func (m *Manager) Connect(ctx context.Context, portName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.IsConnected() {
		m.logger.Debug("Connect ignored, link already open",
			zap.String("requested_port", portName),
			zap.String("port", m.PortName()),
		)
		return nil
	}

	linkLogger := utils.NewLinkLogger(m.logger, portName)
	m.setState(model.ConnectionStateConnecting, portName)

	port, err := m.opener.Open(portName)
	if err == nil {
		err = m.flush(port)
	}
	if err != nil {
		var connectErr *protocol.ConnectError
		if !errors.As(err, &connectErr) {
			connectErr = protocol.NewConnectError(portName, err)
		}

		m.setState(model.ConnectionStateDisconnected, "")
		linkLogger.LogConnection("connect", false, connectErr)
		m.emit(false)
		return connectErr
	}

	now := m.clock.Now()
	var receiver *Receiver
	receiver = newReceiver(
		port,
		m.handler,
		receiverConfig{
			readBufferSize: m.config.ReadBufferSize,
			maxLineLength:  m.config.MaxLineLength,
			errorBackoff:   m.config.ReadTimeout,
		},
		m.clock,
		linkLogger,
		m.stats,
		func(err error) { m.linkLost(receiver, err) },
	)

	m.mutex.Lock()
	m.port = port
	m.portName = portName
	m.state = model.ConnectionStateConnected
	m.connectedAt = now
	m.readyAt = now.Add(m.config.SettleDelay)
	m.receiver = receiver
	m.linkLogger = linkLogger
	m.mutex.Unlock()

	receiver.Start()

	linkLogger.LogConnection("connect", true, nil)
	linkLogger.Info("Waiting for controller to settle",
		zap.Duration("settle_delay", m.config.SettleDelay),
	)

	m.emit(true)
	return nil
}

// flush discards anything buffered before the controller rebooted
func (m *Manager) flush(port protocol.Port) error {
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return err
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return err
	}
	return nil
}

// Disconnect closes the link. Disconnecting while closed is a no-op.
// A close failure is returned but the link still ends up disconnected.
func (m *Manager) Disconnect() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	port, receiver, portName, linkLogger := m.detach()
	if port == nil {
		return nil
	}

	return m.closePort(port, receiver, portName, linkLogger, "disconnect")
}

// linkLost runs on the receive goroutine and hands off so the receiver can exit
func (m *Manager) linkLost(receiver *Receiver, cause error) {
	m.lostWg.Add(1)
	go func() {
		defer m.lostWg.Done()

		m.lifecycle.Lock()
		defer m.lifecycle.Unlock()

		m.mutex.RLock()
		current := m.receiver
		m.mutex.RUnlock()
		if current != receiver {
			return
		}

		port, _, portName, linkLogger := m.detach()
		if port == nil {
			return
		}

		linkLogger.Error("Serial link lost", zap.Error(cause))
		_ = m.closePort(port, receiver, portName, linkLogger, "link_lost")
	}()
}

func (m *Manager) detach() (protocol.Port, *Receiver, string, *utils.LinkLogger) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	port, receiver, portName, linkLogger := m.port, m.receiver, m.portName, m.linkLogger
	m.port = nil
	m.receiver = nil
	m.portName = ""
	m.linkLogger = nil
	m.state = model.ConnectionStateDisconnected
	m.connectedAt = time.Time{}
	m.readyAt = time.Time{}

	return port, receiver, portName, linkLogger
}

func (m *Manager) closePort(
	port protocol.Port,
	receiver *Receiver,
	portName string,
	linkLogger *utils.LinkLogger,
	action string,
) error {
	receiver.Stop()

	var result error
	if err := port.Close(); err != nil {
		result = &protocol.DisconnectError{Port: portName, Err: err}
	}

	receiver.Wait()

	linkLogger.LogConnection(action, result == nil, result)
	m.emit(false)
	return result
}

// Close disconnects and waits for background link-lost handling to finish
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.lostWg.Wait()
	return err
}

// IsConnected reports whether the port is open
func (m *Manager) IsConnected() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.port != nil
}

// IsReady reports whether the port is open and past the settle window
func (m *Manager) IsReady() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.port != nil && !m.clock.Now().Before(m.readyAt)
}

// WaitReady blocks until the link is ready for commands
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mutex.RLock()
		open := m.port != nil
		remaining := m.readyAt.Sub(m.clock.Now())
		m.mutex.RUnlock()

		if !open {
			return protocol.ErrNotReady
		}
		if remaining <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(remaining):
		}
	}
}

// State returns the current connection state
func (m *Manager) State() model.ConnectionState {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state
}

// PortName returns the open port name, empty when disconnected
func (m *Manager) PortName() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.portName
}

// Status returns a snapshot of the link
func (m *Manager) Status() model.LinkStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	status := model.LinkStatus{
		Port:      m.portName,
		State:     m.state,
		Connected: m.port != nil,
	}

	if m.port != nil {
		connectedAt := m.connectedAt
		readyAt := m.readyAt
		status.ConnectedAt = &connectedAt
		status.ReadyAt = &readyAt
		status.Ready = !m.clock.Now().Before(m.readyAt)
	}

	return status
}

// Stats returns link statistics
func (m *Manager) Stats() protocol.ProtocolStats {
	return m.stats.snapshot(m.IsConnected())
}

// readyPort returns the port when commands may be sent
func (m *Manager) readyPort() (protocol.Port, *utils.LinkLogger, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.port == nil || m.clock.Now().Before(m.readyAt) {
		return nil, nil, false
	}
	return m.port, m.linkLogger, true
}

func (m *Manager) setState(state model.ConnectionState, portName string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.state = state
	m.portName = portName
}

func (m *Manager) emit(connected bool) {
	m.listenersMutex.RLock()
	listeners := make([]StatusListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMutex.RUnlock()

	for _, listener := range listeners {
		listener(connected)
	}
}
