// internal/protocol/serial_connection.go
package protocol

import (
	"fmt"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"winder-service/internal/config"
)

// openPort is replaced in tests
var openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

// SerialOpener opens serial ports with the machine line settings
type SerialOpener struct {
	config *config.SerialConfig
	logger *zap.Logger
}

// NewSerialOpener creates a new serial port opener
func NewSerialOpener(cfg *config.SerialConfig, logger *zap.Logger) *SerialOpener {
	return &SerialOpener{
		config: cfg,
		logger: logger.With(zap.String("protocol", "serial")),
	}
}

// Mode returns the serial mode derived from configuration
func (so *SerialOpener) Mode() *serial.Mode {
	// Configure serial port mode
	mode := &serial.Mode{
		BaudRate: so.config.BaudRate,
		DataBits: so.config.DataBits,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: so.config.DTR,
			RTS: so.config.RTS,
		},
	}

	// Set stop bits
	switch so.config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	// Set parity
	switch so.config.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Open opens the port, applies the read timeout and asserts the modem lines
func (so *SerialOpener) Open(name string) (Port, error) {
	so.logger.Info("Opening serial port",
		zap.String("port", name),
		zap.Int("baud_rate", so.config.BaudRate),
	)

	port, err := openPort(name, so.Mode())
	if err != nil {
		connectErr := NewConnectError(name, err)
		so.logger.Error("Failed to open serial port",
			zap.String("port", name),
			zap.String("kind", string(connectErr.Kind)),
			zap.Error(err),
		)
		return nil, connectErr
	}

	if err := so.configure(port); err != nil {
		port.Close()
		return nil, NewConnectError(name, err)
	}

	so.logger.Info("Serial port opened successfully", zap.String("port", name))
	return port, nil
}

func (so *SerialOpener) configure(port serial.Port) error {
	// Set read timeout
	if err := port.SetReadTimeout(so.config.ReadTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	// Unix systems cannot apply initial status bits before open
	if err := port.SetDTR(so.config.DTR); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := port.SetRTS(so.config.RTS); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}

	return nil
}
