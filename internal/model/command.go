// internal/model/command.go
package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CommandType represents an outbound command kind
type CommandType string

const (
	CommandStart     CommandType = "START"
	CommandStop      CommandType = "STOP"
	CommandReset     CommandType = "RESET"
	CommandConfigure CommandType = "CONFIGURE"
)

// WindingConfig holds the parameters sent with a Configure command
type WindingConfig struct {
	Turns          uint32          `json:"turns" example:"100"`
	RPM            uint32          `json:"rpm" example:"800"`
	WireDiameterMm decimal.Decimal `json:"wire_diameter_mm" swaggertype:"number" example:"0.5"`
}

// ErrInvalidConfig is wrapped by every WindingConfig validation failure
var ErrInvalidConfig = errors.New("invalid winding configuration")

// Validate checks the configuration bounds accepted by the machine
func (c WindingConfig) Validate() error {
	if c.Turns == 0 {
		return fmt.Errorf("%w: turns must be greater than zero", ErrInvalidConfig)
	}
	if c.RPM == 0 {
		return fmt.Errorf("%w: rpm must be greater than zero", ErrInvalidConfig)
	}
	if !c.WireDiameterMm.IsPositive() {
		return fmt.Errorf("%w: wire_diameter_mm must be greater than zero", ErrInvalidConfig)
	}
	return nil
}

// Command is an immutable outbound command
type Command struct {
	Type   CommandType
	Config WindingConfig
}

// StartCommand begins winding
func StartCommand() Command {
	return Command{Type: CommandStart}
}

// StopCommand stops winding immediately
func StopCommand() Command {
	return Command{Type: CommandStop}
}

// ResetCommand zeroes the device-side turn counter
func ResetCommand() Command {
	return Command{Type: CommandReset}
}

// ConfigureCommand sets turns, rpm and wire diameter in millimetres
func ConfigureCommand(turns, rpm uint32, wireDiameterMm decimal.Decimal) Command {
	return Command{
		Type: CommandConfigure,
		Config: WindingConfig{
			Turns:          turns,
			RPM:            rpm,
			WireDiameterMm: wireDiameterMm,
		},
	}
}

func (c Command) String() string {
	return string(c.Type)
}
