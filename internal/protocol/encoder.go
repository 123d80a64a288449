// internal/protocol/encoder.go
package protocol

import (
	"fmt"
	"strings"

	"winder-service/internal/model"
)

// Wire literals for outbound commands
const (
	LineTerminator = "\n"

	CmdStart = "CMD:START\n"
	CmdStop  = "CMD:STOP\n"
	CmdReset = "CMD:RESET\n"

	configPrefix = "CFG:"
)

// Encode renders a command as a single terminated wire line
func Encode(cmd model.Command) (string, error) {
	switch cmd.Type {
	case model.CommandStart:
		return CmdStart, nil
	case model.CommandStop:
		return CmdStop, nil
	case model.CommandReset:
		return CmdReset, nil
	case model.CommandConfigure:
		return encodeConfig(cmd.Config), nil
	default:
		return "", fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

// encodeConfig formats CFG:E{turns};R{rpm};D{diameter:0.00}
func encodeConfig(cfg model.WindingConfig) string {
	return fmt.Sprintf("%sE%d;R%d;D%s%s",
		configPrefix,
		cfg.Turns,
		cfg.RPM,
		cfg.WireDiameterMm.StringFixed(2),
		LineTerminator,
	)
}

// EnsureTerminated appends the line terminator unless already present
func EnsureTerminated(line string) string {
	if strings.HasSuffix(line, LineTerminator) {
		return line
	}
	return line + LineTerminator
}
