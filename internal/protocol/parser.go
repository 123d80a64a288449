// internal/protocol/parser.go
package protocol

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"winder-service/internal/model"
)

// Inbound frame prefixes
const (
	PrefixCount      = "CNT:"
	PrefixStatus     = "STATUS:"
	PrefixProgress   = "PROG:"
	PrefixTurns      = "STATUS:Voltas:"
	PrefixRealTurns  = "STATUS:Voltas Reais: "
	redundantStatus  = "Status:"
	statusRepeatFrom = 7
	progRepeatFrom   = 5
)

// Parser classifies inbound frames into protocol events
type Parser struct {
	logger *zap.Logger
}

// NewParser creates a new frame parser
func NewParser(logger *zap.Logger) *Parser {
	return &Parser{
		logger: logger.With(zap.String("component", "parser")),
	}
}

// Parse classifies a single trimmed, non-empty frame.
// Checks run in precedence order; the corruption guard runs first because a
// garbled frame can still start with a valid prefix.
func (p *Parser) Parse(frame string) model.ProtocolEvent {
	if isCorrupted(frame) {
		p.logger.Warn("Discarding corrupted frame", zap.String("frame", frame))
		return model.Ignored(frame, model.IgnoreCorrupted)
	}

	switch {
	case strings.HasPrefix(frame, PrefixCount):
		return model.TurnPulse(frame)

	case strings.HasPrefix(frame, PrefixRealTurns):
		return p.parseTurns(frame, frame[len(PrefixRealTurns):])

	case strings.HasPrefix(frame, PrefixTurns):
		return p.parseTurns(frame, frame[len(PrefixTurns):])

	case strings.HasPrefix(frame, PrefixStatus):
		return parseStatus(frame, frame[len(PrefixStatus):])

	case strings.HasPrefix(frame, PrefixProgress):
		return p.parseProgress(frame, frame[len(PrefixProgress):])
	}

	p.logger.Debug("Ignoring unknown frame", zap.String("frame", frame))
	return model.Ignored(frame, model.IgnoreUnknown)
}

// isCorrupted detects duplicated frames produced by buffer overruns
func isCorrupted(frame string) bool {
	if len(frame) > statusRepeatFrom && strings.Contains(frame[statusRepeatFrom:], PrefixStatus) {
		return true
	}
	if len(frame) > progRepeatFrom && strings.Contains(frame[progRepeatFrom:], PrefixProgress) {
		return true
	}
	return false
}

func (p *Parser) parseTurns(frame, payload string) model.ProtocolEvent {
	turns, err := strconv.ParseUint(strings.TrimSpace(payload), 10, 32)
	if err != nil {
		p.logger.Warn("Discarding malformed turn count",
			zap.Error(&ParseError{Frame: frame, Err: err}),
		)
		return model.Ignored(frame, model.IgnoreMalformed)
	}
	return model.TurnCount(frame, uint32(turns))
}

func (p *Parser) parseProgress(frame, payload string) model.ProtocolEvent {
	// out-of-range values saturate and are clamped like any other overshoot
	percent, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		p.logger.Warn("Discarding malformed progress",
			zap.Error(&ParseError{Frame: frame, Err: err}),
		)
		return model.Ignored(frame, model.IgnoreMalformed)
	}
	return model.Progress(frame, clampPercent(percent))
}

func parseStatus(frame, payload string) model.ProtocolEvent {
	text := strings.TrimSpace(payload)
	if len(text) >= len(redundantStatus) && strings.EqualFold(text[:len(redundantStatus)], redundantStatus) {
		text = strings.TrimSpace(text[len(redundantStatus):])
	}
	return model.Status(frame, text, classifyStatus(text))
}

func classifyStatus(text string) model.StatusKind {
	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "CONCLUIDO"):
		return model.StatusCompleted
	case strings.HasPrefix(upper, "RESETADO"):
		return model.StatusReset
	case strings.HasPrefix(upper, "INICIADO"):
		return model.StatusStarted
	case strings.HasPrefix(upper, "CONFIG"):
		return model.StatusConfigAck
	default:
		return model.StatusText
	}
}

func clampPercent(value int64) uint8 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return uint8(value)
}
