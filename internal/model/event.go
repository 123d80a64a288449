// internal/model/event.go
package model

// ProtocolEventKind represents the classification of an inbound frame
type ProtocolEventKind string

const (
	ProtocolEventTurnCount ProtocolEventKind = "TURN_COUNT"
	ProtocolEventStatus    ProtocolEventKind = "STATUS"
	ProtocolEventProgress  ProtocolEventKind = "PROGRESS"
	ProtocolEventIgnored   ProtocolEventKind = "IGNORED"
)

// StatusKind tags status texts the tracker treats specially
type StatusKind string

const (
	StatusText      StatusKind = "TEXT"
	StatusCompleted StatusKind = "COMPLETED"
	StatusReset     StatusKind = "RESET"
	StatusStarted   StatusKind = "STARTED"
	StatusConfigAck StatusKind = "CONFIG_ACK"
)

// Internal reports whether the status is hidden from user-facing status text
func (k StatusKind) Internal() bool {
	return k == StatusReset || k == StatusStarted || k == StatusConfigAck
}

// IgnoreReason explains why a frame produced no effect
type IgnoreReason string

const (
	IgnoreCorrupted IgnoreReason = "CORRUPTED"
	IgnoreMalformed IgnoreReason = "MALFORMED"
	IgnoreUnknown   IgnoreReason = "UNKNOWN"
)

// ProtocolEvent is the result of classifying exactly one frame
type ProtocolEvent struct {
	Kind  ProtocolEventKind `json:"kind"`
	Frame string            `json:"frame"`

	// TurnCount
	Turns uint32 `json:"turns,omitempty"`
	Pulse bool   `json:"pulse,omitempty"`

	// Status
	Text   string     `json:"text,omitempty"`
	Status StatusKind `json:"status,omitempty"`

	// Progress
	Percent uint8 `json:"percent,omitempty"`

	// Ignored
	Reason IgnoreReason `json:"reason,omitempty"`
}

// TurnPulse is a single-turn increment
func TurnPulse(frame string) ProtocolEvent {
	return ProtocolEvent{Kind: ProtocolEventTurnCount, Frame: frame, Turns: 1, Pulse: true}
}

// TurnCount carries an absolute turn count
func TurnCount(frame string, turns uint32) ProtocolEvent {
	return ProtocolEvent{Kind: ProtocolEventTurnCount, Frame: frame, Turns: turns}
}

// Status carries a status text and its kind
func Status(frame, text string, kind StatusKind) ProtocolEvent {
	return ProtocolEvent{Kind: ProtocolEventStatus, Frame: frame, Text: text, Status: kind}
}

// Progress carries a wire-reported progress percentage
func Progress(frame string, percent uint8) ProtocolEvent {
	return ProtocolEvent{Kind: ProtocolEventProgress, Frame: frame, Percent: percent}
}

// Ignored marks a frame that produced no effect
func Ignored(frame string, reason IgnoreReason) ProtocolEvent {
	return ProtocolEvent{Kind: ProtocolEventIgnored, Frame: frame, Reason: reason}
}
