// internal/protocol/protocol.go
package protocol

import (
	"time"
)

// Port is the byte transport to the winding machine.
// go.bug.st/serial ports satisfy it directly.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// PortOpener opens a named port with the configured line settings
type PortOpener interface {
	Open(name string) (Port, error)
}

// ProtocolStats provides link-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	CommandsSent   int64         `json:"commands_sent"`
	FramesReceived int64         `json:"frames_received"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}
