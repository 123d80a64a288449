// internal/link/stats.go
package link

import (
	"time"

	"go.uber.org/atomic"

	"winder-service/internal/protocol"
)

// linkStats collects counters shared by the sender and receiver goroutines
type linkStats struct {
	bytesWritten   atomic.Int64
	bytesRead      atomic.Int64
	commandsSent   atomic.Int64
	framesReceived atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Time
	averageLatency atomic.Duration
}

func (s *linkStats) recordWrite(bytes int, latency time.Duration, at time.Time) {
	s.bytesWritten.Add(int64(bytes))
	s.commandsSent.Inc()
	s.lastActivity.Store(at)

	// running average
	if current := s.averageLatency.Load(); current == 0 {
		s.averageLatency.Store(latency)
	} else {
		s.averageLatency.Store((current + latency) / 2)
	}
}

func (s *linkStats) recordRead(bytes int, at time.Time) {
	s.bytesRead.Add(int64(bytes))
	s.lastActivity.Store(at)
}

func (s *linkStats) recordFrame() {
	s.framesReceived.Inc()
}

func (s *linkStats) recordError() {
	s.errorCount.Inc()
}

func (s *linkStats) snapshot(connected bool) protocol.ProtocolStats {
	return protocol.ProtocolStats{
		BytesWritten:   s.bytesWritten.Load(),
		BytesRead:      s.bytesRead.Load(),
		CommandsSent:   s.commandsSent.Load(),
		FramesReceived: s.framesReceived.Load(),
		ErrorCount:     s.errorCount.Load(),
		LastActivity:   s.lastActivity.Load(),
		AverageLatency: s.averageLatency.Load(),
		IsConnected:    connected,
	}
}
