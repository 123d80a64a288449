// internal/link/receiver.go
package link

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.bug.st/serial"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"winder-service/internal/protocol"
	"winder-service/internal/utils"
)

// FrameHandler receives every non-blank line in arrival order
type FrameHandler func(frame string)

// receiverConfig holds the read loop limits
type receiverConfig struct {
	readBufferSize int
	maxLineLength  int
	errorBackoff   time.Duration
}

// Receiver runs the read loop for one open port. Each read that returns data
// is treated as a bytes-available notification and triggers one drain pass;
// passes run on the loop goroutine only, so frames are delivered in order.
// Read errors abort the current pass only. The link is reported lost only
// when the port itself is gone.
type Receiver struct {
	port    protocol.Port
	handler FrameHandler
	config  receiverConfig
	clock   clockwork.Clock
	logger  *utils.LinkLogger
	stats   *linkStats
	onLost  func(error)

	pending  []byte
	stopping atomic.Bool
	done     chan struct{}
}

func newReceiver(
	port protocol.Port,
	handler FrameHandler,
	config receiverConfig,
	clock clockwork.Clock,
	logger *utils.LinkLogger,
	stats *linkStats,
	onLost func(error),
) *Receiver {
	return &Receiver{
		port:    port,
		handler: handler,
		config:  config,
		clock:   clock,
		logger:  logger,
		stats:   stats,
		onLost:  onLost,
		done:    make(chan struct{}),
	}
}

// Start launches the read loop
func (r *Receiver) Start() {
	go r.run()
}

// Stop marks the receiver as stopping; the loop exits on its next read
func (r *Receiver) Stop() {
	r.stopping.Store(true)
}

// Wait blocks until the read loop has exited
func (r *Receiver) Wait() {
	<-r.done
}

func (r *Receiver) run() {
	defer close(r.done)

	buf := make([]byte, r.config.readBufferSize)
	consecutiveErrors := 0

	r.logger.Debug("Receive loop started")
	defer r.logger.Debug("Receive loop stopped")

	for !r.stopping.Load() {
		n, err := r.port.Read(buf)
		if n > 0 {
			consecutiveErrors = 0
			r.stats.recordRead(n, r.clock.Now())
			r.drain(buf[:n])
		}

		if err == nil {
			// n == 0 is a read timeout: no data now
			continue
		}

		if r.stopping.Load() {
			return
		}

		if isPortClosed(err) {
			r.logger.Warn("Serial port closed underneath receive loop", zap.Error(err))
			r.lost(err)
			return
		}

		consecutiveErrors++
		r.stats.recordError()
		r.logger.Warn("Serial read failed, retrying on next read",
			zap.Error(err),
			zap.Int("consecutive_errors", consecutiveErrors),
		)

		r.clock.Sleep(r.config.errorBackoff)
	}
}

func (r *Receiver) lost(err error) {
	if r.onLost != nil {
		r.onLost(err)
	}
}

// drain extracts every complete line from the pending buffer
func (r *Receiver) drain(chunk []byte) {
	r.pending = append(r.pending, chunk...)

	consumed := 0
	for {
		idx := bytes.IndexByte(r.pending[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := r.pending[consumed : consumed+idx]
		consumed += idx + 1
		r.deliver(string(line))
	}

	if consumed > 0 {
		r.pending = append(r.pending[:0], r.pending[consumed:]...)
	}

	if len(r.pending) > r.config.maxLineLength {
		r.logger.Warn("Discarding oversized partial line",
			zap.Int("bytes", len(r.pending)),
			zap.Int("max_line_length", r.config.maxLineLength),
		)
		r.pending = r.pending[:0]
	}
}

func (r *Receiver) deliver(line string) {
	frame := strings.TrimSpace(line)
	if frame == "" {
		return
	}

	r.stats.recordFrame()
	r.logger.LogFrame(frame)

	defer utils.LogPanic(r.logger.Logger, zap.String("frame", frame))

	r.handler(frame)
}

func isPortClosed(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}
	return errors.Is(err, io.EOF)
}
