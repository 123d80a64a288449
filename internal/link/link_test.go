package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"winder-service/internal/config"
	"winder-service/internal/model"
	"winder-service/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type readResult struct {
	data []byte
	err  error
}

type fakePort struct {
	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mutex      sync.Mutex
	written    bytes.Buffer
	writeErr   error
	writeBlock chan struct{}
	closeErr   error
	closeCount int
	resetIn    int
	resetOut   int
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case r := <-p.reads:
		return copy(buf, r.data), r.err
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mutex.Lock()
	block := p.writeBlock
	p.mutex.Unlock()
	if block != nil {
		<-block
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(data)
}

func (p *fakePort) ResetInputBuffer() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.resetIn++
	return nil
}

func (p *fakePort) ResetOutputBuffer() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.resetOut++
	return nil
}

func (p *fakePort) SetDTR(bool) error { return nil }
func (p *fakePort) SetRTS(bool) error { return nil }
func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.mutex.Lock()
	p.closeCount++
	err := p.closeErr
	p.mutex.Unlock()

	p.closeOnce.Do(func() { close(p.closed) })
	return err
}

func (p *fakePort) feed(data string) {
	p.reads <- readResult{data: []byte(data)}
}

func (p *fakePort) fail(err error) {
	p.reads <- readResult{err: err}
}

func (p *fakePort) output() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.written.String()
}

type fakeOpener struct {
	mutex sync.Mutex
	port  *fakePort
	err   error
	opens []string
}

func (o *fakeOpener) Open(name string) (protocol.Port, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.opens = append(o.opens, name)
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}

func (o *fakeOpener) openCount() int {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return len(o.opens)
}

func testSerialConfig() *config.SerialConfig {
	return &config.SerialConfig{
		BaudRate:       115200,
		DataBits:       8,
		StopBits:       1,
		Parity:         "none",
		ReadTimeout:    0,
		WriteTimeout:   200 * time.Millisecond,
		SettleDelay:    2500 * time.Millisecond,
		PacingDelay:    0,
		MaxLineLength:  16,
		ReadBufferSize: 64,
	}
}

type harness struct {
	port    *fakePort
	opener  *fakeOpener
	clock   *clockwork.FakeClock
	manager *Manager
	sender  *Sender
	frames  chan string
	status  chan bool
}

func newHarness(t *testing.T, cfg *config.SerialConfig, logger *zap.Logger) *harness {
	t.Helper()

	h := &harness{
		port:   newFakePort(),
		clock:  clockwork.NewFakeClock(),
		frames: make(chan string, 32),
		status: make(chan bool, 8),
	}
	h.opener = &fakeOpener{port: h.port}

	h.manager = NewManager(h.opener, cfg, func(frame string) {
		h.frames <- frame
	}, logger, WithClock(h.clock))
	h.manager.OnStatusChanged(func(connected bool) {
		h.status <- connected
	})
	h.sender = NewSender(h.manager, logger)

	t.Cleanup(func() {
		_ = h.manager.Close()
	})
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.manager.Connect(context.Background(), "/dev/ttyUSB0"))
	assert.True(t, nextStatus(t, h.status))
}

func (h *harness) connectReady(t *testing.T) {
	t.Helper()
	h.connect(t)
	h.clock.Advance(h.manager.config.SettleDelay)
	require.True(t, h.manager.IsReady())
}

func nextStatus(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case connected := <-ch:
		return connected
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for status change")
		return false
	}
}

func nextFrame(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		require.FailNow(t, "timed out waiting for frame")
		return ""
	}
}

func assertNoStatus(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case connected := <-ch:
		t.Fatalf("unexpected status change: %v", connected)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConnectOpensAndFlushes(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	assert.True(t, h.manager.IsConnected())
	assert.False(t, h.manager.IsReady())
	assert.Equal(t, model.ConnectionStateConnected, h.manager.State())
	assert.Equal(t, 1, h.port.resetIn)
	assert.Equal(t, 1, h.port.resetOut)

	status := h.manager.Status()
	assert.Equal(t, "/dev/ttyUSB0", status.Port)
	assert.True(t, status.Connected)
	assert.False(t, status.Ready)
	require.NotNil(t, status.ReadyAt)
	assert.Equal(t, h.clock.Now().Add(2500*time.Millisecond), *status.ReadyAt)
}

func TestConnectWhileOpenIsNoop(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	require.NoError(t, h.manager.Connect(context.Background(), "/dev/ttyUSB0"))
	require.NoError(t, h.manager.Connect(context.Background(), "/dev/ttyACM0"))

	assert.Equal(t, 1, h.opener.openCount())
	assert.Equal(t, "/dev/ttyUSB0", h.manager.PortName())
	assertNoStatus(t, h.status)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.opener.err = protocol.NewConnectError("/dev/ttyUSB0", &serial.PortError{})

	err := h.manager.Connect(context.Background(), "/dev/ttyUSB0")
	require.Error(t, err)

	var connectErr *protocol.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, protocol.ConnectErrorBusy, connectErr.Kind)

	assert.False(t, nextStatus(t, h.status))
	assert.False(t, h.manager.IsConnected())
	assert.Equal(t, model.ConnectionStateDisconnected, h.manager.State())
	assert.Empty(t, h.manager.PortName())
}

func TestConnectFailureClassifiesRawErrors(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.opener.err = errors.New("boom")

	err := h.manager.Connect(context.Background(), "/dev/ttyUSB0")

	var connectErr *protocol.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, protocol.ConnectErrorOther, connectErr.Kind)
	assert.False(t, nextStatus(t, h.status))
}

func TestConnectCancelledContext(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.manager.Connect(ctx, "/dev/ttyUSB0"), context.Canceled)
	assert.Zero(t, h.opener.openCount())
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	require.NoError(t, h.manager.Disconnect())
	assert.False(t, nextStatus(t, h.status))
	assert.False(t, h.manager.IsConnected())
	assert.Equal(t, 1, h.port.closeCount)

	// already closed
	require.NoError(t, h.manager.Disconnect())
	assertNoStatus(t, h.status)
	assert.Equal(t, 1, h.port.closeCount)
}

func TestDisconnectCloseFailure(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)
	h.port.closeErr = errors.New("device gone")

	err := h.manager.Disconnect()

	var disconnectErr *protocol.DisconnectError
	require.ErrorAs(t, err, &disconnectErr)
	assert.Equal(t, "/dev/ttyUSB0", disconnectErr.Port)
	assert.False(t, nextStatus(t, h.status))
	assert.False(t, h.manager.IsConnected())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)
	require.NoError(t, h.manager.Disconnect())
	assert.False(t, nextStatus(t, h.status))

	h.opener.port = newFakePort()
	h.connect(t)
	assert.Equal(t, 2, h.opener.openCount())
}

func TestWaitReady(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())

	assert.ErrorIs(t, h.manager.WaitReady(context.Background()), protocol.ErrNotReady)

	h.connect(t)

	done := make(chan error, 1)
	go func() {
		done <- h.manager.WaitReady(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(2500 * time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return")
	}
	assert.True(t, h.manager.IsReady())
}

func TestSendRejectedUntilSettled(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())

	err := h.sender.Send(context.Background(), protocol.CmdStart)
	assert.True(t, protocol.IsNotConnected(err))

	h.connect(t)

	err = h.sender.Send(context.Background(), protocol.CmdStart)
	assert.True(t, protocol.IsNotConnected(err))
	assert.ErrorIs(t, err, protocol.ErrNotReady)
	assert.Empty(t, h.port.output())

	h.clock.Advance(2499 * time.Millisecond)
	assert.True(t, protocol.IsNotConnected(h.sender.Send(context.Background(), protocol.CmdStart)))

	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.sender.Send(context.Background(), protocol.CmdStart))
	assert.Equal(t, "CMD:START\n", h.port.output())
}

func TestSendAppendsTerminator(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connectReady(t)

	require.NoError(t, h.sender.Send(context.Background(), "CMD:STOP"))
	require.NoError(t, h.sender.Send(context.Background(), "CMD:RESET\n"))

	assert.Equal(t, "CMD:STOP\nCMD:RESET\n", h.port.output())
}

func TestSendCommandEncodes(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connectReady(t)

	cmd := model.ConfigureCommand(500, 1200, decimal.RequireFromString("0.35"))
	require.NoError(t, h.sender.SendCommand(context.Background(), cmd))

	assert.Equal(t, "CFG:E500;R1200;D0.35\n", h.port.output())

	stats := h.manager.Stats()
	assert.Equal(t, int64(1), stats.CommandsSent)
	assert.Equal(t, int64(len("CFG:E500;R1200;D0.35\n")), stats.BytesWritten)
	assert.True(t, stats.IsConnected)
}

func TestSendWriteFailure(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connectReady(t)
	h.port.writeErr = errors.New("i/o error")

	err := h.sender.Send(context.Background(), protocol.CmdStop)

	var sendErr *protocol.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, protocol.SendErrorIo, sendErr.Kind)
	assert.Equal(t, protocol.CmdStop, sendErr.Command)
	assert.Equal(t, int64(1), h.manager.Stats().ErrorCount)
}

func TestSendWriteTimeout(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connectReady(t)

	release := make(chan struct{})
	h.port.mutex.Lock()
	h.port.writeBlock = release
	h.port.mutex.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- h.sender.Send(context.Background(), protocol.CmdStart)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(199 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("send returned before the write timeout: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	h.clock.Advance(time.Millisecond)
	var err error
	select {
	case err = <-done:
	case <-time.After(time.Second):
		t.Fatal("send did not time out")
	}
	assert.ErrorIs(t, err, protocol.ErrWriteTimeout)
	assert.False(t, protocol.IsNotConnected(err))

	// the stuck write still owns the port
	err = h.sender.Send(context.Background(), protocol.CmdStop)
	assert.ErrorIs(t, err, protocol.ErrWriteBusy)

	h.port.mutex.Lock()
	h.port.writeBlock = nil
	h.port.mutex.Unlock()
	close(release)

	require.Eventually(t, func() bool {
		return h.sender.Send(context.Background(), protocol.CmdReset) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "CMD:START\nCMD:RESET\n", h.port.output())
}

func TestSendPacing(t *testing.T) {
	cfg := testSerialConfig()
	cfg.PacingDelay = 50 * time.Millisecond
	h := newHarness(t, cfg, zap.NewNop())
	h.connectReady(t)

	done := make(chan error, 1)
	go func() {
		done <- h.sender.Send(context.Background(), protocol.CmdStop)
	}()

	// the write timer is stopped before the write is counted
	require.Eventually(t, func() bool {
		return h.manager.Stats().CommandsSent == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	select {
	case <-done:
		t.Fatal("send returned before the pacing delay elapsed")
	default:
	}
	assert.Equal(t, "CMD:STOP\n", h.port.output())

	h.clock.Advance(50 * time.Millisecond)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not return after pacing delay")
	}
}

func TestReceiverSplitsLines(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	h.port.feed("CNT:1\r\nSTA")
	h.port.feed("TUS:Voltas:5\n\n   \r\nPROG:50\n")

	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.Equal(t, "STATUS:Voltas:5", nextFrame(t, h.frames))
	assert.Equal(t, "PROG:50", nextFrame(t, h.frames))

	require.Eventually(t, func() bool {
		return h.manager.Stats().FramesReceived == 3
	}, time.Second, 5*time.Millisecond)
}

func TestReceiverTerminatesOnLineFeedOnly(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	h.port.feed("CNT:1\r")
	select {
	case frame := <-h.frames:
		t.Fatalf("carriage return alone delivered a frame: %q", frame)
	case <-time.After(20 * time.Millisecond):
	}

	h.port.feed("\nPROG:50\r\r\n")

	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.Equal(t, "PROG:50", nextFrame(t, h.frames))
}

func TestReceiverDiscardsOversizedPartialLine(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, testSerialConfig(), zap.New(core))
	h.connect(t)

	h.port.feed("XXXXXXXXXXXXXXXXXXXXXXXX")
	h.port.feed("YY\nCNT:1\n")

	assert.Equal(t, "YY", nextFrame(t, h.frames))
	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.Equal(t, 1, logs.FilterMessage("Discarding oversized partial line").Len())
}

func TestReceiverSurvivesHandlerPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := &harness{
		port:   newFakePort(),
		clock:  clockwork.NewFakeClock(),
		frames: make(chan string, 8),
		status: make(chan bool, 8),
	}
	h.opener = &fakeOpener{port: h.port}
	h.manager = NewManager(h.opener, testSerialConfig(), func(frame string) {
		if frame == "PANIC" {
			panic("handler bug")
		}
		h.frames <- frame
	}, zap.New(core), WithClock(h.clock))
	h.manager.OnStatusChanged(func(connected bool) { h.status <- connected })
	t.Cleanup(func() { _ = h.manager.Close() })

	h.connect(t)
	h.port.feed("PANIC\nCNT:1\n")

	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.True(t, h.manager.IsConnected())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").FilterField(zap.String("frame", "PANIC")).Len())
}

func TestReceiverToleratesTransientErrors(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connect(t)

	h.port.fail(errors.New("framing error"))
	h.port.fail(errors.New("framing error"))
	h.port.feed("CNT:1\n")
	h.port.fail(errors.New("framing error"))
	h.port.feed("CNT:1\n")

	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.True(t, h.manager.IsConnected())
	assertNoStatus(t, h.status)
}

func TestReceiverKeepsLinkThroughReadErrors(t *testing.T) {
	h := newHarness(t, testSerialConfig(), zap.NewNop())
	h.connectReady(t)

	for i := 0; i < 12; i++ {
		h.port.fail(errors.New("framing error"))
	}
	h.port.feed("CNT:1\n")

	assert.Equal(t, "CNT:1", nextFrame(t, h.frames))
	assert.True(t, h.manager.IsConnected())
	assert.True(t, h.manager.IsReady())
	assert.Equal(t, model.ConnectionStateConnected, h.manager.State())
	assert.Equal(t, int64(12), h.manager.Stats().ErrorCount)
	assertNoStatus(t, h.status)

	require.NoError(t, h.sender.Send(context.Background(), protocol.CmdStop))
	assert.Equal(t, "CMD:STOP\n", h.port.output())
}

func TestReceiverPortClosedLosesLink(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, testSerialConfig(), zap.New(core))
	h.connect(t)

	h.port.fail(io.EOF)

	assert.False(t, nextStatus(t, h.status))
	assert.False(t, h.manager.IsConnected())
	assert.Equal(t, 1, logs.FilterMessage("Serial link lost").Len())

	err := h.sender.Send(context.Background(), protocol.CmdStop)
	assert.True(t, protocol.IsNotConnected(err))
}
