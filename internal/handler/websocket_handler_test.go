package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"winder-service/internal/events"
	"winder-service/internal/model"
)

type wsHarness struct {
	bus     *events.EventBus
	handler *WebSocketHandler
	server  *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()

	state := &fakeWinder{
		status:   model.LinkStatus{Port: "/dev/ttyUSB0", Connected: true, Ready: true},
		snapshot: model.Snapshot{RunState: model.RunStateRunning, TurnsDone: 12},
	}

	bus := events.NewEventBus(zap.NewNop())
	h := NewWebSocketHandler(state, bus, nil, zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router.Group("/ws"))
	server := httptest.NewServer(router)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Start(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = h.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-runDone
		<-bus.Done()
		server.Close()
	})

	return &wsHarness{bus: bus, handler: h, server: server}
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message WebSocketMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func TestWebSocketInitialState(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	message := readMessage(t, conn)
	assert.Equal(t, "initial_state", message.Type)

	data, ok := message.Data.(map[string]interface{})
	require.True(t, ok)
	winding := data["winding"].(map[string]interface{})
	assert.Equal(t, "RUNNING", winding["run_state"])
	assert.Equal(t, float64(12), winding["turns_done"])
	link := data["link"].(map[string]interface{})
	assert.Equal(t, true, link["ready"])
}

func TestWebSocketPingPong(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "launch"}))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}

func TestWebSocketForwardsEvents(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	readMessage(t, conn)

	require.Eventually(t, func() bool {
		return h.handler.GetConnectionStats().TotalConnections == 1
	}, time.Second, 5*time.Millisecond)

	h.bus.Publish(events.NewEvent(events.TypeAlarm, "winding-tracker", map[string]interface{}{"turns_done": 101}))

	message := readMessage(t, conn)
	assert.Equal(t, "event", message.Type)

	raw, err := json.Marshal(message.Data)
	require.NoError(t, err)
	var event events.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, events.TypeAlarm, event.Type)
}

func TestWebSocketSubscriptionFilter(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{
		Type: "subscribe",
		Data: map[string]interface{}{"event_type": events.TypeSessionFinished},
	}))
	assert.Equal(t, "subscriptions", readMessage(t, conn).Type)

	h.bus.Publish(events.NewEvent(events.TypeSnapshotChanged, "winding-tracker", nil))
	h.bus.Publish(events.NewEvent(events.TypeSessionFinished, "winding-tracker", nil))

	message := readMessage(t, conn)
	raw, err := json.Marshal(message.Data)
	require.NoError(t, err)
	var event events.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	assert.Equal(t, events.TypeSessionFinished, event.Type)
}
