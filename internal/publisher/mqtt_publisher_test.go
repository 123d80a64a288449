package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"winder-service/internal/config"
	"winder-service/internal/events"
)

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type mockClient struct {
	mu           sync.Mutex
	connectError error
	publishError error
	connected    bool
	disconnects  int
	published    []publishedMessage
}

func (m *mockClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectError != nil {
		return &mockToken{err: m.connectError}
	}
	m.connected = true
	return &mockToken{}
}

func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnects++
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if m.publishError != nil {
		return &mockToken{err: m.publishError}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return &mockToken{}
}

func (m *mockClient) messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.published...)
}

type mockToken struct {
	err error
}

func (*mockToken) Wait() bool { return true }

func (*mockToken) WaitTimeout(time.Duration) bool { return true }

func (*mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *mockToken) Error() error { return t.err }

func startPublisher(t *testing.T, client *mockClient, cfg *config.MQTTConfig) (*events.EventBus, chan error) {
	t.Helper()

	bus := events.NewEventBus(zap.NewNop())
	p := NewMQTTPublisherWithClient(client, cfg, bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Start(ctx)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-bus.Done()
	})
	return bus, done
}

func TestPublishesEventsAsJSON(t *testing.T) {
	client := &mockClient{}
	bus, _ := startPublisher(t, client, &config.MQTTConfig{Topic: "winder", QoS: 1, Retained: true})

	bus.Publish(events.NewEvent(events.TypeSessionStarted, "winding-tracker", map[string]int{"turns": 3}))

	require.Eventually(t, func() bool { return len(client.messages()) == 1 }, time.Second, 5*time.Millisecond)

	msg := client.messages()[0]
	assert.Equal(t, "winder/"+events.TypeSessionStarted, msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, events.TypeSessionStarted, decoded.Type)
	assert.Equal(t, "winding-tracker", decoded.Source)
}

func TestFilterLimitsEventTypes(t *testing.T) {
	client := &mockClient{}
	bus, _ := startPublisher(t, client, &config.MQTTConfig{
		Topic:  "winder",
		Events: []string{events.TypeAlarm},
	})

	bus.Publish(events.NewEvent(events.TypeSnapshotChanged, "winding-tracker", nil))
	bus.Publish(events.NewEvent(events.TypeAlarm, "winding-tracker", nil))

	require.Eventually(t, func() bool { return len(client.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "winder/"+events.TypeAlarm, client.messages()[0].topic)
}

func TestPublishFailureKeepsRunning(t *testing.T) {
	client := &mockClient{publishError: errors.New("broker gone")}
	bus, done := startPublisher(t, client, &config.MQTTConfig{Topic: "winder"})

	bus.Publish(events.NewEvent(events.TypeAlarm, "winding-tracker", nil))

	select {
	case err := <-done:
		t.Fatalf("publisher exited: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, client.messages())
}

func TestConnectFailure(t *testing.T) {
	client := &mockClient{connectError: errors.New("connection refused")}
	_, done := startPublisher(t, client, &config.MQTTConfig{Topic: "winder"})

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "connection refused")
	case <-time.After(time.Second):
		t.Fatal("publisher did not fail")
	}
}

func TestDisconnectsOnShutdown(t *testing.T) {
	client := &mockClient{}
	bus := events.NewEventBus(zap.NewNop())
	p := NewMQTTPublisherWithClient(client, &config.MQTTConfig{Topic: "winder"}, bus, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.False(t, client.IsConnected())
	assert.Equal(t, 1, client.disconnects)
}
