// internal/publisher/mqtt_publisher.go
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"winder-service/internal/config"
	"winder-service/internal/events"
)

// Client is the part of mqtt.Client the publisher uses
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher forwards bus events to an MQTT broker as JSON
type MQTTPublisher struct {
	client   Client
	events   <-chan events.Event
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
	filter   map[string]struct{}
	logger   *zap.Logger
}

// NewMQTTPublisher creates a publisher with a paho client built from configuration.
// It subscribes to the bus immediately so it must be created before the bus starts.
func NewMQTTPublisher(cfg *config.MQTTConfig, bus *events.EventBus, logger *zap.Logger) *MQTTPublisher {
	logger = logger.With(zap.String("component", "mqtt-publisher"))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "winder-service-" + uuid.New().String()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	return NewMQTTPublisherWithClient(mqtt.NewClient(opts), cfg, bus, logger)
}

// NewMQTTPublisherWithClient creates a publisher around an existing client
func NewMQTTPublisherWithClient(client Client, cfg *config.MQTTConfig, bus *events.EventBus, logger *zap.Logger) *MQTTPublisher {
	var filter map[string]struct{}
	if len(cfg.Events) > 0 {
		filter = make(map[string]struct{}, len(cfg.Events))
		for _, eventType := range cfg.Events {
			filter[eventType] = struct{}{}
		}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &MQTTPublisher{
		client:   client,
		events:   bus.Subscribe(events.Wildcard),
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  timeout,
		filter:   filter,
		logger:   logger,
	}
}

// Run connects and publishes events until the context is cancelled or the bus stops
func (p *MQTTPublisher) Run(ctx context.Context) error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	defer func() {
		if p.client.IsConnected() {
			p.client.Disconnect(250)
		}
		p.logger.Info("MQTT publisher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-p.events:
			if !ok {
				return nil
			}
			if !p.matchesFilter(event.Type) {
				continue
			}
			p.publish(event)
		}
	}
}

func (p *MQTTPublisher) publish(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("event_type", event.Type), zap.Error(err))
		return
	}

	topic := p.Topic(event.Type)
	token := p.client.Publish(topic, p.qos, p.retained, payload)
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error("Failed to publish event", zap.String("topic", topic), zap.Error(err))
		return
	}

	p.logger.Debug("Event published", zap.String("topic", topic))
}

// Topic returns the topic an event type is published on
func (p *MQTTPublisher) Topic(eventType string) string {
	return p.topic + "/" + eventType
}

func (p *MQTTPublisher) matchesFilter(eventType string) bool {
	if p.filter == nil {
		return true
	}
	_, ok := p.filter[eventType]
	return ok
}
