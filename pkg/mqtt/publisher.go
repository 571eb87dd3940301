// Package mqtt publishes completed forecasts to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
)

// publishTimeout bounds the wait for broker acknowledgement; the forecast
// cycle is never held up by a slow broker.
const publishTimeout = 5 * time.Second

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
}

// DefaultConfig returns default MQTT publisher configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:     false,
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "foresightd",
		TopicPrefix: "foresight",
		QoS:         1,
		Retain:      false,
	}
}

// Publisher sends forecast results to the configured broker. Publishing is
// best effort: a disabled or disconnected publisher silently drops results
// and the broker connection recovers on its own.
type Publisher struct {
	client MQTT.Client
	logger *logx.Logger
	config *Config

	mu          sync.RWMutex
	connected   bool
	lastPublish time.Time
}

// NewPublisher creates a new MQTT forecast publisher
func NewPublisher(config *Config, logger *logx.Logger) *Publisher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ClientID == "" {
		config.ClientID = DefaultConfig().ClientID
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultConfig().TopicPrefix
	}
	if config.Port == 0 {
		config.Port = DefaultConfig().Port
	}

	return &Publisher{
		logger: logger,
		config: config,
	}
}

// Connect establishes the broker connection
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("MQTT publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)

	p.client = MQTT.NewClient(opts)

	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	p.logger.Info("MQTT publisher connected",
		"broker", p.config.Broker,
		"port", p.config.Port,
		"topic_prefix", p.config.TopicPrefix,
	)

	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.connected {
		p.client.Disconnect(250)
		p.connected = false
		p.logger.Info("MQTT publisher disconnected")
	}
}

// onConnect handles broker connection events
func (p *Publisher) onConnect(client MQTT.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("MQTT connection established")
}

// onConnectionLost handles broker disconnection events
func (p *Publisher) onConnectionLost(client MQTT.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.logger.Warn("MQTT connection lost, reconnecting", "error", err)
}

// IsConnected returns whether the publisher has a live broker connection
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

// PublishForecast sends a completed forecast to <prefix>/forecast. A
// disabled or disconnected publisher drops the result without error.
func (p *Publisher) PublishForecast(ctx context.Context, result *forecast.Result) error {
	if !p.config.Enabled || !p.IsConnected() {
		return nil
	}

	topic := fmt.Sprintf("%s/forecast", p.config.TopicPrefix)
	return p.publishJSON(topic, result)
}

// PublishStatus sends a daemon status snapshot to <prefix>/status
func (p *Publisher) PublishStatus(status interface{}) error {
	if !p.config.Enabled || !p.IsConnected() {
		return nil
	}

	topic := fmt.Sprintf("%s/status", p.config.TopicPrefix)
	payload := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    status,
	}

	return p.publishJSON(topic, payload)
}

// publishJSON publishes a JSON payload with a bounded acknowledgement wait
func (p *Publisher) publishJSON(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	token := p.client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("MQTT publish acknowledgement timed out", "topic", topic)
		return nil
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	p.mu.Lock()
	p.lastPublish = time.Now()
	p.mu.Unlock()

	p.logger.Debug("MQTT message published", "topic", topic, "size", len(data))

	return nil
}
