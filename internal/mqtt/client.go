// Package mqtt provides MQTT client functionality
package mqtt

import (
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT client configuration
type Config struct {
	Broker   string // MQTT broker address (e.g., "tcp://localhost:1883")
	ClientID string // Unique client ID
	Username string // MQTT username (optional)
	Password string // MQTT password (optional)
	Prefix   string // Topic prefix for all messages
	UseTLS   bool   // Enable TLS connection
}

// MessageHandler receives the topic (without prefix) and payload of a message
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client wraps the MQTT client with additional functionality
type Client struct {
	client   mqtt.Client
	config   Config
	mu       sync.RWMutex
	logger   *log.Logger
	isActive bool

	subMu         sync.Mutex
	subscriptions map[string]subscription // full topic -> subscription
}

// New creates a new MQTT client
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("wattch-bridge-%d", time.Now().Unix())
	}

	c := &Client{
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	// Configure TLS if enabled
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Retained availability flips to offline if the bridge dies
	opts.SetWill(c.buildTopic(AvailabilityTopic), PayloadOffline, 1, true)

	// Set connection handlers
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logf("[MQTT] Connection lost: %v", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logf("[MQTT] Connected to broker: %s", cfg.Broker)
		// Clean session drops subscriptions on reconnect
		c.resubscribe()
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logf("[MQTT] Attempting to reconnect...")
	})

	// Auto-reconnect settings
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	// Keep alive settings
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Clean session
	opts.SetCleanSession(true)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// newWithClient wraps an existing paho client (used by tests)
func newWithClient(cfg Config, client mqtt.Client, logger *log.Logger) *Client {
	return &Client{
		client:        client,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isActive {
		return nil // Already connected
	}

	c.logf("[MQTT] Connecting to broker: %s", c.config.Broker)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.isActive = true
	c.logf("[MQTT] Successfully connected")

	return nil
}

// Disconnect closes connection to MQTT broker
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return
	}

	c.client.Disconnect(250) // Wait up to 250ms for graceful disconnect
	c.isActive = false

	c.logf("[MQTT] Disconnected from broker")
}

// Publish publishes a message to the specified topic with QoS 0 (default for telemetry)
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishWithQoS(topic, 0, false, payload)
}

// PublishWithQoS publishes a message with explicit QoS and retained settings
func (c *Client) PublishWithQoS(topic string, qos byte, retained bool, payload interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive {
		return fmt.Errorf("MQTT client is not connected")
	}

	// Add prefix to topic
	fullTopic := c.buildTopic(topic)

	token := c.client.Publish(fullTopic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	return nil
}

// PublishRaw publishes a retained QoS 1 message without adding prefix (for discovery topics)
func (c *Client) PublishRaw(topic string, payload interface{}, retained bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, 1, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	c.logf("[MQTT] Published (raw) to %s", topic)
	return nil
}

// Subscribe subscribes to a topic (prefix added). The subscription is
// restored automatically after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isActive {
		return fmt.Errorf("MQTT client is not connected")
	}

	fullTopic := c.buildTopic(topic)
	sub := subscription{qos: qos, handler: handler}

	if err := c.subscribe(fullTopic, sub); err != nil {
		return err
	}

	c.subMu.Lock()
	c.subscriptions[fullTopic] = sub
	c.subMu.Unlock()

	c.logf("[MQTT] Subscribed to %s", fullTopic)
	return nil
}

// Unsubscribe removes a subscription (prefix added)
func (c *Client) Unsubscribe(topic string) error {
	fullTopic := c.buildTopic(topic)

	c.subMu.Lock()
	delete(c.subscriptions, fullTopic)
	c.subMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isActive {
		return nil
	}

	token := c.client.Unsubscribe(fullTopic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

func (c *Client) subscribe(fullTopic string, sub subscription) error {
	token := c.client.Subscribe(fullTopic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
		sub.handler(c.stripPrefix(msg.Topic()), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", fullTopic, token.Error())
	}
	return nil
}

// resubscribe restores all subscriptions after a reconnect
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, sub := range c.subscriptions {
		subs[topic] = sub
	}
	c.subMu.Unlock()

	for topic, sub := range subs {
		if err := c.subscribe(topic, sub); err != nil {
			c.logf("[MQTT] Failed to restore subscription: %v", err)
		}
	}
}

// buildTopic constructs full topic path with prefix
func (c *Client) buildTopic(topic string) string {
	if c.config.Prefix == "" {
		return topic
	}
	return c.config.Prefix + "/" + topic
}

// stripPrefix removes the configured prefix from an incoming topic
func (c *Client) stripPrefix(topic string) string {
	if c.config.Prefix == "" {
		return topic
	}
	p := c.config.Prefix + "/"
	if len(topic) > len(p) && topic[:len(p)] == p {
		return topic[len(p):]
	}
	return topic
}

// IsConnected returns true if client is connected to broker
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive && c.client.IsConnected()
}

// GetConfig returns the current MQTT configuration
func (c *Client) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *Client) logf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
	}
}
