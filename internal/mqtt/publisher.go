package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"wattchbridge/internal/device"
)

// Sample is one forwarded device reading mirrored to MQTT
type Sample struct {
	Device          string
	Category        device.Category
	Power           float64
	DurationSeconds float64
	HourBucket      string
	Timestamp       time.Time
}

// Publisher mirrors forwarded samples to MQTT topics
type Publisher struct {
	client    *Client
	discovery *DiscoveryManager
	logger    *log.Logger

	// Cache of sanitized sensor IDs
	sensorIDCache   map[string]string
	sensorIDCacheMu sync.RWMutex
}

// NewPublisher creates a new Publisher instance. discovery may be nil.
func NewPublisher(client *Client, discovery *DiscoveryManager, logger *log.Logger) *Publisher {
	return &Publisher{
		client:        client,
		discovery:     discovery,
		logger:        logger,
		sensorIDCache: make(map[string]string),
	}
}

// PublishSample publishes a forwarded sample, announcing the device to
// Home Assistant the first time it is seen
func (p *Publisher) PublishSample(s Sample) error {
	if s.Device == "" {
		return fmt.Errorf("sample has no device")
	}

	sensorID := p.getSanitizedID(s.Device)

	if p.discovery != nil {
		if err := p.discovery.Announce(sensorID, s.Device, s.Category); err != nil {
			p.logf("[MQTT Publisher] Failed to announce %s: %v", s.Device, err)
		}
	}

	attrs := map[string]interface{}{
		"device":           s.Device,
		"category":         s.Category.String(),
		"duration_seconds": s.DurationSeconds,
		"hour_bucket":      s.HourBucket,
	}
	if !s.Timestamp.IsZero() {
		attrs["timestamp"] = s.Timestamp.UTC().Format(time.RFC3339)
	}

	return p.PublishSensorState(&SensorData{
		ID:         sensorID,
		Value:      s.Power,
		Attributes: attrs,
	})
}

// PublishSensorState publishes a single sensor's state and attributes.
// data.ID must already be a sanitized sensor ID.
func (p *Publisher) PublishSensorState(data *SensorData) error {
	if data == nil {
		return nil
	}

	sensorID := data.ID

	stateJSON, err := json.Marshal(data.Value)
	if err != nil {
		p.logf("[MQTT Publisher] Failed to marshal sensor state: %v", err)
		return err
	}

	if err := p.client.PublishWithQoS(stateTopic(sensorID), 0, true, stateJSON); err != nil {
		p.logf("[MQTT Publisher] Failed to publish sensor %s state: %v", sensorID, err)
		return err
	}

	if len(data.Attributes) > 0 {
		attrsJSON, err := json.Marshal(data.Attributes)
		if err == nil {
			if err := p.client.Publish(attributesTopic(sensorID), attrsJSON); err != nil {
				p.logf("[MQTT Publisher] Failed to publish sensor %s attributes: %v", sensorID, err)
			}
		}
	}

	return nil
}

// PublishAvailability publishes the retained bridge availability flag
func (p *Publisher) PublishAvailability(online bool) error {
	payload := PayloadOffline
	if online {
		payload = PayloadOnline
	}
	return p.client.PublishWithQoS(AvailabilityTopic, 1, true, payload)
}

// getSanitizedID returns cached sanitized sensor ID
func (p *Publisher) getSanitizedID(label string) string {
	p.sensorIDCacheMu.RLock()
	if id, ok := p.sensorIDCache[label]; ok {
		p.sensorIDCacheMu.RUnlock()
		return id
	}
	p.sensorIDCacheMu.RUnlock()

	id := sanitizeSensorID(label)

	p.sensorIDCacheMu.Lock()
	p.sensorIDCache[label] = id
	p.sensorIDCacheMu.Unlock()

	return id
}

func (p *Publisher) logf(format string, v ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}
