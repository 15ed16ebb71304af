package mqtt

import (
	"encoding/json"
	"log"
	"sync"

	"wattchbridge/internal/device"
)

// DiscoveryManager manages Home Assistant MQTT Discovery for device power sensors
type DiscoveryManager struct {
	mqttClient *Client
	logger     *log.Logger

	// Cache of generated discovery configs, keyed by sensor ID
	discoveryConfigs map[string][]byte
	published        map[string]bool
	mu               sync.Mutex
}

// NewDiscoveryManager creates a new DiscoveryManager instance
func NewDiscoveryManager(client *Client, logger *log.Logger) *DiscoveryManager {
	return &DiscoveryManager{
		mqttClient:       client,
		logger:           logger,
		discoveryConfigs: make(map[string][]byte),
		published:        make(map[string]bool),
	}
}

// Announce publishes the discovery config for a device once per process
func (d *DiscoveryManager) Announce(sensorID, deviceID string, category device.Category) error {
	d.mu.Lock()
	if d.published[sensorID] {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	cfg := &SensorConfig{
		SensorID:          sensorID,
		Name:              deviceID + " Power",
		Unit:              "W",
		StateTopic:        stateTopic(sensorID),
		AttributesTopic:   attributesTopic(sensorID),
		DeviceClass:       "power",
		StateClass:        "measurement",
		AvailabilityTopic: AvailabilityTopic,
		DeviceInfo: &DeviceInfo{
			Identifiers:  []string{"wattch_" + sensorID},
			Name:         deviceID,
			Model:        category.String(),
			Manufacturer: "WATTch",
		},
	}

	if err := d.PublishDiscoveryConfig(cfg); err != nil {
		return err
	}

	d.mu.Lock()
	d.published[sensorID] = true
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Printf("[MQTT Discovery] Announced sensor %s", sensorID)
	}
	return nil
}

// PublishDiscoveryConfig publishes discovery config for a single sensor
func (d *DiscoveryManager) PublishDiscoveryConfig(cfg *SensorConfig) error {
	if cfg == nil {
		return nil
	}

	configJSON, err := d.generateDiscoveryConfig(cfg)
	if err != nil {
		return err
	}

	return d.mqttClient.PublishRaw(discoveryTopic(cfg.SensorID), configJSON, true)
}

// Announced returns the number of sensors announced so far
func (d *DiscoveryManager) Announced() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.published)
}

// generateDiscoveryConfig generates and caches Home Assistant discovery config
func (d *DiscoveryManager) generateDiscoveryConfig(cfg *SensorConfig) ([]byte, error) {
	d.mu.Lock()
	if config, ok := d.discoveryConfigs[cfg.SensorID]; ok {
		d.mu.Unlock()
		return config, nil
	}
	d.mu.Unlock()

	prefix := d.mqttClient.GetConfig().Prefix
	full := func(topic string) string {
		if prefix == "" {
			return topic
		}
		return prefix + "/" + topic
	}

	discoveryConfig := map[string]interface{}{
		"name":                cfg.Name,
		"unique_id":           "wattch_" + cfg.SensorID,
		"state_topic":         full(cfg.StateTopic),
		"unit_of_measurement": cfg.Unit,
	}

	if cfg.AttributesTopic != "" {
		discoveryConfig["json_attributes_topic"] = full(cfg.AttributesTopic)
	}
	if cfg.DeviceClass != "" {
		discoveryConfig["device_class"] = cfg.DeviceClass
	}
	if cfg.StateClass != "" {
		discoveryConfig["state_class"] = cfg.StateClass
	}
	if cfg.AvailabilityTopic != "" {
		discoveryConfig["availability_topic"] = full(cfg.AvailabilityTopic)
		discoveryConfig["payload_available"] = PayloadOnline
		discoveryConfig["payload_not_available"] = PayloadOffline
	}

	// Device information for grouping in Home Assistant
	if cfg.DeviceInfo != nil {
		discoveryConfig["device"] = map[string]interface{}{
			"identifiers":  cfg.DeviceInfo.Identifiers,
			"name":         cfg.DeviceInfo.Name,
			"model":        cfg.DeviceInfo.Model,
			"manufacturer": cfg.DeviceInfo.Manufacturer,
		}
	}

	configJSON, err := json.Marshal(discoveryConfig)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.discoveryConfigs[cfg.SensorID] = configJSON
	d.mu.Unlock()

	return configJSON, nil
}
