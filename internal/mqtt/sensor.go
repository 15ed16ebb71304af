package mqtt

// Topics published under the configured prefix
const (
	AvailabilityTopic = "bridge/availability"
	PayloadOnline     = "online"
	PayloadOffline    = "offline"

	// DiscoveryPrefix is the Home Assistant discovery root (published without prefix)
	DiscoveryPrefix = "homeassistant"
	discoveryDomain = "wattch"
)

// SensorData represents one device sample for MQTT publishing
type SensorData struct {
	ID         string                 // Device ID (will be sanitized)
	Value      interface{}            // Current value
	Attributes map[string]interface{} // Additional attributes
}

// SensorConfig contains sensor configuration for Home Assistant Discovery
type SensorConfig struct {
	SensorID string // Sanitized sensor ID
	Name     string // Display name

	Unit string // W

	// MQTT topics (relative to prefix)
	StateTopic      string
	AttributesTopic string

	// Home Assistant parameters
	DeviceClass string // power
	StateClass  string // measurement

	AvailabilityTopic string

	DeviceInfo *DeviceInfo
}

// DeviceInfo contains device information for grouping in Home Assistant
type DeviceInfo struct {
	Identifiers  []string
	Name         string
	Model        string
	Manufacturer string
}

func stateTopic(sensorID string) string {
	return "sensor/" + sensorID + "/state"
}

func attributesTopic(sensorID string) string {
	return "sensor/" + sensorID + "/attributes"
}

func discoveryTopic(sensorID string) string {
	return DiscoveryPrefix + "/sensor/" + discoveryDomain + "/" + sensorID + "/config"
}

// sanitizeSensorID creates a safe ID for MQTT topics
func sanitizeSensorID(name string) string {
	b := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A') // to lowercase
		case c == ' ' || c == '/' || c == '.' || c == '+' || c == '#':
			b[i] = '_'
		default:
			b[i] = c
		}
	}
	return string(b)
}
