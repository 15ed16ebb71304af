package device

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Observation is one snapshot of a device's reported state
type Observation struct {
	Power float64 `json:"power"` // instantaneous draw in watts
}

// ParseObservation extracts an Observation from a decoded JSON value.
// Anything that is not an object with a usable power reading yields Power 0.
func ParseObservation(v interface{}) Observation {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Observation{}
	}
	return Observation{Power: parsePower(m["power"])}
}

// DecodeObservation parses a raw JSON payload (MQTT messages)
func DecodeObservation(data []byte) (Observation, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return Observation{}, err
	}
	return ParseObservation(v), nil
}

func parsePower(v interface{}) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
