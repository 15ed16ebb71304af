package device

import (
	"encoding/json"
	"testing"
)

func TestParseObservation(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected float64
	}{
		{"number", map[string]interface{}{"power": 12.5}, 12.5},
		{"json number", map[string]interface{}{"power": json.Number("40")}, 40},
		{"numeric string", map[string]interface{}{"power": " 7.25 "}, 7.25},
		{"missing power", map[string]interface{}{"voltage": 230.0}, 0},
		{"negative power", map[string]interface{}{"power": -3.0}, 0},
		{"garbage string", map[string]interface{}{"power": "n/a"}, 0},
		{"null power", map[string]interface{}{"power": nil}, 0},
		{"not an object", 42.0, 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := ParseObservation(tt.input)
			if obs.Power != tt.expected {
				t.Errorf("Expected power %v, got %v", tt.expected, obs.Power)
			}
		})
	}
}

func TestDecodeObservation(t *testing.T) {
	obs, err := DecodeObservation([]byte(`{"power": 100, "current": 0.4}`))
	if err != nil {
		t.Fatalf("Failed to decode observation: %v", err)
	}
	if obs.Power != 100 {
		t.Errorf("Expected 100, got %v", obs.Power)
	}

	if _, err := DecodeObservation([]byte(`{"power":`)); err == nil {
		t.Error("Expected error for truncated payload")
	}
}
