package api

import (
	"net/http"
	"time"

	"wattchbridge/internal/config"
	"wattchbridge/internal/gate"
)

// StatusHandler serves health, counters and device state
type StatusHandler struct {
	bridge  Bridge
	config  *config.Config
	started time.Time
}

// NewStatusHandler creates new status handler
func NewStatusHandler(b Bridge, cfg *config.Config, started time.Time) *StatusHandler {
	return &StatusHandler{bridge: b, config: cfg, started: started}
}

// Health reports liveness
// GET /api/health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	SyncCount     int64          `json:"syncCount"`
	ErrorCount    int64          `json:"errorCount"`
	SuccessRate   float64        `json:"successRate"`
	ResetChecks   int64          `json:"resetChecks"`
	ResetErrors   int64          `json:"resetErrors"`
	Devices       int            `json:"devices"`
	UptimeSeconds int64          `json:"uptimeSeconds"`
	Config        *configSummary `json:"config,omitempty"`
}

type configSummary struct {
	APIURL         string `json:"apiUrl"`
	DatabaseURL    string `json:"databaseUrl"`
	FeedSource     string `json:"feedSource"`
	FeedPath       string `json:"feedPath"`
	UserDatabase   string `json:"userDatabase"`
	SyncIntervalMs int64  `json:"syncIntervalMs"`
	MQTTEnabled    bool   `json:"mqttEnabled"`
	JournalEnabled bool   `json:"journalEnabled"`
}

// Status returns counters and a configuration summary
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	s := h.bridge.Stats()
	resp := statusResponse{
		SyncCount:     s.SyncCount,
		ErrorCount:    s.ErrorCount,
		SuccessRate:   s.SuccessRate(),
		ResetChecks:   s.ResetChecks,
		ResetErrors:   s.ResetErrors,
		Devices:       len(h.bridge.Devices()),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	if h.config != nil {
		resp.Config = &configSummary{
			APIURL:         h.config.APIURL(),
			DatabaseURL:    h.config.DatabaseURL(),
			FeedSource:     h.config.FeedSource(),
			FeedPath:       h.config.FeedPath(),
			UserDatabase:   h.config.UserDatabase(),
			SyncIntervalMs: h.bridge.SyncInterval().Milliseconds(),
			MQTTEnabled:    h.config.MQTTBroker() != "",
			JournalEnabled: h.bridge.Journal() != nil,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Devices returns per-device sync state
// GET /api/devices
func (h *StatusHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices := h.bridge.Devices()
	if devices == nil {
		devices = []gate.DeviceState{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}
