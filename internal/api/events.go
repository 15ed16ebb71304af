package api

import (
	"net/http"
	"strconv"

	"wattchbridge/internal/events"
)

// EventsHandler handles event log endpoints
type EventsHandler struct {
	store *events.Store
}

// NewEventsHandler creates new events handler
func NewEventsHandler(store *events.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// List returns events from the store
// GET /api/events?limit=50&since=123
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	// Check for since parameter (get events after ID)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		sinceID, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events": nonNil(h.store.GetSince(sinceID)),
			"lastId": h.store.LastID(),
		})
		return
	}

	limit := queryInt(r, "limit", 50, 200)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": nonNil(h.store.GetLast(limit)),
		"lastId": h.store.LastID(),
	})
}

func nonNil(list []events.Event) []events.Event {
	if list == nil {
		return []events.Event{}
	}
	return list
}
