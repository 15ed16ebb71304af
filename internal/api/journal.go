package api

import (
	"log"
	"net/http"

	"wattchbridge/internal/storage"
)

// JournalHandler serves recent forward and reset outcomes
type JournalHandler struct {
	journal storage.Journal
}

// NewJournalHandler creates new journal handler. journal may be nil.
func NewJournalHandler(journal storage.Journal) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// List returns the most recent journal records, oldest first
// GET /api/journal?limit=100
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := queryInt(r, "limit", 100, 1000)
	records, err := h.journal.Records(limit)
	if err != nil {
		log.Printf("[API] Failed to read journal: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if records == nil {
		records = []storage.Record{}
	}

	total, err := h.journal.Count()
	if err != nil {
		total = len(records)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
	})
}
