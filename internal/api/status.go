package api

import (
	"net/http"
	"strconv"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

func (h *Handlers) DetectorStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// RecentEventsHandler lists journaled motion events, newest first.
func (h *Handlers) RecentEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := h.events.RecentEvents(r.Context(), limit)
	if err != nil {
		h.log.Error("list events failed", "err", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}
