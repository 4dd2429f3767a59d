package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PendingCounter reports queued work.
type PendingCounter interface {
	Pending() int
}

// StatusHandler serves a runtime summary for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	slots     SlotLister
	refunds   PendingCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. refunds may be nil.
func NewStatusHandler(mode string, startedAt time.Time, slots SlotLister, refunds PendingCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		slots:     slots,
		refunds:   refunds,
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus responds with the mode, uptime, slot occupancy and refund backlog.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	slots, err := h.slots.Slots(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "status", err)
		return
	}
	filled := 0
	for _, s := range slots {
		if s.Filled() {
			filled++
		}
	}
	pending := 0
	if h.refunds != nil {
		pending = h.refunds.Pending()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"slots_total":     len(slots),
		"slots_filled":    filled,
		"refunds_pending": pending,
	})
}
