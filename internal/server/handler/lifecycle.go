package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotlight/internal/service"
)

// TickRunner runs one lifecycle pass.
type TickRunner interface {
	RunTick(ctx context.Context) (service.TickSummary, error)
}

// LifecycleHandler exposes the lifecycle trigger for external schedulers.
type LifecycleHandler struct {
	lifecycle TickRunner
	logger    *slog.Logger
}

func NewLifecycleHandler(lifecycle TickRunner, logger *slog.Logger) *LifecycleHandler {
	return &LifecycleHandler{lifecycle: lifecycle, logger: logHandler(logger, "lifecycle")}
}

// Tick runs one lifecycle pass and returns its summary. A tick skipped
// because another process holds the lock still answers 200.
// POST /api/lifecycle/tick
func (h *LifecycleHandler) Tick(w http.ResponseWriter, r *http.Request) {
	// The pass must finish even if the caller hangs up.
	sum, err := h.lifecycle.RunTick(context.WithoutCancel(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "lifecycle tick", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
