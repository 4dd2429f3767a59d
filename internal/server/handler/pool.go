package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// PoolQueries is the read side the pool handler needs.
type PoolQueries interface {
	Pool(ctx context.Context, id string) (domain.Pool, error)
	OpenPool(ctx context.Context, targetID string) (domain.Pool, error)
	Pools(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error)
	PoolBids(ctx context.Context, poolID string) ([]domain.Bid, error)
	Balance(ctx context.Context, account string) (int64, error)
	Target(ctx context.Context, id string) (domain.Target, error)
}

// SlotLister lists the featured slots.
type SlotLister interface {
	Slots(ctx context.Context) ([]domain.FeaturedSlot, error)
}

// PoolHandler serves pool, slot and balance reads.
type PoolHandler struct {
	queries PoolQueries
	slots   SlotLister
	logger  *slog.Logger
}

func NewPoolHandler(queries PoolQueries, slots SlotLister, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{queries: queries, slots: slots, logger: logHandler(logger, "pools")}
}

type listPoolsResponse struct {
	Pools []domain.Pool `json:"pools"`
}

// ListPools lists pools in one status (default bidding).
// GET /api/pools?status=bidding&limit=50&offset=0
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	status := domain.PoolStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.PoolStatusBidding
	}

	pools, err := h.queries.Pools(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list pools", err)
		return
	}
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.queries.Pool(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// PoolBids lists every bid of a pool.
// GET /api/pools/{id}/bids
func (h *PoolHandler) PoolBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.queries.PoolBids(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list pool bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// TargetPool returns the open pool of a target.
// GET /api/targets/{id}/pool
func (h *PoolHandler) TargetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.queries.OpenPool(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get open pool", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetTarget returns a target's directory entry.
// GET /api/targets/{id}
func (h *PoolHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.queries.Target(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// ListSlots returns the featured slots ordered by index.
// GET /api/slots
func (h *PoolHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.slots.Slots(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list slots", err)
		return
	}
	if slots == nil {
		slots = []domain.FeaturedSlot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// Balance returns an account's internal balance.
// GET /api/balances/{address}
func (h *PoolHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := pathParam(r, "address")
	bal, err := h.queries.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": domain.NormalizeContributor(account),
		"balance": bal,
	})
}
