package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/service"
)

// BidPlacer is the part of the bidding service the handler needs.
type BidPlacer interface {
	PlaceBid(ctx context.Context, in service.PlaceBidInput) (domain.BidReceipt, error)
}

// BidLister lists a contributor's bids.
type BidLister interface {
	ContributorBids(ctx context.Context, contributor string, opts domain.ListOpts) ([]domain.Bid, error)
}

// BidHandler serves bid endpoints.
type BidHandler struct {
	bids    BidPlacer
	queries BidLister
	logger  *slog.Logger
}

func NewBidHandler(bids BidPlacer, queries BidLister, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, queries: queries, logger: logHandler(logger, "bids")}
}

// PlaceBid accepts a contribution.
// POST /api/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var in service.PlaceBidInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Funding == "" {
		in.Funding = domain.FundingBalance
	}

	receipt, err := h.bids.PlaceBid(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns one contributor's bids in placement order.
// GET /api/bids?contributor=0x...&limit=50&offset=0
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	contributor := r.URL.Query().Get("contributor")
	if contributor == "" {
		writeError(w, http.StatusBadRequest, "contributor query parameter required")
		return
	}

	bids, err := h.queries.ContributorBids(r.Context(), contributor, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}
