package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/service"
)

// AdminOps is the admin service surface exposed over HTTP.
type AdminOps interface {
	Deposit(ctx context.Context, account string, amount int64) (int64, error)
	UpsertTarget(ctx context.Context, t domain.Target) error
	MarkForRefund(ctx context.Context, bidID string) (domain.Bid, error)
	RefundAddress(ctx context.Context, address string) (service.RefundBatch, error)
	ReconcilePool(ctx context.Context, poolID string, fix bool) (service.Reconciliation, error)
	FindOrphans(ctx context.Context) ([]domain.Bid, error)
	RepairOrphans(ctx context.Context) (int, error)
	ForcePoolStatus(ctx context.Context, poolID string, to domain.PoolStatus) (domain.Pool, error)
	Archive(ctx context.Context, since, before time.Time) (domain.ArchiveResult, error)
	ListArchives(ctx context.Context, kind string) ([]domain.BlobInfo, error)
	AuditLog(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// AdminHandler serves the repair and operator endpoints. Routes are expected
// to sit behind middleware.AdminAuth.
type AdminHandler struct {
	admin  AdminOps
	logger *slog.Logger
}

func NewAdminHandler(admin AdminOps, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logHandler(logger, "admin")}
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Deposit credits an internal balance.
// POST /api/admin/deposits
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bal, err := h.admin.Deposit(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": domain.NormalizeContributor(req.Account),
		"balance": bal,
	})
}

type targetRequest struct {
	DisplayName  string `json:"display_name"`
	OwnerAddress string `json:"owner_address"`
}

// PutTarget creates or updates a target.
// PUT /api/admin/targets/{id}
func (h *AdminHandler) PutTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t := domain.Target{
		ID:           pathParam(r, "id"),
		DisplayName:  req.DisplayName,
		OwnerAddress: req.OwnerAddress,
	}
	if err := h.admin.UpsertTarget(r.Context(), t); err != nil {
		writeServiceError(w, r, h.logger, "upsert target", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// MarkForRefund moves a bid of a settled pool to pending_refund.
// POST /api/admin/bids/{id}/mark-refund
func (h *AdminHandler) MarkForRefund(w http.ResponseWriter, r *http.Request) {
	bid, err := h.admin.MarkForRefund(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "mark for refund", err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// RefundAddress refunds every pending_refund bid of an address.
// POST /api/admin/refunds/{address}
func (h *AdminHandler) RefundAddress(w http.ResponseWriter, r *http.Request) {
	batch, err := h.admin.RefundAddress(r.Context(), pathParam(r, "address"))
	if err != nil {
		writeServiceError(w, r, h.logger, "refund address", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Reconcile compares a pool's total with its live bids. POST also repairs a
// bidding pool's total.
// GET|POST /api/admin/pools/{id}/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	fix := r.Method == http.MethodPost
	rec, err := h.admin.ReconcilePool(r.Context(), pathParam(r, "id"), fix)
	if err != nil {
		writeServiceError(w, r, h.logger, "reconcile pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reconciliation": rec,
		"consistent":     rec.Consistent(),
	})
}

// ListOrphans lists active bids whose pool has completed.
// GET /api/admin/orphans
func (h *AdminHandler) ListOrphans(w http.ResponseWriter, r *http.Request) {
	bids, err := h.admin.FindOrphans(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "find orphans", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

// RepairOrphans marks orphaned bids outbid so the refund sweep picks them up.
// POST /api/admin/orphans/repair
func (h *AdminHandler) RepairOrphans(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.RepairOrphans(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "repair orphans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": n})
}

type statusRequest struct {
	Status domain.PoolStatus `json:"status"`
}

// ForceStatus moves a pool along a legal transition.
// POST /api/admin/pools/{id}/status
func (h *AdminHandler) ForceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pool, err := h.admin.ForcePoolStatus(r.Context(), pathParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, "force pool status", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

type archiveRequest struct {
	Since  time.Time `json:"since"`
	Before time.Time `json:"before"`
}

// Archive exports the rounds settled in [since, before).
// POST /api/admin/archive
func (h *AdminHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.admin.Archive(context.WithoutCancel(r.Context()), req.Since, req.Before)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListArchives lists archive files, optionally of one kind (pools or bids).
// GET /api/admin/archives?kind=pools
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	files, err := h.admin.ListArchives(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// AuditLog pages through the audit log.
// GET /api/admin/audit?event=bid.placed&pool_id=...&limit=50&offset=0&since=...
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	filter := domain.AuditFilter{
		ListOpts: parseListOpts(r),
		PoolID:   r.URL.Query().Get("pool_id"),
	}
	if v := r.URL.Query().Get("event"); v != "" {
		event, err := domain.ParseAuditEvent(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Event = event
	}
	entries, err := h.admin.AuditLog(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "audit log", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
