package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/faucetdb/reservoir/internal/transfer"
)

// SyncEngine is the transfer engine surface the API exposes.
type SyncEngine interface {
	InitializeDataTransfer(ctx context.Context, connectionID int64) (*transfer.InitResult, error)
	ProcessSyncQueue(ctx context.Context, budget time.Duration) (*transfer.QueueRunResult, error)
	SyncStatus(ctx context.Context, connectionID int64) (*transfer.StatusReport, error)
	ResetFailedItems(ctx context.Context, connectionID int64) (int64, error)
	DropSyncedData(ctx context.Context, connectionID int64) error
}

// maxRunBudget caps the budget a caller may ask a queue run for.
const maxRunBudget = 10 * time.Minute

// SyncHandler starts, inspects and drains syncs of synced connections.
type SyncHandler struct {
	engine SyncEngine
	logger *slog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine SyncEngine, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{engine: engine, logger: logger.With("component", "sync_api")}
}

// Init introspects the source, provisions the namespace and queues tables.
// POST /api/v1/connections/{connectionId}/sync
func (h *SyncHandler) Init(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.InitializeDataTransfer(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.logger.Info("sync initialized", "connection_id", id, "status", res.Status, "queued", len(res.Queued))
	writeJSON(w, http.StatusAccepted, res)
}

// Status returns the sync record and its queue.
// GET /api/v1/connections/{connectionId}/sync
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.engine.SyncStatus(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Reset puts failed queue items back to pending.
// POST /api/v1/connections/{connectionId}/sync/reset
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.engine.ResetFailedItems(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": n})
}

// Drop removes the synced namespace and the sync record.
// DELETE /api/v1/connections/{connectionId}/sync
func (h *SyncHandler) Drop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.DropSyncedData(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	h.logger.Info("synced data dropped", "connection_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RunQueue processes queue items until the queue is empty or the budget
// runs out. budget_ms overrides the configured budget.
// POST /api/v1/sync/run?budget_ms=
func (h *SyncHandler) RunQueue(w http.ResponseWriter, r *http.Request) {
	ms := queryInt(r, "budget_ms", 0)
	if ms < 0 {
		writeError(w, http.StatusBadRequest, "budget_ms must not be negative")
		return
	}
	budget := time.Duration(clampInt(ms, 0, int(maxRunBudget/time.Millisecond))) * time.Millisecond

	res, err := h.engine.ProcessSyncQueue(r.Context(), budget)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
