package handler

import (
	"context"
	"net/http"
)

// Invalidator drops cached chart results.
type Invalidator interface {
	InvalidateChart(ctx context.Context, chartID string) (int64, error)
	InvalidateTables(ctx context.Context, tenantID string, tables []string) (int64, error)
}

// CacheHandler exposes cache invalidation to data writers.
type CacheHandler struct {
	cache Invalidator
}

// NewCacheHandler creates a new CacheHandler. A nil cache answers every
// request with 404.
func NewCacheHandler(c Invalidator) *CacheHandler {
	return &CacheHandler{cache: c}
}

type invalidateRequest struct {
	ChartID  string   `json:"chart_id,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	Tables   []string `json:"tables,omitempty"`
}

// Invalidate drops every entry of a chart, or the tracked entries of a
// tenant that depend on any of the given tables. Chart invalidation and
// table invalidation across all tenants need an admin token.
// POST /api/v1/cache/invalidate
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "Result cache is disabled")
		return
	}

	var req invalidateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var (
		removed int64
		err     error
	)
	switch {
	case req.ChartID != "":
		if !isAdmin(r) {
			writeError(w, http.StatusForbidden, "Admin access required to invalidate a chart")
			return
		}
		removed, err = h.cache.InvalidateChart(r.Context(), req.ChartID)
	case len(req.Tables) > 0:
		tenant, terr := tenantFor(r, req.TenantID)
		if terr != nil {
			writeError(w, http.StatusForbidden, terr.Error())
			return
		}
		removed, err = h.cache.InvalidateTables(r.Context(), tenant, req.Tables)
	default:
		writeError(w, http.StatusBadRequest, "chart_id or tables is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to invalidate cache: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
