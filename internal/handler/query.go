package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/faucetdb/reservoir/internal/service"
)

// ChartRunner executes chart queries.
type ChartRunner interface {
	Run(ctx context.Context, q service.ChartQuery) service.ChartResult
	RunBatch(ctx context.Context, qs []service.ChartQuery) []service.ChartResult
	Refresh(ctx context.Context, q service.ChartQuery) service.ChartResult
}

// DefaultMaxBatchSize bounds the number of charts in one batch request.
const DefaultMaxBatchSize = 50

// QueryHandler answers chart queries. Query failures are part of the
// result, so both endpoints answer 200 once the request itself is valid.
type QueryHandler struct {
	charts   ChartRunner
	maxBatch int
}

// NewQueryHandler creates a new QueryHandler. A non-positive maxBatch uses
// DefaultMaxBatchSize.
func NewQueryHandler(charts ChartRunner, maxBatch int) *QueryHandler {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	return &QueryHandler{charts: charts, maxBatch: maxBatch}
}

type queryRequest struct {
	service.ChartQuery
	// Refresh drops cached results of the chart before running it.
	Refresh bool `json:"refresh,omitempty"`
}

type batchRequest struct {
	Queries []service.ChartQuery `json:"queries"`
}

type batchResponse struct {
	Results []service.ChartResult `json:"results"`
	Failed  int                   `json:"failed"`
}

// Query runs one chart.
// POST /api/v1/query
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	q, status, err := h.prepare(r, req.ChartQuery)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	var res service.ChartResult
	if req.Refresh {
		res = h.charts.Refresh(r.Context(), q)
	} else {
		res = h.charts.Run(r.Context(), q)
	}
	writeJSON(w, http.StatusOK, res)
}

// Batch runs several charts. A failing chart only marks its own result.
// POST /api/v1/query/batch
func (h *QueryHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "queries must not be empty")
		return
	}
	if len(req.Queries) > h.maxBatch {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch of %d queries exceeds the limit of %d", len(req.Queries), h.maxBatch))
		return
	}

	qs := make([]service.ChartQuery, len(req.Queries))
	for i, q := range req.Queries {
		prepared, status, err := h.prepare(r, q)
		if err != nil {
			writeError(w, status, fmt.Sprintf("query %d: %s", i, err), map[string]any{"index": i})
			return
		}
		qs[i] = prepared
	}

	results := h.charts.RunBatch(r.Context(), qs)
	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Meta.Error != "" {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// prepare validates a query and pins its tenant to the caller's.
func (h *QueryHandler) prepare(r *http.Request, q service.ChartQuery) (service.ChartQuery, int, error) {
	if q.ConnectionID <= 0 {
		return q, http.StatusBadRequest, fmt.Errorf("connection_id is required")
	}
	if q.SQL == "" {
		return q, http.StatusBadRequest, fmt.Errorf("sql is required")
	}
	tenant, err := tenantFor(r, q.TenantID)
	if err != nil {
		return q, http.StatusForbidden, err
	}
	q.TenantID = tenant
	return q, 0, nil
}
