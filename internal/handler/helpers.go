package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/server/middleware"
	"github.com/faucetdb/reservoir/internal/transfer"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]any) {
	var ctxMap map[string]any
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeFailure maps an engine or store error onto a status code and writes
// it, carrying the error kind when there is one.
func writeFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: err.Error(),
			Kind:    model.KindOf(err),
		},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, config.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrNotSynced):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrQueueBusy):
		return http.StatusConflict
	}
	switch model.KindOf(err) {
	case model.ErrSourceUnreachable:
		return http.StatusBadGateway
	case model.ErrRouting, model.ErrQuery:
		return http.StatusBadRequest
	case model.ErrSchemaMapping:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return id, nil
}

// tenantFor resolves the tenant a request acts for. A tenant token pins the
// tenant; a body value naming another tenant is refused. Admin tokens and
// unauthenticated deployments use the requested tenant as given.
func tenantFor(r *http.Request, requested string) (string, error) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.Admin {
		return requested, nil
	}
	if requested != "" && requested != p.TenantID {
		return "", fmt.Errorf("token is not valid for tenant %q", requested)
	}
	return p.TenantID, nil
}

// isAdmin reports whether the caller may use cross-tenant operations.
func isAdmin(r *http.Request) bool {
	p := middleware.GetPrincipal(r.Context())
	return p == nil || p.Admin
}

// classifyDBError maps common database errors to appropriate HTTP status codes.
// Returns (httpStatus, cleanMessage).
func classifyDBError(err error, fallbackMsg string) (int, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry"):
		return http.StatusConflict, fallbackMsg + ": " + msg

	case strings.Contains(lower, "not null constraint") ||
		strings.Contains(lower, "null value in column"):
		return http.StatusBadRequest, fallbackMsg + ": " + msg

	case strings.Contains(lower, "foreign key") ||
		strings.Contains(lower, "check constraint"):
		return http.StatusBadRequest, fallbackMsg + ": " + msg

	default:
		return http.StatusInternalServerError, fallbackMsg + ": " + msg
	}
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
