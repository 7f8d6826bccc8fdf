package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/typemap"
)

type introspector interface {
	Introspect(ctx context.Context) (*model.Schema, error)
}

// SchemaHandler serves source schema introspection and the PostgreSQL
// layout a sync would give each table.
type SchemaHandler struct {
	store    *config.Store
	registry *connector.Registry
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(store *config.Store, registry *connector.Registry) *SchemaHandler {
	return &SchemaHandler{store: store, registry: registry}
}

// ListTables introspects the source and returns its tables.
// GET /api/v1/connections/{connectionId}/schema
func (h *SchemaHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	schema, ok := h.introspect(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// GetTableSchema returns one source table with its mapped PostgreSQL columns.
// GET /api/v1/connections/{connectionId}/schema/{tableName}
func (h *SchemaHandler) GetTableSchema(w http.ResponseWriter, r *http.Request) {
	tableName := chi.URLParam(r, "tableName")
	schema, ok := h.introspect(w, r)
	if !ok {
		return
	}
	t := schema.Table(tableName)
	if t == nil {
		writeError(w, http.StatusNotFound, "Table not found: "+tableName)
		return
	}
	writeJSON(w, http.StatusOK, typemap.MapTable(*t))
}

func (h *SchemaHandler) introspect(w http.ResponseWriter, r *http.Request) (*model.Schema, bool) {
	c, ok := loadConnection(w, r, h.store)
	if !ok {
		return nil, false
	}

	conn, err := h.registry.GetOrConnect(r.Context(), connector.Key(c.ID), connector.ConfigFromConnection(c))
	if err != nil {
		writeFailure(w, model.NewError(model.ErrSourceUnreachable, err))
		return nil, false
	}
	in, ok := conn.(introspector)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Driver "+c.Driver+" does not support schema introspection")
		return nil, false
	}
	schema, err := in.Introspect(r.Context())
	if err != nil {
		writeFailure(w, model.NewError(model.ErrSourceUnreachable, err))
		return nil, false
	}
	return schema, true
}
