package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/query"
	"github.com/faucetdb/reservoir/internal/scheduler"
)

// Scheduler keeps cron entries in step with connection changes.
type Scheduler interface {
	Schedule(ctx context.Context, conn *model.Connection) error
	Unschedule(connectionID int64)
}

// SystemHandler manages Reservoir's own configuration: connections and
// tenants.
type SystemHandler struct {
	store     *config.Store
	registry  *connector.Registry
	scheduler Scheduler
}

// NewSystemHandler creates a new SystemHandler. sched may be nil when
// in-process scheduling is off.
func NewSystemHandler(store *config.Store, registry *connector.Registry, sched Scheduler) *SystemHandler {
	return &SystemHandler{
		store:     store,
		registry:  registry,
		scheduler: sched,
	}
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// connectionRequest carries the secrets that model.Connection never
// serializes.
type connectionRequest struct {
	model.Connection
	Password  string           `json:"password"`
	SSHTunnel *sshTunnelSecret `json:"ssh_tunnel,omitempty"`
}

type sshTunnelSecret struct {
	model.SSHTunnel
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

func (req *connectionRequest) toModel() *model.Connection {
	c := req.Connection
	c.ID = 0
	c.Password = req.Password
	if req.SSHTunnel != nil {
		t := req.SSHTunnel.SSHTunnel
		t.Password = req.SSHTunnel.Password
		t.PrivateKey = req.SSHTunnel.PrivateKey
		t.Passphrase = req.SSHTunnel.Passphrase
		c.SSHTunnel = &t
	}
	return &c
}

// ListConnections returns all registered connections.
// GET /api/v1/connections
func (h *SystemHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store.ListConnections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list connections: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: conns,
		Meta:     &model.ResponseMeta{Count: len(conns)},
	})
}

// CreateConnection registers a new data source.
// POST /api/v1/connections
func (h *SystemHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c := req.toModel()

	if c.Name == "" {
		writeError(w, http.StatusBadRequest, "Connection name is required")
		return
	}
	if c.Driver == "" {
		writeError(w, http.StatusBadRequest, "Driver is required")
		return
	}
	if c.DSN == "" && c.Host == "" && c.Driver != "sqlite" {
		writeError(w, http.StatusBadRequest, "Host or DSN is required")
		return
	}
	if c.StorageLocation != "" {
		loc, err := model.ParseStorageLocation(string(c.StorageLocation))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.StorageLocation = loc
	}
	if c.SyncSchedule != "" {
		if c.StorageLocation != model.StorageSynced {
			writeError(w, http.StatusBadRequest, "sync_schedule only applies to synced connections")
			return
		}
		if err := scheduler.ValidateSchedule(c.SyncSchedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if existing, err := h.store.GetConnectionByName(r.Context(), c.Name); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Connection already exists: "+c.Name)
		return
	}

	if err := h.store.CreateConnection(r.Context(), c); err != nil {
		status, msg := classifyDBError(err, "Failed to create connection")
		writeError(w, status, msg)
		return
	}

	if h.scheduler != nil && c.SyncSchedule != "" {
		if err := h.scheduler.Schedule(r.Context(), c); err != nil {
			writeJSON(w, http.StatusCreated, map[string]any{
				"connection":       c,
				"schedule_warning": "Connection saved but not scheduled: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetConnection returns a single connection.
// GET /api/v1/connections/{connectionId}
func (h *SystemHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := loadConnection(w, r, h.store)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteConnection removes a connection together with its sync record.
// Synced data must be dropped first.
// DELETE /api/v1/connections/{connectionId}
func (h *SystemHandler) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if rec, err := h.store.GetSyncRecordByConnection(r.Context(), id); err == nil {
		writeError(w, http.StatusConflict,
			"Connection has synced data; DELETE its sync first", map[string]any{"namespace": rec.Namespace})
		return
	}

	if err := h.store.DeleteConnection(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete connection: "+err.Error())
		return
	}

	if h.scheduler != nil {
		h.scheduler.Unschedule(id)
	}
	_ = h.registry.Disconnect(connector.Key(id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// TestConnection opens a throwaway connection to the source and pings it.
// POST /api/v1/connections/{connectionId}/test
func (h *SystemHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	c, ok := loadConnection(w, r, h.store)
	if !ok {
		return
	}

	conn, err := h.registry.Open(r.Context(), connector.ConfigFromConnection(c))
	if err != nil {
		writeFailure(w, model.NewError(model.ErrSourceUnreachable, err))
		return
	}
	defer conn.Disconnect()

	if err := conn.Ping(r.Context()); err != nil {
		writeFailure(w, model.NewError(model.ErrSourceUnreachable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "driver": conn.DriverName()})
}

// loadConnection resolves the {connectionId} path parameter, writing the
// error response itself when it cannot.
func loadConnection(w http.ResponseWriter, r *http.Request, store *config.Store) (*model.Connection, bool) {
	id, err := pathID(r, "connectionId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	c, err := store.GetConnection(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Connection not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get connection: "+err.Error())
		return nil, false
	}
	return c, true
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// ListTenants returns every tenant of the shared store.
// GET /api/v1/tenants
func (h *SystemHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tenants: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: tenants,
		Meta:     &model.ResponseMeta{Count: len(tenants)},
	})
}

// CreateTenant maps a tenant onto its database role. The role and its
// schema are provisioned in the shared store out of band.
// POST /api/v1/tenants
func (h *SystemHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var t model.Tenant
	if err := readJSON(r, &t); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if t.ID == "" || t.RoleName == "" {
		writeError(w, http.StatusBadRequest, "id and role_name are required")
		return
	}
	if err := query.ValidateIdentifier(t.RoleName); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid role_name: "+err.Error())
		return
	}
	if _, err := h.store.TenantRoleName(r.Context(), t.ID); err == nil {
		writeError(w, http.StatusConflict, "Tenant already exists: "+t.ID)
		return
	}
	if err := h.store.CreateTenant(r.Context(), &t); err != nil {
		status, msg := classifyDBError(err, "Failed to create tenant")
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// DeleteTenant removes a tenant mapping.
// DELETE /api/v1/tenants/{tenantId}
func (h *SystemHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantId")
	if err := h.store.DeleteTenant(r.Context(), id); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tenant not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete tenant: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
