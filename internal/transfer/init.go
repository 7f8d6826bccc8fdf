package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector/postgres"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/typemap"
)

// TableFailure is a source table that could not be provisioned.
type TableFailure struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

// InitResult reports what InitializeDataTransfer did.
type InitResult struct {
	SyncID    int64                  `json:"sync_id"`
	Namespace string                 `json:"namespace"`
	Status    model.SyncStatus       `json:"status"`
	Queued    []string               `json:"queued"`
	Skipped   []string               `json:"skipped"`
	Failed    []TableFailure         `json:"failed"`
	Tables    []postgres.TableResult `json:"tables"`
}

// InitializeDataTransfer prepares a full refresh of a synced connection:
// it introspects the source, provisions the namespace and its tables, and
// queues every table whose target row count differs from the source.
// It returns ErrQueueBusy while a queue run is in progress, since clearing
// the queue would pull items out from under it.
func (e *Engine) InitializeDataTransfer(ctx context.Context, connectionID int64) (*InitResult, error) {
	if !e.running.TryLock() {
		return nil, ErrQueueBusy
	}
	defer e.running.Unlock()

	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection %d: %w", connectionID, err)
	}
	if conn.StorageLocation != model.StorageSynced {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSynced, conn.Name, conn.StorageLocation)
	}

	rec, err := e.loadOrCreateRecord(ctx, conn)
	if err != nil {
		return nil, err
	}
	rec.Status = model.SyncSyncing
	rec.LastError = ""
	rec.Progress = model.SyncProgress{Stage: model.StageIntrospecting}
	if err := e.store.UpdateSyncRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update sync %d: %w", rec.ID, err)
	}

	log := e.logger.With("connection", conn.Name, "namespace", rec.Namespace)
	log.Info("initializing sync")

	schema, err := e.introspect(ctx, conn)
	if err != nil {
		e.fail(ctx, rec, err)
		observability.RecordSyncInit(string(model.SyncError), 0, 0, 0)
		observability.RecordError("transfer", string(model.ErrSourceUnreachable))
		return nil, model.NewError(model.ErrSourceUnreachable, err)
	}

	rec.Progress.Stage = model.StageProvisioning
	rec.Progress.TablesTotal = len(schema.Tables)
	e.save(ctx, rec)

	if err := e.target.CreateNamespace(ctx, rec.Namespace); err != nil {
		e.fail(ctx, rec, err)
		observability.RecordSyncInit(string(model.SyncError), 0, 0, 0)
		observability.RecordError("transfer", string(model.ErrProvisioning))
		return nil, model.NewError(model.ErrProvisioning, err)
	}

	res := &InitResult{
		SyncID:    rec.ID,
		Namespace: rec.Namespace,
		Queued:    []string{},
		Skipped:   []string{},
		Failed:    []TableFailure{},
		Tables:    []postgres.TableResult{},
	}

	provisioned := e.provision(ctx, rec.Namespace, schema.Tables, res)

	rec.Progress.Stage = model.StageQueueing
	e.save(ctx, rec)

	if _, err := e.store.DeleteQueueItems(ctx, rec.ID); err != nil {
		e.fail(ctx, rec, err)
		return nil, fmt.Errorf("clear queue of sync %d: %w", rec.ID, err)
	}

	// Small tables first so that most charts become usable early.
	sort.SliceStable(provisioned, func(i, j int) bool {
		if provisioned[i].RowCount != provisioned[j].RowCount {
			return provisioned[i].RowCount < provisioned[j].RowCount
		}
		return provisioned[i].Name < provisioned[j].Name
	})

	for i, t := range provisioned {
		name := typemap.NormalizeIdentifier(t.Name)
		have, err := e.target.CountRows(ctx, rec.Namespace, name)
		if err != nil {
			log.Warn("count target rows failed", "table", name, "error", err)
			have = -1
		}
		if have == t.RowCount {
			log.Info("table already synced, skipped", "table", name, "rows", have)
			res.Skipped = append(res.Skipped, name)
			continue
		}

		item := &model.QueueItem{
			SyncID:      rec.ID,
			TableName:   name,
			SourceTable: t.Name,
			Status:      model.QueuePending,
			TotalRows:   t.RowCount,
			Priority:    len(provisioned) - i,
		}
		if col := t.AutoIncrementColumn(); col != "" {
			item.AutoIncrement = typemap.NormalizeIdentifier(col)
		}
		if err := e.store.CreateQueueItem(ctx, item); err != nil {
			e.fail(ctx, rec, err)
			return nil, fmt.Errorf("queue table %s: %w", name, err)
		}
		res.Queued = append(res.Queued, name)
	}

	rec.Progress.TablesSkipped = len(res.Skipped)
	rec.Progress.TablesDone = len(res.Skipped)
	rec.Progress.TablesFailed = len(res.Failed)
	switch {
	case len(res.Queued) > 0:
		rec.Status = model.SyncQueued
		rec.Progress.Stage = model.StageTransferring
	case len(res.Failed) > 0:
		rec.Status = model.SyncError
		rec.Progress.Stage = model.StageFailed
		rec.LastError = fmt.Sprintf("%d of %d tables failed to provision", len(res.Failed), len(schema.Tables))
	default:
		now := time.Now().UTC()
		rec.Status = model.SyncCompleted
		rec.Progress.Stage = model.StageDone
		rec.LastSyncAt = &now
	}
	if err := e.store.UpdateSyncRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("update sync %d: %w", rec.ID, err)
	}
	res.Status = rec.Status

	observability.RecordSyncInit(string(rec.Status), len(provisioned), len(res.Failed), len(res.Skipped))
	log.Info("sync initialized",
		"status", rec.Status,
		"queued", len(res.Queued),
		"skipped", len(res.Skipped),
		"failed", len(res.Failed),
	)
	return res, nil
}

func (e *Engine) loadOrCreateRecord(ctx context.Context, conn *model.Connection) (*model.SyncRecord, error) {
	rec, err := e.store.GetSyncRecordByConnection(ctx, conn.ID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("load sync record of %s: %w", conn.Name, err)
	}
	rec = &model.SyncRecord{
		ConnectionID: conn.ID,
		Namespace:    NamespaceName(conn.ID),
		Schedule:     conn.SyncSchedule,
	}
	if err := e.store.CreateSyncRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create sync record of %s: %w", conn.Name, err)
	}
	return rec, nil
}

func (e *Engine) introspect(ctx context.Context, conn *model.Connection) (*model.Schema, error) {
	src, err := e.sources.Source(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", conn.Name, err)
	}
	schema, err := src.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", conn.Name, err)
	}
	return schema, nil
}

// provision creates every table and returns the ones that can be loaded.
// A failure or a normalized-name collision only excludes that table.
func (e *Engine) provision(ctx context.Context, ns string, tables []model.TableSchema, res *InitResult) []model.TableSchema {
	seen := make(map[string]string, len(tables))
	ok := make([]model.TableSchema, 0, len(tables))
	for _, t := range tables {
		name := typemap.NormalizeIdentifier(t.Name)
		if prev, dup := seen[name]; dup {
			res.Failed = append(res.Failed, TableFailure{
				Table: t.Name,
				Error: fmt.Sprintf("normalized name %q collides with table %q", name, prev),
			})
			continue
		}
		seen[name] = t.Name

		tr := e.target.CreateTable(ctx, ns, t)
		res.Tables = append(res.Tables, tr)
		if !tr.Success {
			e.logger.Warn("provision table failed", "namespace", ns, "table", t.Name, "error", tr.Error)
			res.Failed = append(res.Failed, TableFailure{Table: t.Name, Error: tr.Error})
			continue
		}
		if tr.Recreated {
			e.logger.Info("source columns changed, table recreated", "namespace", ns, "table", tr.Table)
		}
		ok = append(ok, t)
	}
	return ok
}

// fail records err on the sync record. The error that triggered it is
// what the caller sees, so a failure to persist is only logged.
func (e *Engine) fail(ctx context.Context, rec *model.SyncRecord, err error) {
	rec.Status = model.SyncError
	rec.Progress.Stage = model.StageFailed
	rec.LastError = err.Error()
	e.save(ctx, rec)
}

func (e *Engine) save(ctx context.Context, rec *model.SyncRecord) {
	if err := e.store.UpdateSyncRecord(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("persist sync record failed", "sync", rec.ID, "error", err)
	}
}
