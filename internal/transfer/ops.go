package transfer

import (
	"context"
	"fmt"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
)

// StatusReport is a sync record together with its queue.
type StatusReport struct {
	Record *model.SyncRecord  `json:"sync"`
	Items  []model.QueueItem  `json:"items"`
	Counts config.QueueCounts `json:"counts"`
}

// SyncStatus returns the sync state of a connection.
func (e *Engine) SyncStatus(ctx context.Context, connectionID int64) (*StatusReport, error) {
	rec, err := e.store.GetSyncRecordByConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListQueueItems(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	counts, err := e.store.CountQueueItems(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Record: rec, Items: items, Counts: counts}, nil
}

// ResetFailedItems puts a connection's failed items back to pending. Their
// offsets are kept, so the next run continues where each one stopped.
func (e *Engine) ResetFailedItems(ctx context.Context, connectionID int64) (int64, error) {
	if !e.running.TryLock() {
		return 0, ErrQueueBusy
	}
	defer e.running.Unlock()

	rec, err := e.store.GetSyncRecordByConnection(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	n, err := e.store.ResetFailedItems(ctx, rec.ID)
	if err != nil {
		return 0, fmt.Errorf("reset items of sync %d: %w", rec.ID, err)
	}
	if n == 0 {
		return 0, nil
	}

	rec.Status = model.SyncQueued
	rec.LastError = ""
	rec.Progress.Stage = model.StageTransferring
	rec.Progress.TablesFailed = max(rec.Progress.TablesFailed-int(n), 0)
	if err := e.store.UpdateSyncRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("update sync %d: %w", rec.ID, err)
	}
	e.logger.Info("failed queue items reset", "sync", rec.ID, "count", n)
	return n, nil
}

// DropSyncedData drops a connection's namespace and forgets its sync record
// and queue. The next initialization starts from a new namespace.
func (e *Engine) DropSyncedData(ctx context.Context, connectionID int64) error {
	if !e.running.TryLock() {
		return ErrQueueBusy
	}
	defer e.running.Unlock()

	rec, err := e.store.GetSyncRecordByConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := e.target.DropNamespace(ctx, rec.Namespace); err != nil {
		return model.NewError(model.ErrProvisioning, err)
	}
	if err := e.store.DeleteSyncRecord(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete sync %d: %w", rec.ID, err)
	}
	e.logger.Info("synced data dropped", "connection", connectionID, "namespace", rec.Namespace)
	return nil
}
