package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/reservoir/internal/model"
)

// ---------------------------------------------------------------------------
// Sync records
// ---------------------------------------------------------------------------

type syncRecordRow struct {
	ID           int64      `db:"id"`
	ConnectionID int64      `db:"connection_id"`
	Namespace    string     `db:"namespace"`
	Schedule     string     `db:"schedule"`
	Status       string     `db:"status"`
	ProgressJSON string     `db:"progress_json"`
	LastError    string     `db:"last_error"`
	LastSyncAt   *time.Time `db:"last_sync_at"`
	NextRunAt    *time.Time `db:"next_run_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func syncRecordRowFromModel(r *model.SyncRecord) (syncRecordRow, error) {
	progress, err := json.Marshal(r.Progress)
	if err != nil {
		return syncRecordRow{}, fmt.Errorf("encode sync progress: %w", err)
	}
	return syncRecordRow{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Namespace:    r.Namespace,
		Schedule:     r.Schedule,
		Status:       string(r.Status),
		ProgressJSON: string(progress),
		LastError:    r.LastError,
		LastSyncAt:   r.LastSyncAt,
		NextRunAt:    r.NextRunAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (r syncRecordRow) toModel() (model.SyncRecord, error) {
	rec := model.SyncRecord{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		Namespace:    r.Namespace,
		Schedule:     r.Schedule,
		Status:       model.SyncStatus(r.Status),
		LastError:    r.LastError,
		LastSyncAt:   r.LastSyncAt,
		NextRunAt:    r.NextRunAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ProgressJSON != "" {
		if err := json.Unmarshal([]byte(r.ProgressJSON), &rec.Progress); err != nil {
			return model.SyncRecord{}, fmt.Errorf("decode progress of sync %d: %w", r.ID, err)
		}
	}
	return rec, nil
}

// CreateSyncRecord inserts a sync record. A connection has at most one.
func (s *Store) CreateSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	if rec.Status == "" {
		rec.Status = model.SyncIdle
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	row, err := syncRecordRowFromModel(rec)
	if err != nil {
		return err
	}
	const q = `INSERT INTO sync_records
		(connection_id, namespace, schedule, status, progress_json, last_error, last_sync_at, next_run_at,
		 created_at, updated_at)
		VALUES
		(:connection_id, :namespace, :schedule, :status, :progress_json, :last_error, :last_sync_at, :next_run_at,
		 :created_at, :updated_at)`

	id, err := s.insert(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert sync record: %w", err)
	}
	rec.ID = id
	return nil
}

// GetSyncRecord returns a sync record by ID.
func (s *Store) GetSyncRecord(ctx context.Context, id int64) (*model.SyncRecord, error) {
	return s.getSyncRecord(ctx, "SELECT * FROM sync_records WHERE id = ?", id)
}

// GetSyncRecordByConnection returns the sync record of a connection.
func (s *Store) GetSyncRecordByConnection(ctx context.Context, connectionID int64) (*model.SyncRecord, error) {
	return s.getSyncRecord(ctx, "SELECT * FROM sync_records WHERE connection_id = ?", connectionID)
}

func (s *Store) getSyncRecord(ctx context.Context, q string, arg any) (*model.SyncRecord, error) {
	var row syncRecordRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	rec, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSyncRecords returns every sync record ordered by connection.
func (s *Store) ListSyncRecords(ctx context.Context) ([]model.SyncRecord, error) {
	var rows []syncRecordRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM sync_records ORDER BY connection_id"); err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	recs := make([]model.SyncRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toModel()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UpdateSyncRecord writes every mutable field of rec. The namespace is
// fixed at creation and never written here. UpdatedAt is refreshed
// automatically.
func (s *Store) UpdateSyncRecord(ctx context.Context, rec *model.SyncRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	row, err := syncRecordRowFromModel(rec)
	if err != nil {
		return err
	}
	const q = `UPDATE sync_records SET
		schedule = :schedule, status = :status, progress_json = :progress_json, last_error = :last_error,
		last_sync_at = :last_sync_at, next_run_at = :next_run_at, updated_at = :updated_at
		WHERE id = :id`
	if err := s.execNamed(ctx, q, row); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update sync record: %w", err)
	}
	return nil
}

// DeleteSyncRecord removes a sync record and, through the foreign key, its
// queue items.
func (s *Store) DeleteSyncRecord(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sync_records WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete sync record: %w", err)
	}
	return requireRows(result)
}

// ---------------------------------------------------------------------------
// Queue items
// ---------------------------------------------------------------------------

// QueueCounts summarizes the queue items of one sync by status.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
}

// AllCompleted reports whether the sync has items and all of them completed.
func (c QueueCounts) AllCompleted() bool {
	return c.Total > 0 && c.Completed == c.Total
}

// CreateQueueItem enqueues one table transfer.
func (s *Store) CreateQueueItem(ctx context.Context, item *model.QueueItem) error {
	if item.Status == "" {
		item.Status = model.QueuePending
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	const q = `INSERT INTO sync_queue_items
		(sync_id, table_name, source_table, status, last_row_offset, total_rows, priority,
		 auto_increment_column, error_message, created_at, updated_at)
		VALUES
		(:sync_id, :table_name, :source_table, :status, :last_row_offset, :total_rows, :priority,
		 :auto_increment_column, :error_message, :created_at, :updated_at)`

	id, err := s.insert(ctx, q, item)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	item.ID = id
	return nil
}

// GetQueueItem returns a queue item by ID.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*model.QueueItem, error) {
	var item model.QueueItem
	if err := s.db.GetContext(ctx, &item, s.db.Rebind("SELECT * FROM sync_queue_items WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return &item, nil
}

// ListQueueItems returns the items of a sync in processing order.
func (s *Store) ListQueueItems(ctx context.Context, syncID int64) ([]model.QueueItem, error) {
	var items []model.QueueItem
	const q = `SELECT * FROM sync_queue_items WHERE sync_id = ? ORDER BY priority DESC, id`
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(q), syncID); err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// NextPendingItem returns the highest-priority pending item across all
// syncs, oldest first among equals. It returns ErrNotFound when nothing is
// pending.
func (s *Store) NextPendingItem(ctx context.Context) (*model.QueueItem, error) {
	var item model.QueueItem
	const q = `SELECT * FROM sync_queue_items WHERE status = ?
		ORDER BY priority DESC, created_at, id LIMIT 1`
	if err := s.db.GetContext(ctx, &item, s.db.Rebind(q), string(model.QueuePending)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("next pending queue item: %w", err)
	}
	return &item, nil
}

// ClaimQueueItem moves a pending item to processing. It reports false when
// the item was no longer pending, so only one caller can win a claim.
func (s *Store) ClaimQueueItem(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE sync_queue_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		string(model.QueueProcessing), time.Now().UTC(), id, string(model.QueuePending))
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim queue item rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateQueueItem persists the status, offset, and error of an item.
func (s *Store) UpdateQueueItem(ctx context.Context, item *model.QueueItem) error {
	item.UpdatedAt = time.Now().UTC()
	const q = `UPDATE sync_queue_items SET
		status = :status, last_row_offset = :last_row_offset, total_rows = :total_rows,
		error_message = :error_message, updated_at = :updated_at
		WHERE id = :id`
	if err := s.execNamed(ctx, q, item); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update queue item: %w", err)
	}
	return nil
}

// DeleteQueueItems removes every item of a sync and returns how many went.
func (s *Store) DeleteQueueItems(ctx context.Context, syncID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sync_queue_items WHERE sync_id = ?"), syncID)
	if err != nil {
		return 0, fmt.Errorf("delete queue items: %w", err)
	}
	return result.RowsAffected()
}

// ResetFailedItems moves a sync's error items back to pending. Offsets are
// kept, so a reset item resumes where it failed.
func (s *Store) ResetFailedItems(ctx context.Context, syncID int64) (int64, error) {
	const q = `UPDATE sync_queue_items SET status = ?, error_message = '', updated_at = ?
		WHERE sync_id = ? AND status = ?`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		string(model.QueuePending), time.Now().UTC(), syncID, string(model.QueueError))
	if err != nil {
		return 0, fmt.Errorf("reset failed queue items: %w", err)
	}
	return result.RowsAffected()
}

// CountQueueItems tallies a sync's items by status.
func (s *Store) CountQueueItems(ctx context.Context, syncID int64) (QueueCounts, error) {
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	const q = `SELECT status, COUNT(*) AS n FROM sync_queue_items WHERE sync_id = ? GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), syncID); err != nil {
		return QueueCounts{}, fmt.Errorf("count queue items: %w", err)
	}

	var c QueueCounts
	for _, r := range rows {
		c.Total += r.N
		switch model.QueueStatus(r.Status) {
		case model.QueuePending:
			c.Pending = r.N
		case model.QueueProcessing:
			c.Processing = r.N
		case model.QueueCompleted:
			c.Completed = r.N
		case model.QueueError:
			c.Error = r.N
		}
	}
	return c, nil
}

// RequeueStaleItems moves processing items last touched before the cutoff
// back to pending. Such an item was left by a run that died mid-chunk; its
// offset still points at the last committed chunk. Items claimed after the
// cutoff may belong to a live run in another process and are left alone.
func (s *Store) RequeueStaleItems(ctx context.Context, before time.Time) (int64, error) {
	const q = `UPDATE sync_queue_items SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`
	result, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		string(model.QueuePending), time.Now().UTC(), string(model.QueueProcessing), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue stale queue items: %w", err)
	}
	return result.RowsAffected()
}
