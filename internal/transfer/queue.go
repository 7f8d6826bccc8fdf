package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/query"
)

// ChunkResult reports one ProcessNextQueueItem step.
type ChunkResult struct {
	ItemID       int64             `json:"item_id"`
	SyncID       int64             `json:"sync_id"`
	Table        string            `json:"table"`
	RowsRead     int64             `json:"rows_read"`
	RowsInserted int64             `json:"rows_inserted"`
	Offset       int64             `json:"offset"`
	Status       model.QueueStatus `json:"status"`
	Error        string            `json:"error,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
}

// QueueRunResult reports one ProcessSyncQueue invocation.
type QueueRunResult struct {
	ItemsProcessed  int      `json:"items_processed"`
	RowsTransferred int64    `json:"rows_transferred"`
	Errors          []string `json:"errors"`
	Complete        bool     `json:"complete"`
	DurationMs      int64    `json:"duration_ms"`
}

// ProcessSyncQueue advances pending items chunk by chunk until the queue is
// empty or budget has elapsed. A zero budget uses the configured default.
// Only one run executes at a time; a concurrent call gets ErrQueueBusy.
func (e *Engine) ProcessSyncQueue(ctx context.Context, budget time.Duration) (*QueueRunResult, error) {
	if !e.running.TryLock() {
		return nil, ErrQueueBusy
	}
	defer e.running.Unlock()

	if budget <= 0 {
		budget = e.opts.Budget
	}
	start := time.Now()
	deadline := start.Add(budget)

	// The lock only covers this process; a run in another process keeps
	// its item fresh, so only items idle for StaleAfter are taken back.
	if n, err := e.store.RequeueStaleItems(ctx, start.Add(-e.opts.StaleAfter)); err != nil {
		return nil, fmt.Errorf("requeue stale items: %w", err)
	} else if n > 0 {
		e.logger.Warn("requeued abandoned queue items", "count", n)
	}

	res := &QueueRunResult{Errors: []string{}}
	for time.Now().Before(deadline) && ctx.Err() == nil {
		chunk, err := e.ProcessNextQueueItem(ctx, e.opts.ChunkSize)
		if errors.Is(err, ErrQueueEmpty) {
			res.Complete = true
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		res.ItemsProcessed++
		res.RowsTransferred += chunk.RowsInserted
		if chunk.Error != "" {
			res.Errors = append(res.Errors, chunk.Table+": "+chunk.Error)
		}
	}
	res.DurationMs = time.Since(start).Milliseconds()

	observability.RecordQueueRun(res.Complete)
	e.logger.Info("queue run finished",
		"items", res.ItemsProcessed,
		"rows", res.RowsTransferred,
		"errors", len(res.Errors),
		"complete", res.Complete,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

// ProcessNextQueueItem claims the oldest highest-priority pending item and
// transfers one chunk of at most chunkSize rows. A failure of the item is
// reported in ChunkResult.Error and leaves the item in the error state; the
// returned error is reserved for an empty queue and store failures.
//
// Callers must not run it concurrently with ProcessSyncQueue.
func (e *Engine) ProcessNextQueueItem(ctx context.Context, chunkSize int) (*ChunkResult, error) {
	if chunkSize <= 0 {
		chunkSize = e.opts.ChunkSize
	}
	item, err := e.claimNext(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &ChunkResult{ItemID: item.ID, SyncID: item.SyncID, Table: item.TableName}
	rec, procErr := e.transferChunk(ctx, item, int64(chunkSize), res)

	// Bookkeeping must land even when ctx was cancelled mid-chunk.
	bg := context.WithoutCancel(ctx)
	switch {
	case procErr != nil && ctx.Err() != nil:
		item.Status = model.QueuePending
	case procErr != nil:
		item.Status = model.QueueError
		item.ErrorMessage = query.TruncateMessage(procErr.Error(), 0)
		res.Error = item.ErrorMessage
		observability.RecordError("transfer", string(model.ErrTransfer))
		e.logger.Error("chunk failed", "table", item.TableName, "offset", item.LastRowOffset, "error", procErr)
	}
	res.Status = item.Status
	res.Offset = item.LastRowOffset
	res.DurationMs = time.Since(start).Milliseconds()

	if err := e.store.UpdateQueueItem(bg, item); err != nil {
		return nil, fmt.Errorf("update queue item %d: %w", item.ID, err)
	}
	observability.RecordChunk(string(item.Status), res.RowsInserted, time.Since(start).Seconds())

	if item.Status == model.QueueCompleted && item.AutoIncrement != "" && rec != nil {
		if err := e.target.FixSequence(bg, rec.Namespace, item.TableName, item.AutoIncrement); err != nil {
			e.logger.Warn("fix sequence failed", "table", item.TableName, "column", item.AutoIncrement, "error", err)
		}
	}
	if err := e.refreshRecord(bg, item.SyncID, item.TableName, res.RowsInserted); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) claimNext(ctx context.Context) (*model.QueueItem, error) {
	for range maxClaimAttempts {
		item, err := e.store.NextPendingItem(ctx)
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrQueueEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("select next queue item: %w", err)
		}
		ok, err := e.store.ClaimQueueItem(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("claim queue item %d: %w", item.ID, err)
		}
		if ok {
			item.Status = model.QueueProcessing
			return item, nil
		}
	}
	return nil, fmt.Errorf("could not claim a queue item after %d attempts", maxClaimAttempts)
}

// transferChunk moves one chunk and advances item in place. On success the
// item is left pending or completed.
func (e *Engine) transferChunk(ctx context.Context, item *model.QueueItem, chunkSize int64, res *ChunkResult) (*model.SyncRecord, error) {
	rec, err := e.store.GetSyncRecord(ctx, item.SyncID)
	if err != nil {
		return nil, fmt.Errorf("load sync %d: %w", item.SyncID, err)
	}
	conn, err := e.store.GetConnection(ctx, rec.ConnectionID)
	if err != nil {
		return rec, fmt.Errorf("load connection %d: %w", rec.ConnectionID, err)
	}
	src, err := e.sources.Source(ctx, conn)
	if err != nil {
		return rec, fmt.Errorf("open source %s: %w", conn.Name, err)
	}

	if item.LastRowOffset == 0 {
		if err := e.target.TruncateTable(ctx, rec.Namespace, item.TableName); err != nil {
			return rec, err
		}
	}

	rs, err := src.ReadChunk(ctx, item.SourceTable, item.LastRowOffset, chunkSize)
	if err != nil {
		return rec, fmt.Errorf("read %s at offset %d: %w", item.SourceTable, item.LastRowOffset, err)
	}
	n := int64(rs.Len())
	res.RowsRead = n
	if n > 0 {
		inserted, err := e.target.BulkInsert(ctx, rec.Namespace, item.TableName, rs, e.opts.BatchSize)
		if err != nil {
			return rec, err
		}
		res.RowsInserted = inserted
		item.LastRowOffset += n
	}

	if n < chunkSize {
		item.Status = model.QueueCompleted
		e.logger.Info("table transferred", "table", item.TableName, "rows", item.LastRowOffset)
	} else {
		item.Status = model.QueuePending
	}
	item.ErrorMessage = ""
	return rec, nil
}

// refreshRecord recomputes the sync's progress and status from its queue.
func (e *Engine) refreshRecord(ctx context.Context, syncID int64, table string, rows int64) error {
	rec, err := e.store.GetSyncRecord(ctx, syncID)
	if err != nil {
		return fmt.Errorf("load sync %d: %w", syncID, err)
	}
	counts, err := e.store.CountQueueItems(ctx, syncID)
	if err != nil {
		return fmt.Errorf("count queue of sync %d: %w", syncID, err)
	}

	p := &rec.Progress
	p.RowsTransferred += rows
	p.CurrentTable = table
	p.TablesDone = p.TablesSkipped + counts.Completed
	p.TablesFailed = max(p.TablesTotal-p.TablesSkipped-counts.Total, 0) + counts.Error

	switch {
	case counts.AllCompleted():
		now := time.Now().UTC()
		rec.Status = model.SyncCompleted
		rec.LastSyncAt = &now
		rec.LastError = ""
		p.Stage = model.StageDone
		p.CurrentTable = ""
		e.logger.Info("sync completed", "sync", syncID, "namespace", rec.Namespace, "rows", p.RowsTransferred)
	case counts.Pending == 0 && counts.Processing == 0:
		rec.Status = model.SyncError
		rec.LastError = fmt.Sprintf("%d of %d tables failed", counts.Error, counts.Total)
		p.Stage = model.StageFailed
		p.CurrentTable = ""
	default:
		rec.Status = model.SyncSyncing
		p.Stage = model.StageTransferring
	}
	if err := e.store.UpdateSyncRecord(ctx, rec); err != nil {
		return fmt.Errorf("update sync %d: %w", syncID, err)
	}
	return nil
}
