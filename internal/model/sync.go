package model

import "time"

// SyncStatus is the lifecycle state of a SyncRecord.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncQueued    SyncStatus = "queued"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncError     SyncStatus = "error"
)

// SyncStage names the step a sync is currently in, for progress display.
type SyncStage string

const (
	StageIntrospecting SyncStage = "introspecting"
	StageProvisioning  SyncStage = "provisioning"
	StageQueueing      SyncStage = "queueing"
	StageTransferring  SyncStage = "transferring"
	StageDone          SyncStage = "done"
	StageFailed        SyncStage = "failed"
)

// SyncProgress is a snapshot of where a sync run stands.
type SyncProgress struct {
	Stage           SyncStage `json:"stage"`
	TablesTotal     int       `json:"tables_total"`
	TablesDone      int       `json:"tables_done"`
	TablesSkipped   int       `json:"tables_skipped"`
	TablesFailed    int       `json:"tables_failed"`
	CurrentTable    string    `json:"current_table,omitempty"`
	RowsTransferred int64     `json:"rows_transferred"`
}

// SyncRecord tracks the synced copy of one connection. Namespace is
// generated on first sync and never changes afterwards, so row counts from
// one run can be compared with the next.
type SyncRecord struct {
	ID           int64        `json:"id"`
	ConnectionID int64        `json:"connection_id"`
	Namespace    string       `json:"namespace"`
	Schedule     string       `json:"schedule,omitempty"`
	Status       SyncStatus   `json:"status"`
	Progress     SyncProgress `json:"progress"`
	LastError    string       `json:"last_error,omitempty"`
	LastSyncAt   *time.Time   `json:"last_sync_at,omitempty"`
	NextRunAt    *time.Time   `json:"next_run_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// QueueStatus is the state of one table's transfer.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueError      QueueStatus = "error"
)

// QueueItem is one table's transfer job within a sync. LastRowOffset is the
// resume cursor into the source table.
type QueueItem struct {
	ID            int64       `json:"id" db:"id"`
	SyncID        int64       `json:"sync_id" db:"sync_id"`
	TableName     string      `json:"table_name" db:"table_name"`     // normalized target name
	SourceTable   string      `json:"source_table" db:"source_table"` // name as it exists in the source
	Status        QueueStatus `json:"status" db:"status"`
	LastRowOffset int64       `json:"last_row_offset" db:"last_row_offset"`
	TotalRows     int64       `json:"total_rows" db:"total_rows"`
	Priority      int         `json:"priority" db:"priority"`
	AutoIncrement string      `json:"auto_increment_column,omitempty" db:"auto_increment_column"`
	ErrorMessage  string      `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}
