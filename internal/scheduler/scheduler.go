// Package scheduler triggers syncs and queue runs in-process on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/observability"
	"github.com/faucetdb/reservoir/internal/transfer"
)

// ErrInvalidSchedule is returned for expressions cron cannot parse.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Syncer is the part of the transfer engine the scheduler drives.
type Syncer interface {
	InitializeDataTransfer(ctx context.Context, connectionID int64) (*transfer.InitResult, error)
	ProcessSyncQueue(ctx context.Context, budget time.Duration) (*transfer.QueueRunResult, error)
}

// Store gives access to connections and their sync records.
type Store interface {
	ListConnections(ctx context.Context) ([]model.Connection, error)
	GetSyncRecordByConnection(ctx context.Context, connectionID int64) (*model.SyncRecord, error)
	UpdateSyncRecord(ctx context.Context, rec *model.SyncRecord) error
}

// Sweeper removes expired cache entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Options configures the shared jobs. Empty schedules disable them.
type Options struct {
	// DrainSchedule runs ProcessSyncQueue on its own, picking up items left
	// by a budget-limited run.
	DrainSchedule string
	// SweepSchedule removes expired cache entries.
	SweepSchedule string
	// Budget bounds each queue run. Zero uses the engine default.
	Budget time.Duration
}

// ValidateSchedule checks a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 15m".
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// Scheduler owns a cron runner with one entry per scheduled connection plus
// the optional drain and sweep entries.
type Scheduler struct {
	cron    *cron.Cron
	store   Store
	syncer  Syncer
	sweeper Sweeper
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[int64]entry
}

type entry struct {
	id       cron.EntryID
	expr     string
	schedule cron.Schedule
}

// New creates a scheduler. sweeper may be nil when caching is off.
func New(store Store, syncer Syncer, sweeper Sweeper, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		store:   store,
		syncer:  syncer,
		sweeper: sweeper,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]entry),
	}

	if opts.DrainSchedule != "" {
		if err := ValidateSchedule(opts.DrainSchedule); err != nil {
			cancel()
			return nil, fmt.Errorf("transfer schedule: %w", err)
		}
		if _, err := s.cron.AddFunc(opts.DrainSchedule, s.drain); err != nil {
			cancel()
			return nil, err
		}
		observability.SetScheduledJobs("drain", 1)
	}
	if opts.SweepSchedule != "" && sweeper != nil {
		if err := ValidateSchedule(opts.SweepSchedule); err != nil {
			cancel()
			return nil, fmt.Errorf("cache sweep schedule: %w", err)
		}
		if _, err := s.cron.AddFunc(opts.SweepSchedule, s.sweep); err != nil {
			cancel()
			return nil, err
		}
		observability.SetScheduledJobs("sweep", 1)
	}
	return s, nil
}

// Load registers every synced connection that has a schedule and returns
// how many were registered. A connection with a bad expression is logged
// and skipped so one typo does not stop the others.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}
	n := 0
	for i := range conns {
		c := &conns[i]
		if c.StorageLocation != model.StorageSynced || c.SyncSchedule == "" {
			continue
		}
		if err := s.Schedule(ctx, c); err != nil {
			s.logger.Warn("skipping connection schedule", "connection", c.Name, "schedule", c.SyncSchedule, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Schedule adds or replaces the sync entry for a connection and records
// its next run on the sync record, if one exists.
func (s *Scheduler) Schedule(ctx context.Context, conn *model.Connection) error {
	if conn.StorageLocation != model.StorageSynced {
		return fmt.Errorf("connection %q uses %s storage and is not synced", conn.Name, conn.StorageLocation)
	}
	sched, err := cron.ParseStandard(conn.SyncSchedule)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, conn.SyncSchedule, err)
	}

	id := conn.ID
	s.mu.Lock()
	if old, ok := s.entries[id]; ok {
		s.cron.Remove(old.id)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.RunConnection(s.ctx, id); err != nil {
			s.logger.Error("scheduled sync failed", "connection_id", id, "error", err)
		}
	}))
	s.entries[id] = entry{id: entryID, expr: conn.SyncSchedule, schedule: sched}
	observability.SetScheduledJobs("sync", len(s.entries))
	s.mu.Unlock()

	s.logger.Info("scheduled sync", "connection", conn.Name, "schedule", conn.SyncSchedule)
	s.recordNextRun(ctx, id)
	return nil
}

// Unschedule removes the sync entry of a connection, if any.
func (s *Scheduler) Unschedule(connectionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[connectionID]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, connectionID)
		observability.SetScheduledJobs("sync", len(s.entries))
	}
}

// NextRun reports when the connection's sync fires next after from.
func (s *Scheduler) NextRun(connectionID int64, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[connectionID]
	if !ok {
		return time.Time{}, false
	}
	return e.schedule.Next(from), true
}

// Scheduled returns the connection ids that have a sync entry.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// RunConnection initializes a sync for the connection and, when tables
// were queued, drains the queue within the configured budget. It is what
// each scheduled entry runs.
func (s *Scheduler) RunConnection(ctx context.Context, connectionID int64) error {
	defer s.recordNextRun(ctx, connectionID)

	ir, err := s.syncer.InitializeDataTransfer(ctx, connectionID)
	switch {
	case errors.Is(err, transfer.ErrQueueBusy):
		// Re-initializing would clear items a running invocation holds.
		s.logger.Warn("sync skipped, queue run in progress", "connection_id", connectionID)
		observability.RecordScheduledRun("sync", "busy")
		return nil
	case err != nil:
		observability.RecordScheduledRun("sync", "error")
		return err
	}
	s.logger.Info("sync initialized",
		"connection_id", connectionID, "status", ir.Status, "queued", len(ir.Queued), "skipped", len(ir.Skipped))
	if len(ir.Queued) == 0 {
		observability.RecordScheduledRun("sync", "ok")
		return nil
	}

	_, err = s.syncer.ProcessSyncQueue(ctx, s.opts.Budget)
	switch {
	case errors.Is(err, transfer.ErrQueueBusy):
		// The running invocation, or the next drain, will pick the items up.
		observability.RecordScheduledRun("sync", "busy")
		return nil
	case err != nil:
		observability.RecordScheduledRun("sync", "error")
		return err
	}
	observability.RecordScheduledRun("sync", "ok")
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "connections", len(s.Scheduled()))
	s.cron.Start()
}

// Stop halts new runs, cancels the context of running jobs and returns a
// context that is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.cancel()
	return done
}

func (s *Scheduler) drain() {
	res, err := s.syncer.ProcessSyncQueue(s.ctx, s.opts.Budget)
	switch {
	case errors.Is(err, transfer.ErrQueueBusy):
		observability.RecordScheduledRun("drain", "busy")
		s.logger.Debug("queue run already in progress")
	case err != nil:
		observability.RecordScheduledRun("drain", "error")
		s.logger.Error("scheduled queue run failed", "error", err)
	default:
		observability.RecordScheduledRun("drain", "ok")
		if res.ItemsProcessed > 0 {
			s.logger.Info("scheduled queue run", "items", res.ItemsProcessed, "rows", res.RowsTransferred, "complete", res.Complete)
		}
	}
}

func (s *Scheduler) sweep() {
	n, err := s.sweeper.Sweep(s.ctx)
	if err != nil {
		observability.RecordScheduledRun("sweep", "error")
		s.logger.Error("cache sweep failed", "error", err)
		return
	}
	observability.RecordScheduledRun("sweep", "ok")
	if n > 0 {
		s.logger.Debug("swept expired cache entries", "removed", n)
	}
}

// recordNextRun stores the upcoming run time on the connection's sync
// record. Connections that have never synced have no record yet.
func (s *Scheduler) recordNextRun(ctx context.Context, connectionID int64) {
	s.mu.Lock()
	e, ok := s.entries[connectionID]
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx = context.WithoutCancel(ctx)
	rec, err := s.store.GetSyncRecordByConnection(ctx, connectionID)
	if errors.Is(err, config.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("load sync record", "connection_id", connectionID, "error", err)
		return
	}
	next := e.schedule.Next(s.now()).UTC()
	rec.NextRunAt = &next
	rec.Schedule = e.expr
	if err := s.store.UpdateSyncRecord(ctx, rec); err != nil {
		s.logger.Warn("record next run", "connection_id", connectionID, "error", err)
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
