package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/model"
	"github.com/faucetdb/reservoir/internal/transfer"
)

type fakeStore struct {
	conns   []model.Connection
	records map[int64]*model.SyncRecord
	updates int
}

func (f *fakeStore) ListConnections(context.Context) ([]model.Connection, error) {
	return f.conns, nil
}

func (f *fakeStore) GetSyncRecordByConnection(_ context.Context, id int64) (*model.SyncRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, config.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) UpdateSyncRecord(_ context.Context, rec *model.SyncRecord) error {
	f.updates++
	cp := *rec
	f.records[rec.ConnectionID] = &cp
	return nil
}

type fakeSyncer struct {
	calls    []string
	queued   int
	initErr  error
	queueErr error
}

func (f *fakeSyncer) InitializeDataTransfer(_ context.Context, id int64) (*transfer.InitResult, error) {
	f.calls = append(f.calls, "init")
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &transfer.InitResult{Queued: make([]string, f.queued)}, nil
}

func (f *fakeSyncer) ProcessSyncQueue(context.Context, time.Duration) (*transfer.QueueRunResult, error) {
	f.calls = append(f.calls, "process")
	if f.queueErr != nil {
		return nil, f.queueErr
	}
	return &transfer.QueueRunResult{Complete: true}, nil
}

func newScheduler(t *testing.T, store *fakeStore, syncer *fakeSyncer, opts Options) *Scheduler {
	t.Helper()
	s, err := New(store, syncer, nil, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { <-s.Stop().Done() })
	return s
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		expr  string
		valid bool
	}{
		{"0 3 * * *", true},
		{"*/15 * * * *", true},
		{"@hourly", true},
		{"@every 30m", true},
		{"", false},
		{"every day", false},
		{"0 3 * *", false},
		{"61 * * * *", false},
	}
	for _, tt := range tests {
		err := ValidateSchedule(tt.expr)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateSchedule(%q) = %v, want valid=%v", tt.expr, err, tt.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ValidateSchedule(%q) error %v is not ErrInvalidSchedule", tt.expr, err)
		}
	}
}

func TestLoadRegistersScheduledSyncedConnections(t *testing.T) {
	store := &fakeStore{
		conns: []model.Connection{
			{ID: 1, Name: "shop", StorageLocation: model.StorageSynced, SyncSchedule: "0 3 * * *"},
			{ID: 2, Name: "manual", StorageLocation: model.StorageSynced},
			{ID: 3, Name: "live", StorageLocation: model.StorageExternal, SyncSchedule: "@hourly"},
			{ID: 4, Name: "typo", StorageLocation: model.StorageSynced, SyncSchedule: "daily"},
			{ID: 5, Name: "crm", StorageLocation: model.StorageSynced, SyncSchedule: "@every 1h"},
		},
		records: map[int64]*model.SyncRecord{},
	}
	s := newScheduler(t, store, &fakeSyncer{}, Options{})

	n, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 {
		t.Errorf("registered = %d, want 2", n)
	}
	ids := s.Scheduled()
	slices.Sort(ids)
	if !slices.Equal(ids, []int64{1, 5}) {
		t.Errorf("scheduled = %v", ids)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("cron entries = %d", got)
	}
}

func TestScheduleRecordsNextRun(t *testing.T) {
	store := &fakeStore{records: map[int64]*model.SyncRecord{
		1: {ID: 10, ConnectionID: 1, Status: model.SyncCompleted},
	}}
	s := newScheduler(t, store, &fakeSyncer{}, Options{})
	now := time.Date(2025, 6, 1, 1, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	conn := &model.Connection{ID: 1, Name: "shop", StorageLocation: model.StorageSynced, SyncSchedule: "CRON_TZ=UTC 0 3 * * *"}
	if err := s.Schedule(context.Background(), conn); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	rec := store.records[1]
	want := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	if rec.NextRunAt == nil || !rec.NextRunAt.Equal(want) {
		t.Errorf("next run = %v, want %v", rec.NextRunAt, want)
	}
	if rec.Schedule != "CRON_TZ=UTC 0 3 * * *" {
		t.Errorf("schedule = %q", rec.Schedule)
	}

	// Rescheduling replaces the entry.
	conn.SyncSchedule = "CRON_TZ=UTC 30 * * * *"
	if err := s.Schedule(context.Background(), conn); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("cron entries after reschedule = %d", got)
	}
	if next, ok := s.NextRun(1, now); !ok || !next.Equal(time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC)) {
		t.Errorf("NextRun = %v, %v", next, ok)
	}

	s.Unschedule(1)
	if _, ok := s.NextRun(1, now); ok {
		t.Error("connection still scheduled after Unschedule")
	}
}

func TestScheduleRejects(t *testing.T) {
	s := newScheduler(t, &fakeStore{records: map[int64]*model.SyncRecord{}}, &fakeSyncer{}, Options{})
	ctx := context.Background()

	err := s.Schedule(ctx, &model.Connection{ID: 1, StorageLocation: model.StorageSynced, SyncSchedule: "nope"})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad expression: %v", err)
	}
	if err := s.Schedule(ctx, &model.Connection{ID: 2, StorageLocation: model.StorageTenantShared, SyncSchedule: "@hourly"}); err == nil {
		t.Error("expected an error for a non-synced connection")
	}
	if len(s.Scheduled()) != 0 {
		t.Errorf("scheduled = %v", s.Scheduled())
	}
}

func TestRunConnection(t *testing.T) {
	tests := []struct {
		name      string
		syncer    fakeSyncer
		wantCalls []string
		wantErr   bool
	}{
		{"queued tables are drained", fakeSyncer{queued: 3}, []string{"init", "process"}, false},
		{"nothing queued", fakeSyncer{}, []string{"init"}, false},
		{"init failure", fakeSyncer{initErr: model.Errorf(model.ErrSourceUnreachable, "refused")}, []string{"init"}, true},
		{"init while queue busy", fakeSyncer{queued: 1, initErr: transfer.ErrQueueBusy}, []string{"init"}, false},
		{"queue busy", fakeSyncer{queued: 1, queueErr: transfer.ErrQueueBusy}, []string{"init", "process"}, false},
		{"queue failure", fakeSyncer{queued: 1, queueErr: errors.New("boom")}, []string{"init", "process"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{records: map[int64]*model.SyncRecord{1: {ID: 1, ConnectionID: 1}}}
			syncer := tt.syncer
			s := newScheduler(t, store, &syncer, Options{})
			if err := s.Schedule(context.Background(), &model.Connection{ID: 1, StorageLocation: model.StorageSynced, SyncSchedule: "@hourly"}); err != nil {
				t.Fatalf("Schedule: %v", err)
			}
			before := store.updates

			err := s.RunConnection(context.Background(), 1)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(syncer.calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", syncer.calls, tt.wantCalls)
			}
			if store.updates != before+1 {
				t.Errorf("next run was not recorded after the run")
			}
		})
	}
}

func TestSharedJobs(t *testing.T) {
	store := &fakeStore{records: map[int64]*model.SyncRecord{}}
	syncer := &fakeSyncer{}

	if _, err := New(store, syncer, nil, Options{DrainSchedule: "every minute"}, nil); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad drain schedule: %v", err)
	}

	s := newScheduler(t, store, syncer, Options{DrainSchedule: "@every 1m", SweepSchedule: "@every 10m"})
	// Without a sweeper only the drain entry exists.
	if got := len(s.cron.Entries()); got != 1 {
		t.Errorf("cron entries = %d, want 1", got)
	}
	s.drain()
	if !slices.Equal(syncer.calls, []string{"process"}) {
		t.Errorf("calls = %v", syncer.calls)
	}
}
