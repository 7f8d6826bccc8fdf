// Package transfer copies source tables into per-connection namespaces of
// the target store. Work is split into queue items, one per table, that are
// advanced one chunk at a time so a run can stop after any chunk and resume
// from the stored offset on the next invocation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/reservoir/internal/config"
	"github.com/faucetdb/reservoir/internal/connector"
	"github.com/faucetdb/reservoir/internal/connector/postgres"
	"github.com/faucetdb/reservoir/internal/model"
)

const (
	DefaultChunkSize = 5000
	DefaultBudget    = 50 * time.Second
	DefaultBatchSize = postgres.DefaultBatchSize
	// DefaultStaleAfter is how long an item may sit in processing before a
	// run treats it as abandoned. It must exceed the slowest chunk.
	DefaultStaleAfter = 10 * time.Minute

	maxClaimAttempts = 5
)

var (
	// ErrQueueEmpty is returned by ProcessNextQueueItem when nothing is pending.
	ErrQueueEmpty = errors.New("transfer queue is empty")
	// ErrQueueBusy is returned when a queue run, an initialization, a reset
	// or a drop is already in progress.
	ErrQueueBusy = errors.New("a queue run is already in progress")
	// ErrNotSynced is returned for connections whose storage location is not synced.
	ErrNotSynced = errors.New("connection does not use synced storage")
)

// Source is a database that tables can be copied from.
type Source interface {
	Introspect(ctx context.Context) (*model.Schema, error)
	ReadChunk(ctx context.Context, table string, offset, limit int64) (*model.ResultSet, error)
}

// SourceProvider opens the source behind a stored connection.
type SourceProvider interface {
	Source(ctx context.Context, conn *model.Connection) (Source, error)
}

// Target is the store that holds synced namespaces.
type Target interface {
	CreateNamespace(ctx context.Context, name string) error
	DropNamespace(ctx context.Context, name string) error
	CreateTable(ctx context.Context, ns string, t model.TableSchema) postgres.TableResult
	TruncateTable(ctx context.Context, ns, table string) error
	CountRows(ctx context.Context, ns, table string) (int64, error)
	BulkInsert(ctx context.Context, ns, table string, rs *model.ResultSet, batchSize int) (int64, error)
	FixSequence(ctx context.Context, ns, table, column string) error
}

// Options are the engine's tunables. Zero values take the defaults.
type Options struct {
	ChunkSize  int
	BatchSize  int
	Budget     time.Duration
	StaleAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	return o
}

// Engine initializes syncs and drains the transfer queue.
type Engine struct {
	store   *config.Store
	sources SourceProvider
	target  Target
	opts    Options
	logger  *slog.Logger

	running sync.Mutex
}

// NewEngine creates a transfer engine.
func NewEngine(store *config.Store, sources SourceProvider, target Target, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		sources: sources,
		target:  target,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "transfer"),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// NamespaceName generates the schema name for a connection's synced copy.
func NamespaceName(connectionID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "conn_" + strconv.FormatInt(connectionID, 10) + "_" + suffix
}

// RegistrySources resolves sources through a connector registry, reusing
// one live connection per stored connection.
type RegistrySources struct {
	Registry *connector.Registry
}

// Source implements SourceProvider.
func (r RegistrySources) Source(ctx context.Context, conn *model.Connection) (Source, error) {
	c, err := r.Registry.GetOrConnect(ctx, connector.Key(conn.ID), connector.ConfigFromConnection(conn))
	if err != nil {
		return nil, err
	}
	src, ok := c.(Source)
	if !ok {
		return nil, fmt.Errorf("driver %q cannot be used as a sync source", conn.Driver)
	}
	return src, nil
}
