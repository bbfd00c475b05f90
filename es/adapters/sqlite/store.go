// Package sqlite is riftlog's SQLite storage adapter: the same
// stream/events/stream_events schema as es/adapters/postgres, serialized per
// stream with a write-intent UPDATE standing in for row-level locking (SQLite
// has none), and backed by a notify.PollingBus since SQLite has no
// LISTEN/NOTIFY equivalent. Intended for embedded/single-process use and for
// fast subscription-engine tests against an in-memory (":memory:") database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riftlog/riftlog/es"
)

// Config configures table names and behavior for the SQLite adapter.
// Configuration is immutable after construction; build it with
// DefaultConfig and functional options.
type Config struct {
	// Logger is an optional observability hook. Nil disables logging.
	Logger es.Logger

	// SchemaPrefix is prepended to every table name, allowing multiple
	// stores to share one database file.
	SchemaPrefix string

	// StreamsTable, EventsTable, StreamEventsTable, SubscriptionsTable and
	// ParkedTable name the underlying tables (see es/migrations).
	StreamsTable       string
	EventsTable        string
	StreamEventsTable  string
	SubscriptionsTable string
	ParkedTable        string

	// EnableHardDeletes gates DeleteStream(..., HardDelete). Default off.
	EnableHardDeletes bool

	// ReadBatchSize is the default page size for streaming reads.
	ReadBatchSize int
}

// Option is a functional option for Config.
type Option func(*Config)

// WithLogger sets the adapter's logger.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithSchemaPrefix prepends prefix to every table name.
func WithSchemaPrefix(prefix string) Option {
	return func(c *Config) { c.SchemaPrefix = prefix }
}

// WithEnableHardDeletes opts into physical deletion.
func WithEnableHardDeletes(enabled bool) Option {
	return func(c *Config) { c.EnableHardDeletes = enabled }
}

// WithReadBatchSize overrides the default page size.
func WithReadBatchSize(n int) Option {
	return func(c *Config) { c.ReadBatchSize = n }
}

// DefaultConfig returns riftlog's default table names and settings.
func DefaultConfig() Config {
	return Config{
		StreamsTable:       "streams",
		EventsTable:        "events",
		StreamEventsTable:  "stream_events",
		SubscriptionsTable: "subscriptions",
		ParkedTable:        "subscription_parked",
		ReadBatchSize:      1000,
	}
}

// NewConfig builds a Config from DefaultConfig with opts applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c Config) table(name string) string {
	return c.SchemaPrefix + name
}

func (c Config) streamsTable() string       { return c.table(c.StreamsTable) }
func (c Config) eventsTable() string        { return c.table(c.EventsTable) }
func (c Config) streamEventsTable() string  { return c.table(c.StreamEventsTable) }
func (c Config) subscriptionsTable() string { return c.table(c.SubscriptionsTable) }
func (c Config) parkedTable() string        { return c.table(c.ParkedTable) }

// Store is riftlog's SQLite-backed adapter. It implements store.EventStore,
// store.Linker, store.Reader, store.Deleter and store.Checkpointer.
type Store struct {
	db     *sql.DB
	config Config
}

// NewStore creates a Store bound to db. Callers opening db should enable
// busy_timeout (e.g. "_busy_timeout=5000" in the DSN) so concurrent writers
// block and retry instead of failing immediately with SQLITE_BUSY.
func NewStore(db *sql.DB, config Config) *Store {
	return &Store{db: db, config: config}
}

// streamRow is the internal view of a streams row used by Append, Link and
// DeleteStream.
type streamRow struct {
	id      int64
	version int64
	deleted es.DeletedState
}

// lockAndLoadStream serializes concurrent writers to the same stream. SQLite
// has no row-level lock, so a zero-effect UPDATE against the streams row is
// issued first: it forces SQLite's single database-wide write lock to be
// acquired (or blocks/fails with SQLITE_BUSY until it can be) before the
// value is read, closing the read-then-write race a bare SELECT would leave
// open. A never-created stream has no row to touch, so the unique
// constraint on stream_uuid is the safety net for two first-appends racing
// to create it, same as the Postgres/MySQL adapters.
func (s *Store) lockAndLoadStream(ctx context.Context, tx es.DBTX, stream string) (streamRow, bool, error) {
	touchQuery := fmt.Sprintf(`UPDATE %s SET stream_version = stream_version WHERE stream_uuid = ?`, s.config.streamsTable())
	if _, err := tx.ExecContext(ctx, touchQuery, stream); err != nil {
		return streamRow{}, false, fmt.Errorf("riftlog/sqlite: acquire write intent for stream %q: %w", stream, err)
	}

	query := fmt.Sprintf(`SELECT id, stream_version, deleted_state FROM %s WHERE stream_uuid = ?`, s.config.streamsTable())
	var row streamRow
	var deleted int
	err := tx.QueryRowContext(ctx, query, stream).Scan(&row.id, &row.version, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return streamRow{}, false, nil
	}
	if err != nil {
		return streamRow{}, false, fmt.Errorf("riftlog/sqlite: load stream %q: %w", stream, err)
	}
	row.deleted = es.DeletedState(deleted)
	return row, true, nil
}

// createStream inserts a fresh streams row for a never-before-seen name.
func (s *Store) createStream(ctx context.Context, tx es.DBTX, stream, createdAt string) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s (stream_uuid, stream_version, deleted_state, created_at) VALUES (?, 0, ?, ?)`, s.config.streamsTable())
	result, err := tx.ExecContext(ctx, query, stream, int(es.StreamLive), createdAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: concurrent creation of stream %q", es.ErrWrongExpectedVersion, stream)
		}
		return 0, fmt.Errorf("riftlog/sqlite: create stream %q: %w", stream, err)
	}
	return result.LastInsertId()
}

// setStreamVersion updates a stream's version in place.
func (s *Store) setStreamVersion(ctx context.Context, tx es.DBTX, streamID, version int64) error {
	query := fmt.Sprintf(`UPDATE %s SET stream_version = ? WHERE id = ?`, s.config.streamsTable())
	_, err := tx.ExecContext(ctx, query, version, streamID)
	if err != nil {
		return fmt.Errorf("riftlog/sqlite: update stream version: %w", err)
	}
	return nil
}

func (s *Store) logger() es.Logger {
	if s.config.Logger == nil {
		return es.NoOpLogger{}
	}
	return s.config.Logger
}
