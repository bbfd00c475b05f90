// Package postgres is riftlog's primary storage adapter: advisory-locked
// appends, $all-ordered reads, zero-copy links, soft/hard deletion, and a
// LISTEN/NOTIFY-backed notification bus, all against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riftlog/riftlog/es"
)

// Config configures table names and behavior for the Postgres adapter.
// Configuration is immutable after construction; build it with
// DefaultConfig and functional options.
type Config struct {
	// Logger is an optional observability hook. Nil disables logging.
	Logger es.Logger

	// SchemaPrefix is prepended to every table name, allowing multiple
	// stores to share one database.
	SchemaPrefix string

	// StreamsTable, EventsTable, StreamEventsTable, SubscriptionsTable and
	// ParkedTable name the underlying tables (see es/migrations).
	StreamsTable       string
	EventsTable        string
	StreamEventsTable  string
	SubscriptionsTable string
	ParkedTable        string

	// NotifyChannel is the LISTEN/NOTIFY channel name used by the bus.
	NotifyChannel string

	// EnableHardDeletes gates DeleteStream(..., HardDelete). Default off.
	EnableHardDeletes bool

	// ReadBatchSize is the default page size for streaming reads.
	ReadBatchSize int
}

// Option is a functional option for Config, following the teacher's
// WithLogger/WithEventsTable convention.
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

// WithNotifyChannel overrides the LISTEN/NOTIFY channel name.
func WithNotifyChannel(channel string) Option {
	return func(c *Config) { c.NotifyChannel = channel }
}

// DefaultConfig returns riftlog's default table names and settings.
func DefaultConfig() Config {
	return Config{
		StreamsTable:       "streams",
		EventsTable:        "events",
		StreamEventsTable:  "stream_events",
		SubscriptionsTable: "subscriptions",
		ParkedTable:        "subscription_parked",
		NotifyChannel:      "riftlog_events",
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

// Store is riftlog's PostgreSQL-backed adapter. It implements
// store.EventStore, store.Linker, store.Reader, store.Deleter and
// store.Checkpointer. It emits pg_notify on commit; the LISTEN side is the
// separate Listener (see NewListener).
type Store struct {
	db     *sql.DB
	config Config
}

// NewStore creates a Store bound to db. The Store keeps db but none of its
// operations read it: they all run against whatever es.DBTX the caller
// passes in, so application code controls transaction boundaries.
func NewStore(db *sql.DB, config Config) *Store {
	return &Store{db: db, config: config}
}

// acquireStreamLock takes a transaction-scoped advisory lock keyed by the
// stream's identity, serializing concurrent appenders to the same stream
// without blocking appends to other streams. The lock is released
// automatically at transaction end.
func (s *Store) acquireStreamLock(ctx context.Context, tx es.DBTX, stream string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, stream)
	if err != nil {
		return fmt.Errorf("riftlog/postgres: acquire advisory lock for stream %q: %w", stream, translateConnErr(err))
	}
	return nil
}

// streamRow is the internal view of a streams row used by Append, Link and
// DeleteStream.
type streamRow struct {
	id      int64
	version int64
	deleted es.DeletedState
}

// lockAndLoadStream acquires the advisory lock for stream and returns its
// current row, or (streamRow{}, false, nil) if it has never been created.
func (s *Store) lockAndLoadStream(ctx context.Context, tx es.DBTX, stream string) (streamRow, bool, error) {
	if err := s.acquireStreamLock(ctx, tx, stream); err != nil {
		return streamRow{}, false, err
	}

	query := fmt.Sprintf(`SELECT id, stream_version, deleted_state FROM %s WHERE stream_uuid = $1`, s.config.streamsTable())
	var row streamRow
	var deleted int
	err := tx.QueryRowContext(ctx, query, stream).Scan(&row.id, &row.version, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return streamRow{}, false, nil
	}
	if err != nil {
		return streamRow{}, false, fmt.Errorf("riftlog/postgres: load stream %q: %w", stream, translateConnErr(err))
	}
	row.deleted = es.DeletedState(deleted)
	return row, true, nil
}

// createStream inserts a fresh streams row for a never-before-seen name.
func (s *Store) createStream(ctx context.Context, tx es.DBTX, stream string) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, stream_version, deleted_state, created_at)
		VALUES ($1, 0, $2, NOW())
		RETURNING id
	`, s.config.streamsTable())

	var id int64
	err := tx.QueryRowContext(ctx, query, stream, int(es.StreamLive)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("riftlog/postgres: create stream %q: %w", stream, translateConnErr(err))
	}
	return id, nil
}

// setStreamVersion updates a stream's version in place.
func (s *Store) setStreamVersion(ctx context.Context, tx es.DBTX, streamID, version int64) error {
	query := fmt.Sprintf(`UPDATE %s SET stream_version = $1 WHERE id = $2`, s.config.streamsTable())
	_, err := tx.ExecContext(ctx, query, version, streamID)
	if err != nil {
		return fmt.Errorf("riftlog/postgres: update stream version: %w", translateConnErr(err))
	}
	return nil
}

func (s *Store) logger() es.Logger {
	if s.config.Logger == nil {
		return es.NoOpLogger{}
	}
	return s.config.Logger
}
