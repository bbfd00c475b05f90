// Package migrations generates SQL DDL for riftlog's storage schema.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation. Table names must match the
// corresponding adapter's Config (es/adapters/postgres.Config and friends).
type Config struct {
	// OutputFolder is the directory where the migration file will be written.
	OutputFolder string

	// OutputFilename is the name of the migration file.
	OutputFilename string

	// StreamsTable, EventsTable, StreamEventsTable, SubscriptionsTable and
	// ParkedTable name the five tables riftlog needs.
	StreamsTable       string
	EventsTable        string
	StreamEventsTable  string
	SubscriptionsTable string
	ParkedTable        string
}

// DefaultConfig returns the default configuration, with a timestamped
// output filename and riftlog's default table names.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:       "migrations",
		OutputFilename:     fmt.Sprintf("%s_init_riftlog.sql", timestamp),
		StreamsTable:       "streams",
		EventsTable:        "events",
		StreamEventsTable:  "stream_events",
		SubscriptionsTable: "subscriptions",
		ParkedTable:        "subscription_parked",
	}
}

func writeFile(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeFile(config, generatePostgresSQL(config))
}

func generatePostgresSQL(c *Config) string {
	return fmt.Sprintf(`-- riftlog storage schema (PostgreSQL)
-- Generated: %s

-- Streams tracks every stream's identity, current version and deletion
-- state. Appends and links take a transaction-scoped advisory lock keyed on
-- stream_uuid before reading this row, so concurrent writers to the same
-- stream serialize without blocking writers to other streams.
CREATE TABLE IF NOT EXISTS %[2]s (
    id              BIGSERIAL PRIMARY KEY,
    stream_uuid     TEXT NOT NULL UNIQUE,
    stream_version  BIGINT NOT NULL DEFAULT 0,
    deleted_state   SMALLINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Events holds every event's canonical payload exactly once, keyed by
-- global_sequence for $all ordering. original_stream_id/original_stream_version
-- identify where the event was first appended; links never insert a row
-- here, only into stream_events.
CREATE TABLE IF NOT EXISTS %[3]s (
    global_sequence          BIGSERIAL PRIMARY KEY,
    event_id                 UUID NOT NULL UNIQUE,
    original_stream_id       BIGINT NOT NULL REFERENCES %[2]s(id),
    original_stream_version  BIGINT NOT NULL,
    event_type               TEXT NOT NULL,
    data                     BYTEA NOT NULL,
    metadata                 BYTEA,
    causation_id             UUID,
    correlation_id           UUID,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE (original_stream_id, original_stream_version)
);

CREATE INDEX IF NOT EXISTS idx_%[3]s_original_stream
    ON %[3]s (original_stream_id, original_stream_version);

-- stream_events is the per-stream projection of events: one row per
-- (stream, position), whether the event originated there or was linked in.
-- Reading a stream forward/backward only ever touches this table joined to
-- events; $all reads go directly against events.
CREATE TABLE IF NOT EXISTS %[4]s (
    stream_id                BIGINT NOT NULL REFERENCES %[2]s(id),
    stream_version            BIGINT NOT NULL,
    event_id                  UUID NOT NULL REFERENCES %[3]s(event_id),
    original_stream_id        BIGINT NOT NULL REFERENCES %[2]s(id),
    original_stream_version   BIGINT NOT NULL,

    PRIMARY KEY (stream_id, stream_version),
    UNIQUE (stream_id, event_id)
);

-- subscriptions persists one row per (stream_uuid, name) durable
-- subscription: its last acknowledged position and lifecycle state, so a
-- restarted process resumes catch-up from where it left off.
CREATE TABLE IF NOT EXISTS %[5]s (
    id           BIGSERIAL PRIMARY KEY,
    stream_uuid  TEXT NOT NULL,
    name         TEXT NOT NULL,
    last_seen    BIGINT NOT NULL DEFAULT 0,
    state        TEXT NOT NULL DEFAULT 'catching_up',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE (stream_uuid, name)
);

-- subscription_parked records events that exhausted their retry budget, so
-- an operator can inspect and replay them without blocking the rest of the
-- subscription's delivery order.
CREATE TABLE IF NOT EXISTS %[6]s (
    subscription_id  BIGINT NOT NULL REFERENCES %[5]s(id),
    position         BIGINT NOT NULL,
    reason           TEXT NOT NULL,
    parked_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (subscription_id, position)
);
`,
		time.Now().Format(time.RFC3339),
		c.StreamsTable, c.EventsTable, c.StreamEventsTable, c.SubscriptionsTable, c.ParkedTable,
	)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return writeFile(config, generateMySQLSQL(config))
}

func generateMySQLSQL(c *Config) string {
	return fmt.Sprintf(`-- riftlog storage schema (MySQL/MariaDB)
-- Generated: %s
-- Per-stream serialization uses SELECT ... FOR UPDATE on the streams row
-- instead of a Postgres advisory lock.

CREATE TABLE IF NOT EXISTS %[2]s (
    id              BIGINT AUTO_INCREMENT PRIMARY KEY,
    stream_uuid     VARCHAR(255) NOT NULL UNIQUE,
    stream_version  BIGINT NOT NULL DEFAULT 0,
    deleted_state   TINYINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %[3]s (
    global_sequence          BIGINT AUTO_INCREMENT PRIMARY KEY,
    event_id                 CHAR(36) NOT NULL UNIQUE,
    original_stream_id       BIGINT NOT NULL,
    original_stream_version  BIGINT NOT NULL,
    event_type               VARCHAR(255) NOT NULL,
    data                     LONGBLOB NOT NULL,
    metadata                 LONGBLOB,
    causation_id             CHAR(36),
    correlation_id           CHAR(36),
    created_at               TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    UNIQUE KEY unique_original_version (original_stream_id, original_stream_version),
    FOREIGN KEY (original_stream_id) REFERENCES %[2]s(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE INDEX idx_%[3]s_original_stream ON %[3]s (original_stream_id, original_stream_version);

CREATE TABLE IF NOT EXISTS %[4]s (
    stream_id                 BIGINT NOT NULL,
    stream_version            BIGINT NOT NULL,
    event_id                  CHAR(36) NOT NULL,
    original_stream_id        BIGINT NOT NULL,
    original_stream_version   BIGINT NOT NULL,

    PRIMARY KEY (stream_id, stream_version),
    UNIQUE KEY unique_stream_event (stream_id, event_id),
    FOREIGN KEY (stream_id) REFERENCES %[2]s(id),
    FOREIGN KEY (event_id) REFERENCES %[3]s(event_id),
    FOREIGN KEY (original_stream_id) REFERENCES %[2]s(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %[5]s (
    id           BIGINT AUTO_INCREMENT PRIMARY KEY,
    stream_uuid  VARCHAR(255) NOT NULL,
    name         VARCHAR(255) NOT NULL,
    last_seen    BIGINT NOT NULL DEFAULT 0,
    state        VARCHAR(32) NOT NULL DEFAULT 'catching_up',
    created_at   TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    UNIQUE KEY unique_subscription (stream_uuid, name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %[6]s (
    subscription_id  BIGINT NOT NULL,
    position         BIGINT NOT NULL,
    reason           TEXT NOT NULL,
    parked_at        TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    PRIMARY KEY (subscription_id, position),
    FOREIGN KEY (subscription_id) REFERENCES %[5]s(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		c.StreamsTable, c.EventsTable, c.StreamEventsTable, c.SubscriptionsTable, c.ParkedTable,
	)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeFile(config, generateSQLiteSQL(config))
}

func generateSQLiteSQL(c *Config) string {
	return fmt.Sprintf(`-- riftlog storage schema (SQLite)
-- Generated: %s
-- Per-stream serialization uses the adapter's write-intent UPDATE on the
-- streams row, standing in for row locking since SQLite has no
-- row-level locking primitive of its own.

CREATE TABLE IF NOT EXISTS %[2]s (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_uuid     TEXT NOT NULL UNIQUE,
    stream_version  INTEGER NOT NULL DEFAULT 0,
    deleted_state   INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS %[3]s (
    global_sequence          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id                 TEXT NOT NULL UNIQUE,
    original_stream_id       INTEGER NOT NULL REFERENCES %[2]s(id),
    original_stream_version  INTEGER NOT NULL,
    event_type               TEXT NOT NULL,
    data                     BLOB NOT NULL,
    metadata                 BLOB,
    causation_id             TEXT,
    correlation_id           TEXT,
    created_at               TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),

    UNIQUE (original_stream_id, original_stream_version)
);

CREATE INDEX IF NOT EXISTS idx_%[3]s_original_stream
    ON %[3]s (original_stream_id, original_stream_version);

CREATE TABLE IF NOT EXISTS %[4]s (
    stream_id                 INTEGER NOT NULL REFERENCES %[2]s(id),
    stream_version             INTEGER NOT NULL,
    event_id                   TEXT NOT NULL REFERENCES %[3]s(event_id),
    original_stream_id         INTEGER NOT NULL REFERENCES %[2]s(id),
    original_stream_version    INTEGER NOT NULL,

    PRIMARY KEY (stream_id, stream_version),
    UNIQUE (stream_id, event_id)
);

CREATE TABLE IF NOT EXISTS %[5]s (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_uuid  TEXT NOT NULL,
    name         TEXT NOT NULL,
    last_seen    INTEGER NOT NULL DEFAULT 0,
    state        TEXT NOT NULL DEFAULT 'catching_up',
    created_at   TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),

    UNIQUE (stream_uuid, name)
);

CREATE TABLE IF NOT EXISTS %[6]s (
    subscription_id  INTEGER NOT NULL REFERENCES %[5]s(id),
    position         INTEGER NOT NULL,
    reason           TEXT NOT NULL,
    parked_at        TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),

    PRIMARY KEY (subscription_id, position)
);
`,
		time.Now().Format(time.RFC3339),
		c.StreamsTable, c.EventsTable, c.StreamEventsTable, c.SubscriptionsTable, c.ParkedTable,
	)
}
