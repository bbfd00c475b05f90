// Package store defines the storage-adapter interfaces that riftlog's
// append engine, reader, linker, deletion manager and subscription engine
// are built against. Concrete implementations live in es/adapters/*.
package store

import (
	"context"

	"github.com/riftlog/riftlog/es"
)

// Direction selects forward (ascending) or backward (descending) paging.
type Direction int

const (
	// Forward reads in ascending position order.
	Forward Direction = iota
	// Backward reads in descending position order.
	Backward
)

// EventStore appends events to a single stream under optimistic
// concurrency control.
type EventStore interface {
	// Append atomically appends events to stream under expectedVersion.
	// All events in the batch are adjacent in both stream order and
	// global order, and commit as a single unit (all-or-nothing). An
	// empty batch still validates expectedVersion but appends nothing.
	Append(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, events []es.Event) (es.AppendResult, error)
}

// Linker inserts references to existing events into another stream
// without copying payloads.
type Linker interface {
	// LinkToStream runs the same expected-version protocol as Append, but
	// inserts link rows pointing at existing eventIDs. Returns
	// es.ErrEventNotFound if an id doesn't exist, es.ErrDuplicateLink if an
	// id is already linked into the target stream.
	LinkToStream(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, eventIDs []string) (es.AppendResult, error)
}

// Reader pages through a concrete stream or through $all.
type Reader interface {
	// ReadStreamForward/ReadStreamBackward page a concrete stream by
	// 1-based stream_version, starting at fromVersion inclusive.
	ReadStreamForward(ctx context.Context, tx es.DBTX, stream string, fromVersion int64, count int) ([]es.RecordedEvent, error)
	ReadStreamBackward(ctx context.Context, tx es.DBTX, stream string, fromVersion int64, count int) ([]es.RecordedEvent, error)

	// ReadAllForward/ReadAllBackward page $all by global sequence,
	// starting at fromGlobal inclusive, transparently including linked
	// events (presented with their original StreamUUID/EventNumber).
	ReadAllForward(ctx context.Context, tx es.DBTX, fromGlobal int64, count int) ([]es.RecordedEvent, error)
	ReadAllBackward(ctx context.Context, tx es.DBTX, fromGlobal int64, count int) ([]es.RecordedEvent, error)

	// StreamInfo returns a stream's current state, or
	// (Stream{}, false, nil) if it has never existed.
	StreamInfo(ctx context.Context, tx es.DBTX, stream string) (es.Stream, bool, error)

	// Head returns the current maximum global sequence, 0 if $all is empty.
	Head(ctx context.Context, tx es.DBTX) (int64, error)
}

// DeleteMode selects soft or hard deletion.
type DeleteMode int

const (
	// SoftDelete hides the stream from direct reads/appends/links while
	// keeping its events in $all and in any linking streams.
	SoftDelete DeleteMode = iota
	// HardDelete physically removes the stream's events and all links to
	// them. Must be explicitly enabled in adapter configuration.
	HardDelete
)

// Deleter implements the soft/hard deletion policies of the deletion
// manager.
type Deleter interface {
	// DeleteStream validates expectedVersion then applies mode. Returns
	// es.ErrNotEnabled if mode is HardDelete and hard deletes are disabled.
	DeleteStream(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, mode DeleteMode) error
}

// Checkpointer persists and retrieves subscription progress. Implemented
// by the same adapter that implements EventStore, so checkpoint writes can
// be combined in the append engine's notification path if desired.
type Checkpointer interface {
	// GetCheckpoint returns the last acknowledged position for (stream,
	// name), or (0, false, nil) if the subscription has never been seen.
	GetCheckpoint(ctx context.Context, tx es.DBTX, stream, name string) (int64, bool, error)

	// UpsertCheckpoint idempotently persists lastSeen for (stream, name),
	// creating the subscription row on first use.
	UpsertCheckpoint(ctx context.Context, tx es.DBTX, stream, name string, lastSeen int64, state string) error

	// Park records a parked event for manual replay.
	Park(ctx context.Context, tx es.DBTX, stream, name string, position int64, reason string) error

	// ListParked returns parked positions for (stream, name) in ascending order.
	ListParked(ctx context.Context, tx es.DBTX, stream, name string) ([]ParkedEvent, error)

	// ClearParked removes a parked-event record after manual replay.
	ClearParked(ctx context.Context, tx es.DBTX, stream, name string, position int64) error
}

// ParkedEvent records why an event's delivery exceeded retry limits.
type ParkedEvent struct {
	Position int64
	Reason   string
}

// EventReader is the minimal read surface the subscription engine's
// catch-up loop needs: paging $all or a concrete stream from a position.
// It is a narrower view of Reader kept separate so in-memory fakes used in
// unit tests don't need to implement the full adapter surface.
type EventReader interface {
	ReadFrom(ctx context.Context, tx es.DBTX, stream string, fromPosition int64, count int) ([]es.RecordedEvent, error)
}
