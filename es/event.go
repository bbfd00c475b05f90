package es

import (
	"time"

	"github.com/google/uuid"
)

// DeletedState describes the lifecycle state of a stream.
type DeletedState int

const (
	// StreamLive is the default state: the stream exists and accepts appends/links.
	StreamLive DeletedState = iota
	// StreamSoftDeleted hides a stream from direct reads/appends but keeps its
	// events in $all and in any streams that linked them.
	StreamSoftDeleted
	// StreamHardDeletedTombstone marks a stream whose events have been physically
	// removed. The tombstone itself persists: direct reads of it return
	// ErrStreamNotFound, and appends, links or deletes with any expectation
	// other than NoStream fail with ErrStreamDeleted.
	StreamHardDeletedTombstone
)

// String implements fmt.Stringer.
func (d DeletedState) String() string {
	switch d {
	case StreamLive:
		return "live"
	case StreamSoftDeleted:
		return "soft_deleted"
	case StreamHardDeletedTombstone:
		return "hard_deleted_tombstone"
	default:
		return "unknown"
	}
}

// Event is an immutable fact supplied by a caller for append or link.
// It carries no identity until the store assigns one.
type Event struct {
	// EventID uniquely identifies this event. If the zero UUID is supplied,
	// the store assigns a fresh one at append time.
	EventID uuid.UUID

	// EventType names the payload's shape. Free-form; the store never
	// interprets it beyond storing and indexing it.
	EventType string

	// Data is the opaque event payload. Encoding is the caller's concern
	// (see es/serializer).
	Data []byte

	// Metadata is an opaque sidecar payload (headers, tracing, etc.).
	Metadata []byte

	// CausationID identifies the event or command that caused this event.
	CausationID uuid.NullUUID

	// CorrelationID links related events across streams.
	CorrelationID uuid.NullUUID
}

// RecordedEvent is an Event after it has been durably appended.
type RecordedEvent struct {
	Event

	// EventNumber is the 1-based position of this event within its
	// original stream. Never reassigned by linking.
	EventNumber int64

	// StreamUUID is the identifier of the event's original stream, even
	// when the event is observed via a link in another stream.
	StreamUUID string

	// GlobalSequence is the strictly increasing commit-order position used
	// as the $all cursor. Assigned once, at original append; links do not
	// consume a new value.
	GlobalSequence int64

	// CreatedAt is the monotonic wall-clock commit timestamp.
	CreatedAt time.Time
}

// StreamVersion is an alias of EventNumber scoped to the original stream,
// kept as a method rather than a duplicate field so there is a single
// source of truth for an event's position.
func (e RecordedEvent) StreamVersion() int64 {
	return e.EventNumber
}

// Stream describes the current state of a named stream as seen by the store.
type Stream struct {
	StreamUUID    string
	StreamVersion int64
	DeletedState  DeletedState
	CreatedAt     time.Time
}

// IsDeleted reports whether the stream is soft- or hard-deleted.
func (s Stream) IsDeleted() bool {
	return s.DeletedState == StreamSoftDeleted || s.DeletedState == StreamHardDeletedTombstone
}

// AppendResult summarizes the outcome of a successful Append or Link call.
type AppendResult struct {
	// Events are the persisted events in the order they were appended.
	Events []RecordedEvent

	// FromVersion/ToVersion report the stream_version range this append
	// or link occupied within the target stream (inclusive).
	FromVersion int64
	ToVersion   int64

	// FromGlobal/ToGlobal report the global sequence range consumed by
	// original (non-link) events in this batch. Both are zero for a link
	// batch, which consumes no new global sequence values.
	FromGlobal int64
	ToGlobal   int64
}
