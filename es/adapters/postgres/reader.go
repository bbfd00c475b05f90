package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// streamEventColumns is the column list shared by every query that scans
// into an eventRow, via stream_events joined to events and streams.
const streamEventColumns = `
	se.stream_version, e.event_id, e.event_type, e.data, e.metadata,
	e.causation_id, e.correlation_id, e.created_at, e.global_sequence, os.stream_uuid
`

// StreamInfo implements store.Reader.
func (s *Store) StreamInfo(ctx context.Context, tx es.DBTX, stream string) (es.Stream, bool, error) {
	query := fmt.Sprintf(`SELECT stream_uuid, stream_version, deleted_state, created_at FROM %s WHERE stream_uuid = $1`, s.config.streamsTable())

	var out es.Stream
	var deleted int
	err := tx.QueryRowContext(ctx, query, stream).Scan(&out.StreamUUID, &out.StreamVersion, &deleted, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return es.Stream{}, false, nil
	}
	if err != nil {
		return es.Stream{}, false, fmt.Errorf("riftlog/postgres: stream info %q: %w", stream, translateConnErr(err))
	}
	out.DeletedState = es.DeletedState(deleted)
	return out, true, nil
}

// Head implements store.Reader.
func (s *Store) Head(ctx context.Context, tx es.DBTX) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(global_sequence), 0) FROM %s`, s.config.eventsTable())
	var head int64
	if err := tx.QueryRowContext(ctx, query).Scan(&head); err != nil {
		return 0, fmt.Errorf("riftlog/postgres: read head: %w", translateConnErr(err))
	}
	return head, nil
}

// ReadStreamForward implements store.Reader. Reads of hard-deleted streams
// return es.ErrStreamNotFound; reads of soft-deleted streams return
// es.ErrStreamDeleted (§4.C).
func (s *Store) ReadStreamForward(ctx context.Context, tx es.DBTX, stream string, fromVersion int64, count int) ([]es.RecordedEvent, error) {
	return s.readStream(ctx, tx, stream, fromVersion, count, store.Forward)
}

// ReadStreamBackward implements store.Reader.
func (s *Store) ReadStreamBackward(ctx context.Context, tx es.DBTX, stream string, fromVersion int64, count int) ([]es.RecordedEvent, error) {
	return s.readStream(ctx, tx, stream, fromVersion, count, store.Backward)
}

func (s *Store) readStream(ctx context.Context, tx es.DBTX, stream string, fromVersion int64, count int, dir store.Direction) ([]es.RecordedEvent, error) {
	info, exists, err := s.StreamInfo(ctx, tx, stream)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, es.ErrStreamNotFound
	}
	switch info.DeletedState {
	case es.StreamHardDeletedTombstone:
		return nil, es.ErrStreamNotFound
	case es.StreamSoftDeleted:
		return nil, es.ErrStreamDeleted
	}

	cmp, order := ">=", "ASC"
	if dir == store.Backward {
		cmp, order = "<=", "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s se
		JOIN %s e ON e.event_id = se.event_id
		JOIN %s os ON os.id = se.original_stream_id
		JOIN %s s ON s.id = se.stream_id
		WHERE s.stream_uuid = $1 AND se.stream_version %s $2
		ORDER BY se.stream_version %s
		LIMIT $3
	`, streamEventColumns, s.config.streamEventsTable(), s.config.eventsTable(), s.config.streamsTable(), s.config.streamsTable(), cmp, order)

	rows, err := tx.QueryContext(ctx, query, stream, fromVersion, count)
	if err != nil {
		return nil, fmt.Errorf("riftlog/postgres: read stream %q: %w", stream, translateConnErr(err))
	}
	defer rows.Close()

	return scanEventRows(rows, stream)
}

// ReadAllForward implements store.Reader, transparently including linked
// events (§4.C): each row is presented with its original StreamUUID and
// EventNumber, but its position key for $all is GlobalSequence.
func (s *Store) ReadAllForward(ctx context.Context, tx es.DBTX, fromGlobal int64, count int) ([]es.RecordedEvent, error) {
	return s.readAll(ctx, tx, fromGlobal, count, store.Forward)
}

// ReadAllBackward implements store.Reader.
func (s *Store) ReadAllBackward(ctx context.Context, tx es.DBTX, fromGlobal int64, count int) ([]es.RecordedEvent, error) {
	return s.readAll(ctx, tx, fromGlobal, count, store.Backward)
}

func (s *Store) readAll(ctx context.Context, tx es.DBTX, fromGlobal int64, count int, dir store.Direction) ([]es.RecordedEvent, error) {
	cmp, order := ">=", "ASC"
	if dir == store.Backward {
		cmp, order = "<=", "DESC"
	}

	// $all only ever surfaces the original event row (soft-deleted streams
	// stay visible; hard-deleted streams physically disappear from
	// events, so they're excluded for free).
	query := fmt.Sprintf(`
		SELECT e.original_stream_version, e.event_id, e.event_type, e.data, e.metadata,
		       e.causation_id, e.correlation_id, e.created_at, e.global_sequence, os.stream_uuid
		FROM %s e
		JOIN %s os ON os.id = e.original_stream_id
		WHERE e.global_sequence %s $1
		ORDER BY e.global_sequence %s
		LIMIT $2
	`, s.config.eventsTable(), s.config.streamsTable(), cmp, order)

	rows, err := tx.QueryContext(ctx, query, fromGlobal, count)
	if err != nil {
		return nil, fmt.Errorf("riftlog/postgres: read $all: %w", translateConnErr(err))
	}
	defer rows.Close()

	return scanEventRows(rows, "$all")
}

// ReadFrom implements store.EventReader, the narrow surface the
// subscription engine's catch-up loop pages through: $all when stream is
// "$all", otherwise a concrete stream.
func (s *Store) ReadFrom(ctx context.Context, tx es.DBTX, stream string, fromPosition int64, count int) ([]es.RecordedEvent, error) {
	if stream == "$all" {
		return s.ReadAllForward(ctx, tx, fromPosition, count)
	}
	return s.ReadStreamForward(ctx, tx, stream, fromPosition, count)
}

func scanEventRows(rows *sql.Rows, context string) ([]es.RecordedEvent, error) {
	var out []es.RecordedEvent
	for rows.Next() {
		var r eventRow
		if err := rows.Scan(&r.streamVersion, &r.eventID, &r.eventType, &r.data, &r.metadata,
			&r.causationID, &r.correlationID, &r.createdAt, &r.globalSeq, &r.streamUUID); err != nil {
			return nil, fmt.Errorf("riftlog/postgres: scan %s row: %w", context, err)
		}
		recorded, err := r.toRecordedEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, recorded)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("riftlog/postgres: iterate %s rows: %w", context, err)
	}
	return out, nil
}

var _ store.Reader = (*Store)(nil)
var _ store.EventReader = (*Store)(nil)
