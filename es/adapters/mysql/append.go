package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// Append implements store.EventStore. Same algorithm as the Postgres
// adapter's Append, substituted onto MySQL's locking and ID-generation
// primitives: SELECT ... FOR UPDATE for per-stream serialization,
// LastInsertId() for global_sequence instead of RETURNING.
func (s *Store) Append(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if stream == "" {
		return es.AppendResult{}, fmt.Errorf("riftlog/mysql: stream must not be empty")
	}

	row, exists, err := s.lockAndLoadStream(ctx, tx, stream)
	if err != nil {
		return es.AppendResult{}, err
	}

	if err := expectedVersion.Validate(exists, row.version, row.deleted); err != nil {
		return es.AppendResult{}, err
	}

	streamID := row.id
	if !exists {
		streamID, err = s.createStream(ctx, tx, stream)
		if err != nil {
			return es.AppendResult{}, err
		}
	} else if row.deleted == es.StreamHardDeletedTombstone {
		if err := s.reviveStream(ctx, tx, streamID); err != nil {
			return es.AppendResult{}, err
		}
		row.version = 0
	}

	if len(events) == 0 {
		s.logger().Debug(ctx, "append no-op: empty batch", "stream", stream)
		return es.AppendResult{FromVersion: row.version, ToVersion: row.version}, nil
	}

	fromVersion := row.version + 1
	insertEventQuery := fmt.Sprintf(`
		INSERT INTO %s (
			event_id, original_stream_id, original_stream_version,
			event_type, data, metadata, causation_id, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.eventsTable())

	insertLinkQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_id, stream_version, event_id, original_stream_id, original_stream_version)
		VALUES (?, ?, ?, ?, ?)
	`, s.config.streamEventsTable())

	recorded := make([]es.RecordedEvent, len(events))
	var fromGlobal, toGlobal int64

	for i, ev := range events {
		eventID := ev.EventID
		if eventID == uuid.Nil {
			eventID = uuid.New()
		}
		eventNumber := fromVersion + int64(i)
		createdAt := time.Now().UTC()

		result, err := tx.ExecContext(ctx, insertEventQuery,
			eventID.String(), streamID, eventNumber,
			ev.EventType, ev.Data, ev.Metadata,
			fromNullUUID(ev.CausationID), fromNullUUID(ev.CorrelationID), createdAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return es.AppendResult{}, fmt.Errorf("%w: concurrent append to stream %q", es.ErrWrongExpectedVersion, stream)
			}
			return es.AppendResult{}, fmt.Errorf("riftlog/mysql: insert event %d: %w", i, translateConnErr(err))
		}

		globalSeq, err := result.LastInsertId()
		if err != nil {
			return es.AppendResult{}, fmt.Errorf("riftlog/mysql: read global_sequence: %w", err)
		}

		if _, err := tx.ExecContext(ctx, insertLinkQuery, streamID, eventNumber, eventID.String(), streamID, eventNumber); err != nil {
			return es.AppendResult{}, fmt.Errorf("riftlog/mysql: insert stream_events row %d: %w", i, translateConnErr(err))
		}

		if i == 0 {
			fromGlobal = globalSeq
		}
		toGlobal = globalSeq

		recorded[i] = es.RecordedEvent{
			Event:          ev,
			EventNumber:    eventNumber,
			StreamUUID:     stream,
			GlobalSequence: globalSeq,
			CreatedAt:      createdAt,
		}
		recorded[i].EventID = eventID
	}

	toVersion := fromVersion + int64(len(events)) - 1
	if err := s.setStreamVersion(ctx, tx, streamID, toVersion); err != nil {
		return es.AppendResult{}, err
	}

	s.logger().Info(ctx, "events appended",
		"stream", stream,
		"event_count", len(events),
		"from_version", fromVersion,
		"to_version", toVersion,
		"from_global", fromGlobal,
		"to_global", toGlobal)

	return es.AppendResult{
		Events:      recorded,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		FromGlobal:  fromGlobal,
		ToGlobal:    toGlobal,
	}, nil
}

var _ store.EventStore = (*Store)(nil)

// reviveStream resets a hard-deleted tombstone back to a live stream at
// version 0, allowing the name to be reused.
func (s *Store) reviveStream(ctx context.Context, tx es.DBTX, streamID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET stream_version = 0, deleted_state = ? WHERE id = ?`, s.config.streamsTable())
	_, err := tx.ExecContext(ctx, query, int(es.StreamLive), streamID)
	if err != nil {
		return fmt.Errorf("riftlog/mysql: revive stream: %w", translateConnErr(err))
	}
	return nil
}
