package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// Append implements store.EventStore.
//
// Algorithm (§4.B): acquire the per-stream advisory lock, read the
// stream's current version and deleted_state, validate expectedVersion,
// assign each event a fresh EventID and the next EventNumber, reserve a
// contiguous range of global sequence numbers, persist, update the
// stream's version, and (by the caller's eventual tx.Commit) make the
// commit notification observable to a Listener on Config.NotifyChannel.
func (s *Store) Append(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, events []es.Event) (es.AppendResult, error) {
	if stream == "" {
		return es.AppendResult{}, fmt.Errorf("riftlog/postgres: stream must not be empty")
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
		// NoStream against a tombstone is allowed to recreate the name at
		// version 0; reuse the existing row rather than insert a duplicate.
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING global_sequence, created_at
	`, s.config.eventsTable())

	insertLinkQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_id, stream_version, event_id, original_stream_id, original_stream_version)
		VALUES ($1, $2, $3, $4, $5)
	`, s.config.streamEventsTable())

	recorded := make([]es.RecordedEvent, len(events))
	var fromGlobal, toGlobal int64

	for i, ev := range events {
		eventID := ev.EventID
		if eventID == uuid.Nil {
			eventID = uuid.New()
		}
		eventNumber := fromVersion + int64(i)

		var globalSeq int64
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, insertEventQuery,
			eventID, streamID, eventNumber,
			ev.EventType, ev.Data, ev.Metadata,
			ev.CausationID, ev.CorrelationID,
		).Scan(&globalSeq, &createdAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return es.AppendResult{}, fmt.Errorf("%w: concurrent append to stream %q", es.ErrWrongExpectedVersion, stream)
			}
			return es.AppendResult{}, fmt.Errorf("riftlog/postgres: insert event %d: %w", i, translateConnErr(err))
		}

		if _, err := tx.ExecContext(ctx, insertLinkQuery, streamID, eventNumber, eventID, streamID, eventNumber); err != nil {
			return es.AppendResult{}, fmt.Errorf("riftlog/postgres: insert stream_events row %d: %w", i, translateConnErr(err))
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

	if err := s.notifyCommit(ctx, tx, stream, fromVersion, toVersion, fromGlobal, toGlobal, "appended"); err != nil {
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
// version 0, allowing the name to be reused per §4.E.
func (s *Store) reviveStream(ctx context.Context, tx es.DBTX, streamID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET stream_version = 0, deleted_state = $1 WHERE id = $2`, s.config.streamsTable())
	_, err := tx.ExecContext(ctx, query, int(es.StreamLive), streamID)
	if err != nil {
		return fmt.Errorf("riftlog/postgres: revive stream: %w", translateConnErr(err))
	}
	return nil
}

// notifyCommit emits a pg_notify carrying the commit's identity so a
// Listener on Config.NotifyChannel can wake subscribers. It runs inside the same
// transaction as the write it describes, so the NOTIFY is only delivered
// if the transaction actually commits (Postgres defers NOTIFY delivery to
// commit time).
func (s *Store) notifyCommit(ctx context.Context, tx es.DBTX, stream string, fromVersion, toVersion, fromGlobal, toGlobal int64, kind string) error {
	payload := fmt.Sprintf("%s|%d|%d|%d|%d|%s", stream, fromVersion, toVersion, fromGlobal, toGlobal, kind)
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.config.NotifyChannel, payload)
	if err != nil {
		return fmt.Errorf("riftlog/postgres: notify: %w", translateConnErr(err))
	}
	return nil
}
