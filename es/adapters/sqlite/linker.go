package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// LinkToStream implements store.Linker. Runs the same expected-version
// protocol as Append, inserting stream_events rows referencing existing
// events without consuming a new global_sequence value.
func (s *Store) LinkToStream(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, eventIDs []string) (es.AppendResult, error) {
	if stream == "" {
		return es.AppendResult{}, fmt.Errorf("riftlog/sqlite: stream must not be empty")
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
		streamID, err = s.createStream(ctx, tx, stream, formatTime(time.Now()))
		if err != nil {
			return es.AppendResult{}, err
		}
	}

	if len(eventIDs) == 0 {
		return es.AppendResult{FromVersion: row.version, ToVersion: row.version}, nil
	}

	fromVersion := row.version + 1
	recorded := make([]es.RecordedEvent, len(eventIDs))

	sourceQuery := fmt.Sprintf(`
		SELECT e.original_stream_id, e.original_stream_version, e.event_type,
		       e.data, e.metadata, e.causation_id, e.correlation_id, e.created_at,
		       e.global_sequence, os.stream_uuid
		FROM %s e
		JOIN %s os ON os.id = e.original_stream_id
		WHERE e.event_id = ?
	`, s.config.eventsTable(), s.config.streamsTable())

	dupQuery := fmt.Sprintf(`SELECT 1 FROM %s WHERE stream_id = ? AND event_id = ?`, s.config.streamEventsTable())

	insertLinkQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_id, stream_version, event_id, original_stream_id, original_stream_version)
		VALUES (?, ?, ?, ?, ?)
	`, s.config.streamEventsTable())

	for i, eventID := range eventIDs {
		var linked int
		err := tx.QueryRowContext(ctx, dupQuery, streamID, eventID).Scan(&linked)
		if err == nil {
			return es.AppendResult{}, fmt.Errorf("%w: event %s already linked in stream %q", es.ErrDuplicateLink, eventID, stream)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return es.AppendResult{}, fmt.Errorf("riftlog/sqlite: check duplicate link: %w", err)
		}

		var origStreamID int64
		row := eventRow{eventID: eventID}

		srcRow := tx.QueryRowContext(ctx, sourceQuery, eventID)
		err = srcRow.Scan(&origStreamID, &row.streamVersion, &row.eventType, &row.data, &row.metadata,
			&row.causationID, &row.correlationID, &row.createdAt, &row.globalSeq, &row.streamUUID)
		if errors.Is(err, sql.ErrNoRows) {
			return es.AppendResult{}, fmt.Errorf("%w: %s", es.ErrEventNotFound, eventID)
		}
		if err != nil {
			return es.AppendResult{}, fmt.Errorf("riftlog/sqlite: look up event %s: %w", eventID, err)
		}

		eventNumber := fromVersion + int64(i)
		if _, err := tx.ExecContext(ctx, insertLinkQuery, streamID, eventNumber, eventID, origStreamID, row.streamVersion); err != nil {
			if IsUniqueViolation(err) {
				return es.AppendResult{}, fmt.Errorf("%w: concurrent link into stream %q", es.ErrWrongExpectedVersion, stream)
			}
			return es.AppendResult{}, fmt.Errorf("riftlog/sqlite: insert link %d: %w", i, err)
		}

		recordedEvent, err := row.toRecordedEvent()
		if err != nil {
			return es.AppendResult{}, err
		}
		recorded[i] = recordedEvent
	}

	toVersion := fromVersion + int64(len(eventIDs)) - 1
	if err := s.setStreamVersion(ctx, tx, streamID, toVersion); err != nil {
		return es.AppendResult{}, err
	}

	s.logger().Info(ctx, "events linked", "stream", stream, "count", len(eventIDs), "from_version", fromVersion, "to_version", toVersion)

	return es.AppendResult{
		Events:      recorded,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
	}, nil
}

var _ store.Linker = (*Store)(nil)
