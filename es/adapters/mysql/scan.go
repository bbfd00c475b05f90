package mysql

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riftlog/riftlog/es"
)

// eventRow mirrors the columns shared by every query that reconstructs an
// es.RecordedEvent, whether the row came from an original append or a
// link.
type eventRow struct {
	eventID       string
	streamUUID    string
	streamVersion int64
	globalSeq     int64
	eventType     string
	data          []byte
	metadata      []byte
	causationID   sql.NullString
	correlationID sql.NullString
	createdAt     time.Time
}

func (r eventRow) toRecordedEvent() (es.RecordedEvent, error) {
	id, err := uuid.Parse(r.eventID)
	if err != nil {
		return es.RecordedEvent{}, fmt.Errorf("riftlog/mysql: malformed event_id %q: %w", r.eventID, err)
	}

	return es.RecordedEvent{
		Event: es.Event{
			EventID:       id,
			EventType:     r.eventType,
			Data:          r.data,
			Metadata:      r.metadata,
			CausationID:   toNullUUID(r.causationID),
			CorrelationID: toNullUUID(r.correlationID),
		},
		EventNumber:    r.streamVersion,
		StreamUUID:     r.streamUUID,
		GlobalSequence: r.globalSeq,
		CreatedAt:      r.createdAt,
	}, nil
}

func toNullUUID(ns sql.NullString) uuid.NullUUID {
	if !ns.Valid {
		return uuid.NullUUID{}
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) interface{} {
	if !id.Valid {
		return nil
	}
	return id.UUID.String()
}
