package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riftlog/riftlog/es"
)

// sqliteTimeLayout is the format used for timestamp storage/parsing.
const sqliteTimeLayout = "2006-01-02T15:04:05.999999Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// sqliteTimeLayouts lists the formats accepted when parsing, covering both
// the layout this adapter writes and the default strftime layout the
// generated migration's column defaults use.
var sqliteTimeLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("riftlog/sqlite: unable to parse timestamp %q", s)
}

// eventRow mirrors the columns shared by every query that reconstructs an
// es.RecordedEvent, whether the row came from an original append or a link.
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
	createdAt     string
}

func (r eventRow) toRecordedEvent() (es.RecordedEvent, error) {
	id, err := uuid.Parse(r.eventID)
	if err != nil {
		return es.RecordedEvent{}, fmt.Errorf("riftlog/sqlite: malformed event_id %q: %w", r.eventID, err)
	}
	createdAt, err := parseTime(r.createdAt)
	if err != nil {
		return es.RecordedEvent{}, err
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
		CreatedAt:      createdAt,
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
