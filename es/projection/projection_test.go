package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/subscription"
)

// recordingProjection is a Projection that records every event it's
// handed and, when failNext is set, fails once before succeeding.
type recordingProjection struct {
	received []es.RecordedEvent
	failNext bool
}

func (p *recordingProjection) Name() string { return "recording-projection" }

func (p *recordingProjection) Handle(_ context.Context, _ es.DBTX, event es.RecordedEvent) error {
	if p.failNext {
		p.failNext = false
		return errors.New("handler failed")
	}
	p.received = append(p.received, event)
	return nil
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	return db
}

func TestAsConsumer_CommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	p := &recordingProjection{}
	consumer := AsConsumer(db, p, nil)

	event := es.RecordedEvent{Event: es.Event{EventType: "OrderPlaced"}, EventNumber: 1}
	result := consumer.Handle(context.Background(), subscription.Delivery{Token: 1, Event: event, Attempt: 1})

	require.Equal(t, subscription.Ack, result)
	require.Len(t, p.received, 1)
	require.Equal(t, event.EventType, p.received[0].EventType)
}

func TestAsConsumer_HandlerErrorResolvesRetry(t *testing.T) {
	db := newTestDB(t)
	p := &recordingProjection{failNext: true}
	consumer := AsConsumer(db, p, nil)

	event := es.RecordedEvent{Event: es.Event{EventType: "OrderPlaced"}, EventNumber: 1}
	result := consumer.Handle(context.Background(), subscription.Delivery{Token: 1, Event: event, Attempt: 1})

	require.Equal(t, subscription.Retry, result)
	require.Empty(t, p.received, "a failed handler must not be recorded as received")
}

func TestAsConsumer_ImplementsConsumer(t *testing.T) {
	var _ subscription.Consumer = AsConsumer(nil, &recordingProjection{}, nil)
}
