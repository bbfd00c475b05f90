// Package integration_test contains integration tests for the Postgres
// adapter. These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/adapters/postgres"
	"github.com/riftlog/riftlog/es/migrations"
	"github.com/riftlog/riftlog/es/store"
)

func testDSN(t *testing.T) string {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}
	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "riftlog_test"
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", testDSN(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))

	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		DROP TABLE IF EXISTS subscription_parked CASCADE;
		DROP TABLE IF EXISTS subscriptions CASCADE;
		DROP TABLE IF EXISTS stream_events CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
		DROP TABLE IF EXISTS streams CASCADE;
	`)
	require.NoError(t, err)

	tmpDir := t.TempDir()
	config := &migrations.Config{
		OutputFolder:       tmpDir,
		OutputFilename:     "test.sql",
		StreamsTable:       "streams",
		EventsTable:        "events",
		StreamEventsTable:  "stream_events",
		SubscriptionsTable: "subscriptions",
		ParkedTable:        "subscription_parked",
	}

	require.NoError(t, migrations.GeneratePostgres(config))

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	require.NoError(t, err)

	_, err = db.Exec(string(migrationSQL))
	require.NoError(t, err)
}

func newStore(db *sql.DB) *postgres.Store {
	return postgres.NewStore(db, postgres.NewConfig(postgres.WithEnableHardDeletes(true)))
}

const testNotifyChannel = "riftlog_test_channel"

func TestAppend_AssignsVersionsAndGlobalSequence(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	events := []es.Event{
		{EventType: "TestEventCreated", Data: []byte(`{"test":"data"}`), Metadata: []byte(`{}`)},
		{EventType: "TestEventUpdated", Data: []byte(`{"test":"updated"}`), Metadata: []byte(`{}`)},
	}

	result, err := str.Append(ctx, tx, "order-1", es.NoStream(), events)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.FromVersion)
	require.Equal(t, int64(2), result.ToVersion)
	require.Len(t, result.Events, 2)
	require.Equal(t, result.FromGlobal, result.Events[0].GlobalSequence)
	require.Equal(t, result.ToGlobal, result.Events[1].GlobalSequence)
	require.NotEqual(t, result.Events[0].EventID, result.Events[1].EventID)

	require.NoError(t, tx.Commit())
}

func TestAppend_OptimisticConcurrency(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx1, "order-2", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx1.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()

	_, err = str.Append(ctx, tx2, "order-2", es.Exact(1), []es.Event{
		{EventType: "OrderShipped", Data: []byte(`{}`)},
	})
	require.ErrorIs(t, err, es.ErrWrongExpectedVersion)
}

func TestAppend_ConcurrentWritersToDifferentStreamsDoNotBlock(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx1, "stream-a", es.NoStream(), []es.Event{{EventType: "A", Data: []byte(`{}`)}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		tx2, err := db.BeginTx(ctx, nil)
		if err != nil {
			done <- err
			return
		}
		defer tx2.Rollback()
		_, err = str.Append(ctx, tx2, "stream-b", es.NoStream(), []es.Event{{EventType: "B", Data: []byte(`{}`)}})
		if err == nil {
			err = tx2.Commit()
		}
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("advisory lock on stream-a blocked an append to an unrelated stream-b")
	}

	require.NoError(t, tx1.Commit())
}

func TestAppend_NoStreamRejectsExisting(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-3", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()
	_, err = str.Append(ctx, tx2, "order-3", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.ErrorIs(t, err, es.ErrStreamExistsError)
}

func TestReadStreamForward_ReturnsAppendedEvents(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-4", es.NoStream(), []es.Event{
		{EventType: "A", Data: []byte(`{}`)},
		{EventType: "B", Data: []byte(`{}`)},
		{EventType: "C", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()

	events, err := str.ReadStreamForward(ctx, tx2, "order-4", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "A", events[0].EventType)
	require.Equal(t, "C", events[2].EventType)
	require.Equal(t, int64(1), events[0].EventNumber)
	require.Equal(t, int64(3), events[2].EventNumber)

	backward, err := str.ReadStreamBackward(ctx, tx2, "order-4", 3, 10)
	require.NoError(t, err)
	require.Len(t, backward, 3)
	require.Equal(t, "C", backward[0].EventType)
	require.Equal(t, "A", backward[2].EventType)
}

func TestLinkToStream_ProjectsWithoutNewGlobalSequence(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	result, err := str.Append(ctx, tx, "order-5", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	eventID := result.Events[0].EventID.String()

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	linkResult, err := str.LinkToStream(ctx, tx2, "customer-1-orders", es.NoStream(), []string{eventID})
	require.NoError(t, err)
	require.Equal(t, int64(1), linkResult.FromVersion)
	require.Equal(t, int64(0), linkResult.FromGlobal, "linking must not consume a new global sequence")
	require.NoError(t, tx2.Commit())

	tx3, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx3.Rollback()

	events, err := str.ReadStreamForward(ctx, tx3, "customer-1-orders", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "order-5", events[0].StreamUUID)
	require.Equal(t, int64(1), events[0].EventNumber)

	_, err = str.LinkToStream(ctx, tx3, "customer-1-orders", es.AnyVersion(), []string{eventID})
	require.ErrorIs(t, err, es.ErrDuplicateLink)
}

func TestLinkToStream_UnknownEventFails(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = str.LinkToStream(ctx, tx, "customer-1-orders", es.NoStream(), []string{"00000000-0000-0000-0000-000000000000"})
	require.ErrorIs(t, err, es.ErrEventNotFound)
}

func TestDeleteStream_SoftDeleteHidesStream(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-6", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, str.DeleteStream(ctx, tx2, "order-6", es.Exact(1), store.SoftDelete))
	require.NoError(t, tx2.Commit())

	tx3, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx3.Rollback()
	_, err = str.ReadStreamForward(ctx, tx3, "order-6", 1, 10)
	require.ErrorIs(t, err, es.ErrStreamDeleted)
}

func TestDeleteStream_HardDeleteRemovesFromAllAndAllowsRevival(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-7", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, str.DeleteStream(ctx, tx2, "order-7", es.Exact(1), store.HardDelete))
	require.NoError(t, tx2.Commit())

	tx3, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.ReadStreamForward(ctx, tx3, "order-7", 1, 10)
	require.ErrorIs(t, err, es.ErrStreamNotFound)

	all, err := str.ReadAllForward(ctx, tx3, 1, 100)
	require.NoError(t, err)
	require.Empty(t, all, "hard-deleted events must be removed from $all")
	require.NoError(t, tx3.Rollback())

	tx4, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx4.Rollback()
	result, err := str.Append(ctx, tx4, "order-7", es.NoStream(), []es.Event{
		{EventType: "OrderPlacedAgain", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.FromVersion)
}

func TestDeleteStream_HardDeleteDisabledByDefault(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := postgres.NewStore(db, postgres.DefaultConfig())

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-9", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx2.Rollback()
	err = str.DeleteStream(ctx, tx2, "order-9", es.Exact(1), store.HardDelete)
	require.ErrorIs(t, err, es.ErrNotEnabled)
}

func TestCheckpoints_RoundTripAndPark(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	_, ok, err := str.GetCheckpoint(ctx, tx, "$all", "billing-projector")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, str.UpsertCheckpoint(ctx, tx, "$all", "billing-projector", 42, "live"))

	lastSeen, ok, err := str.GetCheckpoint(ctx, tx, "$all", "billing-projector")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), lastSeen)

	require.NoError(t, str.Park(ctx, tx, "$all", "billing-projector", 43, "handler panicked"))
	parked, err := str.ListParked(ctx, tx, "$all", "billing-projector")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, int64(43), parked[0].Position)

	require.NoError(t, str.ClearParked(ctx, tx, "$all", "billing-projector", 43))
	parked, err = str.ListParked(ctx, tx, "$all", "billing-projector")
	require.NoError(t, err)
	require.Empty(t, parked)
}

func TestReadAllForward_IncludesLinkedEventsInOriginalPosition(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := newStore(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	result, err := str.Append(ctx, tx, "order-8", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	eventID := result.Events[0].EventID.String()

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.LinkToStream(ctx, tx2, "customer-2-orders", es.NoStream(), []string{eventID})
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	tx3, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx3.Rollback()

	all, err := str.ReadAllForward(ctx, tx3, 1, 100)
	require.NoError(t, err)
	require.Len(t, all, 1, "linking must not duplicate the event in $all")
	require.Equal(t, "order-8", all[0].StreamUUID)
}

func TestListener_ReceivesNotificationOnCommit(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	str := postgres.NewStore(db, postgres.NewConfig(postgres.WithNotifyChannel(testNotifyChannel)))
	listener := postgres.NewListener(testDSN(t), testNotifyChannel, nil)
	require.NoError(t, listener.Start(ctx))
	defer listener.Close()

	notifications, unsubscribe := listener.Subscribe()
	defer unsubscribe()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = str.Append(ctx, tx, "order-10", es.NoStream(), []es.Event{
		{EventType: "OrderPlaced", Data: []byte(`{}`)},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	select {
	case n := <-notifications:
		require.Equal(t, "order-10", n.StreamUUID)
		require.Equal(t, int64(1), n.ToVersion)
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive a notification within the timeout")
	}
}
