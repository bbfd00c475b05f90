package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/adapters/sqlite"
	"github.com/riftlog/riftlog/es/migrations"
	"github.com/riftlog/riftlog/es/notify"
)

// newTestStore builds an in-memory SQLite-backed store so the subscription
// engine can be exercised against real transactions without an external
// database. Shared cache mode keeps every connection from the pool pointed
// at the same in-memory database.
func newTestStore(t *testing.T) (*sql.DB, *sqlite.Store) {
	t.Helper()

	name := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := sql.Open("sqlite3", name)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

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
	require.NoError(t, migrations.GenerateSQLite(config))
	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	require.NoError(t, err)
	_, err = db.Exec(string(migrationSQL))
	require.NoError(t, err)

	return db, sqlite.NewStore(db, sqlite.NewConfig())
}

func appendN(t *testing.T, db *sql.DB, str *sqlite.Store, stream string, n int, eventType string) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	events := make([]es.Event, n)
	for i := range events {
		events[i] = es.Event{EventType: eventType, Data: []byte(`{}`)}
	}
	_, err = str.Append(ctx, tx, stream, es.AnyVersion(), events)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

// collector is a Consumer that records every delivered event under a mutex,
// always resolving with a fixed Result.
type collector struct {
	mu      sync.Mutex
	events  []es.RecordedEvent
	result  Result
	handled int
}

func (c *collector) Handle(_ context.Context, delivery Delivery) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, delivery.Event)
	c.handled++
	return c.result
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) snapshot() []es.RecordedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]es.RecordedEvent, len(c.events))
	copy(out, c.events)
	return out
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.CheckpointEveryN = 1
	opts.CheckpointEveryInterval = 10 * time.Millisecond
	opts.ReadBatchSize = 10
	opts.HeartbeatInterval = 20 * time.Millisecond
	return opts
}

func TestManager_Subscribe_CatchesUpExistingEvents(t *testing.T) {
	db, str := newTestStore(t)
	appendN(t, db, str, "order-1", 5, "OrderPlaced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	consumer := &collector{result: Ack}
	sub, err := mgr.Subscribe(ctx, "order-1", "catchup-test", consumer, fastOptions())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return consumer.count() == 5 }, 2*time.Second, 10*time.Millisecond)

	events := consumer.snapshot()
	for i, e := range events {
		require.Equal(t, int64(i+1), e.EventNumber)
	}
	require.Eventually(t, func() bool { return sub.LastSeen() == 5 }, time.Second, 10*time.Millisecond)
}

func TestManager_Subscribe_DeliversLiveAppends(t *testing.T) {
	db, str := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	consumer := &collector{result: Ack}
	sub, err := mgr.Subscribe(ctx, "order-2", "live-test", consumer, fastOptions())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return sub.State() == StateSubscribed }, time.Second, 10*time.Millisecond)

	appendN(t, db, str, "order-2", 3, "OrderShipped")

	require.Eventually(t, func() bool { return consumer.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_RetryExceedsMaxRetries_AutoParks(t *testing.T) {
	db, str := newTestStore(t)
	appendN(t, db, str, "order-3", 1, "OrderPlaced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	consumer := &collector{result: Retry}
	opts := fastOptions()
	opts.MaxRetries = 2
	sub, err := mgr.Subscribe(ctx, "order-3", "retry-test", consumer, opts)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		parked, err := str.ListParked(ctx, db, "order-3", "retry-test")
		return err == nil && len(parked) == 1
	}, 2*time.Second, 10*time.Millisecond)

	parked, err := str.ListParked(ctx, db, "order-3", "retry-test")
	require.NoError(t, err)
	require.Len(t, parked, 1)
	require.Equal(t, int64(1), parked[0].Position)
	require.Contains(t, parked[0].Reason, "exceeded max retries")

	require.Eventually(t, func() bool { return sub.LastSeen() == 1 }, time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, consumer.handled, 2)
}

func TestWorker_Skip_AdvancesWithoutRedelivery(t *testing.T) {
	db, str := newTestStore(t)
	appendN(t, db, str, "order-4", 2, "OrderPlaced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	consumer := &collector{result: Skip}
	sub, err := mgr.Subscribe(ctx, "order-4", "skip-test", consumer, fastOptions())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool { return sub.LastSeen() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, consumer.handled, "Skip must not redeliver")
}

// asyncCollector is a Consumer that defers every delivery's resolution:
// Handle returns Pending and hands the Delivery to the test over a
// channel, to be resolved later via Subscription.Ack/Nack.
type asyncCollector struct {
	deliveries chan Delivery
}

func (c *asyncCollector) Handle(_ context.Context, delivery Delivery) Result {
	c.deliveries <- delivery
	return Pending
}

func TestManager_Subscribe_AsyncAckResolvesOutOfOrder(t *testing.T) {
	db, str := newTestStore(t)
	appendN(t, db, str, "order-6", 2, "OrderPlaced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	consumer := &asyncCollector{deliveries: make(chan Delivery, 10)}
	sub, err := mgr.Subscribe(ctx, "order-6", "async-test", consumer, fastOptions())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var first, second Delivery
	require.Eventually(t, func() bool {
		select {
		case d := <-consumer.deliveries:
			if first.Token == 0 {
				first = d
			} else {
				second = d
			}
			return second.Token != 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, int64(1), first.Event.EventNumber)
	require.Equal(t, int64(2), second.Event.EventNumber)

	// Resolving the later delivery first must not advance last_seen until
	// the earlier, still-outstanding delivery is also resolved.
	require.NoError(t, sub.Ack(second.Token))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(0), sub.LastSeen())

	require.NoError(t, sub.Ack(first.Token))
	require.Eventually(t, func() bool { return sub.LastSeen() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, sub.Ack(first.Token), ErrUnknownDeliveryToken)
}

func TestManager_Subscribe_RejectsConflictingOptionsForSameName(t *testing.T) {
	db, str := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	opts1 := fastOptions()
	opts2 := fastOptions()
	opts2.MaxRetries = opts1.MaxRetries + 1

	sub, err := mgr.Subscribe(ctx, "order-7", "conflict-test", &collector{result: Ack}, opts1)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = mgr.Subscribe(ctx, "order-7", "conflict-test", &collector{result: Ack}, opts2)
	require.ErrorIs(t, err, es.ErrSubscriptionExists)
}

func TestManager_Subscribe_RejectsNameReuseAcrossStreams(t *testing.T) {
	db, str := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	opts := fastOptions()
	sub, err := mgr.Subscribe(ctx, "order-8", "shared-name", &collector{result: Ack}, opts)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = mgr.Subscribe(ctx, "order-9", "shared-name", &collector{result: Ack}, opts)
	require.ErrorIs(t, err, es.ErrSubscriptionNameConflict)
}

func TestFailover_PromotesPendingConsumerOnUnsubscribe(t *testing.T) {
	db, str := newTestStore(t)
	appendN(t, db, str, "order-5", 1, "OrderPlaced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := notify.NewPollingBus(20 * time.Millisecond)
	require.NoError(t, bus.Start(ctx))
	defer bus.Close()

	mgr := NewManager(db, str, str, bus, nil)
	defer mgr.Close()

	first := &collector{result: Ack}
	second := &collector{result: Ack}

	opts := fastOptions()
	subA, err := mgr.Subscribe(ctx, "order-5", "failover-test", first, opts)
	require.NoError(t, err)
	subB, err := mgr.Subscribe(ctx, "order-5", "failover-test", second, opts)
	require.NoError(t, err)
	defer subB.Unsubscribe()

	require.Eventually(t, func() bool { return first.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, second.count(), "pending consumer must not receive deliveries before promotion")

	subA.Unsubscribe()

	appendN(t, db, str, "order-5", 1, "OrderShipped")

	require.Eventually(t, func() bool { return second.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}
