// Package notify defines the commit-notification bus that wakes
// subscribers after an append, link, or delete commits. Delivery is
// best-effort and advisory: subscribers treat notifications as hints to
// wake and re-poll, never as authoritative payload content. See
// es/adapters/postgres for a LISTEN/NOTIFY-backed Bus and PollingBus below
// for the fallback used by adapters without a native push primitive.
package notify

import (
	"context"
	"sync"
	"time"
)

// Kind classifies the commit that produced a Notification.
type Kind string

const (
	KindAppended    Kind = "appended"
	KindLinked      Kind = "linked"
	KindSoftDeleted Kind = "soft_deleted"
	KindHardDeleted Kind = "hard_deleted"
)

// Notification is a small, advisory hint that a commit happened. Receivers
// must treat its ranges as "at least this much changed", not as a
// guaranteed exact delta: a lost or coalesced notification is always
// possible, which is why subscriptions also poll.
type Notification struct {
	StreamUUID  string
	FromVersion int64
	ToVersion   int64
	FromGlobal  int64
	ToGlobal    int64
	Kind        Kind
}

// Bus is a single-writer, many-reader broadcast of Notifications. A Bus is
// a single owned endpoint with explicit startup/teardown (Start/Close);
// it holds no durable data and may be safely torn down and rebuilt at any
// time without losing correctness, because subscribers always reconcile
// against the database.
type Bus interface {
	// Start begins receiving/dispatching notifications. It must be called
	// once before Subscribe is used, and is idempotent.
	Start(ctx context.Context) error

	// Subscribe registers a new receiver and returns a channel of
	// notifications plus an unsubscribe function. The channel is closed
	// when unsubscribe is called or the bus is closed.
	Subscribe() (ch <-chan Notification, unsubscribe func())

	// Publish broadcasts n to all current subscribers. Implementations
	// used by adapters that rely on a database-native channel (Postgres)
	// typically publish as a side effect of a successful commit instead of
	// requiring an explicit call; Publish exists so the deletion manager
	// and append engine have one call site regardless of adapter.
	Publish(ctx context.Context, n Notification) error

	// Close releases resources and closes all subscriber channels.
	Close() error
}

// PollingBus is a Bus fallback for adapters without a native push
// notification primitive (MySQL, SQLite), and the degraded mode a
// push-capable Bus falls into when its underlying connection drops. It
// never produces real Notifications of its own; instead it ticks at
// Interval so subscribers wake up and re-poll the log head via the
// Reader. This directly implements §4.F's "if notifications are lost,
// subscribers fall back to periodic polling of the log head."
type PollingBus struct {
	Interval time.Duration

	subsMu sync.RWMutex
	subs   map[int]chan Notification
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollingBus creates a PollingBus ticking at the given interval. A zero
// or negative interval defaults to one second.
func NewPollingBus(interval time.Duration) *PollingBus {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingBus{
		Interval: interval,
		subs:     make(map[int]chan Notification),
	}
}

// Start launches the ticking goroutine. Safe to call once; a second call
// is a no-op.
func (b *PollingBus) Start(ctx context.Context) error {
	if b.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.broadcast(Notification{Kind: KindAppended})
			}
		}
	}()
	return nil
}

// Subscribe registers a receiver for wake-up ticks.
func (b *PollingBus) Subscribe() (<-chan Notification, func()) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Notification, 1)
	b.subs[id] = ch

	unsubscribe := func() {
		b.subsMu.Lock()
		defer b.subsMu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish broadcasts n immediately, in addition to the regular tick.
func (b *PollingBus) Publish(_ context.Context, n Notification) error {
	b.broadcast(n)
	return nil
}

func (b *PollingBus) broadcast(n Notification) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			// Receiver hasn't drained; it will still wake on the next tick
			// and reconcile via the reader, so dropping this hint is safe.
		}
	}
}

// Close stops the ticking goroutine and closes every subscriber channel.
func (b *PollingBus) Close() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
