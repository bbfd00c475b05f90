package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/notify"
)

// Listener is a notify.Bus backed by Postgres LISTEN/NOTIFY. It wraps a
// dedicated pq.Listener connection (distinct from the Store's *sql.DB pool,
// since LISTEN requires holding one connection open) and translates
// pg_notify payloads emitted by Store.notifyCommit back into
// notify.Notifications.
//
// If the listener connection drops, pq.Listener reconnects on its own and
// re-issues LISTEN; in the gap, Listener falls back to a PollingBus so
// subscribers keep waking up and reconciling against the log head (§4.F).
type Listener struct {
	channel string
	dsn     string
	logger  es.Logger

	pqListener *pq.Listener
	fallback   *notify.PollingBus

	subsMu sync.RWMutex
	subs   map[int]chan notify.Notification
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a Listener for the given connection string and
// channel. Call Start before Subscribe.
func NewListener(dsn, channel string, logger es.Logger) *Listener {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &Listener{
		channel:  channel,
		dsn:      dsn,
		logger:   logger,
		fallback: notify.NewPollingBus(5 * time.Second),
		subs:     make(map[int]chan notify.Notification),
	}
}

// Start opens the dedicated listener connection, issues LISTEN, and begins
// dispatching. Safe to call once; a second call is a no-op.
func (l *Listener) Start(ctx context.Context) error {
	if l.done != nil {
		return nil
	}

	if err := l.fallback.Start(ctx); err != nil {
		return err
	}

	eventCh := make(chan pq.ListenerEventType, 8)
	pqListener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Error(ctx, "listener connection event", "event", int(ev), "error", err)
		}
		select {
		case eventCh <- ev:
		default:
		}
	})

	if err := pqListener.Listen(l.channel); err != nil {
		_ = pqListener.Close()
		return fmt.Errorf("riftlog/postgres: listen on channel %q: %w", l.channel, err)
	}
	l.pqListener = pqListener

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(runCtx, eventCh)

	return nil
}

func (l *Listener) run(ctx context.Context, eventCh <-chan pq.ListenerEventType) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-eventCh:
			switch ev {
			case pq.ListenerEventDisconnected:
				l.logger.Info(ctx, "listener disconnected, falling back to polling")
			case pq.ListenerEventReconnected:
				l.logger.Info(ctx, "listener reconnected")
			}

		case n := <-l.pqListener.Notify:
			if n == nil {
				// nil notification: connection was re-established, no payload lost.
				continue
			}
			notification, err := parseNotification(n.Extra)
			if err != nil {
				l.logger.Error(ctx, "malformed notification payload", "error", err, "payload", n.Extra)
				continue
			}
			l.broadcast(notification)

		case <-time.After(90 * time.Second):
			// pq recommends a periodic Ping to detect a half-open connection
			// the driver hasn't noticed yet.
			_ = l.pqListener.Ping()
		}
	}
}

// Subscribe registers a receiver for both real notifications and the
// polling fallback's wake-up ticks.
func (l *Listener) Subscribe() (<-chan notify.Notification, func()) {
	l.subsMu.Lock()
	id := l.nextID
	l.nextID++
	ch := make(chan notify.Notification, 8)
	l.subs[id] = ch
	l.subsMu.Unlock()

	fallbackCh, fallbackUnsub := l.fallback.Subscribe()
	go func() {
		for n := range fallbackCh {
			l.deliverTo(id, n)
		}
	}()

	unsubscribe := func() {
		fallbackUnsub()
		l.subsMu.Lock()
		defer l.subsMu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish broadcasts n to local subscribers immediately. It does not itself
// issue pg_notify: that happens inside the same transaction as the write,
// via Store.notifyCommit, so the notification is only visible if the
// transaction commits.
func (l *Listener) Publish(_ context.Context, n notify.Notification) error {
	l.broadcast(n)
	return nil
}

// Close stops the listener goroutine, closes the pq.Listener connection and
// every subscriber channel.
func (l *Listener) Close() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	if l.pqListener != nil {
		_ = l.pqListener.Close()
	}
	_ = l.fallback.Close()

	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	return nil
}

func (l *Listener) broadcast(n notify.Notification) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	for _, ch := range l.subs {
		select {
		case ch <- n:
		default:
			// Slow subscriber: it will still catch up via the fallback tick
			// and the log head, so dropping this hint is safe.
		}
	}
}

func (l *Listener) deliverTo(id int, n notify.Notification) {
	l.subsMu.RLock()
	ch, ok := l.subs[id]
	l.subsMu.RUnlock()
	if !ok {
		return
	}
	select {
	case ch <- n:
	default:
	}
}

// parseNotification reverses Store.notifyCommit's payload encoding:
// "stream|fromVersion|toVersion|fromGlobal|toGlobal|kind".
func parseNotification(payload string) (notify.Notification, error) {
	parts := strings.SplitN(payload, "|", 6)
	if len(parts) != 6 {
		return notify.Notification{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	fromVersion, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("from_version: %w", err)
	}
	toVersion, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("to_version: %w", err)
	}
	fromGlobal, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("from_global: %w", err)
	}
	toGlobal, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("to_global: %w", err)
	}

	return notify.Notification{
		StreamUUID:  parts[0],
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		FromGlobal:  fromGlobal,
		ToGlobal:    toGlobal,
		Kind:        notify.Kind(parts[5]),
	}, nil
}

var _ notify.Bus = (*Listener)(nil)
