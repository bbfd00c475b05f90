package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/notify"
	"github.com/riftlog/riftlog/es/store"
)

// ErrNoRegistrations indicates Manager.Run was called with an empty
// registration list.
var ErrNoRegistrations = errors.New("riftlog/subscription: no registrations provided")

// Registration pairs a subscription's identity and consumer with its
// tuning options, for starting several subscriptions together via
// Manager.Run.
type Registration struct {
	Stream   string
	Name     string
	Consumer Consumer
	Options  Options
}

// Manager owns the notification bus, storage adapter and failover registry
// shared by every subscription it starts. One Manager is typically shared
// process-wide.
type Manager struct {
	db          *sql.DB
	reader      store.EventReader
	checkpoints store.Checkpointer
	bus         notify.Bus
	logger      es.Logger

	registry *registry

	monitorOnce   sync.Once
	monitorCancel context.CancelFunc
}

// NewManager creates a Manager. reader and checkpoints are typically the
// same adapter Store value, satisfying both store.EventReader and
// store.Checkpointer.
func NewManager(db *sql.DB, reader store.EventReader, checkpoints store.Checkpointer, bus notify.Bus, logger es.Logger) *Manager {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &Manager{
		db:          db,
		reader:      reader,
		checkpoints: checkpoints,
		bus:         bus,
		logger:      logger,
		registry:    newRegistry(),
	}
}

// Subscribe starts a worker for (stream, name) and returns its handle
// immediately. If another worker is already active for the same (stream,
// name), the new one is held pending and promoted only on failover.
func (m *Manager) Subscribe(ctx context.Context, stream, name string, consumer Consumer, opts Options) (*Subscription, error) {
	if stream == "" || name == "" {
		return nil, fmt.Errorf("riftlog/subscription: stream and name must not be empty")
	}
	if consumer == nil {
		return nil, fmt.Errorf("riftlog/subscription: consumer must not be nil")
	}

	w := newWorker(stream, name, m.db, m.reader, m.checkpoints, m.bus, consumer, opts, m.logger)

	group, err := m.registry.claim(registryKey{stream: stream, name: name}, w)
	if err != nil {
		return nil, err
	}
	w.group = group

	m.startMonitor()
	go w.run(ctx)
	group.register(w)

	return &Subscription{Stream: stream, Name: name, worker: w}, nil
}

// Run starts every registration concurrently and blocks until ctx is
// cancelled and every worker has exited. Adapted from
// projection/runner.Runner.Run's WaitGroup fan-out, generalized from
// running N ProcessorRunners to running N subscription workers. Unlike the
// teacher's Runner, a worker never causes its siblings to stop: per §7,
// subscription-engine internal errors transition only the affected
// subscription to disconnected and are logged, never propagated as a
// fatal error to peers.
func (m *Manager) Run(ctx context.Context, registrations []Registration) error {
	if len(registrations) == 0 {
		return ErrNoRegistrations
	}

	subs := make([]*Subscription, len(registrations))
	for i, reg := range registrations {
		sub, err := m.Subscribe(ctx, reg.Stream, reg.Name, reg.Consumer, reg.Options)
		if err != nil {
			return fmt.Errorf("riftlog/subscription: start %q/%q: %w", reg.Stream, reg.Name, err)
		}
		subs[i] = sub
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			<-sub.worker.doneCh
		}(sub)
	}
	wg.Wait()

	return ctx.Err()
}

// startMonitor launches the failover-promotion ticker once per Manager.
func (m *Manager) startMonitor() {
	m.monitorOnce.Do(func() {
		monitorCtx, cancel := context.WithCancel(context.Background())
		m.monitorCancel = cancel
		go m.monitorLoop(monitorCtx)
	})
}

func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, g := range m.registry.allGroups() {
				if promoted := g.promoteIfStale(now); promoted != nil {
					m.logger.Info(ctx, "subscription promoted", "stream", promoted.stream, "name", promoted.name)
				}
			}
		}
	}
}

// Close stops the failover monitor. It does not stop individual workers;
// call Subscription.Unsubscribe for those.
func (m *Manager) Close() {
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
}
