package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/notify"
	"github.com/riftlog/riftlog/es/store"
)

// controlKind is the inbox message kind a worker's run loop reacts to.
// Keeping the worker's own loop single-purpose (drive the catch-up/live
// read loop) and pushing activation/deactivation decisions into these
// inbox messages is what lets failover.go decide promotion without the
// worker needing to know about sibling workers.
type controlKind int

const (
	cmdActivate controlKind = iota
	cmdDeactivate
	cmdStop
)

type controlMsg struct {
	kind controlKind
}

// worker runs one subscription's catch-up/live read loop. It implements
// the state machine of the subscription engine: initial -> catching_up ->
// subscribed, with disconnected/paused held until the manager's failover
// logic reactivates it. Grounded on projection.Processor.Run's poll loop
// (the batch-read-then-checkpoint shape) generalized with an in-flight
// delivery window and ack/nack/park handling.
type worker struct {
	stream string
	name   string

	db          *sql.DB
	reader      store.EventReader
	checkpoints store.Checkpointer
	bus         notify.Bus
	consumer    Consumer
	opts        Options
	logger      es.Logger

	stateMu  sync.RWMutex
	state    State
	lastSeen int64

	acksSinceCheckpoint int32
	lastCheckpointAt    time.Time

	nextToken     uint64
	outstandingMu sync.Mutex
	outstanding   map[uint64]chan asyncOutcome

	inbox      chan controlMsg
	active     int32
	heartbeat  int64 // unix nanos, atomic
	stopOnce   sync.Once
	cancelFunc context.CancelFunc
	doneCh     chan struct{}

	group *failoverGroup
}

// asyncOutcome carries a Pending delivery's eventual Ack/Nack resolution
// from Subscription.Ack/Nack back to the deliverOne call awaiting it.
type asyncOutcome struct {
	result Result
}

func newWorker(stream, name string, db *sql.DB, reader store.EventReader, checkpoints store.Checkpointer, bus notify.Bus, consumer Consumer, opts Options, logger es.Logger) *worker {
	return &worker{
		stream:      stream,
		name:        name,
		db:          db,
		reader:      reader,
		checkpoints: checkpoints,
		bus:         bus,
		consumer:    consumer,
		opts:        opts,
		logger:      logger,
		state:       StateInitial,
		inbox:       make(chan controlMsg, 4),
		doneCh:      make(chan struct{}),
		outstanding: make(map[uint64]chan asyncOutcome),
	}
}

func (w *worker) currentState() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

func (w *worker) currentLastSeen() int64 {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.lastSeen
}

func (w *worker) setState(s State) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
}

func (w *worker) touchHeartbeat() {
	atomic.StoreInt64(&w.heartbeat, time.Now().UnixNano())
}

func (w *worker) heartbeatAge() time.Duration {
	last := atomic.LoadInt64(&w.heartbeat)
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// run is the worker's goroutine entry point. It blocks in StateInitial
// until activated, then alternates between catching_up and subscribed
// until ctx is cancelled, it is explicitly stopped, or a step fails (the
// failure is logged and the worker ends disconnected). Each activation
// reloads the persisted checkpoint, so a promoted worker resumes where
// the previous active worker last checkpointed.
func (w *worker) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	defer close(w.doneCh)
	defer w.setState(StateDisconnected)

	if err := w.loadCheckpoint(ctx); err != nil {
		w.logger.Error(ctx, "subscription checkpoint load failed", "stream", w.stream, "name", w.name, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			switch msg.kind {
			case cmdStop:
				return
			case cmdDeactivate:
				w.setState(StateDisconnected)
				atomic.StoreInt32(&w.active, 0)
			case cmdActivate:
				if err := w.loadCheckpoint(ctx); err != nil {
					w.logger.Error(ctx, "subscription checkpoint load failed", "stream", w.stream, "name", w.name, "error", err)
					return
				}
				atomic.StoreInt32(&w.active, 1)
				w.setState(StateCatchingUp)
			}
			continue
		default:
		}

		if atomic.LoadInt32(&w.active) == 0 {
			// Held pending: wait for an activation message or cancellation.
			select {
			case <-ctx.Done():
				return
			case msg := <-w.inbox:
				if msg.kind == cmdStop {
					return
				}
				if msg.kind == cmdActivate {
					if err := w.loadCheckpoint(ctx); err != nil {
						w.logger.Error(ctx, "subscription checkpoint load failed", "stream", w.stream, "name", w.name, "error", err)
						return
					}
					atomic.StoreInt32(&w.active, 1)
					w.setState(StateCatchingUp)
				}
			}
			continue
		}

		w.touchHeartbeat()

		drained, err := w.step(ctx)
		if err != nil {
			w.logger.Error(ctx, "subscription step failed", "stream", w.stream, "name", w.name, "error", err)
			return
		}

		if drained {
			if w.currentState() != StateSubscribed {
				w.setState(StateSubscribed)
			}
			w.waitForWake(ctx)
		}
	}
}

// step reads and delivers one batch starting at lastSeen+1. It returns
// drained=true when the batch came back short (caught up to head).
func (w *worker) step(ctx context.Context) (drained bool, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("riftlog/subscription: begin batch tx: %w", err)
	}
	defer tx.Rollback()

	from := w.currentLastSeen() + 1
	batchSize := w.opts.ReadBatchSize
	if batchSize <= 0 {
		batchSize = 256
	}

	events, err := w.reader.ReadFrom(ctx, tx, w.stream, from, batchSize)
	if err != nil {
		return false, fmt.Errorf("riftlog/subscription: read batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("riftlog/subscription: commit read tx: %w", err)
	}

	if len(events) == 0 {
		return true, nil
	}

	if err := w.deliverBatch(ctx, events); err != nil {
		return false, err
	}

	return len(events) < batchSize, nil
}

// resolution records what happened to one delivery within a batch, keyed
// by its position in the batch's input order so contiguous-ack checkpoint
// advancement can be computed once every goroutine finishes.
type resolution struct {
	position int64
	resolved bool
}

// deliverBatch delivers events concurrently, bounded by MaxInFlight, in
// the order they were read. Ordering of *delivery start* matches position
// order; completion (ack) may be out of order, but last_seen only ever
// advances past a contiguous resolved prefix, per the engine's ordering
// guarantee.
func (w *worker) deliverBatch(ctx context.Context, events []es.RecordedEvent) error {
	maxInFlight := w.opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	sem := make(chan struct{}, maxInFlight)
	results := make([]resolution, len(events))
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for i, event := range events {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, event es.RecordedEvent) {
			defer wg.Done()
			defer func() { <-sem }()

			position := w.position(event)
			resolved, err := w.deliverOne(ctx, event)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			results[i] = resolution{position: position, resolved: resolved}
		}(i, event)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	return w.advanceCheckpoint(ctx, results)
}

// position returns the event's ordering key within this subscription's
// stream: global sequence for $all, stream version otherwise.
func (w *worker) position(event es.RecordedEvent) int64 {
	if w.stream == "$all" {
		return event.GlobalSequence
	}
	return event.EventNumber
}

// deliverOne runs the retry loop for a single event: Ack/Skip resolve
// immediately, Retry redelivers up to MaxRetries before auto-parking, Park
// resolves immediately after recording the parked row, and Pending blocks
// (bounded by AckTimeout, if set) until Subscription.Ack/Nack resolves the
// delivery's token out-of-band.
func (w *worker) deliverOne(ctx context.Context, event es.RecordedEvent) (resolved bool, err error) {
	maxRetries := w.opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 1; ; attempt++ {
		token := atomic.AddUint64(&w.nextToken, 1)
		delivery := Delivery{Token: token, Event: event, Attempt: attempt}

		handleCtx := ctx
		var cancel context.CancelFunc
		if w.opts.AckTimeout > 0 {
			handleCtx, cancel = context.WithTimeout(ctx, w.opts.AckTimeout)
		}
		result := w.consumer.Handle(handleCtx, delivery)

		if result == Pending {
			awaited, awaitErr := w.awaitAsync(handleCtx, token)
			if cancel != nil {
				cancel()
			}
			if awaitErr != nil {
				if attempt >= maxRetries {
					return true, w.park(ctx, event, fmt.Sprintf("async delivery unresolved: %v", awaitErr))
				}
				continue
			}
			result = awaited
		} else if cancel != nil {
			cancel()
		}

		switch result {
		case Ack, Skip:
			return true, nil
		case Park:
			return true, w.park(ctx, event, "consumer requested park")
		case Retry:
			if attempt >= maxRetries {
				return true, w.park(ctx, event, fmt.Sprintf("exceeded max retries (%d)", maxRetries))
			}
			continue
		default:
			return true, w.park(ctx, event, fmt.Sprintf("consumer returned invalid result %v", result))
		}
	}
}

// awaitAsync registers token as an outstanding delivery and blocks until
// Subscription.Ack/Nack resolves it via resolveAsync, ctx is cancelled, or
// (when ctx carries an AckTimeout deadline) that deadline passes. The
// registration is removed before returning either way, so a late
// resolveAsync call after a timeout correctly reports
// ErrUnknownDeliveryToken rather than resolving a delivery the worker has
// already moved past.
func (w *worker) awaitAsync(ctx context.Context, token uint64) (Result, error) {
	ch := make(chan asyncOutcome, 1)

	w.outstandingMu.Lock()
	w.outstanding[token] = ch
	w.outstandingMu.Unlock()

	defer func() {
		w.outstandingMu.Lock()
		delete(w.outstanding, token)
		w.outstandingMu.Unlock()
	}()

	select {
	case outcome := <-ch:
		return outcome.result, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// resolveAsync delivers a Subscription.Ack/Nack call to the deliverOne
// goroutine awaiting token, if one is still outstanding.
func (w *worker) resolveAsync(token uint64, result Result) error {
	w.outstandingMu.Lock()
	ch, ok := w.outstanding[token]
	if ok {
		delete(w.outstanding, token)
	}
	w.outstandingMu.Unlock()

	if !ok {
		return ErrUnknownDeliveryToken
	}

	select {
	case ch <- asyncOutcome{result: result}:
		return nil
	default:
		return ErrUnknownDeliveryToken
	}
}

func (w *worker) park(ctx context.Context, event es.RecordedEvent, reason string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("riftlog/subscription: begin park tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.checkpoints.Park(ctx, tx, w.stream, w.name, w.position(event), reason); err != nil {
		return fmt.Errorf("riftlog/subscription: park event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("riftlog/subscription: commit park tx: %w", err)
	}

	w.logger.Info(ctx, "event parked", "stream", w.stream, "name", w.name, "position", w.position(event), "reason", reason)
	return nil
}

// advanceCheckpoint advances last_seen past the contiguous resolved prefix
// of this batch and persists it if the configured batching threshold is
// met.
func (w *worker) advanceCheckpoint(ctx context.Context, results []resolution) error {
	sort.Slice(results, func(i, j int) bool { return results[i].position < results[j].position })

	w.stateMu.Lock()
	next := w.lastSeen + 1
	advanced := false
	for _, r := range results {
		if r.position != next || !r.resolved {
			break
		}
		w.lastSeen = next
		next++
		advanced = true
	}
	newLastSeen := w.lastSeen
	w.stateMu.Unlock()

	if !advanced {
		return nil
	}

	atomic.AddInt32(&w.acksSinceCheckpoint, int32(len(results)))

	due := atomic.LoadInt32(&w.acksSinceCheckpoint) >= int32(w.opts.CheckpointEveryN)
	due = due || time.Since(w.lastCheckpointAt) >= w.opts.CheckpointEveryInterval

	if !due {
		return nil
	}

	return w.persistCheckpoint(ctx, newLastSeen)
}

func (w *worker) persistCheckpoint(ctx context.Context, lastSeen int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("riftlog/subscription: begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	if err := w.checkpoints.UpsertCheckpoint(ctx, tx, w.stream, w.name, lastSeen, w.currentState().String()); err != nil {
		return fmt.Errorf("riftlog/subscription: persist checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("riftlog/subscription: commit checkpoint tx: %w", err)
	}

	atomic.StoreInt32(&w.acksSinceCheckpoint, 0)
	w.lastCheckpointAt = time.Now()
	return nil
}

func (w *worker) loadCheckpoint(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("riftlog/subscription: begin checkpoint load tx: %w", err)
	}
	defer tx.Rollback()

	lastSeen, exists, err := w.checkpoints.GetCheckpoint(ctx, tx, w.stream, w.name)
	if err != nil {
		return fmt.Errorf("riftlog/subscription: load checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("riftlog/subscription: commit checkpoint load tx: %w", err)
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if exists {
		w.lastSeen = lastSeen
		return nil
	}

	switch w.opts.StartFrom {
	case StartExplicit:
		w.lastSeen = w.opts.ExplicitPosition
	case StartCurrent:
		// Workers don't hold a Reader capable of Head() in the narrow
		// store.EventReader surface, so StartCurrent without an explicit
		// position behaves like StartOrigin; callers wanting a precise
		// "now" cutover should pass StartExplicit with the store's Head().
		w.lastSeen = 0
	default:
		w.lastSeen = 0
	}
	return nil
}

// waitForWake blocks until the notification bus wakes this worker, the
// heartbeat interval elapses (forcing a re-poll even without a
// notification), or ctx is cancelled. It drains its inbox first so an
// activate/deactivate/stop message arriving during catch-up isn't missed.
func (w *worker) waitForWake(ctx context.Context) {
	ch, unsubscribe := w.bus.Subscribe()
	defer unsubscribe()

	interval := w.opts.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-ch:
	case <-timer.C:
	case msg := <-w.inbox:
		w.handleControlDuringWait(msg)
	}
}

func (w *worker) handleControlDuringWait(msg controlMsg) {
	switch msg.kind {
	case cmdStop:
		if w.cancelFunc != nil {
			w.cancelFunc()
		}
	case cmdDeactivate:
		w.setState(StateDisconnected)
		atomic.StoreInt32(&w.active, 0)
	case cmdActivate:
		atomic.StoreInt32(&w.active, 1)
		w.setState(StateCatchingUp)
	}
}

func (w *worker) activate() {
	select {
	case w.inbox <- controlMsg{kind: cmdActivate}:
	default:
	}
}

func (w *worker) deactivate() {
	select {
	case w.inbox <- controlMsg{kind: cmdDeactivate}:
	default:
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() {
		select {
		case w.inbox <- controlMsg{kind: cmdStop}:
		default:
		}
		if w.cancelFunc != nil {
			w.cancelFunc()
		}
		if w.group != nil {
			w.group.unregister(w)
		}
	})
}
