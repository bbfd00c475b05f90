package subscription

import (
	"sync"
	"time"

	"github.com/riftlog/riftlog/es"
)

// registryKey identifies a (stream, name) durable subscription; at most one
// worker registered under a key is ever active.
type registryKey struct {
	stream string
	name   string
}

// failoverGroup is the FIFO pending-consumer queue backing single-active
// failover for one (stream, name). Promotion is decided by the manager's
// monitor loop, never by a worker itself, keeping worker.run single-purpose
// (§4.G, "the engine re-evaluates the pending queue in FIFO order").
type failoverGroup struct {
	mu      sync.Mutex
	active  *worker
	pending []*worker
}

// register adds w to the group, activating it immediately if it is the
// first registrant for this key.
func (g *failoverGroup) register(w *worker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		g.active = w
		w.activate()
		return
	}
	g.pending = append(g.pending, w)
}

// promoteIfStale replaces the active worker with the next pending one when
// the active worker has gone quiet for longer than its configured
// ConsumerTimeout, or has already stopped. Returns the newly-promoted
// worker, or nil if no promotion occurred.
func (g *failoverGroup) promoteIfStale(now time.Time) *worker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return g.promoteLocked()
	}

	stale := g.active.currentState() == StateDisconnected
	if !stale {
		timeout := g.active.opts.ConsumerTimeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		stale = g.active.heartbeatAge() > timeout
	}
	if !stale {
		return nil
	}

	g.active.deactivate()
	g.active = nil
	return g.promoteLocked()
}

func (g *failoverGroup) promoteLocked() *worker {
	if len(g.pending) == 0 {
		return nil
	}
	next := g.pending[0]
	g.pending = g.pending[1:]
	g.active = next
	next.activate()
	return next
}

// hasConflictingOptions reports whether opts differs from the options any
// already-registered worker (active or pending) in the group was started
// with. A (stream, name) failover group is meant to hold interchangeable
// replicas of the same subscription, so a mismatch almost always means the
// caller meant a different subscription and reused the name by mistake.
func (g *failoverGroup) hasConflictingOptions(opts Options) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil && g.active.opts != opts {
		return true
	}
	for _, p := range g.pending {
		if p.opts != opts {
			return true
		}
	}
	return false
}

// unregister removes w from the group, promoting the next pending worker
// if w was active.
func (g *failoverGroup) unregister(w *worker) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == w {
		g.active = nil
		g.promoteLocked()
		return
	}
	for i, p := range g.pending {
		if p == w {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			return
		}
	}
}

// registry is the manager's keyed set of failover groups.
type registry struct {
	mu     sync.Mutex
	groups map[registryKey]*failoverGroup
}

func newRegistry() *registry {
	return &registry{groups: make(map[registryKey]*failoverGroup)}
}

// claim validates a new (stream, name, opts) registration against the
// registry and, once valid, returns the failoverGroup it should register
// with (creating one if this is the first registrant for key). It enforces
// the two invariants Manager.Subscribe promises callers: a subscription
// name must not be reused against a different stream
// (es.ErrSubscriptionNameConflict), and every worker sharing a (stream,
// name) group must agree on its tuning options (es.ErrSubscriptionExists).
func (r *registry) claim(key registryKey, w *worker) (*failoverGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k := range r.groups {
		if k != key && k.name == key.name && k.stream != key.stream {
			return nil, es.ErrSubscriptionNameConflict
		}
	}

	g, ok := r.groups[key]
	if !ok {
		g = &failoverGroup{}
		r.groups[key] = g
		return g, nil
	}
	if g.hasConflictingOptions(w.opts) {
		return nil, es.ErrSubscriptionExists
	}
	return g, nil
}

func (r *registry) groupFor(key registryKey) *failoverGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	if !ok {
		g = &failoverGroup{}
		r.groups[key] = g
	}
	return g
}

func (r *registry) allGroups() []*failoverGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*failoverGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}
