package subscription

import (
	"testing"
	"time"
)

func newTestWorker(name string) *worker {
	w := &worker{name: name, inbox: make(chan controlMsg, 4), state: StateInitial}
	return w
}

func TestFailoverGroup_RegisterActivatesFirstWorker(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	g.register(w1)

	if g.active != w1 {
		t.Fatal("expected the first registrant to become active")
	}
	select {
	case msg := <-w1.inbox:
		if msg.kind != cmdActivate {
			t.Fatalf("expected cmdActivate, got %v", msg.kind)
		}
	default:
		t.Fatal("expected an activate message in the first worker's inbox")
	}
}

func TestFailoverGroup_RegisterQueuesSubsequentWorkers(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	w2 := newTestWorker("w2")
	g.register(w1)
	g.register(w2)

	if len(g.pending) != 1 || g.pending[0] != w2 {
		t.Fatal("expected the second registrant to be queued pending")
	}
	select {
	case <-w2.inbox:
		t.Fatal("pending worker must not be activated")
	default:
	}
}

func TestFailoverGroup_UnregisterActivePromotesPending(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	w2 := newTestWorker("w2")
	g.register(w1)
	g.register(w2)
	<-w1.inbox // drain w1's activate message

	g.unregister(w1)

	if g.active != w2 {
		t.Fatal("expected w2 to be promoted after w1 unregisters")
	}
	select {
	case msg := <-w2.inbox:
		if msg.kind != cmdActivate {
			t.Fatalf("expected cmdActivate, got %v", msg.kind)
		}
	default:
		t.Fatal("expected w2 to receive an activate message")
	}
}

func TestFailoverGroup_UnregisterPendingLeavesActiveUntouched(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	w2 := newTestWorker("w2")
	g.register(w1)
	g.register(w2)

	g.unregister(w2)

	if g.active != w1 {
		t.Fatal("unregistering a pending worker must not disturb the active one")
	}
	if len(g.pending) != 0 {
		t.Fatal("expected the pending queue to be empty")
	}
}

func TestFailoverGroup_PromoteIfStale_DisconnectedActive(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	w1.state = StateDisconnected
	w2 := newTestWorker("w2")
	g.active = w1
	g.pending = []*worker{w2}

	promoted := g.promoteIfStale(time.Now())
	if promoted != w2 {
		t.Fatal("expected w2 to be promoted when the active worker is disconnected")
	}
	if g.active != w2 {
		t.Fatal("expected the group's active worker to be updated")
	}
}

func TestFailoverGroup_PromoteIfStale_HealthyActiveSkipsPromotion(t *testing.T) {
	g := &failoverGroup{}
	w1 := newTestWorker("w1")
	w1.state = StateSubscribed
	w1.touchHeartbeat()
	w1.opts = Options{ConsumerTimeout: time.Minute}
	w2 := newTestWorker("w2")
	g.active = w1
	g.pending = []*worker{w2}

	promoted := g.promoteIfStale(time.Now())
	if promoted != nil {
		t.Fatal("expected no promotion while the active worker is healthy")
	}
	if g.active != w1 {
		t.Fatal("expected the active worker to remain unchanged")
	}
}

func TestRegistry_GroupForReturnsSameGroupForSameKey(t *testing.T) {
	r := newRegistry()
	key := registryKey{stream: "order-1", name: "projector"}

	g1 := r.groupFor(key)
	g2 := r.groupFor(key)

	if g1 != g2 {
		t.Fatal("expected groupFor to return the same group for an identical key")
	}
	if len(r.allGroups()) != 1 {
		t.Fatalf("expected exactly one group, got %d", len(r.allGroups()))
	}
}

func TestRegistry_GroupForDistinguishesKeys(t *testing.T) {
	r := newRegistry()
	r.groupFor(registryKey{stream: "order-1", name: "a"})
	r.groupFor(registryKey{stream: "order-1", name: "b"})
	r.groupFor(registryKey{stream: "order-2", name: "a"})

	if len(r.allGroups()) != 3 {
		t.Fatalf("expected 3 distinct groups, got %d", len(r.allGroups()))
	}
}
