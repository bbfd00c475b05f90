// Package subscription implements riftlog's durable subscription engine:
// catch-up from the log, live switchover via the notification bus, in-flight
// ack/nack tracking with checkpointing, and single-active-consumer
// failover.
package subscription

import (
	"errors"
	"fmt"

	"github.com/riftlog/riftlog/es"
)

// ErrUnknownDeliveryToken is returned by Subscription.Ack/Nack when token
// does not identify a delivery still awaiting resolution on that
// subscription: it was never issued, already resolved, or issued to a
// different subscription.
var ErrUnknownDeliveryToken = errors.New("riftlog/subscription: unknown or already-resolved delivery token")

// State is a subscription's position in the catch-up/live state machine.
type State int

const (
	// StateInitial is the state before a worker has registered with the
	// manager's failover queue.
	StateInitial State = iota
	// StateCatchingUp pages events from the log via the Reader, ignoring
	// the notification bus.
	StateCatchingUp
	// StateSubscribed means catch-up reached head and delivery now follows
	// the notification bus.
	StateSubscribed
	// StateDisconnected means the consumer is gone; the subscription row
	// is retained and a pending consumer takes over.
	StateDisconnected
	// StatePaused is an administrative halt.
	StatePaused
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateCatchingUp:
		return "catching_up"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// NackAction selects how a Nack'd delivery is handled.
type NackAction int

const (
	// NackRetry redelivers immediately, incrementing the attempt counter;
	// after MaxRetries the event is automatically parked.
	NackRetry NackAction = iota
	// NackSkip advances past the event without invoking the consumer again.
	NackSkip
	// NackPark removes the event from in-flight tracking and records it in
	// the parked-events table for manual replay.
	NackPark
)

// Delivery is one in-flight event handed to a Consumer, identified by a
// monotonically increasing Token unique within its subscription.
type Delivery struct {
	Token   uint64
	Event   es.RecordedEvent
	Attempt int
}

// Subscription is the caller-facing handle returned by Manager.Subscribe. It
// reports live status and resolves deliveries a Consumer chose to hold:
// a Consumer.Handle call that returns Pending hands the event's Token back
// out-of-band (the caller typically stashes the Subscription in the
// Consumer at construction time), and the delivery stays in-flight until
// Ack or Nack is called with that Token, in any order relative to other
// in-flight deliveries in the same batch.
type Subscription struct {
	Stream string
	Name   string

	worker *worker
}

// State returns the subscription's current state.
func (s *Subscription) State() State {
	return s.worker.currentState()
}

// LastSeen returns the highest contiguously-acknowledged position.
func (s *Subscription) LastSeen() int64 {
	return s.worker.currentLastSeen()
}

// Ack resolves a Pending delivery identified by token as acknowledged.
// last_seen advances past it once every lower position in the batch is
// also resolved. Returns ErrUnknownDeliveryToken if token is not an
// outstanding delivery on this subscription.
func (s *Subscription) Ack(token uint64) error {
	return s.worker.resolveAsync(token, Ack)
}

// Nack resolves a Pending delivery identified by token according to
// action. Returns ErrUnknownDeliveryToken if token is not an outstanding
// delivery on this subscription.
func (s *Subscription) Nack(token uint64, action NackAction) error {
	switch action {
	case NackRetry:
		return s.worker.resolveAsync(token, Retry)
	case NackSkip:
		return s.worker.resolveAsync(token, Skip)
	case NackPark:
		return s.worker.resolveAsync(token, Park)
	default:
		return fmt.Errorf("riftlog/subscription: unknown nack action %v", action)
	}
}

// Unsubscribe cancels the subscription's worker, transitioning it to
// StateDisconnected without persisting partial acks beyond the last
// checkpoint.
func (s *Subscription) Unsubscribe() {
	s.worker.stop()
}
