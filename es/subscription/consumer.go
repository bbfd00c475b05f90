package subscription

import (
	"context"
)

// Result is a Consumer's verdict on one delivery.
type Result int

const (
	// Ack acknowledges the event; last_seen may advance past it once every
	// lower position is also acked.
	Ack Result = iota
	// Retry redelivers the event, incrementing its attempt counter. After
	// Options.MaxRetries the event is parked automatically.
	Retry
	// Skip advances past the event without redelivering it.
	Skip
	// Park removes the event from in-flight tracking and records it for
	// manual replay.
	Park
	// Pending hands the delivery to the caller for asynchronous resolution:
	// Handle returns immediately without redelivering or advancing
	// last_seen, and the event stays in-flight until Subscription.Ack or
	// Subscription.Nack is called with delivery.Token. Use this when the
	// work that decides ack/nack outlives the Handle call, e.g. an
	// out-of-process worker picking the event back up later.
	Pending
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Skip:
		return "skip"
	case Park:
		return "park"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Consumer handles one delivered event at a time, in position order, and
// reports how the engine should treat it. Implementations must be
// idempotent: failover redelivers in-flight events to the newly-promoted
// consumer. A Consumer that needs to resolve a delivery asynchronously
// returns Pending and later calls Ack/Nack on the Subscription with
// delivery.Token.
type Consumer interface {
	Handle(ctx context.Context, delivery Delivery) Result
}

// ConsumerFunc adapts a function to a Consumer.
type ConsumerFunc func(ctx context.Context, delivery Delivery) Result

// Handle implements Consumer.
func (f ConsumerFunc) Handle(ctx context.Context, delivery Delivery) Result {
	return f(ctx, delivery)
}
