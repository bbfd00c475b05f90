package subscription

import "time"

// StartFrom selects where a brand-new (stream, name) subscription begins
// reading. It has no effect once a checkpoint row already exists: a
// reconnect always resumes from the persisted position.
type StartFrom int

const (
	// StartOrigin begins at the first event of the stream.
	StartOrigin StartFrom = iota
	// StartCurrent is accepted for a new subscription, but the worker does
	// not look up the log's head: it begins at the first event of the
	// stream, the same as StartOrigin.
	StartCurrent
	// StartExplicit begins at Options.ExplicitPosition.
	StartExplicit
)

// Options configures a subscription's delivery, retry and checkpointing
// behavior.
type Options struct {
	// StartFrom selects where a new subscription begins.
	StartFrom StartFrom
	// ExplicitPosition is the starting position when StartFrom is
	// StartExplicit (exclusive: delivery begins at ExplicitPosition+1).
	ExplicitPosition int64

	// MaxInFlight bounds the number of events delivered without
	// acknowledgement.
	MaxInFlight int
	// MaxRetries bounds NackRetry attempts before an event is
	// automatically parked.
	MaxRetries int

	// AckTimeout is the deadline set on the context passed to each
	// Consumer.Handle call. A Pending delivery not resolved by Ack/Nack
	// within it is redelivered as a retry (and parked after MaxRetries); a
	// synchronous Handle call is not interrupted, and its Result stands.
	AckTimeout time.Duration
	// HeartbeatInterval is how often an active worker renews its
	// liveness with the manager.
	HeartbeatInterval time.Duration
	// ConsumerTimeout is how long a missed heartbeat is tolerated before
	// the manager promotes the next pending consumer.
	ConsumerTimeout time.Duration

	// CheckpointEveryN persists last_seen after this many contiguous
	// acks, whichever of CheckpointEveryN/CheckpointEveryInterval comes
	// first.
	CheckpointEveryN int
	// CheckpointEveryInterval persists last_seen at least this often,
	// regardless of ack volume.
	CheckpointEveryInterval time.Duration

	// ReadBatchSize is the page size used while catching up.
	ReadBatchSize int
}

// DefaultOptions returns riftlog's default subscription tuning.
func DefaultOptions() Options {
	return Options{
		StartFrom:               StartOrigin,
		MaxInFlight:             64,
		MaxRetries:              5,
		AckTimeout:              30 * time.Second,
		HeartbeatInterval:       5 * time.Second,
		ConsumerTimeout:         20 * time.Second,
		CheckpointEveryN:        20,
		CheckpointEveryInterval: 2 * time.Second,
		ReadBatchSize:           256,
	}
}
