// Package projection bridges the teacher-style projection handler shape
// (a named handler applying one event inside a caller-supplied
// transaction) onto the subscription engine's Consumer interface, for
// callers migrating existing projection handlers rather than rewriting
// them against Consumer directly.
package projection

import (
	"context"
	"database/sql"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/subscription"
)

// Projection processes a single event within a caller-supplied
// transaction. Name is used only for logging by AsConsumer; checkpointing
// is the subscription engine's responsibility, not the projection's.
type Projection interface {
	// Name identifies the projection for logging.
	Name() string

	// Handle applies one event. Returning an error nacks the delivery with
	// Retry; the subscription engine's own MaxRetries/park handling takes
	// over from there.
	Handle(ctx context.Context, tx es.DBTX, event es.RecordedEvent) error
}

// AsConsumer adapts a Projection to subscription.Consumer: each delivery
// opens a transaction, runs p.Handle, and commits on success. A handler
// error, or a failure to begin or commit the transaction, resolves as
// Retry so the subscription engine's existing retry/park machinery
// applies unchanged; the projection itself never sees or decides
// Ack/Skip/Park.
func AsConsumer(db *sql.DB, p Projection, logger es.Logger) subscription.Consumer {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &projectionConsumer{db: db, projection: p, logger: logger}
}

type projectionConsumer struct {
	db         *sql.DB
	projection Projection
	logger     es.Logger
}

func (c *projectionConsumer) Handle(ctx context.Context, delivery subscription.Delivery) subscription.Result {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		c.logger.Error(ctx, "projection: begin transaction failed", "projection", c.projection.Name(), "error", err)
		return subscription.Retry
	}
	defer tx.Rollback()

	if err := c.projection.Handle(ctx, tx, delivery.Event); err != nil {
		c.logger.Error(ctx, "projection: handler failed", "projection", c.projection.Name(), "error", err)
		return subscription.Retry
	}

	if err := tx.Commit(); err != nil {
		c.logger.Error(ctx, "projection: commit failed", "projection", c.projection.Name(), "error", err)
		return subscription.Retry
	}

	return subscription.Ack
}
