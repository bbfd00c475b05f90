// Package es provides the core event sourcing types and interfaces for riftlog.
//
// # Overview
//
// riftlog is an append-only, strongly-ordered event log organized into named
// streams, backed by a relational database. This package defines the
// database-agnostic vocabulary shared by every adapter and by the
// subscription engine:
//
//	Event, RecordedEvent - immutable domain events, before and after persistence
//	ExpectedVersion      - optimistic concurrency expectations for Append/Link
//	DBTX                 - transaction abstraction shared with *sql.DB/*sql.Tx
//	Logger               - optional, zero-overhead-when-nil observability hook
//
// # Design Philosophy
//
// Clean architecture: core interfaces never import database/sql driver
// packages. Infrastructure concerns live in es/adapters/*.
//
// Transaction control: callers (or the subscription engine) own transaction
// boundaries via DBTX. The core never calls sql.DB.Begin itself, so event
// writes can be combined atomically with other application writes.
//
// Immutability: events are value objects without identity until appended,
// at which point the store assigns EventID (if unset), EventNumber,
// GlobalSequence and CreatedAt.
//
// # Quick Start
//
//	store := postgres.NewStore(db, postgres.DefaultConfig())
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//	result, err := store.Append(ctx, tx, "order-123", es.NoStream(), []es.Event{
//	    {EventType: "OrderPlaced", Data: payload, Metadata: []byte(`{}`)},
//	})
//	tx.Commit()
//
// See es/adapters/postgres for the primary adapter and es/subscription for
// the durable ack/nack consumer engine.
package es
