// Package riftlog provides the top-level entry point for the riftlog event
// store library.
//
// For the core functionality, see the es package and its subpackages:
//
//	es              - Core types and interfaces
//	es/store        - Event store abstractions
//	es/subscription - Durable subscription engine
//	es/adapters/postgres, mysql, sqlite - Database implementations
//	es/migrations   - Schema migration generation
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/riftlog/riftlog/cmd/migrate-gen -output migrations
//
//  2. Create a store and append events:
//     str := postgres.NewStore(db, postgres.DefaultConfig())
//     tx, _ := db.BeginTx(ctx, nil)
//     result, err := str.Append(ctx, tx, streamID, es.NoStream(), events)
//     tx.Commit()
//
//  3. Subscribe to a stream:
//     mgr := subscription.NewManager(db, str, str, bus, nil)
//     sub, err := mgr.Subscribe(ctx, streamID, "my-consumer", consumer, subscription.DefaultOptions())
//
// The es package documentation has a further quick start.
package riftlog

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
