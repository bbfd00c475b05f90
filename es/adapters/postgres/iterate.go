package postgres

import (
	"context"

	"github.com/riftlog/riftlog/es"
)

// StreamAllForward returns a lazy, finite, restartable sequence over $all
// starting at fromGlobal, paging internally at the Store's ReadBatchSize.
// It is a range-over-func iterator (Go 1.23+): for event, err := range
// store.StreamAllForward(ctx, tx, 0) { ... }. Restarting it from any
// RecordedEvent's GlobalSequence+1 resumes exactly where it left off,
// which is what the subscription engine's catch-up loop relies on.
func (s *Store) StreamAllForward(ctx context.Context, tx es.DBTX, fromGlobal int64) func(yield func(es.RecordedEvent, error) bool) {
	return func(yield func(es.RecordedEvent, error) bool) {
		position := fromGlobal
		batchSize := s.config.ReadBatchSize
		if batchSize <= 0 {
			batchSize = 1000
		}
		for {
			batch, err := s.ReadAllForward(ctx, tx, position, batchSize)
			if err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, event := range batch {
				if !yield(event, nil) {
					return
				}
				position = event.GlobalSequence + 1
			}
			if len(batch) < batchSize {
				return
			}
		}
	}
}

// StreamForward is StreamAllForward's analogue for a concrete stream,
// paging by stream_version.
func (s *Store) StreamForward(ctx context.Context, tx es.DBTX, stream string, fromVersion int64) func(yield func(es.RecordedEvent, error) bool) {
	return func(yield func(es.RecordedEvent, error) bool) {
		position := fromVersion
		batchSize := s.config.ReadBatchSize
		if batchSize <= 0 {
			batchSize = 1000
		}
		for {
			batch, err := s.ReadStreamForward(ctx, tx, stream, position, batchSize)
			if err != nil {
				yield(es.RecordedEvent{}, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			for _, event := range batch {
				if !yield(event, nil) {
					return
				}
				position = event.EventNumber + 1
			}
			if len(batch) < batchSize {
				return
			}
		}
	}
}
