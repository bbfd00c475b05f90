package postgres

import (
	"context"
	"fmt"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// DeleteStream implements store.Deleter (§4.E).
//
// Soft delete validates expectedVersion and flips deleted_state to
// soft_deleted: subsequent appends/links/direct reads fail with
// ErrStreamDeleted, but $all and linking targets keep observing the
// stream's events unchanged.
//
// Hard delete requires Config.EnableHardDeletes. In one transaction it
// removes the stream's own event rows, every stream_events row that
// referenced those events (in any stream that linked them), and leaves a
// tombstone on the streams row itself: direct reads then return
// ErrStreamNotFound, and appends, links or deletes with any expectation
// other than NoStream return ErrStreamDeleted. The name may be reused
// afterwards via NoStream, starting again from version 0.
func (s *Store) DeleteStream(ctx context.Context, tx es.DBTX, stream string, expectedVersion es.ExpectedVersion, mode store.DeleteMode) error {
	if mode == store.HardDelete && !s.config.EnableHardDeletes {
		return es.ErrNotEnabled
	}

	row, exists, err := s.lockAndLoadStream(ctx, tx, stream)
	if err != nil {
		return err
	}
	if !exists {
		return es.ErrStreamNotFound
	}

	if err := expectedVersion.Validate(exists, row.version, row.deleted); err != nil {
		return err
	}

	switch mode {
	case store.SoftDelete:
		return s.softDelete(ctx, tx, stream, row)
	case store.HardDelete:
		return s.hardDelete(ctx, tx, stream, row)
	default:
		return fmt.Errorf("riftlog/postgres: unknown delete mode %v", mode)
	}
}

func (s *Store) softDelete(ctx context.Context, tx es.DBTX, stream string, row streamRow) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_state = $1 WHERE id = $2`, s.config.streamsTable())
	if _, err := tx.ExecContext(ctx, query, int(es.StreamSoftDeleted), row.id); err != nil {
		return fmt.Errorf("riftlog/postgres: soft delete %q: %w", stream, translateConnErr(err))
	}

	if err := s.notifyCommit(ctx, tx, stream, row.version, row.version, 0, 0, "soft_deleted"); err != nil {
		return err
	}

	s.logger().Info(ctx, "stream soft-deleted", "stream", stream, "version", row.version)
	return nil
}

func (s *Store) hardDelete(ctx context.Context, tx es.DBTX, stream string, row streamRow) error {
	deleteLinksQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE event_id IN (SELECT event_id FROM %s WHERE original_stream_id = $1)
	`, s.config.streamEventsTable(), s.config.eventsTable())
	if _, err := tx.ExecContext(ctx, deleteLinksQuery, row.id); err != nil {
		return fmt.Errorf("riftlog/postgres: hard delete %q: remove links: %w", stream, translateConnErr(err))
	}

	deleteEventsQuery := fmt.Sprintf(`DELETE FROM %s WHERE original_stream_id = $1`, s.config.eventsTable())
	result, err := tx.ExecContext(ctx, deleteEventsQuery, row.id)
	if err != nil {
		return fmt.Errorf("riftlog/postgres: hard delete %q: remove events: %w", stream, translateConnErr(err))
	}
	removed, _ := result.RowsAffected()

	tombstoneQuery := fmt.Sprintf(`UPDATE %s SET deleted_state = $1 WHERE id = $2`, s.config.streamsTable())
	if _, err := tx.ExecContext(ctx, tombstoneQuery, int(es.StreamHardDeletedTombstone), row.id); err != nil {
		return fmt.Errorf("riftlog/postgres: hard delete %q: tombstone: %w", stream, translateConnErr(err))
	}

	if err := s.notifyCommit(ctx, tx, stream, row.version, row.version, 0, 0, "hard_deleted"); err != nil {
		return err
	}

	s.logger().Info(ctx, "stream hard-deleted", "stream", stream, "events_removed", removed)
	return nil
}

var _ store.Deleter = (*Store)(nil)
