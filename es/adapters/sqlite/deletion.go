package sqlite

import (
	"context"
	"fmt"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// DeleteStream implements store.Deleter. Same soft/hard semantics as the
// Postgres adapter: soft delete flips deleted_state; hard delete (gated by
// Config.EnableHardDeletes) removes the stream's events and every link to
// them, leaving a tombstone row so the name can later be reused via
// NoStream.
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
		return fmt.Errorf("riftlog/sqlite: unknown delete mode %v", mode)
	}
}

func (s *Store) softDelete(ctx context.Context, tx es.DBTX, stream string, row streamRow) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_state = ? WHERE id = ?`, s.config.streamsTable())
	if _, err := tx.ExecContext(ctx, query, int(es.StreamSoftDeleted), row.id); err != nil {
		return fmt.Errorf("riftlog/sqlite: soft delete %q: %w", stream, err)
	}

	s.logger().Info(ctx, "stream soft-deleted", "stream", stream, "version", row.version)
	return nil
}

func (s *Store) hardDelete(ctx context.Context, tx es.DBTX, stream string, row streamRow) error {
	deleteLinksQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE event_id IN (SELECT event_id FROM %s WHERE original_stream_id = ?)
	`, s.config.streamEventsTable(), s.config.eventsTable())
	if _, err := tx.ExecContext(ctx, deleteLinksQuery, row.id); err != nil {
		return fmt.Errorf("riftlog/sqlite: hard delete %q: remove links: %w", stream, err)
	}

	deleteEventsQuery := fmt.Sprintf(`DELETE FROM %s WHERE original_stream_id = ?`, s.config.eventsTable())
	result, err := tx.ExecContext(ctx, deleteEventsQuery, row.id)
	if err != nil {
		return fmt.Errorf("riftlog/sqlite: hard delete %q: remove events: %w", stream, err)
	}
	removed, _ := result.RowsAffected()

	tombstoneQuery := fmt.Sprintf(`UPDATE %s SET deleted_state = ? WHERE id = ?`, s.config.streamsTable())
	if _, err := tx.ExecContext(ctx, tombstoneQuery, int(es.StreamHardDeletedTombstone), row.id); err != nil {
		return fmt.Errorf("riftlog/sqlite: hard delete %q: tombstone: %w", stream, err)
	}

	s.logger().Info(ctx, "stream hard-deleted", "stream", stream, "events_removed", removed)
	return nil
}

var _ store.Deleter = (*Store)(nil)
