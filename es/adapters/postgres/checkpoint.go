package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/riftlog/riftlog/es"
	"github.com/riftlog/riftlog/es/store"
)

// GetCheckpoint implements store.Checkpointer.
func (s *Store) GetCheckpoint(ctx context.Context, tx es.DBTX, stream, name string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT last_seen FROM %s WHERE stream_uuid = $1 AND name = $2`, s.config.subscriptionsTable())

	var lastSeen int64
	err := tx.QueryRowContext(ctx, query, stream, name).Scan(&lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("riftlog/postgres: get checkpoint %q/%q: %w", stream, name, translateConnErr(err))
	}
	return lastSeen, true, nil
}

// UpsertCheckpoint implements store.Checkpointer.
func (s *Store) UpsertCheckpoint(ctx context.Context, tx es.DBTX, stream, name string, lastSeen int64, state string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, name, last_seen, state, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stream_uuid, name) DO UPDATE
		SET last_seen = EXCLUDED.last_seen, state = EXCLUDED.state
	`, s.config.subscriptionsTable())

	if _, err := tx.ExecContext(ctx, query, stream, name, lastSeen, state); err != nil {
		return fmt.Errorf("riftlog/postgres: upsert checkpoint %q/%q: %w", stream, name, translateConnErr(err))
	}
	return nil
}

// Park implements store.Checkpointer.
func (s *Store) Park(ctx context.Context, tx es.DBTX, stream, name string, position int64, reason string) error {
	subID, err := s.subscriptionID(ctx, tx, stream, name)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (subscription_id, position, reason, parked_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subscription_id, position) DO UPDATE SET reason = EXCLUDED.reason
	`, s.config.parkedTable())

	if _, err := tx.ExecContext(ctx, query, subID, position, reason); err != nil {
		return fmt.Errorf("riftlog/postgres: park %q/%q@%d: %w", stream, name, position, translateConnErr(err))
	}
	return nil
}

// ListParked implements store.Checkpointer.
func (s *Store) ListParked(ctx context.Context, tx es.DBTX, stream, name string) ([]store.ParkedEvent, error) {
	subID, exists, err := s.lookupSubscriptionID(ctx, tx, stream, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT position, reason FROM %s WHERE subscription_id = $1 ORDER BY position ASC`, s.config.parkedTable())
	rows, err := tx.QueryContext(ctx, query, subID)
	if err != nil {
		return nil, fmt.Errorf("riftlog/postgres: list parked %q/%q: %w", stream, name, translateConnErr(err))
	}
	defer rows.Close()

	var out []store.ParkedEvent
	for rows.Next() {
		var p store.ParkedEvent
		if err := rows.Scan(&p.Position, &p.Reason); err != nil {
			return nil, fmt.Errorf("riftlog/postgres: scan parked row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("riftlog/postgres: iterate parked rows: %w", err)
	}
	return out, nil
}

// ClearParked implements store.Checkpointer.
func (s *Store) ClearParked(ctx context.Context, tx es.DBTX, stream, name string, position int64) error {
	subID, exists, err := s.lookupSubscriptionID(ctx, tx, stream, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE subscription_id = $1 AND position = $2`, s.config.parkedTable())
	if _, err := tx.ExecContext(ctx, query, subID, position); err != nil {
		return fmt.Errorf("riftlog/postgres: clear parked %q/%q@%d: %w", stream, name, position, translateConnErr(err))
	}
	return nil
}

// subscriptionID returns (stream, name)'s row id, creating it at position 0
// in state "catching_up" if it doesn't exist yet. Parking an event requires
// a subscription row to hang the foreign key off of, even before the
// engine's first checkpoint write.
func (s *Store) subscriptionID(ctx context.Context, tx es.DBTX, stream, name string) (int64, error) {
	id, exists, err := s.lookupSubscriptionID(ctx, tx, stream, name)
	if err != nil {
		return 0, err
	}
	if exists {
		return id, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, name, last_seen, state, created_at)
		VALUES ($1, $2, 0, 'catching_up', NOW())
		ON CONFLICT (stream_uuid, name) DO UPDATE SET stream_uuid = EXCLUDED.stream_uuid
		RETURNING id
	`, s.config.subscriptionsTable())

	err = tx.QueryRowContext(ctx, query, stream, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("riftlog/postgres: create subscription row %q/%q: %w", stream, name, translateConnErr(err))
	}
	return id, nil
}

func (s *Store) lookupSubscriptionID(ctx context.Context, tx es.DBTX, stream, name string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE stream_uuid = $1 AND name = $2`, s.config.subscriptionsTable())

	var id int64
	err := tx.QueryRowContext(ctx, query, stream, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("riftlog/postgres: lookup subscription %q/%q: %w", stream, name, translateConnErr(err))
	}
	return id, true, nil
}

var _ store.Checkpointer = (*Store)(nil)
