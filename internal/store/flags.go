package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetFlag returns the value of the named boolean flag, false when unset.
func (s *Store) GetFlag(ctx context.Context, name string) (bool, error) {
	var value bool

	err := s.db.GetContext(ctx, &value, "SELECT value FROM flag WHERE name = ?", name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("get flag: %w", err)
	}

	return value, nil
}

// SetFlag sets the named boolean flag.
func (s *Store) SetFlag(ctx context.Context, name string, value bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "REPLACE INTO flag (name, value) VALUES (?, ?)", name, value); err != nil {
		return fmt.Errorf("set flag: %w", err)
	}

	return nil
}

// NextSequence atomically increments and returns the named counter. The
// transport uses it for exchange sequence numbers that survive restarts.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO counter (name, value) VALUES (?, 1)
		 ON CONFLICT (name) DO UPDATE SET value = value + 1`,
		name,
	)
	if err != nil {
		_ = tx.Rollback()

		return 0, fmt.Errorf("increment counter: %w", err)
	}

	var value int64
	if err = tx.GetContext(ctx, &value, "SELECT value FROM counter WHERE name = ?", name); err != nil {
		_ = tx.Rollback()

		return 0, fmt.Errorf("read counter: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter: %w", err)
	}

	return value, nil
}
