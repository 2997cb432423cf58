package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/juanmitaboada/landscape-client/internal/domain/identity"
)

// ErrIdentityNotFound is returned when no identity has been persisted yet.
var ErrIdentityNotFound = errors.New("identity not found")

// SaveIdentity replaces the persisted identity atomically. The previous
// identity stops being valid the moment the transaction commits; there is no
// window where both are considered valid.
func (s *Store) SaveIdentity(ctx context.Context, ident *identity.Identity) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"REPLACE INTO identity (id, data, updated_at) VALUES (1, ?, ?)",
		string(data), time.Now().UTC(),
	)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("save identity: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit identity: %w", err)
	}

	return nil
}

// LoadIdentity returns the persisted identity or ErrIdentityNotFound.
func (s *Store) LoadIdentity(ctx context.Context) (*identity.Identity, error) {
	var data string

	err := s.db.GetContext(ctx, &data, "SELECT data FROM identity WHERE id = 1")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}

		return nil, fmt.Errorf("load identity: %w", err)
	}

	var ident identity.Identity
	if err = json.Unmarshal([]byte(data), &ident); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}

	return &ident, nil
}
