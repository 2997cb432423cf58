package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/juanmitaboada/landscape-client/internal/domain/command"
)

// ErrCommandNotFound is returned when no record exists for a command id.
var ErrCommandNotFound = errors.New("command not found")

// commandRow is the sqlx scan target for command rows.
type commandRow struct {
	ID         string    `db:"id"`
	Kind       string    `db:"kind"`
	State      string    `db:"state"`
	ReceivedAt time.Time `db:"received_at"`
	Attempts   int       `db:"attempts"`
	Data       []byte    `db:"data"`
}

// PutCommand writes the command's write-ahead record. The full command,
// including its result when present, is stored as a blob alongside the
// indexed lifecycle columns, mirroring a task queue consumed oldest-first.
func (s *Store) PutCommand(ctx context.Context, cmd *command.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"REPLACE INTO command (id, kind, state, received_at, attempts, data) VALUES (?, ?, ?, ?, ?, ?)",
		cmd.ID, cmd.Kind, string(cmd.State), cmd.ReceivedAt, cmd.Attempts, data,
	)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("put command: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit command: %w", err)
	}

	return nil
}

// GetCommand returns the persisted command record.
func (s *Store) GetCommand(ctx context.Context, id string) (*command.Command, error) {
	var row commandRow

	err := s.db.GetContext(ctx, &row,
		"SELECT id, kind, state, received_at, attempts, data FROM command WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}

		return nil, fmt.Errorf("get command: %w", err)
	}

	return decodeCommand(row.Data)
}

// CommandsInStates returns commands in any of the given states, oldest first.
// The recovery pass at startup uses this to replay non-terminal records.
func (s *Store) CommandsInStates(ctx context.Context, states ...command.State) ([]*command.Command, error) {
	if len(states) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(states))
	for _, state := range states {
		names = append(names, string(state))
	}

	query, args, err := sqlx.In(
		"SELECT id, kind, state, received_at, attempts, data FROM command WHERE state IN (?) ORDER BY received_at", names)
	if err != nil {
		return nil, fmt.Errorf("expand states: %w", err)
	}

	var rows []commandRow
	if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("commands in states: %w", err)
	}

	commands := make([]*command.Command, 0, len(rows))

	for _, row := range rows {
		cmd, decodeErr := decodeCommand(row.Data)
		if decodeErr != nil {
			return nil, decodeErr
		}

		commands = append(commands, cmd)
	}

	return commands, nil
}

// PruneDelivered removes terminal command records older than the cutoff.
func (s *Store) PruneDelivered(ctx context.Context, olderThan time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM command WHERE state = ? AND received_at < ?",
		string(command.StateDelivered), olderThan,
	)
	if err != nil {
		return fmt.Errorf("prune delivered: %w", err)
	}

	return nil
}

// decodeCommand unmarshals a stored command blob.
func decodeCommand(data []byte) (*command.Command, error) {
	var cmd command.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	return &cmd, nil
}
