package store

import (
	"embed"
	"fmt"
	"net/url"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

//nolint:gochecknoinits // sqlx must learn the bind type of the modernc driver once.
func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is the daemon's durable local state: registration identity, the
// pending report queue, command write-ahead records and bookkeeping flags.
//
// Writes are serialized through a mutex and wrapped in transactions so that a
// crash never leaves a partially written record; reads run concurrently.
type Store struct {
	db *sqlx.DB

	// writeMu serializes writes. SQLite allows a single writer anyway; the
	// mutex surfaces that constraint without busy-wait errors.
	writeMu sync.Mutex

	// queueDepth bounds the report queue; oldest entries are evicted on
	// overflow.
	queueDepth int
}

// Open opens (creating if necessary) the SQLite database at path and runs
// pending schema migrations.
func Open(path string, queueDepth int) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		url.PathEscape(path),
	)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)

	if err = goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	if err = goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:         db,
		queueDepth: queueDepth,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
