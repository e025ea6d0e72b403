package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// memoryPath opens a private in-memory cache.
const memoryPath = ":memory:"

// migration upgrades the cache schema by one version.
type migration struct {
	name  string
	apply string
}

// migrations run in order; the cache's user_version is the number applied.
var migrations = []migration{
	{
		name: "index messages by conversation",
		apply: `CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, position)`,
	},
	{
		name: "index conversations by position",
		apply: `CREATE INDEX IF NOT EXISTS idx_conversations_position
			ON conversations(position, id)`,
	},
}

var currentSchemaVersion = len(migrations)

// Store caches conversations and messages in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache at path. ":memory:" gives a cache that
// lives as long as the Store.
//
// File caches run in WAL mode so a second process (list --offline while
// watch runs) can read during writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	// One connection: sqlite allows a single writer, and every connection
	// to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(path == memoryPath); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type pragma struct {
	name, value string
	want        string // value read back; empty skips the check
}

func pragmasFor(memory bool) []pragma {
	journal := pragma{"journal_mode", "WAL", "wal"}
	if memory {
		journal = pragma{"journal_mode", "MEMORY", "memory"}
	}
	return []pragma{
		journal,
		{"synchronous", "NORMAL", "1"},
		{"busy_timeout", "5000", "5000"},
		{"foreign_keys", "ON", "1"},
	}
}

func (s *Store) configure(memory bool) error {
	for _, p := range pragmasFor(memory) {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
		if p.want == "" {
			continue
		}
		if err := s.verifyPragma(p.name, p.want); err != nil {
			return err
		}
	}
	return nil
}

// migrate creates the base tables and applies pending migrations, each in
// its own transaction together with the user_version bump.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("cache schema version %d is newer than supported %d", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		m := migrations[v]
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(m.apply); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", v+1, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
