// Package store provides SQLite persistence for MCP server registrations,
// their discovered tools, and LLM provider configurations.
package store

import (
	"database/sql"
	"encoding/base64"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// Server lifecycle status values. Status describes the protocol-level
// connection, ProcessStatus the supervised OS process.
const (
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusError        = "error"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Server types.
const (
	ServerTypeLocal  = "local"
	ServerTypeRemote = "remote"
)

// Store manages persistence for all toolgate state.
type Store struct {
	db *sql.DB
}

// New creates a store using the given SQLite database path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewWithDB creates a store using an existing database connection.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS mcp_servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			server_type TEXT NOT NULL DEFAULT 'remote',
			url TEXT,
			api_key TEXT,
			command TEXT,
			args TEXT,
			auto_start BOOLEAN NOT NULL DEFAULT TRUE,
			process_status TEXT NOT NULL DEFAULT 'stopped',
			working_directory TEXT,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			status TEXT NOT NULL DEFAULT 'disconnected',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);

		CREATE TABLE IF NOT EXISTS mcp_tools (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			schema TEXT,
			FOREIGN KEY (server_id) REFERENCES mcp_servers (id) ON DELETE CASCADE,
			UNIQUE(server_id, name)
		);

		CREATE TABLE IF NOT EXISTS llm_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			url TEXT NOT NULL,
			api_key TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// encodeKey reversibly encodes an API key for storage. The keys must be
// recovered verbatim to authenticate outbound calls, so this is encoding,
// not hashing.
func encodeKey(key string) string {
	if key == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(key))
}

// decodeKey reverses encodeKey. Undecodable values yield an empty key.
func decodeKey(encoded string) string {
	if encoded == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	return string(raw)
}
