package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Server is a registered MCP server. API keys are never included; use
// ServerAPIKey when an outbound call needs one.
type Server struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	ServerType       string   `json:"server_type"` // local | remote
	URL              string   `json:"url,omitempty"`
	Command          string   `json:"command,omitempty"`
	Args             []string `json:"args,omitempty"`
	AutoStart        bool     `json:"auto_start"`
	ProcessStatus    string   `json:"process_status"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	IsEnabled        bool     `json:"is_enabled"`
	Status           string   `json:"status"`
}

// NewServer carries the fields for registering a server. URL and APIKey
// apply to remote servers; Command, Args, AutoStart, and WorkingDirectory
// to local ones.
type NewServer struct {
	Name             string
	ServerType       string
	URL              string
	APIKey           string
	Command          string
	Args             []string
	AutoStart        bool
	WorkingDirectory string
}

// AddServer registers an MCP server and returns its id.
func (s *Store) AddServer(n NewServer) (int64, error) {
	args, err := json.Marshal(n.Args)
	if err != nil {
		return 0, fmt.Errorf("marshal args: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO mcp_servers (name, server_type, url, api_key, command, args, auto_start, working_directory)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.Name, n.ServerType, n.URL, encodeKey(n.APIKey), n.Command, string(args), n.AutoStart, n.WorkingDirectory)
	if err != nil {
		return 0, fmt.Errorf("insert server: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("server id: %w", err)
	}
	return id, nil
}

const serverColumns = `id, name, server_type, COALESCE(url, ''), COALESCE(command, ''),
	COALESCE(args, '[]'), auto_start, process_status, COALESCE(working_directory, ''),
	is_enabled, status`

// scanServer reads one server row.
func scanServer(row interface{ Scan(...any) error }) (*Server, error) {
	var srv Server
	var args string
	err := row.Scan(&srv.ID, &srv.Name, &srv.ServerType, &srv.URL, &srv.Command,
		&args, &srv.AutoStart, &srv.ProcessStatus, &srv.WorkingDirectory,
		&srv.IsEnabled, &srv.Status)
	if err != nil {
		return nil, err
	}
	// Args are stored as a JSON array; garbage degrades to no args.
	if err := json.Unmarshal([]byte(args), &srv.Args); err != nil {
		srv.Args = nil
	}
	return &srv, nil
}

// GetServers returns all registered servers.
func (s *Store) GetServers() ([]Server, error) {
	rows, err := s.db.Query(`SELECT ` + serverColumns + ` FROM mcp_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// GetServer returns one server by id, or nil when it does not exist.
func (s *Store) GetServer(id int64) (*Server, error) {
	srv, err := scanServer(s.db.QueryRow(`SELECT `+serverColumns+` FROM mcp_servers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query server %d: %w", id, err)
	}
	return srv, nil
}

// ServerAPIKey returns the decoded API key for a server ("" when unset).
func (s *Store) ServerAPIKey(id int64) (string, error) {
	var encoded sql.NullString
	err := s.db.QueryRow(`SELECT api_key FROM mcp_servers WHERE id = ?`, id).Scan(&encoded)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("server %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query server key: %w", err)
	}
	return decodeKey(encoded.String), nil
}

// UpdateServerStatus sets the protocol-level status
// (connected/disconnected/error/stopped).
func (s *Store) UpdateServerStatus(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE mcp_servers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update server status: %w", err)
	}
	return nil
}

// UpdateProcessStatus sets the OS process status (running/stopped/error).
func (s *Store) UpdateProcessStatus(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE mcp_servers SET process_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update process status: %w", err)
	}
	return nil
}

// ToggleServerEnabled flips a server's enabled flag.
func (s *Store) ToggleServerEnabled(id int64, enabled bool) error {
	_, err := s.db.Exec(`UPDATE mcp_servers SET is_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("toggle server: %w", err)
	}
	return nil
}

// DeleteServer removes a server and its tools.
func (s *Store) DeleteServer(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM mcp_tools WHERE server_id = ?`, id); err != nil {
		return fmt.Errorf("delete server tools: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM mcp_servers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return tx.Commit()
}
