package store

import "fmt"

// Tool is a discovered MCP tool as persisted for one server. Schema is
// the tool's input schema serialized as JSON, stored verbatim.
type Tool struct {
	ID          int64  `json:"id"`
	ServerID    int64  `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsEnabled   bool   `json:"is_enabled"`
	Schema      string `json:"schema,omitempty"`
}

// ToolDefinition carries one tool from discovery into the store.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      string // JSON-serialized input schema
}

// UpsertTools inserts or replaces the given tools for a server. Tools
// the server no longer declares are left in place, matching the original
// insert-or-replace discovery behavior; the enabled flag of replaced
// tools resets to true.
func (s *Store) UpsertTools(serverID int64, tools []ToolDefinition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tools {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO mcp_tools (server_id, name, description, schema)
			VALUES (?, ?, ?, ?)
		`, serverID, t.Name, t.Description, t.Schema)
		if err != nil {
			return fmt.Errorf("upsert tool %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

// GetServerTools returns all persisted tools for a server.
func (s *Store) GetServerTools(serverID int64) ([]Tool, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, name, COALESCE(description, ''), is_enabled, COALESCE(schema, '')
		FROM mcp_tools WHERE server_id = ? ORDER BY name
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		var t Tool
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Name, &t.Description, &t.IsEnabled, &t.Schema); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// ToggleToolEnabled flips one tool's enabled flag.
func (s *Store) ToggleToolEnabled(toolID int64, enabled bool) error {
	_, err := s.db.Exec(`UPDATE mcp_tools SET is_enabled = ? WHERE id = ?`, enabled, toolID)
	if err != nil {
		return fmt.Errorf("toggle tool: %w", err)
	}
	return nil
}
