package store

import (
	"database/sql"
	"fmt"
)

// LLMConfig is a configured LLM provider. The API key is only returned
// by LLMConfigAPIKey.
type LLMConfig struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	IsActive bool   `json:"is_active"`
}

// AddLLMConfig registers an LLM provider configuration and returns its id.
func (s *Store) AddLLMConfig(name, url, apiKey, provider, model string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO llm_configs (name, url, api_key, provider, model)
		VALUES (?, ?, ?, ?, ?)
	`, name, url, encodeKey(apiKey), provider, model)
	if err != nil {
		return 0, fmt.Errorf("insert llm config: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("llm config id: %w", err)
	}
	return id, nil
}

// GetLLMConfigs returns all configured LLM providers.
func (s *Store) GetLLMConfigs() ([]LLMConfig, error) {
	rows, err := s.db.Query(`SELECT id, name, url, provider, model, is_active FROM llm_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query llm configs: %w", err)
	}
	defer rows.Close()

	var configs []LLMConfig
	for rows.Next() {
		var c LLMConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.URL, &c.Provider, &c.Model, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan llm config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// GetLLMConfig returns one LLM config by id, or nil when it does not exist.
func (s *Store) GetLLMConfig(id int64) (*LLMConfig, error) {
	var c LLMConfig
	err := s.db.QueryRow(`SELECT id, name, url, provider, model, is_active FROM llm_configs WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.URL, &c.Provider, &c.Model, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query llm config %d: %w", id, err)
	}
	return &c, nil
}

// ActiveLLMConfig returns the active LLM config, or nil when none is active.
func (s *Store) ActiveLLMConfig() (*LLMConfig, error) {
	var c LLMConfig
	err := s.db.QueryRow(`SELECT id, name, url, provider, model, is_active FROM llm_configs WHERE is_active = TRUE`).
		Scan(&c.ID, &c.Name, &c.URL, &c.Provider, &c.Model, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active llm config: %w", err)
	}
	return &c, nil
}

// LLMConfigAPIKey returns the decoded API key for a config.
func (s *Store) LLMConfigAPIKey(id int64) (string, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT api_key FROM llm_configs WHERE id = ?`, id).Scan(&encoded)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("llm config %d not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("query llm key: %w", err)
	}
	return decodeKey(encoded), nil
}

// SetActiveLLM marks one config active and all others inactive.
func (s *Store) SetActiveLLM(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE llm_configs SET is_active = FALSE`); err != nil {
		return fmt.Errorf("deactivate llm configs: %w", err)
	}
	if _, err := tx.Exec(`UPDATE llm_configs SET is_active = TRUE WHERE id = ?`, id); err != nil {
		return fmt.Errorf("activate llm config: %w", err)
	}
	return tx.Commit()
}

// DeleteLLMConfig removes an LLM provider configuration.
func (s *Store) DeleteLLMConfig(id int64) error {
	_, err := s.db.Exec(`DELETE FROM llm_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete llm config: %w", err)
	}
	return nil
}
