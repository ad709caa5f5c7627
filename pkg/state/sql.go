package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore implements Store on PostgreSQL, MySQL, or SQLite. Entries are
// upserted on the (agent, user, key) primary key.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createStateTableSQL = `
CREATE TABLE IF NOT EXISTS agent_state (
    agent VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_key VARCHAR(255) NOT NULL,
    data TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (agent, user_id, state_key)
);
`

// NewSQLStore wraps an open database connection. The schema is created if
// missing.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createStateTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, agent, user, key string) (json.RawMessage, error) {
	query := s.rebind(`SELECT data FROM agent_state WHERE agent = ? AND user_id = ? AND state_key = ?`)

	var data sql.NullString
	err := s.db.QueryRowContext(ctx, query, agent, user, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if !data.Valid {
		return nil, nil
	}
	return json.RawMessage(data.String), nil
}

func (s *SQLStore) Set(ctx context.Context, agent, user, key string, data json.RawMessage) error {
	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO agent_state (agent, user_id, state_key, data, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`
	default: // sqlite and postgres share ON CONFLICT syntax
		query = s.rebind(`INSERT INTO agent_state (agent, user_id, state_key, data, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (agent, user_id, state_key)
			DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	}

	_, err := s.db.ExecContext(ctx, query, agent, user, key, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, agent, user, key string) error {
	query := s.rebind(`DELETE FROM agent_state WHERE agent = ? AND user_id = ? AND state_key = ?`)

	if _, err := s.db.ExecContext(ctx, query, agent, user, key); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *SQLStore) ListKeys(ctx context.Context, agent, user string) ([]string, error) {
	query := s.rebind(`SELECT state_key FROM agent_state WHERE agent = ? AND user_id = ? ORDER BY state_key`)

	rows, err := s.db.QueryContext(ctx, query, agent, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list state keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan state key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
