// Copyright 2026 The Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	// Database drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on PostgreSQL, MySQL, or SQLite via
// database/sql. Step and output collections are stored as JSON columns so
// the schema stays identical across dialects.
type SQLStore struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", or "sqlite"
}

const createTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(255) PRIMARY KEY,
    goal TEXT NOT NULL,
    status VARCHAR(50) NOT NULL,
    current_stage VARCHAR(255),
    stage_outputs TEXT,
    result TEXT,
    error_message TEXT,
    steps TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at);
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
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenSQLStore opens a connection for the dialect and DSN, pings it, and
// returns a ready store.
func OpenSQLStore(dialect, dsn string, maxConns, maxIdle int) (*SQLStore, error) {
	driverName, dsn, err := normalizeDSN(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, dialect)
}

// normalizeDSN maps the dialect to its registered driver and adjusts the
// DSN where the driver's defaults conflict with the store's semantics.
func normalizeDSN(dialect, dsn string) (driverName, normalized string, err error) {
	switch dialect {
	case "sqlite":
		// go-sqlite3 registers as "sqlite3"
		return "sqlite3", dsn, nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// RowsAffected must count matched rows, not changed rows, so a
		// value-identical UPDATE is not mistaken for a missing task.
		cfg.ClientFoundRows = true
		return "mysql", cfg.FormatDSN(), nil
	default:
		return dialect, dsn, nil
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, createTasksTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $n for postgres.
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

func (s *SQLStore) Create(ctx context.Context, goal string) (*Task, error) {
	t := New(goal)

	query := s.rebind(`INSERT INTO tasks
		(id, goal, status, current_stage, stage_outputs, result, error_message, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	outputs, steps, err := encodeCollections(t)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.Goal, string(t.Status), t.CurrentStage,
		outputs, string(t.Result), t.ErrorMessage, steps,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Get(ctx context.Context, taskID string) (*Task, error) {
	query := s.rebind(`SELECT id, goal, status, current_stage, stage_outputs, result, error_message, steps, created_at, updated_at
		FROM tasks WHERE id = ?`)

	row := s.db.QueryRowContext(ctx, query, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Update(ctx context.Context, t *Task) error {
	snap := t.Snapshot()

	outputs, steps, err := encodeCollections(snap)
	if err != nil {
		return err
	}

	query := s.rebind(`UPDATE tasks SET
		status = ?, current_stage = ?, stage_outputs = ?, result = ?, error_message = ?, steps = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		string(snap.Status), snap.CurrentStage, outputs,
		string(snap.Result), snap.ErrorMessage, steps,
		snap.UpdatedAt, snap.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Cancel(ctx context.Context, taskID string) (*Task, error) {
	t, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.GetStatus().IsTerminal() {
		return t, ErrTerminal
	}
	t.Cancel()
	if err := s.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*Task, error) {
	query := `SELECT id, goal, status, current_stage, stage_outputs, result, error_message, steps, created_at, updated_at
		FROM tasks ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t            Task
		status       string
		currentStage sql.NullString
		outputs      sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
		steps        sql.NullString
	)

	err := row.Scan(&t.ID, &t.Goal, &status, &currentStage, &outputs,
		&result, &errorMessage, &steps, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.CurrentStage = currentStage.String
	t.ErrorMessage = errorMessage.String
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &t.StageOutputs); err != nil {
			return nil, fmt.Errorf("failed to decode stage outputs: %w", err)
		}
	}
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &t.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps: %w", err)
		}
	}
	return &t, nil
}

func encodeCollections(t *Task) (outputs string, steps string, err error) {
	if len(t.StageOutputs) > 0 {
		b, err := json.Marshal(t.StageOutputs)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode stage outputs: %w", err)
		}
		outputs = string(b)
	}
	if len(t.Steps) > 0 {
		b, err := json.Marshal(t.Steps)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode steps: %w", err)
		}
		steps = string(b)
	}
	return outputs, steps, nil
}
