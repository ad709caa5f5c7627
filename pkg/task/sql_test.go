package task

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore("sqlite", ":memory:", 1, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreRoundTrip(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "summarize report")
	require.NoError(t, err)

	created.Start("fetch")
	created.BeginStage("fetch")
	created.CompleteStage("fetch", json.RawMessage(`"raw data"`))
	created.Complete(json.RawMessage(`"summary"`))
	require.NoError(t, s.Update(ctx, created))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "summarize report", got.Goal)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, json.RawMessage(`"summary"`), got.Result)
	require.Len(t, got.StageOutputs, 1)
	assert.Equal(t, "fetch", got.StageOutputs[0].Stage)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, StepCompleted, got.Steps[0].Status)
}

func TestSQLStoreGetNotFound(t *testing.T) {
	s := newTestSQLStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreUpdateNotFound(t *testing.T) {
	s := newTestSQLStore(t)

	err := s.Update(context.Background(), New("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreCancel(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "goal")
	require.NoError(t, err)

	got, err := s.Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = s.Cancel(ctx, created.ID)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSQLStoreList(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "first")
	require.NoError(t, err)
	_, err = s.Create(ctx, "second")
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSQLStoreIdenticalUpdateIsNotMissing(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "goal")
	require.NoError(t, err)
	created.Cancel()

	// A terminal snapshot can be written more than once; a value-identical
	// UPDATE still means the row exists.
	require.NoError(t, s.Update(ctx, created))
	require.NoError(t, s.Update(ctx, created))
}

func TestNormalizeDSN(t *testing.T) {
	driver, dsn, err := normalizeDSN("sqlite", ":memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, ":memory:", dsn)

	driver, dsn, err = normalizeDSN("postgres", "postgres://localhost/conductor")
	require.NoError(t, err)
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, "postgres://localhost/conductor", dsn)

	// The mysql driver must report matched rows so repeated terminal
	// writes are not misread as not-found.
	driver, dsn, err = normalizeDSN("mysql", "user:pw@tcp(localhost:3306)/conductor")
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, _, err = normalizeDSN("mysql", "not a dsn")
	assert.Error(t, err)
}

func TestSQLStoreRejectsUnknownDialect(t *testing.T) {
	_, err := OpenSQLStore("oracle", "dsn", 0, 0)
	assert.Error(t, err)
}
