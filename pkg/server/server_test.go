package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goconductor/conductor/pkg/invoker"
	"github.com/goconductor/conductor/pkg/orchestrator"
	"github.com/goconductor/conductor/pkg/task"
	"github.com/goconductor/conductor/pkg/testutils"
)

func newTestServer(t *testing.T) (*Server, *testutils.ScriptedInvoker, task.Store) {
	t.Helper()

	reg, err := testutils.NewAgentRegistry("collector", "summarizer")
	require.NoError(t, err)

	inv := testutils.NewScriptedInvoker()
	inv.Script("collector", "collect", invoker.Success(testutils.JSON(`"raw data"`)))
	inv.Script("summarizer", "summarize", invoker.Success(testutils.JSON(`"summary"`)))

	planner, err := orchestrator.NewStaticPlanner(map[string][]orchestrator.Stage{
		"research": {
			{Name: "fetch", Agent: "collector", Skill: "collect"},
			{Name: "summarize", Agent: "summarizer", Skill: "summarize"},
		},
	}, "research")
	require.NoError(t, err)

	store := task.NewInMemoryStore()
	orch, err := orchestrator.New(planner, inv, store)
	require.NoError(t, err)

	return New("127.0.0.1:0", orch, reg, store), inv, store
}

func submitTask(t *testing.T, s *Server, goal string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"goal": goal})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	return resp.TaskID
}

func TestSubmitAndGetTask(t *testing.T) {
	s, _, _ := newTestServer(t)

	id := submitTask(t, s, "research: solar panels")
	s.orch.Wait(id)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, json.RawMessage(`"summary"`), got.Result)
}

func TestSubmitRejectsEmptyGoal(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFinishedTaskConflicts(t *testing.T) {
	s, _, _ := newTestServer(t)

	id := submitTask(t, s, "research: anything")
	s.orch.Wait(id)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/"+id+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRunningTask(t *testing.T) {
	s, inv, _ := newTestServer(t)
	inv.Gate = make(chan struct{})

	id := submitTask(t, s, "research: anything")

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))
		var got task.Task
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.Status == task.StatusRunning
	}, time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/"+id+"/cancel", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	s.orch.Wait(id)

	rec = httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/"+id, nil))
	var got task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestListTasks(t *testing.T) {
	s, _, _ := newTestServer(t)

	first := submitTask(t, s, "research: one")
	second := submitTask(t, s, "research: two")
	s.orch.Wait(first)
	s.orch.Wait(second)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []task.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 2)
}

func TestListAgents(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents []struct {
			Name string `json:"name"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 2)
	assert.Equal(t, "collector", resp.Agents[0].Name)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
