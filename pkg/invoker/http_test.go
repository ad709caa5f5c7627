package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goconductor/conductor/pkg/agent"
)

func registryWithAgent(t *testing.T, name, address string) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	require.NoError(t, reg.Register(agent.Agent{Name: name, Address: address}))
	return reg
}

func TestInvokeSuccess(t *testing.T) {
	var gotPayload struct {
		Skill string          `json:"skill"`
		Input json.RawMessage `json:"input"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invoke", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": "summarized text"}`))
	}))
	defer srv.Close()

	inv := NewHTTP(registryWithAgent(t, "summarizer", srv.URL))
	result := inv.Invoke(context.Background(), SkillRequest{
		AgentName: "summarizer",
		Skill:     "summarize",
		Input:     json.RawMessage(`"long document"`),
	})

	require.True(t, result.OK())
	assert.Equal(t, json.RawMessage(`"summarized text"`), result.Data)
	assert.Equal(t, "summarize", gotPayload.Skill)
	assert.Equal(t, json.RawMessage(`"long document"`), gotPayload.Input)
}

func TestInvokeUnknownAgent(t *testing.T) {
	inv := NewHTTP(agent.NewRegistry())
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "ghost", Skill: "any"})

	require.False(t, result.OK())
	assert.Equal(t, FailureNotFound, result.Err.Kind)
}

func TestInvokeRemoteErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "quota exceeded"}`))
	}))
	defer srv.Close()

	inv := NewHTTP(registryWithAgent(t, "summarizer", srv.URL))
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "summarizer", Skill: "summarize"})

	require.False(t, result.OK())
	assert.Equal(t, FailureRemote, result.Err.Kind)
	assert.Equal(t, "quota exceeded", result.Err.Message)
}

func TestInvokeNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTP(registryWithAgent(t, "summarizer", srv.URL))
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "summarizer", Skill: "summarize"})

	require.False(t, result.OK())
	assert.Equal(t, FailureRemote, result.Err.Kind)
	assert.Contains(t, result.Err.Message, "500")
}

func TestInvokeMalformed2xxBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	inv := NewHTTP(registryWithAgent(t, "summarizer", srv.URL))
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "summarizer", Skill: "summarize"})

	require.False(t, result.OK())
	assert.Equal(t, FailureInternal, result.Err.Kind)
}

func TestInvokeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	inv := NewHTTP(registryWithAgent(t, "slow", srv.URL))

	start := time.Now()
	result := inv.Invoke(context.Background(), SkillRequest{
		AgentName: "slow",
		Skill:     "anything",
		Timeout:   50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.False(t, result.OK())
	assert.Equal(t, FailureTimeout, result.Err.Kind)
	// The whole call is bounded by the request timeout
	assert.Less(t, elapsed, time.Second)
}

func TestInvokeTransportFailure(t *testing.T) {
	// Nothing listens on this address
	inv := NewHTTP(registryWithAgent(t, "down", "http://127.0.0.1:1"))
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "down", Skill: "anything"})

	require.False(t, result.OK())
	assert.Equal(t, FailureTransport, result.Err.Kind)
}

func TestInvokeCancelledContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	inv := NewHTTP(registryWithAgent(t, "slow", srv.URL))
	result := inv.Invoke(ctx, SkillRequest{AgentName: "slow", Skill: "anything"})

	require.False(t, result.OK())
	assert.Equal(t, FailureTransport, result.Err.Kind)
}

func TestInvokeSingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTP(registryWithAgent(t, "flaky", srv.URL))
	result := inv.Invoke(context.Background(), SkillRequest{AgentName: "flaky", Skill: "anything"})

	require.False(t, result.OK())
	assert.Equal(t, 1, attempts)
}

func TestSkillResultEnvelope(t *testing.T) {
	ok := Success(json.RawMessage(`{"x":1}`))
	assert.True(t, ok.OK())
	assert.Nil(t, ok.Err)

	bad := Failure(FailureRemote, "boom")
	assert.False(t, bad.OK())
	assert.Nil(t, bad.Data)
	assert.Equal(t, "remote: boom", bad.Err.Error())
}
