// Package e2e exercises the full stack: HTTP API, query queue, worker pool,
// agent loop, tool registry, and the PostgreSQL stores, with only the LLM and
// the code executor replaced by test doubles.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/agent"
	"github.com/artificer-dev/artificer/pkg/api"
	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/database"
	"github.com/artificer-dev/artificer/pkg/models"
	"github.com/artificer-dev/artificer/pkg/queue"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/sandbox"
	"github.com/artificer-dev/artificer/pkg/services"
	"github.com/artificer-dev/artificer/pkg/store"
	"github.com/artificer-dev/artificer/test/util"
)

// stubExecutor satisfies registry.Executor without Python or a container
// runtime. It understands the one code shape the scripts author: summing the
// numeric parameters.
type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, req *sandbox.Request) (*models.ExecutionRecord, error) {
	return stubExecutor{}.ExecuteDirect(ctx, req)
}

func (stubExecutor) ExecuteDirect(_ context.Context, req *sandbox.Request) (*models.ExecutionRecord, error) {
	sum := 0.0
	for _, v := range req.Params {
		switch n := v.(type) {
		case float64:
			sum += n
		case int:
			sum += float64(n)
		}
	}
	return &models.ExecutionRecord{
		Success:   true,
		Result:    sum,
		Timestamp: time.Now().UTC(),
	}, nil
}

type harness struct {
	t       *testing.T
	server  *api.Server
	pool    *queue.WorkerPool
	queries *store.QueryStore
	tools   *store.ToolStore
	llm     *scriptLLM
}

func newHarness(t *testing.T, llmClient *scriptLLM) *harness {
	t.Helper()
	ctx := context.Background()

	db := util.SetupTestDatabase(t)
	toolStore := store.NewToolStore(db)
	queryStore := store.NewQueryStore(db)

	reg := registry.New(registry.Options{
		ToolsDir: t.TempDir(),
		Store:    toolStore,
		Executor: stubExecutor{},
	})
	require.NoError(t, reg.Load(ctx))

	toolService := services.NewToolService(toolStore, reg)
	queryService := services.NewQueryService(queryStore, services.QueryDefaults{
		MaxIterations: 10,
		MaxTools:      5,
	})

	agentRunner := agent.NewAgent(llmClient, reg, toolService, nil, agent.Options{
		MaxIterations: 10,
		MaxTools:      5,
		RetryBackoff:  time.Millisecond,
		ReloadGrace:   time.Millisecond,
	})

	qcfg := config.DefaultQueueConfig()
	qcfg.WorkerCount = 2
	qcfg.PollInterval = 20 * time.Millisecond
	qcfg.PollIntervalJitter = 5 * time.Millisecond
	qcfg.HeartbeatInterval = 25 * time.Millisecond
	qcfg.SessionTimeout = 10 * time.Second

	pool := queue.NewWorkerPool("e2e-pod", queryStore, qcfg,
		queue.NewAgentExecutor(agentRunner), nil, nil, nil)
	require.NoError(t, pool.Start(ctx))
	t.Cleanup(pool.Stop)

	cfg := &config.Config{
		Server: config.DefaultServerConfig(),
		Auth: &config.AuthConfig{
			JWTSecret:     "e2e-secret",
			AdminUsername: "admin",
			AdminPassword: "e2e-password",
			TokenTTL:      time.Hour,
		},
		Agent: config.DefaultAgentConfig(),
		Queue: qcfg,
	}

	server, err := api.NewServer(cfg, database.NewClientFromDB(db),
		queryService, toolService, reg, nil, pool, nil)
	require.NoError(t, err)

	return &harness{
		t:       t,
		server:  server,
		pool:    pool,
		queries: queryStore,
		tools:   toolStore,
		llm:     llmClient,
	}
}

// doJSON issues a request against the in-process server.
func (h *harness) doJSON(method, path, token string, body, out any) *httptest.ResponseRecorder {
	h.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}

func (h *harness) adminToken() string {
	h.t.Helper()
	var resp api.LoginResponse
	rec := h.doJSON(http.MethodPost, "/auth/login", "",
		map[string]string{"username": "admin", "password": "e2e-password"}, &resp)
	require.Equal(h.t, http.StatusOK, rec.Code)
	return resp.Token
}

// submit enqueues a query and returns the session ID.
func (h *harness) submit(question string) string {
	h.t.Helper()
	var resp api.SubmitQueryResponse
	rec := h.doJSON(http.MethodPost, "/queries", "",
		map[string]string{"question": question}, &resp)
	require.Equal(h.t, http.StatusAccepted, rec.Code)
	require.NotEmpty(h.t, resp.SessionID)
	return resp.SessionID
}

// waitForStatus polls until the session reaches the wanted status.
func (h *harness) waitForStatus(id string, want models.SessionStatus) *models.QuerySession {
	h.t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		session, err := h.queries.Get(context.Background(), id)
		require.NoError(h.t, err)
		if session.Status == want {
			return session
		}
		time.Sleep(20 * time.Millisecond)
	}
	h.t.Fatalf("session %s never reached status %s", id, want)
	return nil
}

// waitForInProgress blocks until the worker pool owns the session.
func (h *harness) waitForInProgress(id string) {
	h.t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		session, err := h.queries.Get(context.Background(), id)
		require.NoError(h.t, err)
		if session.Status == models.SessionInProgress {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.t.Fatalf("session %s never started processing", id)
}
