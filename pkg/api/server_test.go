package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artificer-dev/artificer/pkg/config"
	"github.com/artificer-dev/artificer/pkg/database"
	"github.com/artificer-dev/artificer/pkg/registry"
	"github.com/artificer-dev/artificer/pkg/services"
	"github.com/artificer-dev/artificer/pkg/store"
	"github.com/artificer-dev/artificer/test/util"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.DefaultServerConfig(),
		Auth: &config.AuthConfig{
			JWTSecret:     "test-secret-key",
			AdminUsername: "admin",
			AdminPassword: "test-password",
			TokenTTL:      time.Hour,
		},
		Agent: config.DefaultAgentConfig(),
		Queue: config.DefaultQueueConfig(),
	}
}

// newTestServer builds a server over a real database with no worker pool,
// connection manager, or sandbox.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithExecutor(t, nil)
}

// newTestServerWithExecutor additionally wires a tool executor into the
// registry so tests can drive POST /tools/:id/execute.
func newTestServerWithExecutor(t *testing.T, exec registry.Executor) *Server {
	t.Helper()

	db := util.SetupTestDatabase(t)
	toolStore := store.NewToolStore(db)
	queryStore := store.NewQueryStore(db)

	reg := registry.New(registry.Options{ToolsDir: t.TempDir(), Store: toolStore, Executor: exec})
	require.NoError(t, reg.Load(context.Background()))

	cfg := testConfig()
	server, err := NewServer(
		cfg,
		database.NewClientFromDB(db),
		services.NewQueryService(queryStore, services.QueryDefaults{MaxIterations: 10, MaxTools: 5}),
		services.NewToolService(toolStore, reg),
		reg,
		nil, // sandbox
		nil, // worker pool
		nil, // connection manager
	)
	require.NoError(t, err)
	return server
}

// doJSON issues a request against the server and decodes the JSON response
// into out (when non-nil).
func doJSON(t *testing.T, s *Server, method, path, token string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
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
	s.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}

// adminToken logs in with the test credentials.
func adminToken(t *testing.T, s *Server) string {
	t.Helper()
	var resp LoginResponse
	rec := doJSON(t, s, http.MethodPost, "/auth/login", "",
		LoginRequest{Username: "admin", Password: "test-password"}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	var resp HealthResponse
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil, &resp)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, healthStatusHealthy, resp.Status)
	require.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
	require.NotNil(t, resp.Registry)
}
