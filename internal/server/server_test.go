package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/metrics"
	"github.com/xkilldash9x/surfer-cli/internal/store"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
)

const (
	appURL = "https://app.example.com/"
	page   = `<html><head><title>App</title></head><body><input type="password" name="pw"><button>Sign in</button></body></html>`
)

// gateModel blocks every call until release is closed, then finishes the run.
type gateModel struct {
	release chan struct{}
	summary string
	once    sync.Once
}

func newGateModel(summary string) *gateModel {
	return &gateModel{release: make(chan struct{}), summary: summary}
}

func (m *gateModel) open() { m.once.Do(func() { close(m.release) }) }

func (m *gateModel) Complete(ctx context.Context, _ []schemas.Message) (schemas.Completion, error) {
	select {
	case <-m.release:
	case <-ctx.Done():
		return schemas.Completion{}, ctx.Err()
	}
	body, _ := json.Marshal(map[string]interface{}{
		"action": "done",
		"params": map[string]string{"summary": m.summary},
	})
	return schemas.Completion{Content: string(body)}, nil
}

type fakeStore struct {
	runs    map[string]history.RunExport
	listErr error
	getErr  error
}

func (f *fakeStore) GetRun(_ context.Context, id string) (history.RunExport, error) {
	if f.getErr != nil {
		return history.RunExport{}, f.getErr
	}
	r, ok := f.runs[id]
	if !ok {
		return history.RunExport{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListRuns(context.Context, int) ([]store.RunSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.RunSummary
	for id, r := range f.runs {
		out = append(out, store.RunSummary{RunID: id, Task: r.Task, Status: r.Status, Steps: len(r.Records)})
	}
	return out, nil
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func newTestServer(t *testing.T, model schemas.ChatModel, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		Concurrency:     2,
		ShutdownTimeout: 5 * time.Second,
		Secrets:         vault.Bindings{"app.example.com": {"password": "hunter2"}},
		AllowedDomains:  []string{"app.example.com"},
	}
	acfg := agent.DefaultConfig()
	acfg.MaxSteps = 5
	newDriver := func(context.Context) (schemas.BrowserDriver, error) {
		return browsertest.NewDriver(appURL, map[string]string{appURL: page}), nil
	}
	build := func(d schemas.BrowserDriver, o ...agent.Option) *agent.Agent {
		return agent.New(d, model, zap.NewNop(), acfg, o...)
	}
	srv := New(cfg, newDriver, build, zap.NewNop(), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func do(t *testing.T, method, url, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func submit(t *testing.T, ts *httptest.Server, body string) RunView {
	t.Helper()
	code, env := do(t, http.MethodPost, ts.URL+"/runs", body)
	require.Equal(t, http.StatusAccepted, code, env.Error)
	assert.Equal(t, "accepted", env.Status)
	var view RunView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	require.NotEmpty(t, view.ID)
	return view
}

func waitForStatus(t *testing.T, ts *httptest.Server, id string, want agent.Status) RunView {
	t.Helper()
	var view RunView
	require.Eventually(t, func() bool {
		code, env := do(t, http.MethodGet, ts.URL+"/runs/"+id, "")
		if code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(env.Data, &view))
		return view.State.Status == want && view.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

// -- Test Cases --

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{"task":`},
		{"missing task", `{"max_steps":3}`},
		{"blank task", `{"task":"   "}`},
		{"negative max steps", `{"task":"x","max_steps":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, env := do(t, http.MethodPost, ts.URL+"/runs", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "error", env.Status)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestRunLifecycleAndRedactedHistory(t *testing.T) {
	model := newGateModel("signed in with hunter2")
	model.open()
	_, ts := newTestServer(t, model)

	view := submit(t, ts, `{"task":"sign in using hunter2"}`)
	final := waitForStatus(t, ts, view.ID, agent.StatusCompleted)
	assert.NotContains(t, final.State.Task, "hunter2")
	assert.NotContains(t, final.State.Summary, "hunter2")
	assert.Contains(t, final.State.Summary, vault.Token("password"))

	resp, err := http.Get(ts.URL + "/runs/" + view.ID + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), "hunter2")

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var export history.RunExport
	require.NoError(t, json.Unmarshal(env.Data, &export))
	assert.Equal(t, view.ID, export.RunID)
	assert.Equal(t, "completed", export.Status)
	require.Len(t, export.Records, 1)
	assert.Equal(t, "done", string(export.Records[0].Decision.Action))
}

func TestHistoryOfRunningRunConflicts(t *testing.T) {
	model := newGateModel("ok")
	_, ts := newTestServer(t, model)

	view := submit(t, ts, `{"task":"wait"}`)
	code, _ := do(t, http.MethodGet, ts.URL+"/runs/"+view.ID+"/history", "")
	assert.Equal(t, http.StatusConflict, code)

	model.open()
	waitForStatus(t, ts, view.ID, agent.StatusCompleted)
}

func TestCancelRun(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))

	view := submit(t, ts, `{"task":"never finishes"}`)
	code, env := do(t, http.MethodDelete, ts.URL+"/runs/"+view.ID, "")
	assert.Equal(t, http.StatusAccepted, code, env.Error)

	final := waitForStatus(t, ts, view.ID, agent.StatusCancelled)
	assert.Equal(t, schemas.ErrKindCancelled, final.State.LastErrorKind)

	code, _ = do(t, http.MethodDelete, ts.URL+"/runs/"+view.ID, "")
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, http.MethodDelete, ts.URL+"/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRejectedRunIsReported(t *testing.T) {
	model := newGateModel("ok")
	model.open()
	_, ts := newTestServer(t, model)

	// The start URL is outside the allowlist, so the agent refuses the run.
	view := submit(t, ts, `{"task":"go elsewhere","start_url":"https://evil.example.net/"}`)
	final := waitForStatus(t, ts, view.ID, agent.StatusFailed)
	assert.NotEmpty(t, final.Error)

	code, _ := do(t, http.MethodGet, ts.URL+"/runs/"+view.ID+"/history", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUnknownRunWithoutStore(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))
	code, _ := do(t, http.MethodGet, ts.URL+"/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/runs/missing/history", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPersistedRunsAreServedFromStore(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{runs: map[string]history.RunExport{
		"old-run": {
			RunID: "old-run", Task: "archived", Status: "failed",
			ErrorKind: schemas.ErrKindMaxSteps, Error: "max steps (3) exceeded",
			StartedAt: started, FinishedAt: started.Add(time.Minute),
			Records: []history.Record{{Step: 0}, {Step: 1}, {Step: 2}},
		},
	}}
	_, ts := newTestServer(t, newGateModel("ok"), WithStore(fs))

	code, env := do(t, http.MethodGet, ts.URL+"/runs/old-run", "")
	require.Equal(t, http.StatusOK, code)
	var view RunView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, agent.StatusFailed, view.State.Status)
	assert.Equal(t, 3, view.State.Step)
	assert.Equal(t, schemas.ErrKindMaxSteps, view.State.LastErrorKind)

	code, env = do(t, http.MethodGet, ts.URL+"/runs/old-run/history", "")
	require.Equal(t, http.StatusOK, code)
	var export history.RunExport
	require.NoError(t, json.Unmarshal(env.Data, &export))
	assert.Len(t, export.Records, 3)

	code, env = do(t, http.MethodGet, ts.URL+"/runs", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Active    []RunView          `json:"active"`
		Persisted []store.RunSummary `json:"persisted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Persisted, 1)
	assert.Equal(t, "old-run", list.Persisted[0].RunID)

	code, _ = do(t, http.MethodGet, ts.URL+"/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStoreErrorsAreInternal(t *testing.T) {
	fs := &fakeStore{getErr: errors.New("db down"), listErr: errors.New("db down")}
	_, ts := newTestServer(t, newGateModel("ok"), WithStore(fs))

	code, env := do(t, http.MethodGet, ts.URL+"/runs/x", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, env.Error, "db down")

	code, _ = do(t, http.MethodGet, ts.URL+"/runs", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestMetricsEndpoint(t *testing.T) {
	model := newGateModel("ok")
	model.open()
	_, ts := newTestServer(t, model, WithMetrics(metrics.NewCollector()))

	do(t, http.MethodGet, ts.URL+"/healthz", "")
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `surfer_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/runs", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRunEventsStream(t *testing.T) {
	model := newGateModel("ok")
	_, ts := newTestServer(t, model)
	view := submit(t, ts, `{"task":"stream me"}`)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/runs/" + view.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "state", first.Type)
	assert.Equal(t, view.ID, first.RunID)

	model.open()

	var last Event
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		last = ev
		if ev.Type == "finished" {
			break
		}
	}
	assert.Equal(t, "finished", last.Type)
	assert.Equal(t, agent.StatusCompleted, last.State.Status)
}

func TestRunEventsUnknownRun(t *testing.T) {
	_, ts := newTestServer(t, newGateModel("ok"))
	resp, err := http.Get(ts.URL + "/runs/missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeShutsDownAndCancelsRuns(t *testing.T) {
	srv, _ := newTestServer(t, newGateModel("ok"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	view, err := srv.Submit(RunRequest{Task: "blocked forever"})
	require.NoError(t, err)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	got, _, ok := srv.Registry().Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StatusCancelled, got.State.Status)

	_, err = srv.Submit(RunRequest{Task: "too late"})
	assert.Error(t, err)
}

func TestNewConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Server.Addr = ":9999"
	cfg.Worker.Concurrency = 4
	cfg.Agent.AllowedDomains = []string{"*.example.com"}
	cfg.Secrets = map[string]map[string]string{"*.example.com": {"token": "abc123", "pw": "env:SURFER_TEST_PW"}}
	t.Setenv("SURFER_TEST_PW", "from-env")

	got, err := NewConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.Secrets["*.example.com"]["pw"])
	assert.Equal(t, ":9999", got.Addr)
	assert.Equal(t, 4, got.Concurrency)
	assert.Equal(t, []string{"*.example.com"}, got.AllowedDomains)
	assert.Equal(t, "abc123", got.Secrets["*.example.com"]["token"])

	cfg.Secrets = map[string]map[string]string{"*.example.com": {"pw": "env:SURFER_TEST_UNSET"}}
	_, err = NewConfig(cfg)
	assert.Error(t, err)
}
