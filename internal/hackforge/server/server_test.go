package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dimasma0305/hackforge/internal/hackforge/blueprint"
	"github.com/dimasma0305/hackforge/internal/hackforge/campaign"
	"github.com/dimasma0305/hackforge/internal/hackforge/docker"
	"github.com/dimasma0305/hackforge/internal/hackforge/flagcheck"
	"github.com/dimasma0305/hackforge/internal/hackforge/machine"
	"github.com/dimasma0305/hackforge/internal/hackforge/orchestrator"
	"github.com/dimasma0305/hackforge/internal/hackforge/store"
)

type stubRuntime struct {
	mu         sync.Mutex
	nextID     int
	containers []docker.Container
	failures   map[string]error
}

func (s *stubRuntime) Run(_ context.Context, spec docker.RunSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("container-%d", s.nextID)
	s.containers = append(s.containers, docker.Container{
		ID:     id,
		Name:   spec.Name,
		State:  "running",
		Image:  spec.Image,
		Labels: spec.Labels,
	})
	return id, nil
}

func (s *stubRuntime) act(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[id]
}

func (s *stubRuntime) Start(_ context.Context, id string) error   { return s.act(id) }
func (s *stubRuntime) Stop(_ context.Context, id string) error    { return s.act(id) }
func (s *stubRuntime) Restart(_ context.Context, id string) error { return s.act(id) }

func (s *stubRuntime) Remove(_ context.Context, id string, _ bool) error {
	return s.act(id)
}

func (s *stubRuntime) Logs(_ context.Context, id string, _ int) (string, error) {
	return "container log line", s.act(id)
}

func (s *stubRuntime) List(_ context.Context, _ []string) ([]docker.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]docker.Container(nil), s.containers...), nil
}

type testServer struct {
	server  *Server
	router  http.Handler
	store   *store.Store
	runtime *stubRuntime
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	blueprintYAML := `blueprint_id: web_sqli
name: SQL Injection Login
category: web
difficulty_range: [1, 5]
variants:
  - name: easy
    difficulty: 1
  - name: medium
    difficulty: 3
infra:
  image: hackforge/web_sqli:latest
  internal_port: 80
`
	if err := os.WriteFile(filepath.Join(dir, "web_sqli_blueprint.yaml"), []byte(blueprintYAML), 0o600); err != nil {
		t.Fatalf("failed to write blueprint: %v", err)
	}

	reg := blueprint.NewRegistry(dir)
	if err := reg.Load(); err != nil {
		t.Fatalf("registry load failed: %v", err)
	}

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "hackforge.db"))
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	pool := orchestrator.NewWorkerPool(2)
	pool.Start()
	t.Cleanup(pool.Stop)

	rt := &stubRuntime{failures: map[string]error{}}
	alloc := machine.NewPortAllocator(30000, 31000)
	manager := campaign.NewManager(st, reg, alloc, rt, pool, "HKF")

	srv := New(Deps{
		Store:       st,
		Registry:    reg,
		Allocator:   alloc,
		Manager:     manager,
		Validator:   flagcheck.NewValidator(st, nil),
		Coordinator: orchestrator.New(rt, st, pool),
	})

	return &testServer{server: srv, router: srv.Routes(), store: st, runtime: rt}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:12345"
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats map[string]interface{}
	decode(t, rec, &stats)
	if stats["total_blueprints"].(float64) != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
	for _, key := range []string{"total_machines", "total_campaigns"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %s: %v", key, stats)
		}
	}
}

func TestBlueprintEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/blueprints", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/blueprints/web_sqli", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/blueprints/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing blueprint status = %d, want 404", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["detail"] == "" {
		t.Error("error body missing detail")
	}
}

func createCampaign(t *testing.T, ts *testServer) *campaign.View {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/campaigns", campaign.CreateRequest{
		UserID:       "alice",
		CampaignName: "Test Run",
		Difficulty:   3,
		BlueprintIDs: []string{"web_sqli"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	var view campaign.View
	decode(t, rec, &view)
	return &view
}

func TestCampaignLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	view := createCampaign(t, ts)

	if view.Status != store.StatusProvisioning || len(view.Machines) != 1 {
		t.Fatalf("unexpected campaign: %+v", view)
	}

	rec := ts.do(t, http.MethodGet, "/api/campaigns/"+view.ID+"?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail map[string]json.RawMessage
	decode(t, rec, &detail)
	if _, ok := detail["progress"]; !ok {
		t.Errorf("campaign detail missing progress object: %s", rec.Body.String())
	}
	var progress campaign.ProgressView
	if err := json.Unmarshal(detail["progress"], &progress); err != nil {
		t.Fatalf("failed to decode progress: %v", err)
	}
	if progress.Total != 1 || progress.Solved != 0 {
		t.Errorf("unexpected progress: %+v", progress)
	}

	rec = ts.do(t, http.MethodGet, "/api/campaigns/"+view.ID+"?user_id=mallory", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign user status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/campaigns?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var views []campaign.View
	decode(t, rec, &views)
	if len(views) != 1 {
		t.Fatalf("expected 1 campaign, got %d", len(views))
	}

	rec = ts.do(t, http.MethodDelete, "/api/campaigns/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/campaigns/"+view.ID+"?user_id=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted campaign status = %d, want 404", rec.Code)
	}
}

func TestCampaignContainersCarryMachineID(t *testing.T) {
	ts := newTestServer(t)
	view := createCampaign(t, ts)
	waitForContainer(t, ts, view.Machines[0].ID)

	rec := ts.do(t, http.MethodGet, "/api/campaigns/"+view.ID+"/containers?user_id=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("containers status = %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Containers []map[string]interface{} `json:"containers"`
	}
	decode(t, rec, &body)
	if len(body.Containers) != 1 {
		t.Fatalf("expected 1 container, got %d", len(body.Containers))
	}
	if body.Containers[0]["machine_id"] != view.Machines[0].ID {
		t.Errorf("container missing machine_id: %v", body.Containers[0])
	}
	for _, key := range []string{"Id", "Name", "State"} {
		if _, ok := body.Containers[0][key]; !ok {
			t.Errorf("container missing %s: %v", key, body.Containers[0])
		}
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/campaigns", campaign.CreateRequest{
		UserID:       "alice",
		Difficulty:   9,
		BlueprintIDs: []string{"web_sqli"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/campaigns", "not json at all")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestFlagValidationEndpoint(t *testing.T) {
	ts := newTestServer(t)
	view := createCampaign(t, ts)

	m, err := ts.store.GetMachine(view.Machines[0].ID)
	if err != nil {
		t.Fatalf("GetMachine failed: %v", err)
	}

	rec := ts.do(t, http.MethodPost, "/api/flags/validate", flagcheck.SubmitRequest{
		UserID:    "alice",
		MachineID: m.ID,
		Flag:      "HKF{wrong}",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("wrong flag status = %d", rec.Code)
	}
	var result flagcheck.Result
	decode(t, rec, &result)
	if result.Correct {
		t.Error("wrong flag accepted")
	}

	rec = ts.do(t, http.MethodPost, "/api/flags/validate", flagcheck.SubmitRequest{
		UserID:    "alice",
		MachineID: m.ID,
		Flag:      m.Flag,
	})
	decode(t, rec, &result)
	if !result.Correct || result.Points != 270 {
		t.Errorf("expected correct with 270 points, got %+v", result)
	}
	if result.CampaignStatus != store.StatusCompleted {
		t.Errorf("status = %q, want completed", result.CampaignStatus)
	}
}

func TestMachinesEndpointHidesFlags(t *testing.T) {
	ts := newTestServer(t)
	createCampaign(t, ts)

	rec := ts.do(t, http.MethodGet, "/api/machines", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("HKF{")) {
		t.Error("flag secret leaked in machine listing")
	}
}

func TestDockerEndpoints(t *testing.T) {
	ts := newTestServer(t)
	view := createCampaign(t, ts)

	// wait for provisioning to register the container
	waitForContainer(t, ts, view.Machines[0].ID)

	rec := ts.do(t, http.MethodGet, "/api/docker/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	var report orchestrator.StatusReport
	decode(t, rec, &report)
	if report.Total != 1 || len(report.Containers) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rec = ts.do(t, http.MethodPost, "/api/docker/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk stop = %d", rec.Code)
	}

	containerID := report.Containers[0].ContainerID
	rec = ts.do(t, http.MethodPost, "/api/docker/containers/"+containerID+"/restart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("container restart = %d", rec.Code)
	}
	var result orchestrator.ActionResult
	decode(t, rec, &result)
	if !result.OK {
		t.Errorf("restart failed: %+v", result)
	}

	rec = ts.do(t, http.MethodGet, "/api/docker/containers/"+containerID+"/logs?tail=50", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logs = %d", rec.Code)
	}
}

func waitForContainer(t *testing.T, ts *testServer, machineID string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m, err := ts.store.GetMachine(machineID)
		if err == nil && m.ContainerID != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for container binding")
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/users", store.User{ID: "alice", Username: "Alice"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/users/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get user = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/users/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing user = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/users", store.User{ID: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid user = %d, want 400", rec.Code)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/leaderboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/leaderboard?limit=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", rec.Code)
	}
}

func TestRateLimitDockerBulk(t *testing.T) {
	ts := newTestServer(t)

	limited := false
	for i := 0; i < 7; i++ {
		rec := ts.do(t, http.MethodPost, "/api/docker/stop", nil)
		if rec.Code == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Error("bulk stop never rate limited")
	}
}
