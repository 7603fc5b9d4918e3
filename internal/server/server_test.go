package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"canopy/internal/config"
	"canopy/internal/db"
	"canopy/internal/domain"
	"canopy/internal/lookup"
	"canopy/internal/migrate"
	"canopy/internal/monitor"
	"canopy/internal/risk"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine risk.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("canopy")
	eng, err := risk.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	mgr := monitor.NewManager(conn, cfg)
	mgr.Crew = lookup.StaticCrewBehavior{Value: 100}
	handler, err := New(Config{
		Engine:   eng,
		Monitor:  mgr,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: eng,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			mgr.Shutdown()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func assessmentBody(jobID string) map[string]any {
	return map[string]any{
		"job_id":   jobID,
		"location": "2 Birch Ln",
		"tree": map[string]any{
			"species":   "maple",
			"height_ft": 30,
			"condition": "healthy",
		},
		"environment": map[string]any{
			"wind_speed_mph":   5,
			"precipitation_in": 0,
			"temperature_f":    70,
			"visibility_mi":    10,
			"ground":           "dry",
		},
		"crew": map[string]any{
			"size":             3,
			"experience_level": 8,
			"safety_record":    90,
		},
	}
}

func snapshotBody(at time.Time) map[string]any {
	return map[string]any{
		"timestamp": at.Format(time.RFC3339),
		"checklist": map[string]any{
			"ppe_compliance":        true,
			"equipment_inspection":  true,
			"site_securing":         true,
			"emergency_plan_review": true,
			"hazard_identification": true,
		},
		"environment": map[string]any{
			"wind_speed_mph":   5,
			"precipitation_in": 0,
			"temperature_f":    70,
			"visibility_mi":    10,
			"ground":           "dry",
		},
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/jobs", nil)
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request got %d, want 401", res.StatusCode)
	}

	// Health stays open.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health got %d, want 200", res.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "field-lead",
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs", nil, map[string]string{
		"Authorization": "Bearer " + token,
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt request got %d: %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
		"X-Actor-Id":    "",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token got %d, want 401", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, raw, err := srv.Engine.CreateAPIKey(context.Background(), "dispatcher", "test key")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs", nil, map[string]string{
		"X-Api-Key":  raw,
		"X-Actor-Id": "",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key request got %d: %s", res.StatusCode, string(body))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs", nil, map[string]string{
		"X-Api-Key":  "bogus",
		"X-Actor-Id": "",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus api key got %d, want 401", res.StatusCode)
	}
}

func TestAssessmentAndMonitoringFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", assessmentBody("job-1"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create assessment status %d: %s", res.StatusCode, string(data))
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal assessment: %v", err)
	}
	if a.Level != domain.RiskLow || !a.ProceedAuthorization {
		t.Fatalf("unexpected assessment: level=%s proceed=%v", a.Level, a.ProceedAuthorization)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/job-1/assessment", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get assessment status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-1/start", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", res.StatusCode, string(data))
	}
	var j domain.Job
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if j.Status != domain.JobActive {
		t.Fatalf("job status %s, want active", j.Status)
	}

	at := time.Now().UTC().Truncate(time.Second)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-1/snapshots", snapshotBody(at), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("snapshot status %d: %s", res.StatusCode, string(data))
	}
	var tick domain.TickResult
	if err := json.Unmarshal(data, &tick); err != nil {
		t.Fatalf("unmarshal tick: %v", err)
	}
	if !tick.ContinueWork || tick.ComplianceScore != 100 {
		t.Fatalf("unexpected tick: %+v", tick)
	}

	// Replaying the same timestamp is a conflict.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-1/snapshots", snapshotBody(at), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("stale snapshot status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/job-1/monitor", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("monitor state status %d: %s", res.StatusCode, string(data))
	}
	var state domain.MonitoringState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.ComplianceScore != 100 {
		t.Fatalf("state compliance %v, want 100", state.ComplianceScore)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-1/complete", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}

	// Completed jobs no longer accept check-ins.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-1/snapshots", snapshotBody(at.Add(time.Minute)), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("snapshot after complete status %d: %s", res.StatusCode, string(data))
	}
}

func TestDuplicateAssessmentConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", assessmentBody("job-2"), nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first assessment status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", assessmentBody("job-2"), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second assessment status %d: %s", res.StatusCode, string(data))
	}
}

func TestSnapshotRequiresTimestamp(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", assessmentBody("job-3"), nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-3/start", nil, nil)

	body := snapshotBody(time.Now())
	delete(body, "timestamp")
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-3/snapshots", body, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing timestamp status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnknownJobNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/ghost", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status %d: %s", res.StatusCode, string(data))
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/catalog?domain=severity", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, string(data))
	}
	var factors []domain.RiskFactor
	if err := json.Unmarshal(data, &factors); err != nil {
		t.Fatalf("unmarshal catalog: %v", err)
	}
	if len(factors) != 6 {
		t.Fatalf("got %d severity factors, want 6", len(factors))
	}
	for _, f := range factors {
		if f.Domain != domain.DomainSeverity {
			t.Fatalf("factor %s from wrong domain %s", f.Code, f.Domain)
		}
	}
}

func TestEventsRecorded(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodPost, srv.URL+"/v0/assessments", assessmentBody("job-4"), nil)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/job-4/start", nil, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?job_id=job-4", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	if !seen["assessment.created"] || !seen["job.active"] {
		t.Fatalf("missing lifecycle events: %+v", seen)
	}
}
