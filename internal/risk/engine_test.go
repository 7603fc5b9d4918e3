package risk_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"canopy/internal/config"
	"canopy/internal/db"
	"canopy/internal/domain"
	"canopy/internal/lookup"
	"canopy/internal/migrate"
	"canopy/internal/risk"
)

type testEnv struct {
	Engine risk.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWith(t, config.Default("canopy"))
}

func newTestEnvWith(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := risk.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// highRiskSite describes a dead, oversized, leaning oak with power
// line and structure in the fall zone, worked in wind and rain.
func highRiskSite(jobID string) (domain.SiteAssessmentInput, domain.CrewProfile) {
	input := domain.SiteAssessmentInput{
		JobID:    jobID,
		Location: "14 Elm St",
		Tree: domain.TreeAttributes{
			Species:       "oak",
			HeightFt:      65,
			DBHInches:     32,
			Condition:     domain.TreeDead,
			LeanAngleDeg:  20,
			CrownRadiusFt: 20,
		},
		Environment: domain.EnvironmentReading{
			WindSpeedMph:    22,
			PrecipitationIn: 0.2,
			TemperatureF:    40,
			VisibilityMi:    3,
			Ground:          domain.GroundWet,
			TimeOfDay:       "morning",
			Season:          "winter",
		},
		Hazards: []domain.ProximityHazard{
			{Type: "power_line", Distance: 30},
			{Type: "structure", Distance: 40},
		},
		Access:    []string{"narrow_access"},
		Equipment: []string{"crane", "chainsaw"},
	}
	crew := domain.CrewProfile{Size: 1, ExperienceLevel: 2, SafetyRecord: 50}
	return input, crew
}

// routineSite is a small healthy maple on open ground with an
// experienced crew.
func routineSite(jobID string) (domain.SiteAssessmentInput, domain.CrewProfile) {
	input := domain.SiteAssessmentInput{
		JobID:    jobID,
		Location: "2 Birch Ln",
		Tree: domain.TreeAttributes{
			Species:       "maple",
			HeightFt:      30,
			DBHInches:     12,
			Condition:     domain.TreeHealthy,
			CrownRadiusFt: 8,
		},
		Environment: domain.EnvironmentReading{
			WindSpeedMph: 5,
			TemperatureF: 70,
			VisibilityMi: 10,
			Ground:       domain.GroundDry,
		},
	}
	crew := domain.CrewProfile{
		Size:            3,
		ExperienceLevel: 8,
		SafetyRecord:    90,
		Certifications:  []string{"isa", "first-aid"},
	}
	return input, crew
}

func TestAssessHighRiskSite(t *testing.T) {
	env := newTestEnv(t)
	input, crew := highRiskSite("job-1")
	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.DomainScore != 10 {
		t.Errorf("domain score %d, want 10 (capped)", a.DomainScore)
	}
	if len(a.Domains) != 5 {
		t.Errorf("got %d domains, want all 5", len(a.Domains))
	}
	if a.SubScores.Environmental != 7 {
		t.Errorf("environmental %v, want 7", a.SubScores.Environmental)
	}
	if a.SubScores.Equipment != 4 {
		t.Errorf("equipment %v, want 4", a.SubScores.Equipment)
	}
	if !near(a.SubScores.Crew, 3.6) {
		t.Errorf("crew %v, want 3.6", a.SubScores.Crew)
	}
	if !near(a.SubScores.Predictive, 9.9) {
		t.Errorf("predictive %v, want 9.9", a.SubScores.Predictive)
	}
	if a.SubScores.Historical != 2.0 {
		t.Errorf("historical %v, want default 2.0", a.SubScores.Historical)
	}
	if !near(a.CompositeScore, 7.835) {
		t.Errorf("composite %v, want 7.835", a.CompositeScore)
	}
	if a.Level != domain.RiskHigh {
		t.Errorf("level %s, want high", a.Level)
	}
	if !a.Approvals.ManagerApproval || !a.Approvals.SafetyOfficerApproval {
		t.Errorf("expected manager and safety officer gates: %+v", a.Approvals)
	}
	if a.Approvals.DelayRecommended || !a.ProceedAuthorization {
		t.Errorf("delay should not be recommended: %+v", a.Approvals)
	}
	// Species through ground and time fields present, no certifications:
	// 7 of 8 optional inputs.
	if !near(a.Confidence, 0.85*7/8) {
		t.Errorf("confidence %v, want %v", a.Confidence, 0.85*7/8)
	}
	if a.Degraded {
		t.Error("assessment marked degraded with working history lookup")
	}
	if len(a.Mitigations) == 0 {
		t.Error("high-risk assessment produced no mitigations")
	}

	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != domain.AlertHighRiskAssessment {
		t.Fatalf("expected one high-risk alert, got %+v", alerts)
	}
}

func TestAssessRoutineSite(t *testing.T) {
	env := newTestEnv(t)
	input, crew := routineSite("job-2")
	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if a.DomainScore != 0 || len(a.Domains) != 0 {
		t.Errorf("routine site identified factors: score %d, domains %+v", a.DomainScore, a.Domains)
	}
	// 0.25*3.5 (predictive) + 0.10*1.0 (crew floor) = 0.975.
	if !near(a.CompositeScore, 0.975) {
		t.Errorf("composite %v, want 0.975", a.CompositeScore)
	}
	if a.Level != domain.RiskLow {
		t.Errorf("level %s, want low", a.Level)
	}
	if a.Approvals != (domain.ApprovalGates{}) {
		t.Errorf("routine site raised gates: %+v", a.Approvals)
	}
	if len(a.Mitigations) != 0 {
		t.Errorf("routine site got mitigations: %+v", a.Mitigations)
	}
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, "job-2", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("routine site raised alerts: %+v", alerts)
	}

	// The job record is created as a side effect.
	j, err := env.Engine.Repo.GetJob(env.Ctx, "job-2")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != domain.JobPending {
		t.Fatalf("job status %s, want pending", j.Status)
	}
}

func TestAssessIsIdempotentPerJob(t *testing.T) {
	env := newTestEnv(t)
	input, crew := routineSite("job-3")
	if _, err := env.Engine.Assess(env.Ctx, input, crew, "tester"); err != nil {
		t.Fatalf("first assess: %v", err)
	}
	_, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err == nil || !strings.Contains(err.Error(), "already assessed") {
		t.Fatalf("second assess err = %v, want already-assessed conflict", err)
	}
}

func TestAssessValidation(t *testing.T) {
	env := newTestEnv(t)
	input, crew := routineSite("job-4")

	bad := input
	bad.JobID = ""
	if _, err := env.Engine.Assess(env.Ctx, bad, crew, "tester"); err == nil {
		t.Error("missing job id accepted")
	}
	bad = input
	bad.Tree.HeightFt = 0
	if _, err := env.Engine.Assess(env.Ctx, bad, crew, "tester"); err == nil {
		t.Error("zero tree height accepted")
	}
	bad = input
	bad.Tree.Condition = "petrified"
	if _, err := env.Engine.Assess(env.Ctx, bad, crew, "tester"); err == nil {
		t.Error("unknown tree condition accepted")
	}
	if _, err := env.Engine.Assess(env.Ctx, input, domain.CrewProfile{}, "tester"); err == nil {
		t.Error("empty crew accepted")
	}
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	input, crew := routineSite("job-5")
	if _, err := env.Engine.Assess(env.Ctx, input, crew, "tester"); err != nil {
		t.Fatalf("assess: %v", err)
	}

	j, err := env.Engine.StartJob(env.Ctx, "job-5", "tester")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if j.Status != domain.JobActive {
		t.Fatalf("status %s, want active", j.Status)
	}
	if _, err := env.Engine.StartJob(env.Ctx, "job-5", "tester"); err == nil {
		t.Fatal("double start accepted")
	}
	j, err = env.Engine.CompleteJob(env.Ctx, "job-5", "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if j.Status != domain.JobCompleted {
		t.Fatalf("status %s, want completed", j.Status)
	}
	if _, err := env.Engine.CancelJob(env.Ctx, "job-5", "tester"); err == nil {
		t.Fatal("cancel of completed job accepted")
	}
}

func TestCancelPendingJob(t *testing.T) {
	env := newTestEnv(t)
	input, crew := routineSite("job-6")
	if _, err := env.Engine.Assess(env.Ctx, input, crew, "tester"); err != nil {
		t.Fatalf("assess: %v", err)
	}
	j, err := env.Engine.CancelJob(env.Ctx, "job-6", "tester")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if j.Status != domain.JobCancelled {
		t.Fatalf("status %s, want cancelled", j.Status)
	}
}

func TestStartRefusedWhenDelayRecommended(t *testing.T) {
	// Weight the catalog domains and predictive model heavily so the
	// worst-case site lands above the delay gate.
	cfg := config.Default("canopy")
	cfg.Scoring.Weights = config.Weights{
		Domain:        0.40,
		Predictive:    0.30,
		Environmental: 0.20,
		Equipment:     0.05,
		Crew:          0.05,
	}
	env := newTestEnvWith(t, cfg)

	input, crew := highRiskSite("job-7")
	input.Environment.WindSpeedMph = 30
	input.Environment.TemperatureF = 10
	input.Environment.Ground = domain.GroundUnstable
	crew = domain.CrewProfile{Size: 1}

	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if !a.Approvals.DelayRecommended || a.ProceedAuthorization {
		t.Fatalf("composite %v did not recommend delay: %+v", a.CompositeScore, a.Approvals)
	}
	alerts, err := env.Engine.Repo.ListAlerts(env.Ctx, "job-7", 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want high-risk and delay: %+v", len(alerts), alerts)
	}

	_, err = env.Engine.StartJob(env.Ctx, "job-7", "tester")
	if err == nil || !strings.Contains(err.Error(), "start refused") {
		t.Fatalf("start err = %v, want refusal", err)
	}
}

func TestAssessDegradedOnHistoryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.History = lookup.StaticHistory{Err: errors.New("analytics down")}

	input, crew := routineSite("job-8")
	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess must not fail on history outage: %v", err)
	}
	if !a.Degraded {
		t.Error("assessment not marked degraded")
	}
	if a.SubScores.Historical != lookup.DefaultHistoricalScore {
		t.Errorf("historical %v, want conservative default %v", a.SubScores.Historical, lookup.DefaultHistoricalScore)
	}
}

func TestIncidentHistoryRaisesScore(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"inc-1", "inc-2"} {
		_, err := env.Engine.RecordIncident(env.Ctx, domain.IncidentRecord{
			ID:       id,
			Location: "14 Elm St, Unit 2",
			Severity: "high",
			Tags:     []string{"severity.dead_tree"},
		}, "tester")
		if err != nil {
			t.Fatalf("record incident: %v", err)
		}
	}

	input, crew := highRiskSite("job-9")
	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	// Base 2.0 plus 1.5 per high-severity matched incident.
	if a.SubScores.Historical != 5.0 {
		t.Fatalf("historical %v, want 5.0", a.SubScores.Historical)
	}
}

func TestAssessmentRoundTrips(t *testing.T) {
	env := newTestEnv(t)
	input, crew := highRiskSite("job-10")
	a, err := env.Engine.Assess(env.Ctx, input, crew, "tester")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	got, err := env.Engine.Repo.GetAssessmentByJob(env.Ctx, "job-10")
	if err != nil {
		t.Fatalf("get assessment: %v", err)
	}
	if got.ID != a.ID || got.CompositeScore != a.CompositeScore || got.Level != a.Level {
		t.Fatalf("stored assessment differs: %+v vs %+v", got, a)
	}
	if len(got.Mitigations) != len(a.Mitigations) || len(got.Domains) != len(a.Domains) {
		t.Fatalf("detail payload lost: %+v", got)
	}
	if got.Approvals != a.Approvals {
		t.Fatalf("approvals differ: %+v vs %+v", got.Approvals, a.Approvals)
	}
}
