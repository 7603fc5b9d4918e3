package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"canopy/internal/catalog"
	"canopy/internal/config"
	"canopy/internal/domain"
	"canopy/internal/events"
	"canopy/internal/lookup"
	"canopy/internal/repo"
)

// Engine produces baseline risk assessments and owns job lifecycle
// transitions. The composite weighting is fixed at construction; a
// config whose weights do not sum to 1.0 never yields an Engine.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Catalog *catalog.Catalog
	History lookup.IncidentHistory
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return Engine{}, err
	}
	cat, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		return Engine{}, err
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Catalog: cat,
		History: lookup.RepoHistory{Repo: r},
		Now:     time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Assess scores a site before work starts and persists the baseline.
// A job may carry at most one assessment; re-assessing an already
// assessed job is an error.
func (e Engine) Assess(ctx context.Context, input domain.SiteAssessmentInput, crew domain.CrewProfile, actorID string) (domain.RiskAssessment, error) {
	if input.JobID == "" {
		return domain.RiskAssessment{}, errors.New("job id is required")
	}
	if input.Tree.HeightFt <= 0 {
		return domain.RiskAssessment{}, errors.New("tree height is required")
	}
	if input.Tree.Condition != "" && !validTreeCondition(input.Tree.Condition) {
		return domain.RiskAssessment{}, fmt.Errorf("unknown tree condition %q", input.Tree.Condition)
	}
	if crew.Size <= 0 {
		return domain.RiskAssessment{}, errors.New("crew size is required")
	}

	identified := catalog.Identify(input)
	var domains []domain.DomainResult
	domainScore := 0
	var allCodes []string
	for _, d := range domain.Domains() {
		codes := identified[d]
		if len(codes) == 0 {
			continue
		}
		res, err := e.Catalog.Aggregate(d, codes)
		if err != nil {
			return domain.RiskAssessment{}, err
		}
		domains = append(domains, res)
		domainScore += res.RiskScore
		allCodes = append(allCodes, codes...)
	}
	if domainScore > 10 {
		domainScore = 10
	}
	sort.Strings(allCodes)

	sub := domain.SubScores{
		Environmental: EnvironmentalScore(input.Environment),
		Equipment:     EquipmentScore(input.Equipment, input.Access),
		Crew:          CrewScore(crew, domainScore),
		Predictive:    PredictiveScore(input.Tree, input.Environment, crew),
	}

	degraded := false
	hist, err := e.History.Score(ctx, input.Location, allCodes)
	if err != nil {
		hist = lookup.HistoryScore{Score: lookup.DefaultHistoricalScore}
		degraded = true
	}
	sub.Historical = hist.Score

	composite, level := Compose(e.Config.Scoring.Weights, domainScore, sub)
	gates := Gates(composite)

	a := domain.RiskAssessment{
		ID:                   uuid.NewString(),
		JobID:                input.JobID,
		Domains:              domains,
		DomainScore:          domainScore,
		SubScores:            sub,
		CompositeScore:       composite,
		Level:                level,
		Confidence:           Confidence(e.Config.Scoring.BaseConfidence, input, crew, hist.SampleSize),
		Degraded:             degraded,
		Mitigations:          Mitigations(composite, sub),
		Approvals:            gates,
		ProceedAuthorization: !gates.DelayRecommended,
		Environment:          input.Environment,
		CreatedAt:            e.now().UTC().Format(time.RFC3339),
	}
	alerts := GenerateAlerts(input.JobID, composite, level, gates, e.Config.Monitoring.AlertThreshold)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.RiskAssessment{}, err
		}
		j := domain.Job{
			ID:        input.JobID,
			Location:  input.Location,
			Status:    domain.JobPending,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.CreatedAt,
		}
		if err := e.Repo.InsertJobTx(ctx, tx, j); err != nil {
			return domain.RiskAssessment{}, fmt.Errorf("insert job: %w", err)
		}
	}
	if _, err := e.Repo.GetAssessmentByJob(ctx, input.JobID); err == nil {
		return domain.RiskAssessment{}, fmt.Errorf("job %s already assessed", input.JobID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.RiskAssessment{}, err
	}
	if err := e.Repo.InsertAssessmentTx(ctx, tx, a); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("insert assessment: %w", err)
	}
	for i := range alerts {
		alerts[i].ID = uuid.NewString()
		alerts[i].CreatedAt = a.CreatedAt
		if err := e.Repo.InsertAlertTx(ctx, tx, alerts[i]); err != nil {
			return domain.RiskAssessment{}, fmt.Errorf("insert alert: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "alert.raised", input.JobID, "alert", alerts[i].ID, actorID, events.EventPayload{
			"type": string(alerts[i].Type), "severity": string(alerts[i].Severity),
		}); err != nil {
			return domain.RiskAssessment{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "assessment.created", input.JobID, "assessment", a.ID, actorID, events.EventPayload{
		"composite_score": a.CompositeScore,
		"level":           string(a.Level),
		"proceed":         a.ProceedAuthorization,
	}); err != nil {
		return domain.RiskAssessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RiskAssessment{}, err
	}
	return a, nil
}

// StartJob moves a pending job to active. Only assessed jobs whose
// baseline authorized proceeding may start.
func (e Engine) StartJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := validTransition(j.Status, domain.JobActive); err != nil {
		return domain.Job{}, err
	}
	a, err := e.Repo.GetAssessmentByJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Job{}, fmt.Errorf("job %s has no assessment", jobID)
		}
		return domain.Job{}, err
	}
	if !a.ProceedAuthorization {
		return domain.Job{}, fmt.Errorf("job %s baseline recommends delay; start refused", jobID)
	}
	return e.transition(ctx, j, domain.JobActive, actorID)
}

// CompleteJob moves an active job to completed.
func (e Engine) CompleteJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := validTransition(j.Status, domain.JobCompleted); err != nil {
		return domain.Job{}, err
	}
	return e.transition(ctx, j, domain.JobCompleted, actorID)
}

// CancelJob cancels a pending or active job.
func (e Engine) CancelJob(ctx context.Context, jobID, actorID string) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := validTransition(j.Status, domain.JobCancelled); err != nil {
		return domain.Job{}, err
	}
	return e.transition(ctx, j, domain.JobCancelled, actorID)
}

func (e Engine) transition(ctx context.Context, j domain.Job, to domain.JobStatus, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobStatusTx(ctx, tx, j.ID, to, now); err != nil {
		return domain.Job{}, err
	}
	if to.Terminal() {
		if err := e.Repo.DeleteMonitorStateTx(ctx, tx, j.ID); err != nil {
			return domain.Job{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "job."+string(to), j.ID, "job", j.ID, actorID, events.EventPayload{
		"from": string(j.Status),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	j.Status = to
	j.UpdatedAt = now
	return j, nil
}

// RecordIncident stores a historical incident for future assessments.
func (e Engine) RecordIncident(ctx context.Context, rec domain.IncidentRecord, actorID string) (domain.IncidentRecord, error) {
	if rec.Location == "" {
		return domain.IncidentRecord{}, errors.New("location is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt == "" {
		rec.OccurredAt = e.now().UTC().Format(time.RFC3339)
	}
	if err := e.Repo.InsertIncident(ctx, rec); err != nil {
		return domain.IncidentRecord{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.IncidentRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "incident.recorded", "", "incident", rec.ID, actorID, events.EventPayload{
		"location": rec.Location, "severity": rec.Severity,
	}); err != nil {
		return domain.IncidentRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.IncidentRecord{}, err
	}
	return rec, nil
}

// CreateAPIKey mints a raw key, stores only its hash, and returns the
// raw key once.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor id is required")
	}
	raw := uuid.NewString() + uuid.NewString()
	k := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}

func validTransition(from, to domain.JobStatus) error {
	ok := false
	switch to {
	case domain.JobActive:
		ok = from == domain.JobPending
	case domain.JobCompleted:
		ok = from == domain.JobActive
	case domain.JobCancelled:
		ok = from == domain.JobPending || from == domain.JobActive
	}
	if !ok {
		return fmt.Errorf("invalid job transition %s -> %s", from, to)
	}
	return nil
}

func validTreeCondition(c domain.TreeCondition) bool {
	switch c {
	case domain.TreeHealthy, domain.TreeDeclining, domain.TreeDying, domain.TreeDead:
		return true
	}
	return false
}
