package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"canopy/internal/config"
	"canopy/internal/domain"
	"canopy/internal/events"
	"canopy/internal/lookup"
	"canopy/internal/repo"
)

var (
	// ErrNotMonitored is returned for snapshots submitted against a job
	// with no running monitor worker.
	ErrNotMonitored = errors.New("job is not being monitored")
	// ErrStaleSnapshot is returned when a snapshot's timestamp is not
	// after the last processed one. The monitoring state is unchanged.
	ErrStaleSnapshot = errors.New("snapshot older than last processed")
)

// Manager owns one worker goroutine per monitored job. All snapshot
// processing and state mutation for a job happens on its worker.
type Manager struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Crew   lookup.CrewBehavior
	Now    func() time.Time
	// Notify, when set, is pinged after alerts are persisted so the
	// webhook dispatcher can pick them up without waiting for a poll.
	Notify func()

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup

	overdueMu   sync.Mutex
	overdueSeen map[string]time.Time
}

func NewManager(db *sql.DB, cfg *config.Config) *Manager {
	return &Manager{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Events:      events.Writer{DB: db},
		Config:      cfg,
		Crew:        lookup.StaticCrewBehavior{},
		Now:         time.Now,
		workers:     make(map[string]*worker),
		overdueSeen: make(map[string]time.Time),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

type submitReq struct {
	ctx   context.Context
	snap  domain.ComplianceSnapshot
	reply chan submitReply
}

type submitReply struct {
	res domain.TickResult
	err error
}

type worker struct {
	m        *Manager
	jobID    string
	baseline domain.RiskAssessment
	state    domain.MonitoringState
	// lastAlert tracks the most recent emitted alert per type for the
	// dedup window. Keyed on snapshot time so replays stay stable.
	lastAlert map[domain.AlertType]time.Time
	in        chan submitReq
	quit      chan struct{}
	done      chan struct{}
}

// Start spawns a monitor worker for an active job. The baseline
// assessment must exist. Restarting an already monitored job is a
// no-op.
func (m *Manager) Start(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[jobID]; ok {
		return nil
	}
	baseline, err := m.Repo.GetAssessmentByJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("job %s has no assessment", jobID)
		}
		return err
	}
	state, err := m.Repo.GetMonitorState(ctx, jobID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		state = domain.MonitoringState{
			JobID:           jobID,
			AssessmentID:    baseline.ID,
			Status:          domain.JobActive,
			ComplianceScore: 100,
			CrewScore:       lookup.NeutralCrewScore,
			AdjustedScore:   baseline.CompositeScore,
			AdjustedLevel:   AdjustedLevel(baseline.CompositeScore),
		}
	}
	buffer := m.Config.Monitoring.SnapshotBuffer
	if buffer <= 0 {
		buffer = 16
	}
	w := &worker{
		m:         m,
		jobID:     jobID,
		baseline:  baseline,
		state:     state,
		lastAlert: alertTimesFrom(state.Alerts),
		in:        make(chan submitReq, buffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.workers[jobID] = w
	m.wg.Add(1)
	go w.run()
	return nil
}

// Resume restarts workers for every active job. Called once at boot.
func (m *Manager) Resume(ctx context.Context) error {
	jobs, err := m.Repo.ListJobs(ctx, domain.JobActive)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := m.Start(ctx, j.ID); err != nil {
			return fmt.Errorf("resume job %s: %w", j.ID, err)
		}
	}
	return nil
}

// Submit routes a snapshot to the job's worker and waits for the tick
// result. Snapshots for different jobs proceed concurrently; snapshots
// for one job are strictly serialized.
func (m *Manager) Submit(ctx context.Context, snap domain.ComplianceSnapshot) (domain.TickResult, error) {
	m.mu.Lock()
	w, ok := m.workers[snap.JobID]
	m.mu.Unlock()
	if !ok {
		return domain.TickResult{}, ErrNotMonitored
	}
	req := submitReq{ctx: ctx, snap: snap, reply: make(chan submitReply, 1)}
	select {
	case w.in <- req:
	case <-w.done:
		return domain.TickResult{}, ErrNotMonitored
	case <-ctx.Done():
		return domain.TickResult{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.res, rep.err
	case <-w.done:
		return domain.TickResult{}, ErrNotMonitored
	case <-ctx.Done():
		return domain.TickResult{}, ctx.Err()
	}
}

// State returns the persisted monitoring state for a job.
func (m *Manager) State(ctx context.Context, jobID string) (domain.MonitoringState, error) {
	return m.Repo.GetMonitorState(ctx, jobID)
}

// Stop shuts down a job's worker. Buffered snapshots not yet processed
// are discarded; the closing job no longer accepts check-ins.
func (m *Manager) Stop(jobID string) {
	m.mu.Lock()
	w, ok := m.workers[jobID]
	if ok {
		delete(m.workers, jobID)
	}
	m.mu.Unlock()
	if ok {
		close(w.quit)
		<-w.done
	}
}

// Shutdown stops all workers and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*worker, 0, len(m.workers))
	for id, w := range m.workers {
		workers = append(workers, w)
		delete(m.workers, id)
	}
	m.mu.Unlock()
	for _, w := range workers {
		close(w.quit)
	}
	m.wg.Wait()
}

func (m *Manager) notify() {
	if m.Notify != nil {
		m.Notify()
	}
}

func (w *worker) run() {
	defer w.m.wg.Done()
	defer close(w.done)
	for {
		select {
		case req := <-w.in:
			res, err := w.process(req.ctx, req.snap)
			req.reply <- submitReply{res: res, err: err}
		case <-w.quit:
			w.drain()
			return
		}
	}
}

func (w *worker) drain() {
	for {
		select {
		case req := <-w.in:
			req.reply <- submitReply{err: ErrNotMonitored}
		default:
			return
		}
	}
}

func (w *worker) process(ctx context.Context, snap domain.ComplianceSnapshot) (domain.TickResult, error) {
	if w.state.LastSnapshotAt != nil && !snap.Timestamp.After(*w.state.LastSnapshotAt) {
		log.Printf("monitor: job %s: rejecting snapshot at %s, last processed %s",
			w.jobID, snap.Timestamp.Format(time.RFC3339), w.state.LastSnapshotAt.Format(time.RFC3339))
		return domain.TickResult{}, ErrStaleSnapshot
	}

	compliance := ComplianceScore(snap.Checklist)
	violations := DetectViolations(snap.Checklist, snap.Timestamp)

	degraded := false
	crewScore, err := w.m.Crew.Score(ctx, w.jobID, snap.CrewOnSite)
	if err != nil {
		crewScore = lookup.NeutralCrewScore
		degraded = true
	}

	delta := Delta(w.baseline.Environment, snap.Environment)
	adjusted := AdjustedScore(w.baseline.CompositeScore, delta, compliance, crewScore)

	res := domain.TickResult{
		JobID:           w.jobID,
		ContinueWork:    ContinueWork(violations),
		ComplianceScore: compliance,
		CrewScore:       crewScore,
		AdjustedScore:   adjusted,
		AdjustedLevel:   AdjustedLevel(adjusted),
		Delta:           delta,
		Violations:      violations,
		Degraded:        degraded,
	}

	now := w.m.now().UTC().Format(time.RFC3339)
	window := w.m.Config.Monitoring.DedupWindow()
	for _, a := range tickAlerts(w.jobID, res, w.m.Config.Monitoring.AlertThreshold) {
		if last, ok := w.lastAlert[a.Type]; ok && snap.Timestamp.Sub(last) < window {
			continue
		}
		a.ID = uuid.NewString()
		a.CreatedAt = now
		w.lastAlert[a.Type] = snap.Timestamp
		res.Alerts = append(res.Alerts, a)
	}

	ts := snap.Timestamp
	next := w.state
	next.LastSnapshotAt = &ts
	next.ComplianceScore = compliance
	next.CrewScore = crewScore
	next.AdjustedScore = adjusted
	next.AdjustedLevel = res.AdjustedLevel
	next.Violations = append(next.Violations, violations...)
	next.Alerts = append(next.Alerts, res.Alerts...)
	next.Degraded = degraded

	if err := w.persist(ctx, snap, next, res); err != nil {
		return domain.TickResult{}, err
	}
	w.state = next
	if len(res.Alerts) > 0 {
		w.m.notify()
	}
	return res, nil
}

func (w *worker) persist(ctx context.Context, snap domain.ComplianceSnapshot, state domain.MonitoringState, res domain.TickResult) error {
	tx, err := w.m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := w.m.now().UTC().Format(time.RFC3339)
	if err := w.m.Repo.InsertSnapshotTx(ctx, tx, snap); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if err := w.m.Repo.UpsertMonitorStateTx(ctx, tx, state, now); err != nil {
		return fmt.Errorf("upsert monitor state: %w", err)
	}
	for _, a := range res.Alerts {
		if err := w.m.Repo.InsertAlertTx(ctx, tx, a); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		if err := w.m.Events.Append(ctx, tx, "alert.raised", w.jobID, "alert", a.ID, "monitor", events.EventPayload{
			"type": string(a.Type), "severity": string(a.Severity),
		}); err != nil {
			return err
		}
	}
	if err := w.m.Events.Append(ctx, tx, "snapshot.recorded", w.jobID, "snapshot", "", "monitor", events.EventPayload{
		"continue_work":    res.ContinueWork,
		"adjusted_score":   res.AdjustedScore,
		"compliance_score": res.ComplianceScore,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func alertTimesFrom(alerts []domain.Alert) map[domain.AlertType]time.Time {
	out := make(map[domain.AlertType]time.Time)
	for _, a := range alerts {
		t, err := time.Parse(time.RFC3339, a.CreatedAt)
		if err != nil {
			continue
		}
		if t.After(out[a.Type]) {
			out[a.Type] = t
		}
	}
	return out
}
