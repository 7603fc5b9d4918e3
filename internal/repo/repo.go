package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"canopy/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- jobs ---

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,location,status,created_at,updated_at) VALUES (?,?,?,?,?)`,
		j.ID, nullable(j.Location), string(j.Status), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(location,''),status,created_at,updated_at FROM jobs WHERE id=?`, id)
	var j domain.Job
	err := row.Scan(&j.ID, &j.Location, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error) {
	query := `SELECT id,COALESCE(location,''),status,created_at,updated_at FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Location, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) UpdateJobStatusTx(ctx context.Context, tx *sql.Tx, id string, status domain.JobStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?, updated_at=? WHERE id=?`, string(status), updatedAt, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- assessments ---

// assessmentDetail is the JSON blob holding the parts of the baseline
// that only round-trip, never filter.
type assessmentDetail struct {
	Domains     []domain.DomainResult       `json:"domains"`
	DomainScore int                         `json:"domain_score"`
	SubScores   domain.SubScores            `json:"sub_scores"`
	Mitigations []domain.MitigationStrategy `json:"mitigations,omitempty"`
	Approvals   domain.ApprovalGates        `json:"approvals"`
	Environment domain.EnvironmentReading   `json:"environment"`
}

func (r Repo) InsertAssessmentTx(ctx context.Context, tx *sql.Tx, a domain.RiskAssessment) error {
	detail, err := json.Marshal(assessmentDetail{
		Domains:     a.Domains,
		DomainScore: a.DomainScore,
		SubScores:   a.SubScores,
		Mitigations: a.Mitigations,
		Approvals:   a.Approvals,
		Environment: a.Environment,
	})
	if err != nil {
		return fmt.Errorf("marshal assessment detail: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assessments(id,job_id,composite_score,level,confidence,degraded,proceed,detail_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.JobID, a.CompositeScore, string(a.Level), a.Confidence, boolInt(a.Degraded), boolInt(a.ProceedAuthorization), string(detail), a.CreatedAt)
	return err
}

func (r Repo) GetAssessmentByJob(ctx context.Context, jobID string) (domain.RiskAssessment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,job_id,composite_score,level,confidence,degraded,proceed,detail_json,created_at FROM assessments WHERE job_id=?`, jobID)
	return scanAssessment(row)
}

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.RiskAssessment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,job_id,composite_score,level,confidence,degraded,proceed,detail_json,created_at FROM assessments WHERE id=?`, id)
	return scanAssessment(row)
}

func scanAssessment(row *sql.Row) (domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var degraded, proceed int
	var detailJSON string
	err := row.Scan(&a.ID, &a.JobID, &a.CompositeScore, &a.Level, &a.Confidence, &degraded, &proceed, &detailJSON, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	var detail assessmentDetail
	if err := json.Unmarshal([]byte(detailJSON), &detail); err != nil {
		return a, fmt.Errorf("unmarshal assessment detail: %w", err)
	}
	a.Degraded = degraded != 0
	a.ProceedAuthorization = proceed != 0
	a.Domains = detail.Domains
	a.DomainScore = detail.DomainScore
	a.SubScores = detail.SubScores
	a.Mitigations = detail.Mitigations
	a.Approvals = detail.Approvals
	a.Environment = detail.Environment
	return a, nil
}

// --- snapshots ---

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.ComplianceSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO snapshots(job_id,ts,payload_json) VALUES (?,?,?)`,
		s.JobID, s.Timestamp.UTC().Format(time.RFC3339Nano), string(payload))
	return err
}

func (r Repo) ListSnapshots(ctx context.Context, jobID string, limit int) ([]domain.ComplianceSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT payload_json FROM snapshots WHERE job_id=? ORDER BY ts ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceSnapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var s domain.ComplianceSnapshot
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- monitor state ---

func (r Repo) UpsertMonitorStateTx(ctx context.Context, tx *sql.Tx, state domain.MonitoringState, updatedAt string) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal monitor state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO monitor_states(job_id,state_json,updated_at) VALUES (?,?,?)
		ON CONFLICT(job_id) DO UPDATE SET state_json=excluded.state_json, updated_at=excluded.updated_at`,
		state.JobID, string(payload), updatedAt)
	return err
}

func (r Repo) GetMonitorState(ctx context.Context, jobID string) (domain.MonitoringState, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT state_json FROM monitor_states WHERE job_id=?`, jobID)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.MonitoringState{}, ErrNotFound
	}
	if err != nil {
		return domain.MonitoringState{}, err
	}
	var state domain.MonitoringState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return domain.MonitoringState{}, fmt.Errorf("unmarshal monitor state: %w", err)
	}
	return state, nil
}

func (r Repo) DeleteMonitorStateTx(ctx context.Context, tx *sql.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM monitor_states WHERE job_id=?`, jobID)
	return err
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
