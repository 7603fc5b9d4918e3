package repo

import (
	"context"
	"database/sql"

	"canopy/internal/domain"
)

// InsertAlertTx appends an alert to the delivery log. The seq column is
// assigned by sqlite and used as the webhook dispatch cursor.
func (r Repo) InsertAlertTx(ctx context.Context, tx *sql.Tx, a domain.Alert) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO alerts(id,job_id,type,severity,message,action_required,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.JobID, string(a.Type), string(a.Severity), a.Message, boolInt(a.ActionRequired), a.CreatedAt)
	return err
}

func (r Repo) ListAlerts(ctx context.Context, jobID string, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,job_id,type,severity,message,action_required,created_at FROM alerts`
	var args []any
	if jobID != "" {
		query += ` WHERE job_id=?`
		args = append(args, jobID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// AlertsAfter returns alerts with seq greater than cursor, oldest
// first. Used by the webhook dispatcher.
func (r Repo) AlertsAfter(ctx context.Context, cursor int64, limit int) ([]domain.Alert, []int64, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,job_id,type,severity,message,action_required,created_at FROM alerts WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var alerts []domain.Alert
	var seqs []int64
	for rows.Next() {
		var a domain.Alert
		var seq int64
		var actionRequired int
		if err := rows.Scan(&seq, &a.ID, &a.JobID, &a.Type, &a.Severity, &a.Message, &actionRequired, &a.CreatedAt); err != nil {
			return nil, nil, err
		}
		a.ActionRequired = actionRequired != 0
		alerts = append(alerts, a)
		seqs = append(seqs, seq)
	}
	return alerts, seqs, rows.Err()
}

func (r Repo) LatestAlertSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM alerts`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func scanAlerts(rows *sql.Rows) ([]domain.Alert, error) {
	var res []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var actionRequired int
		if err := rows.Scan(&a.ID, &a.JobID, &a.Type, &a.Severity, &a.Message, &actionRequired, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ActionRequired = actionRequired != 0
		res = append(res, a)
	}
	return res, rows.Err()
}
