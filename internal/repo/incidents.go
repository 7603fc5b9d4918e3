package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"canopy/internal/domain"
)

func (r Repo) InsertIncident(ctx context.Context, rec domain.IncidentRecord) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal incident tags: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO incidents(id,location,tags_json,severity,description,occurred_at) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.Location, string(tags), nullable(rec.Severity), nullable(rec.Description), rec.OccurredAt)
	return err
}

// MatchIncidents returns incidents at the given location, or sharing at
// least one tag with the query when tags are provided. Location match
// is a case-insensitive prefix match so "Oak St" finds "Oak St, Unit 2".
func (r Repo) MatchIncidents(ctx context.Context, location string, tags []string) ([]domain.IncidentRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,location,COALESCE(tags_json,'[]'),COALESCE(severity,''),COALESCE(description,''),occurred_at FROM incidents ORDER BY occurred_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IncidentRecord
	for rows.Next() {
		var rec domain.IncidentRecord
		var tagsJSON string
		if err := rows.Scan(&rec.ID, &rec.Location, &tagsJSON, &rec.Severity, &rec.Description, &rec.OccurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal incident tags: %w", err)
		}
		if matchesIncident(rec, location, tags) {
			res = append(res, rec)
		}
	}
	return res, rows.Err()
}

func (r Repo) ListIncidents(ctx context.Context, limit int) ([]domain.IncidentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,location,COALESCE(tags_json,'[]'),COALESCE(severity,''),COALESCE(description,''),occurred_at FROM incidents ORDER BY occurred_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IncidentRecord
	for rows.Next() {
		var rec domain.IncidentRecord
		var tagsJSON string
		if err := rows.Scan(&rec.ID, &rec.Location, &tagsJSON, &rec.Severity, &rec.Description, &rec.OccurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal incident tags: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.IncidentRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,location,COALESCE(tags_json,'[]'),COALESCE(severity,''),COALESCE(description,''),occurred_at FROM incidents WHERE id=?`, id)
	var rec domain.IncidentRecord
	var tagsJSON string
	err := row.Scan(&rec.ID, &rec.Location, &tagsJSON, &rec.Severity, &rec.Description, &rec.OccurredAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return rec, fmt.Errorf("unmarshal incident tags: %w", err)
	}
	return rec, nil
}

func matchesIncident(rec domain.IncidentRecord, location string, tags []string) bool {
	if location != "" && strings.HasPrefix(strings.ToLower(rec.Location), strings.ToLower(location)) {
		return true
	}
	for _, want := range tags {
		for _, have := range rec.Tags {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}
