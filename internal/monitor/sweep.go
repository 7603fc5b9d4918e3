package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"canopy/internal/domain"
	"canopy/internal/events"
)

// StartSweep schedules the overdue-checkin sweep on the configured
// cron expression and returns the running scheduler.
func (m *Manager) StartSweep(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(m.Config.Monitoring.SweepSchedule, func() {
		if err := m.SweepOverdue(ctx); err != nil {
			log.Printf("monitor: overdue sweep failed: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", m.Config.Monitoring.SweepSchedule, err)
	}
	c.Start()
	return c, nil
}

// SweepOverdue raises a checkin_overdue alert for every active job
// whose last snapshot is older than the check-in interval. Jobs with no
// snapshots yet are measured from activation.
func (m *Manager) SweepOverdue(ctx context.Context) error {
	jobs, err := m.Repo.ListJobs(ctx, domain.JobActive)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	interval := m.Config.Monitoring.CheckinInterval()
	window := m.Config.Monitoring.DedupWindow()
	for _, j := range jobs {
		last, err := m.lastCheckin(ctx, j)
		if err != nil {
			return err
		}
		if now.Sub(last) <= interval {
			continue
		}
		m.overdueMu.Lock()
		prev, seen := m.overdueSeen[j.ID]
		if seen && now.Sub(prev) < window {
			m.overdueMu.Unlock()
			continue
		}
		m.overdueSeen[j.ID] = now
		m.overdueMu.Unlock()

		alert := domain.Alert{
			ID:             uuid.NewString(),
			JobID:          j.ID,
			Type:           domain.AlertCheckinOverdue,
			Severity:       domain.AlertSevWarning,
			Message:        fmt.Sprintf("No compliance check-in for %s (expected every %s)", now.Sub(last).Round(time.Minute), interval),
			ActionRequired: true,
			CreatedAt:      now.Format(time.RFC3339),
		}
		if err := m.persistSweepAlert(ctx, alert); err != nil {
			return err
		}
		m.notify()
	}
	return nil
}

func (m *Manager) lastCheckin(ctx context.Context, j domain.Job) (time.Time, error) {
	state, err := m.Repo.GetMonitorState(ctx, j.ID)
	if err == nil && state.LastSnapshotAt != nil {
		return *state.LastSnapshotAt, nil
	}
	activated, perr := time.Parse(time.RFC3339, j.UpdatedAt)
	if perr != nil {
		return time.Time{}, fmt.Errorf("job %s: parse updated_at: %w", j.ID, perr)
	}
	return activated, nil
}

func (m *Manager) persistSweepAlert(ctx context.Context, a domain.Alert) error {
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.Repo.InsertAlertTx(ctx, tx, a); err != nil {
		return err
	}
	if err := m.Events.Append(ctx, tx, "alert.raised", a.JobID, "alert", a.ID, "monitor", events.EventPayload{
		"type": string(a.Type), "severity": string(a.Severity),
	}); err != nil {
		return err
	}
	return tx.Commit()
}
