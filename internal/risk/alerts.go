package risk

import (
	"fmt"

	"canopy/internal/domain"
)

// GenerateAlerts converts baseline threshold breaches into alerts.
// Pure given its inputs: IDs and timestamps are stamped by the
// caller, and deduplication is the monitor's job, not this one's.
func GenerateAlerts(jobID string, composite float64, level domain.RiskLevel, gates domain.ApprovalGates, alertThreshold float64) []domain.Alert {
	var alerts []domain.Alert
	if composite >= alertThreshold {
		alerts = append(alerts, domain.Alert{
			JobID:          jobID,
			Type:           domain.AlertHighRiskAssessment,
			Severity:       domain.AlertSevWarning,
			Message:        fmt.Sprintf("Assessment scored %.1f (%s); supervisor sign-off required before work", composite, level),
			ActionRequired: true,
		})
	}
	if gates.DelayRecommended {
		alerts = append(alerts, domain.Alert{
			JobID:          jobID,
			Type:           domain.AlertDelayRecommended,
			Severity:       domain.AlertSevImmediate,
			Message:        fmt.Sprintf("Assessment scored %.1f; delaying the job is recommended", composite),
			ActionRequired: true,
		})
	}
	return alerts
}
