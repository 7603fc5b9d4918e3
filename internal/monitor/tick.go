// Package monitor runs the real-time compliance loop for active jobs.
// Each job is owned by exactly one worker goroutine; snapshots for a
// job are processed strictly in arrival order.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"canopy/internal/domain"
)

const (
	// windRiseMph is the sustained wind increase over the baseline
	// reading that counts as an environmental risk increase.
	windRiseMph = 5.0
	// precipStartIn is the precipitation rate above which rain is
	// considered to have started.
	precipStartIn = 0.1

	checklistItems = 5

	compliancePenaltyDivisor = 20.0
	crewPenaltyDivisor       = 25.0

	adjustedHighBand     = 7.0
	adjustedModerateBand = 5.0
)

// ComplianceScore is the percentage of passed checklist items.
func ComplianceScore(c domain.Checklist) float64 {
	passed := 0
	for _, ok := range c.Items() {
		if ok {
			passed++
		}
	}
	return float64(passed) / checklistItems * 100
}

// DetectViolations returns one violation per failed checklist item,
// sorted by item name. A PPE failure is always critical; every other
// failed item is a warning.
func DetectViolations(c domain.Checklist, observedAt time.Time) []domain.Violation {
	var out []domain.Violation
	for item, ok := range c.Items() {
		if ok {
			continue
		}
		sev := domain.ViolationWarning
		if item == "ppe_compliance" {
			sev = domain.ViolationCritical
		}
		out = append(out, domain.Violation{Item: item, Severity: sev, ObservedAt: observedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Delta compares a live reading against the baseline assessment
// environment. RiskIncrease is set when wind rose by windRiseMph or
// more, or precipitation started since the baseline.
func Delta(baseline, current domain.EnvironmentReading) domain.EnvironmentDelta {
	d := domain.EnvironmentDelta{
		WindSpeedMph:    current.WindSpeedMph - baseline.WindSpeedMph,
		PrecipitationIn: current.PrecipitationIn - baseline.PrecipitationIn,
		TemperatureF:    current.TemperatureF - baseline.TemperatureF,
		VisibilityMi:    current.VisibilityMi - baseline.VisibilityMi,
	}
	if d.WindSpeedMph >= windRiseMph {
		d.RiskIncrease = true
	}
	if baseline.PrecipitationIn <= precipStartIn && current.PrecipitationIn > precipStartIn {
		d.RiskIncrease = true
	}
	return d
}

// AdjustedScore recomputes the job risk from the baseline composite,
// the current environment delta, and the live compliance and crew
// behavior scores. Result is clamped to [0,10].
func AdjustedScore(baseline float64, delta domain.EnvironmentDelta, compliance, crewScore float64) float64 {
	adjusted := baseline
	if delta.RiskIncrease {
		adjusted += 1
	}
	adjusted += (100 - compliance) / compliancePenaltyDivisor
	adjusted += (100 - crewScore) / crewPenaltyDivisor
	if adjusted < 0 {
		return 0
	}
	if adjusted > 10 {
		return 10
	}
	return adjusted
}

// AdjustedLevel bands an adjusted score. The live bands sit below the
// baseline bands so a monitored job escalates earlier.
func AdjustedLevel(score float64) domain.RiskLevel {
	switch {
	case score >= adjustedHighBand:
		return domain.RiskHigh
	case score >= adjustedModerateBand:
		return domain.RiskModerate
	default:
		return domain.RiskLow
	}
}

// ContinueWork is the stop-work decision. Any critical violation stops
// work regardless of scores.
func ContinueWork(violations []domain.Violation) bool {
	for _, v := range violations {
		if v.Severity == domain.ViolationCritical {
			return false
		}
	}
	return true
}

// tickAlerts derives the alerts a processed snapshot raises, before
// dedup. IDs and timestamps are stamped by the worker.
func tickAlerts(jobID string, res domain.TickResult, alertThreshold float64) []domain.Alert {
	var out []domain.Alert
	if len(res.Violations) > 0 {
		var critical, warning []string
		for _, v := range res.Violations {
			if v.Severity == domain.ViolationCritical {
				critical = append(critical, v.Item)
			} else {
				warning = append(warning, v.Item)
			}
		}
		if len(critical) > 0 {
			out = append(out, domain.Alert{
				JobID:          jobID,
				Type:           domain.AlertComplianceViolation,
				Severity:       domain.AlertSevImmediate,
				Message:        fmt.Sprintf("Critical compliance violation (%s): stop work and correct before resuming", strings.Join(critical, ", ")),
				ActionRequired: true,
			})
		} else {
			out = append(out, domain.Alert{
				JobID:          jobID,
				Type:           domain.AlertComplianceViolation,
				Severity:       domain.AlertSevWarning,
				Message:        fmt.Sprintf("Compliance checklist items failed: %s", strings.Join(warning, ", ")),
				ActionRequired: true,
			})
		}
	}
	if res.AdjustedScore >= alertThreshold {
		out = append(out, domain.Alert{
			JobID:          jobID,
			Type:           domain.AlertElevatedRisk,
			Severity:       domain.AlertSevWarning,
			Message:        fmt.Sprintf("Adjusted risk %.1f (%s) exceeds alert threshold %.1f", res.AdjustedScore, res.AdjustedLevel, alertThreshold),
			ActionRequired: true,
		})
	}
	return out
}
