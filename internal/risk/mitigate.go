package risk

import (
	"sort"

	"canopy/internal/domain"
)

// Approval gate thresholds on the composite score. These are exact
// numeric contracts with dispatch and insurance consumers.
const (
	gateManager       = 6.0
	gateSafetyOfficer = 7.0
	gateClient        = 8.0
	gateInsurance     = 8.0
	gateDelay         = 9.0
)

// Gates derives the boolean approval requirements from the composite
// score.
func Gates(composite float64) domain.ApprovalGates {
	return domain.ApprovalGates{
		ManagerApproval:       composite >= gateManager,
		SafetyOfficerApproval: composite >= gateSafetyOfficer,
		ClientNotification:    composite >= gateClient,
		AdditionalInsurance:   composite >= gateInsurance,
		DelayRecommended:      composite >= gateDelay,
	}
}

type mitigationRule struct {
	trigger  func(composite float64, sub domain.SubScores) bool
	strategy domain.MitigationStrategy
}

// Rules are evaluated in order; each trigger contributes one
// strategy. Final ordering is priority-descending with evaluation
// order breaking ties.
var mitigationRules = []mitigationRule{
	{
		trigger: func(c float64, _ domain.SubScores) bool { return c >= 8 },
		strategy: domain.MitigationStrategy{
			Strategy: "Full job review with safety officer before any work begins",
			Priority: domain.PriorityCritical,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Environmental >= 6 },
		strategy: domain.MitigationStrategy{
			Strategy: "Suspend work pending an acceptable weather window",
			Priority: domain.PriorityCritical,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(c float64, _ domain.SubScores) bool { return c >= 6 },
		strategy: domain.MitigationStrategy{
			Strategy: "Pre-work safety briefing with the full crew",
			Priority: domain.PriorityHigh,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Environmental >= 3 },
		strategy: domain.MitigationStrategy{
			Strategy: "Enhanced weather monitoring protocol",
			Priority: domain.PriorityHigh,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Predictive >= 6.5 },
		strategy: domain.MitigationStrategy{
			Strategy: "Rigging and controlled dismantle plan",
			Priority: domain.PriorityHigh,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Crew >= 6 },
		strategy: domain.MitigationStrategy{
			Strategy: "Assign a senior climber to supervise on site",
			Priority: domain.PriorityHigh,
			Timing:   "during_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Crew >= 4 },
		strategy: domain.MitigationStrategy{
			Strategy: "Review crew certifications and role assignments",
			Priority: domain.PriorityMedium,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Equipment >= 3 },
		strategy: domain.MitigationStrategy{
			Strategy: "Equipment inspection and certification check",
			Priority: domain.PriorityMedium,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(_ float64, s domain.SubScores) bool { return s.Historical >= 5 },
		strategy: domain.MitigationStrategy{
			Strategy: "Review prior incident reports for this location",
			Priority: domain.PriorityMedium,
			Timing:   "before_work",
		},
	},
	{
		trigger: func(c float64, _ domain.SubScores) bool { return c >= 4 },
		strategy: domain.MitigationStrategy{
			Strategy: "Establish an expanded drop zone perimeter",
			Priority: domain.PriorityMedium,
			Timing:   "before_work",
		},
	},
}

// Mitigations generates the ordered mitigation-strategy list for a
// composite result.
func Mitigations(composite float64, sub domain.SubScores) []domain.MitigationStrategy {
	var out []domain.MitigationStrategy
	for _, rule := range mitigationRules {
		if rule.trigger(composite, sub) {
			out = append(out, rule.strategy)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Order() > out[j].Priority.Order()
	})
	return out
}
