package risk

import (
	"canopy/internal/config"
	"canopy/internal/domain"
)

// Risk level bands on the composite score.
const (
	bandExtreme  = 8.0
	bandHigh     = 6.0
	bandModerate = 4.0
)

// Compose combines the domain score and sub-model scores into one
// composite score in [0,10] and its level classification. The
// historical sub-score is recorded on the assessment but does not
// carry composite weight; it informs confidence instead.
//
// Deterministic and idempotent: identical inputs always yield
// identical outputs.
func Compose(w config.Weights, domainScore int, sub domain.SubScores) (float64, domain.RiskLevel) {
	score := w.Domain*float64(domainScore) +
		w.Predictive*sub.Predictive +
		w.Environmental*sub.Environmental +
		w.Equipment*sub.Equipment +
		w.Crew*sub.Crew
	score = clamp(score, 0, 10)
	return score, LevelFor(score)
}

// LevelFor classifies a composite score. Band edges are inclusive.
func LevelFor(score float64) domain.RiskLevel {
	switch {
	case score >= bandExtreme:
		return domain.RiskExtreme
	case score >= bandHigh:
		return domain.RiskHigh
	case score >= bandModerate:
		return domain.RiskModerate
	default:
		return domain.RiskLow
	}
}

// Optional input fields considered by the confidence calculation.
const optionalInputFields = 8

// Confidence scales the configured base confidence by input
// completeness: each missing optional field reduces it
// proportionally. The historical sample size, when the collaborator
// supplies one, restores a small amount of it.
func Confidence(base float64, input domain.SiteAssessmentInput, crew domain.CrewProfile, sampleSize int) float64 {
	present := 0
	if input.Tree.Species != "" {
		present++
	}
	if input.Tree.DBHInches > 0 {
		present++
	}
	if input.Tree.CrownRadiusFt > 0 {
		present++
	}
	if input.Environment.VisibilityMi > 0 {
		present++
	}
	if input.Environment.Ground != "" {
		present++
	}
	if input.Environment.TimeOfDay != "" {
		present++
	}
	if input.Environment.Season != "" {
		present++
	}
	if len(crew.Certifications) > 0 {
		present++
	}
	conf := base * float64(present) / optionalInputFields
	if sampleSize >= 10 {
		conf += 0.05
	}
	return clamp(conf, 0, 0.95)
}
