package risk

import (
	"math"
	"strings"

	"canopy/internal/domain"
)

// Sub-model scorers. Each is a pure function returning a score in
// [0,10]; the composite calculator combines them with fixed weights.

// EnvironmentalScore applies stepped scoring to live weather and site
// conditions. A zero visibility reading means the field was not
// captured and contributes nothing.
func EnvironmentalScore(env domain.EnvironmentReading) float64 {
	score := 0.0
	switch {
	case env.WindSpeedMph > 25:
		score += 3
	case env.WindSpeedMph > 15:
		score += 1
	}
	if env.PrecipitationIn > 0.1 {
		score += 2
	}
	if env.TemperatureF != 0 && env.TemperatureF < 20 {
		score += 1
	}
	if env.VisibilityMi > 0 && env.VisibilityMi < 5 {
		score += 2
	}
	switch env.Ground {
	case domain.GroundWet:
		score += 2
	case domain.GroundFrozen:
		score += 1
	case domain.GroundUnstable:
		score += 3
	}
	return clamp(score, 0, 10)
}

// EquipmentScore weighs the heavy equipment a job calls for plus the
// access constraints that complicate operating it.
func EquipmentScore(equipment, access []string) float64 {
	score := 0.0
	for _, tag := range equipment {
		switch normalizeTag(tag) {
		case "crane":
			score += 2
		case "bucket-truck":
			score += 1
		case "chainsaw":
			score += 1
		}
	}
	for _, tag := range access {
		switch normalizeTag(tag) {
		case "narrow-access", "overhead-obstacle":
			score += 1
		}
	}
	return clamp(score, 0, 10)
}

// CrewScore rates crew competency against job complexity. Experience,
// safety record and certifications reduce risk from the midpoint;
// undersized crews for the job's domain score add to it.
func CrewScore(crew domain.CrewProfile, domainScore int) float64 {
	score := 5.0
	score -= math.Min(2, crew.ExperienceLevel/5)
	score -= math.Min(2, crew.SafetyRecord/25)
	score -= math.Min(1, float64(len(crew.Certifications))/5)
	if crew.Size < requiredCrewSize(domainScore) {
		score += 1
	}
	return clamp(score, 1, 10)
}

// requiredCrewSize is the minimum crew for a given domain risk score.
func requiredCrewSize(domainScore int) int {
	return int(math.Ceil(float64(domainScore) / 3))
}

// PredictiveScore is a deterministic heuristic over tree condition and
// weather, damped by crew experience. It is not a learned model.
func PredictiveScore(tree domain.TreeAttributes, env domain.EnvironmentReading, crew domain.CrewProfile) float64 {
	score := 5.0
	switch tree.Condition {
	case domain.TreeDead:
		score += 2
	case domain.TreeDying:
		score += 1.5
	}
	if tree.LeanAngleDeg > 15 {
		score += 1
	}
	if env.WindSpeedMph > 20 {
		score += 1.5
	}
	if env.PrecipitationIn > 0.1 {
		score += 1
	}
	if env.VisibilityMi > 0 && env.VisibilityMi < 5 {
		score += 0.5
	}
	score *= math.Max(0.7, 1-crew.ExperienceLevel/20)
	return clamp(score, 0, 10)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func normalizeTag(tag string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), "_", "-")
}
