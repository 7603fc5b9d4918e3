package lookup

import (
	"context"
	"math"

	"canopy/internal/repo"
)

// RepoHistory scores historical incident risk from the incidents
// table, matching by location and shared condition tags.
type RepoHistory struct {
	Repo repo.Repo
}

func (h RepoHistory) Score(ctx context.Context, location string, tags []string) (HistoryScore, error) {
	incidents, err := h.Repo.MatchIncidents(ctx, location, tags)
	if err != nil {
		return HistoryScore{}, err
	}
	if len(incidents) == 0 {
		return HistoryScore{Score: DefaultHistoricalScore}, nil
	}
	score := DefaultHistoricalScore
	for _, inc := range incidents {
		switch inc.Severity {
		case "high":
			score += 1.5
		case "medium":
			score += 1.0
		default:
			score += 0.5
		}
	}
	return HistoryScore{
		Score:      math.Min(score, 10),
		SampleSize: len(incidents),
	}, nil
}
