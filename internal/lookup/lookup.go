// Package lookup defines the analytics collaborators the risk core
// depends on. Both are external I/O from the core's point of view;
// failures substitute documented conservative defaults and mark the
// result degraded rather than failing the assessment or tick.
package lookup

import "context"

// Conservative defaults applied when a collaborator is unavailable.
const (
	// DefaultHistoricalScore is the historical-incident sub-score used
	// when no history exists or the lookup fails.
	DefaultHistoricalScore = 2.0
	// NeutralCrewScore is the mid crew-safety-behavior score used when
	// the behavior collaborator is unavailable.
	NeutralCrewScore = 75.0
)

// HistoryScore is a historical-incident risk lookup result.
type HistoryScore struct {
	Score      float64
	SampleSize int
}

// IncidentHistory scores historical incident risk for a location and
// condition tags.
type IncidentHistory interface {
	Score(ctx context.Context, location string, tags []string) (HistoryScore, error)
}

// CrewBehavior scores live crew safety behavior, 0-100, for the crew
// currently on site.
type CrewBehavior interface {
	Score(ctx context.Context, jobID string, roster []string) (float64, error)
}

// StaticHistory returns a fixed score; the zero value behaves like
// "no history".
type StaticHistory struct {
	Result HistoryScore
	Err    error
}

func (s StaticHistory) Score(context.Context, string, []string) (HistoryScore, error) {
	if s.Err != nil {
		return HistoryScore{}, s.Err
	}
	if s.Result.Score == 0 && s.Result.SampleSize == 0 {
		return HistoryScore{Score: DefaultHistoricalScore}, nil
	}
	return s.Result, nil
}

// StaticCrewBehavior returns a fixed behavior score.
type StaticCrewBehavior struct {
	Value float64
	Err   error
}

func (s StaticCrewBehavior) Score(context.Context, string, []string) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	if s.Value == 0 {
		return NeutralCrewScore, nil
	}
	return s.Value, nil
}
