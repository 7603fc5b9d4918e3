package risk

import (
	"testing"

	"canopy/internal/config"
	"canopy/internal/domain"
)

func TestComposeWeighting(t *testing.T) {
	w := config.Default("canopy").Scoring.Weights
	sub := domain.SubScores{
		Environmental: 8,
		Equipment:     2,
		Crew:          6,
		Predictive:    10,
		Historical:    9, // carries no composite weight
	}
	// 0.30*7 + 0.25*10 + 0.20*8 + 0.15*2 + 0.10*6 = 7.1.
	got, level := Compose(w, 7, sub)
	if !almost(got, 7.1) {
		t.Fatalf("composite %v, want 7.1", got)
	}
	if level != domain.RiskHigh {
		t.Fatalf("level %s, want high", level)
	}
}

func TestComposeDeterministic(t *testing.T) {
	w := config.Default("canopy").Scoring.Weights
	sub := domain.SubScores{Environmental: 3.5, Equipment: 1, Crew: 4.2, Predictive: 6.5}
	a, al := Compose(w, 5, sub)
	b, bl := Compose(w, 5, sub)
	if a != b || al != bl {
		t.Fatalf("identical inputs diverged: %v/%s vs %v/%s", a, al, b, bl)
	}
}

func TestComposeMonotonicInEnvironmental(t *testing.T) {
	w := config.Default("canopy").Scoring.Weights
	sub := domain.SubScores{Equipment: 2, Crew: 3, Predictive: 5}
	prev := -1.0
	for env := 0.0; env <= 10; env++ {
		sub.Environmental = env
		got, _ := Compose(w, 4, sub)
		if got <= prev {
			t.Fatalf("composite not increasing at environmental=%v: %v <= %v", env, got, prev)
		}
		prev = got
	}
}

func TestLevelForBands(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0, domain.RiskLow},
		{3.999, domain.RiskLow},
		{4, domain.RiskModerate},
		{5.999, domain.RiskModerate},
		{6, domain.RiskHigh},
		{7.999, domain.RiskHigh},
		{8, domain.RiskExtreme},
		{10, domain.RiskExtreme},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.score); got != tc.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestConfidenceCompleteness(t *testing.T) {
	full := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{
			Species:       "oak",
			DBHInches:     24,
			CrownRadiusFt: 15,
		},
		Environment: domain.EnvironmentReading{
			VisibilityMi: 10,
			Ground:       domain.GroundDry,
			TimeOfDay:    "morning",
			Season:       "summer",
		},
	}
	crew := domain.CrewProfile{Certifications: []string{"isa"}}

	if got := Confidence(0.85, full, crew, 0); !almost(got, 0.85) {
		t.Fatalf("complete input confidence %v, want 0.85", got)
	}

	// Half the optional fields missing halves the confidence.
	partial := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{Species: "oak", DBHInches: 24},
		Environment: domain.EnvironmentReading{
			Ground:    domain.GroundDry,
			TimeOfDay: "morning",
		},
	}
	if got := Confidence(0.85, partial, domain.CrewProfile{}, 0); !almost(got, 0.425) {
		t.Fatalf("half input confidence %v, want 0.425", got)
	}
}

func TestConfidenceSampleBumpAndCap(t *testing.T) {
	full := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{Species: "oak", DBHInches: 24, CrownRadiusFt: 15},
		Environment: domain.EnvironmentReading{
			VisibilityMi: 10, Ground: domain.GroundDry, TimeOfDay: "morning", Season: "summer",
		},
	}
	crew := domain.CrewProfile{Certifications: []string{"isa"}}

	if got := Confidence(0.85, full, crew, 9); !almost(got, 0.85) {
		t.Fatalf("sample size below 10 bumped confidence to %v", got)
	}
	if got := Confidence(0.85, full, crew, 10); !almost(got, 0.90) {
		t.Fatalf("sample bump gave %v, want 0.90", got)
	}
	if got := Confidence(0.95, full, crew, 50); got != 0.95 {
		t.Fatalf("confidence %v exceeds cap of 0.95", got)
	}
}
