package catalog_test

import (
	"testing"

	"canopy/internal/catalog"
	"canopy/internal/config"
	"canopy/internal/domain"
)

func TestBuiltinCoversIdentifier(t *testing.T) {
	// Builtin panics if any identifier code is missing from the table.
	c := catalog.Builtin()
	total := 0
	for _, d := range domain.Domains() {
		total += len(c.DomainFactors(d))
	}
	if total == 0 {
		t.Fatal("builtin catalog is empty")
	}
}

func TestDomainWeightsDefault(t *testing.T) {
	c := catalog.Builtin()
	want := map[domain.RiskDomain]float64{
		domain.DomainAccess:         0.20,
		domain.DomainFallZone:       0.25,
		domain.DomainInterference:   0.20,
		domain.DomainSeverity:       0.30,
		domain.DomainSiteConditions: 0.05,
	}
	sum := 0.0
	for d, w := range want {
		if got := c.DomainWeight(d); got != w {
			t.Errorf("weight %s = %v, want %v", d, got, w)
		}
		sum += c.DomainWeight(d)
	}
	if sum != 1.0 {
		t.Errorf("domain weights sum %v, want 1.0", sum)
	}
}

func TestIdentifyPowerLineHitsTwoDomains(t *testing.T) {
	input := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{HeightFt: 50, CrownRadiusFt: 10},
		Hazards: []domain.ProximityHazard{
			{Type: "power_line", Distance: 40},
		},
	}
	got := catalog.Identify(input)
	if !contains(got[domain.DomainFallZone], catalog.CodeFallZonePowerLine) {
		t.Errorf("fall zone factors %v missing power line", got[domain.DomainFallZone])
	}
	if !contains(got[domain.DomainInterference], catalog.CodeInterferencePowerLine) {
		t.Errorf("interference factors %v missing power line", got[domain.DomainInterference])
	}
}

func TestIdentifyHazardOutsideFallRadius(t *testing.T) {
	input := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{HeightFt: 50, CrownRadiusFt: 10},
		Hazards: []domain.ProximityHazard{
			{Type: "structure", Distance: 61},
		},
	}
	got := catalog.Identify(input)
	if len(got[domain.DomainFallZone]) != 0 {
		t.Errorf("hazard beyond height+crown should not be in fall zone, got %v", got[domain.DomainFallZone])
	}
}

func TestIdentifyConfinedDropZone(t *testing.T) {
	input := domain.SiteAssessmentInput{
		Tree: domain.TreeAttributes{HeightFt: 60},
		Hazards: []domain.ProximityHazard{
			{Type: "structure", Distance: 30},
			{Type: "road", Distance: 40},
		},
	}
	got := catalog.Identify(input)
	if !contains(got[domain.DomainFallZone], catalog.CodeFallZoneConfined) {
		t.Errorf("two hazards in fall zone should add confined drop, got %v", got[domain.DomainFallZone])
	}
}

func TestIdentifySeverityThresholds(t *testing.T) {
	cases := []struct {
		name string
		tree domain.TreeAttributes
		want string
		hit  bool
	}{
		{"lean at threshold", domain.TreeAttributes{HeightFt: 30, LeanAngleDeg: 15}, catalog.CodeSeverityHeavyLean, false},
		{"lean above threshold", domain.TreeAttributes{HeightFt: 30, LeanAngleDeg: 15.1}, catalog.CodeSeverityHeavyLean, true},
		{"height at threshold", domain.TreeAttributes{HeightFt: 60}, catalog.CodeSeverityOversize, false},
		{"height above threshold", domain.TreeAttributes{HeightFt: 60.5}, catalog.CodeSeverityOversize, true},
		{"dead tree", domain.TreeAttributes{HeightFt: 30, Condition: domain.TreeDead}, catalog.CodeSeverityDeadTree, true},
		{"dying tree", domain.TreeAttributes{HeightFt: 30, Condition: domain.TreeDying}, catalog.CodeSeverityDyingTree, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := catalog.Identify(domain.SiteAssessmentInput{Tree: tc.tree})
			if contains(got[domain.DomainSeverity], tc.want) != tc.hit {
				t.Errorf("severity factors %v, want %s present=%v", got[domain.DomainSeverity], tc.want, tc.hit)
			}
		})
	}
}

func TestIdentifyMissingVisibilityIgnored(t *testing.T) {
	// A zero visibility reading means the field was not captured.
	got := catalog.Identify(domain.SiteAssessmentInput{
		Tree:        domain.TreeAttributes{HeightFt: 30},
		Environment: domain.EnvironmentReading{VisibilityMi: 0},
	})
	if contains(got[domain.DomainSiteConditions], catalog.CodeSiteLowVisibility) {
		t.Error("zero visibility must not count as low visibility")
	}
}

func TestAggregateCapsAtTen(t *testing.T) {
	c := catalog.Builtin()
	codes := []string{
		catalog.CodeSeverityDeadTree, catalog.CodeSeverityHeavyLean,
		catalog.CodeSeverityOversize, catalog.CodeSeverityLargeDBH, catalog.CodeSeverityWideCrown,
	}
	res, err := c.Aggregate(domain.DomainSeverity, codes)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	// 3+2+3+2+1 = 11, capped.
	if res.RiskScore != 10 {
		t.Errorf("risk score %d, want capped 10", res.RiskScore)
	}
	if res.Multiplier <= 1.0 {
		t.Errorf("multiplier %v, want > 1.0", res.Multiplier)
	}
}

func TestAggregateRejectsWrongDomain(t *testing.T) {
	c := catalog.Builtin()
	if _, err := c.Aggregate(domain.DomainAccess, []string{catalog.CodeSeverityDeadTree}); err == nil {
		t.Fatal("expected domain mismatch error")
	}
}

func TestFromConfigOverride(t *testing.T) {
	cfg := config.CatalogConfig{
		Factors: []config.FactorConfig{
			{Domain: domain.DomainAccess, Code: catalog.CodeAccessBackyard, Name: "Backyard", BaseWeight: 0.2, RiskWeight: 5},
		},
	}
	c, err := catalog.FromConfig(cfg)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	f, err := c.Factor(catalog.CodeAccessBackyard)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	if f.RiskWeight != 5 || f.BaseWeight != 0.2 {
		t.Errorf("override not applied: %+v", f)
	}
}

func TestFromConfigRejectsUnknownDomain(t *testing.T) {
	cfg := config.CatalogConfig{
		Factors: []config.FactorConfig{
			{Domain: "weather", Code: "weather.storm", Name: "Storm", RiskWeight: 1},
		},
	}
	if _, err := catalog.FromConfig(cfg); err == nil {
		t.Fatal("expected unknown domain error")
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
