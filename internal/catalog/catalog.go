// Package catalog holds the factor catalog for site risk assessment:
// a fixed table of weighted risk factors per domain, the identifier
// that maps a site description to applicable factors, and the
// per-domain aggregator. The catalog is immutable after construction
// and safe for unsynchronized concurrent reads.
package catalog

import (
	"fmt"
	"sort"

	"canopy/internal/config"
	"canopy/internal/domain"
)

type Catalog struct {
	byCode        map[string]domain.RiskFactor
	byDomain      map[domain.RiskDomain][]domain.RiskFactor
	domainWeights map[domain.RiskDomain]float64
}

// maxDomainScore caps the aggregated risk score per domain.
const maxDomainScore = 10

// defaultDomainWeights is the catalog-level domain weighting exposed
// to pricing collaborators.
var defaultDomainWeights = map[domain.RiskDomain]float64{
	domain.DomainAccess:         0.20,
	domain.DomainFallZone:       0.25,
	domain.DomainInterference:   0.20,
	domain.DomainSeverity:       0.30,
	domain.DomainSiteConditions: 0.05,
}

var builtinFactors = []domain.RiskFactor{
	// access
	{Domain: domain.DomainAccess, Code: CodeAccessBackyard, Name: "Backyard-only access", BaseWeight: 0.08, RiskWeight: 2},
	{Domain: domain.DomainAccess, Code: CodeAccessNarrow, Name: "Narrow access corridor", BaseWeight: 0.05, RiskWeight: 2},
	{Domain: domain.DomainAccess, Code: CodeAccessSteepSlope, Name: "Steep slope approach", BaseWeight: 0.06, RiskWeight: 2},
	{Domain: domain.DomainAccess, Code: CodeAccessOverhead, Name: "Overhead obstacle on approach", BaseWeight: 0.04, RiskWeight: 1},
	{Domain: domain.DomainAccess, Code: CodeAccessNoEquipment, Name: "No equipment access, hand carry", BaseWeight: 0.10, RiskWeight: 3},

	// fall zone
	{Domain: domain.DomainFallZone, Code: CodeFallZonePowerLine, Name: "Power line in fall zone", BaseWeight: 0.12, RiskWeight: 3},
	{Domain: domain.DomainFallZone, Code: CodeFallZoneStructure, Name: "Structure in fall zone", BaseWeight: 0.10, RiskWeight: 3},
	{Domain: domain.DomainFallZone, Code: CodeFallZoneRoad, Name: "Road in fall zone", BaseWeight: 0.08, RiskWeight: 2},
	{Domain: domain.DomainFallZone, Code: CodeFallZoneOccupied, Name: "Occupied area in fall zone", BaseWeight: 0.09, RiskWeight: 3},
	{Domain: domain.DomainFallZone, Code: CodeFallZoneConfined, Name: "Confined drop zone", BaseWeight: 0.07, RiskWeight: 2},

	// interference
	{Domain: domain.DomainInterference, Code: CodeInterferencePowerLine, Name: "Power line interference", BaseWeight: 0.10, RiskWeight: 3},
	{Domain: domain.DomainInterference, Code: CodeInterferenceCommLine, Name: "Communication line interference", BaseWeight: 0.04, RiskWeight: 1},
	{Domain: domain.DomainInterference, Code: CodeInterferenceFence, Name: "Fence interference", BaseWeight: 0.03, RiskWeight: 1},
	{Domain: domain.DomainInterference, Code: CodeInterferenceCanopy, Name: "Crowded canopy", BaseWeight: 0.05, RiskWeight: 2},
	{Domain: domain.DomainInterference, Code: CodeInterferenceTraffic, Name: "Traffic interference", BaseWeight: 0.06, RiskWeight: 2},

	// severity
	{Domain: domain.DomainSeverity, Code: CodeSeverityDeadTree, Name: "Dead tree", BaseWeight: 0.12, RiskWeight: 3},
	{Domain: domain.DomainSeverity, Code: CodeSeverityDyingTree, Name: "Dying tree", BaseWeight: 0.08, RiskWeight: 2},
	{Domain: domain.DomainSeverity, Code: CodeSeverityHeavyLean, Name: "Heavy lean", BaseWeight: 0.08, RiskWeight: 2},
	{Domain: domain.DomainSeverity, Code: CodeSeverityOversize, Name: "Oversize removal", BaseWeight: 0.10, RiskWeight: 3},
	{Domain: domain.DomainSeverity, Code: CodeSeverityLargeDBH, Name: "Large diameter stem", BaseWeight: 0.06, RiskWeight: 2},
	{Domain: domain.DomainSeverity, Code: CodeSeverityWideCrown, Name: "Wide crown spread", BaseWeight: 0.04, RiskWeight: 1},

	// site conditions
	{Domain: domain.DomainSiteConditions, Code: CodeSiteWetGround, Name: "Wet ground", BaseWeight: 0.05, RiskWeight: 2},
	{Domain: domain.DomainSiteConditions, Code: CodeSiteFrozenGround, Name: "Frozen ground", BaseWeight: 0.03, RiskWeight: 1},
	{Domain: domain.DomainSiteConditions, Code: CodeSiteUnstableGround, Name: "Unstable ground", BaseWeight: 0.08, RiskWeight: 3},
	{Domain: domain.DomainSiteConditions, Code: CodeSiteLowVisibility, Name: "Low visibility", BaseWeight: 0.04, RiskWeight: 2},
	{Domain: domain.DomainSiteConditions, Code: CodeSiteHighWind, Name: "High wind", BaseWeight: 0.06, RiskWeight: 2},
	{Domain: domain.DomainSiteConditions, Code: CodeSitePrecipitation, Name: "Active precipitation", BaseWeight: 0.04, RiskWeight: 2},
}

// Builtin returns the built-in catalog.
func Builtin() *Catalog {
	c, err := build(builtinFactors, defaultDomainWeights)
	if err != nil {
		// builtin table is checked by tests; a failure here is a
		// programmer error
		panic(err)
	}
	return c
}

// FromConfig builds the catalog from config overrides layered on the
// built-in table. Referencing an unknown domain or dropping a factor
// the identifier emits is a configuration error, fatal at load time.
func FromConfig(cfg config.CatalogConfig) (*Catalog, error) {
	factors := make([]domain.RiskFactor, len(builtinFactors))
	copy(factors, builtinFactors)
	index := make(map[string]int, len(factors))
	for i, f := range factors {
		index[f.Code] = i
	}
	for _, fc := range cfg.Factors {
		f := domain.RiskFactor{
			Domain:     fc.Domain,
			Code:       fc.Code,
			Name:       fc.Name,
			BaseWeight: fc.BaseWeight,
			RiskWeight: fc.RiskWeight,
		}
		if i, ok := index[f.Code]; ok {
			factors[i] = f
		} else {
			index[f.Code] = len(factors)
			factors = append(factors, f)
		}
	}
	weights := defaultDomainWeights
	if len(cfg.DomainWeights) > 0 {
		weights = cfg.DomainWeights
	}
	return build(factors, weights)
}

func build(factors []domain.RiskFactor, weights map[domain.RiskDomain]float64) (*Catalog, error) {
	c := &Catalog{
		byCode:        make(map[string]domain.RiskFactor, len(factors)),
		byDomain:      make(map[domain.RiskDomain][]domain.RiskFactor),
		domainWeights: make(map[domain.RiskDomain]float64, len(weights)),
	}
	for _, f := range factors {
		if !f.Domain.IsValid() {
			return nil, fmt.Errorf("factor %s references unknown domain %s", f.Code, f.Domain)
		}
		if _, dup := c.byCode[f.Code]; dup {
			return nil, fmt.Errorf("factor code %s duplicated", f.Code)
		}
		c.byCode[f.Code] = f
		c.byDomain[f.Domain] = append(c.byDomain[f.Domain], f)
	}
	for d, w := range weights {
		c.domainWeights[d] = w
	}
	for _, code := range identifierCodes() {
		if _, ok := c.byCode[code]; !ok {
			return nil, fmt.Errorf("catalog missing factor %s required by the identifier", code)
		}
	}
	return c, nil
}

// Factor resolves one factor code. An unknown code is a configuration
// error, not a runtime condition.
func (c *Catalog) Factor(code string) (domain.RiskFactor, error) {
	f, ok := c.byCode[code]
	if !ok {
		return domain.RiskFactor{}, fmt.Errorf("unknown factor code %s", code)
	}
	return f, nil
}

// Resolve maps factor codes to full catalog entries.
func (c *Catalog) Resolve(codes []string) ([]domain.RiskFactor, error) {
	out := make([]domain.RiskFactor, 0, len(codes))
	for _, code := range codes {
		f, err := c.Factor(code)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// DomainFactors lists the catalog entries for one domain, sorted by
// code.
func (c *Catalog) DomainFactors(d domain.RiskDomain) []domain.RiskFactor {
	src := c.byDomain[d]
	out := make([]domain.RiskFactor, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// DomainWeight returns the catalog-level weight for a domain,
// exposed for pricing collaborators.
func (c *Catalog) DomainWeight(d domain.RiskDomain) float64 {
	return c.domainWeights[d]
}

// Aggregate sums the risk weights of applicable factors for one
// domain, capped at the per-domain maximum, and accumulates the cost
// multiplier. Summation is commutative; factor order does not matter.
func (c *Catalog) Aggregate(d domain.RiskDomain, codes []string) (domain.DomainResult, error) {
	factors, err := c.Resolve(codes)
	if err != nil {
		return domain.DomainResult{}, err
	}
	res := domain.DomainResult{Domain: d, Multiplier: 1.0}
	for _, f := range factors {
		if f.Domain != d {
			return domain.DomainResult{}, fmt.Errorf("factor %s belongs to domain %s, not %s", f.Code, f.Domain, d)
		}
		res.RiskScore += f.RiskWeight
		res.Multiplier += f.BaseWeight
		res.Factors = append(res.Factors, f.Code)
	}
	if res.RiskScore > maxDomainScore {
		res.RiskScore = maxDomainScore
	}
	sort.Strings(res.Factors)
	return res, nil
}
