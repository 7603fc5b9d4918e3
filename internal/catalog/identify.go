package catalog

import (
	"strings"

	"canopy/internal/domain"
)

// Factor codes emitted by the identifier. The catalog must contain an
// entry for every one of these or it refuses to load.
const (
	CodeAccessBackyard    = "access.backyard"
	CodeAccessNarrow      = "access.narrow"
	CodeAccessSteepSlope  = "access.steep_slope"
	CodeAccessOverhead    = "access.overhead_obstacle"
	CodeAccessNoEquipment = "access.no_equipment"

	CodeFallZonePowerLine = "fall_zone.power_line"
	CodeFallZoneStructure = "fall_zone.structure"
	CodeFallZoneRoad      = "fall_zone.road"
	CodeFallZoneOccupied  = "fall_zone.occupied_area"
	CodeFallZoneConfined  = "fall_zone.confined_drop"

	CodeInterferencePowerLine = "interference.power_line"
	CodeInterferenceCommLine  = "interference.comm_line"
	CodeInterferenceFence     = "interference.fence"
	CodeInterferenceCanopy    = "interference.canopy"
	CodeInterferenceTraffic   = "interference.traffic"

	CodeSeverityDeadTree  = "severity.dead_tree"
	CodeSeverityDyingTree = "severity.dying_tree"
	CodeSeverityHeavyLean = "severity.heavy_lean"
	CodeSeverityOversize  = "severity.oversize"
	CodeSeverityLargeDBH  = "severity.large_dbh"
	CodeSeverityWideCrown = "severity.wide_crown"

	CodeSiteWetGround      = "site.wet_ground"
	CodeSiteFrozenGround   = "site.frozen_ground"
	CodeSiteUnstableGround = "site.unstable_ground"
	CodeSiteLowVisibility  = "site.low_visibility"
	CodeSiteHighWind       = "site.high_wind"
	CodeSitePrecipitation  = "site.precipitation"
)

func identifierCodes() []string {
	return []string{
		CodeAccessBackyard, CodeAccessNarrow, CodeAccessSteepSlope, CodeAccessOverhead, CodeAccessNoEquipment,
		CodeFallZonePowerLine, CodeFallZoneStructure, CodeFallZoneRoad, CodeFallZoneOccupied, CodeFallZoneConfined,
		CodeInterferencePowerLine, CodeInterferenceCommLine, CodeInterferenceFence, CodeInterferenceCanopy, CodeInterferenceTraffic,
		CodeSeverityDeadTree, CodeSeverityDyingTree, CodeSeverityHeavyLean, CodeSeverityOversize, CodeSeverityLargeDBH, CodeSeverityWideCrown,
		CodeSiteWetGround, CodeSiteFrozenGround, CodeSiteUnstableGround, CodeSiteLowVisibility, CodeSiteHighWind, CodeSitePrecipitation,
	}
}

// Identification thresholds.
const (
	heavyLeanDeg     = 15.0
	oversizeHeightFt = 60.0
	largeDBHInches   = 30.0
	wideCrownFt      = 25.0
	highWindMph      = 15.0
	precipThreshold  = 0.1
	lowVisibilityMi  = 5.0
)

// Identify maps a site description to the applicable factor codes per
// domain. Pure and total: unmatched input yields no factors for a
// domain, never an error. A single hazard may trigger factors in more
// than one domain.
func Identify(input domain.SiteAssessmentInput) map[domain.RiskDomain][]string {
	out := make(map[domain.RiskDomain][]string)
	add := func(d domain.RiskDomain, code string) {
		for _, c := range out[d] {
			if c == code {
				return
			}
		}
		out[d] = append(out[d], code)
	}

	for _, tag := range input.Access {
		switch normalizeTag(tag) {
		case "backyard":
			add(domain.DomainAccess, CodeAccessBackyard)
		case "narrow-access":
			add(domain.DomainAccess, CodeAccessNarrow)
		case "steep-slope":
			add(domain.DomainAccess, CodeAccessSteepSlope)
		case "overhead-obstacle":
			add(domain.DomainAccess, CodeAccessOverhead)
		case "no-equipment-access":
			add(domain.DomainAccess, CodeAccessNoEquipment)
		}
	}

	fallRadius := input.Tree.HeightFt + input.Tree.CrownRadiusFt
	inFallZone := 0
	for _, h := range input.Hazards {
		kind := normalizeTag(h.Type)
		withinFall := h.Distance <= fallRadius
		if withinFall {
			inFallZone++
			switch kind {
			case "power-line":
				add(domain.DomainFallZone, CodeFallZonePowerLine)
			case "structure", "building":
				add(domain.DomainFallZone, CodeFallZoneStructure)
			case "road", "traffic":
				add(domain.DomainFallZone, CodeFallZoneRoad)
			case "occupied-area":
				add(domain.DomainFallZone, CodeFallZoneOccupied)
			}
		}
		switch kind {
		case "power-line":
			add(domain.DomainInterference, CodeInterferencePowerLine)
		case "communication-line":
			add(domain.DomainInterference, CodeInterferenceCommLine)
		case "fence":
			add(domain.DomainInterference, CodeInterferenceFence)
		case "tree", "canopy":
			add(domain.DomainInterference, CodeInterferenceCanopy)
		case "road", "traffic":
			add(domain.DomainInterference, CodeInterferenceTraffic)
		}
	}
	if inFallZone > 1 {
		add(domain.DomainFallZone, CodeFallZoneConfined)
	}

	switch input.Tree.Condition {
	case domain.TreeDead:
		add(domain.DomainSeverity, CodeSeverityDeadTree)
	case domain.TreeDying:
		add(domain.DomainSeverity, CodeSeverityDyingTree)
	}
	if input.Tree.LeanAngleDeg > heavyLeanDeg {
		add(domain.DomainSeverity, CodeSeverityHeavyLean)
	}
	if input.Tree.HeightFt > oversizeHeightFt {
		add(domain.DomainSeverity, CodeSeverityOversize)
	}
	if input.Tree.DBHInches > largeDBHInches {
		add(domain.DomainSeverity, CodeSeverityLargeDBH)
	}
	if input.Tree.CrownRadiusFt > wideCrownFt {
		add(domain.DomainSeverity, CodeSeverityWideCrown)
	}

	switch input.Environment.Ground {
	case domain.GroundWet:
		add(domain.DomainSiteConditions, CodeSiteWetGround)
	case domain.GroundFrozen:
		add(domain.DomainSiteConditions, CodeSiteFrozenGround)
	case domain.GroundUnstable:
		add(domain.DomainSiteConditions, CodeSiteUnstableGround)
	}
	if input.Environment.WindSpeedMph > highWindMph {
		add(domain.DomainSiteConditions, CodeSiteHighWind)
	}
	if input.Environment.PrecipitationIn > precipThreshold {
		add(domain.DomainSiteConditions, CodeSitePrecipitation)
	}
	if input.Environment.VisibilityMi > 0 && input.Environment.VisibilityMi < lowVisibilityMi {
		add(domain.DomainSiteConditions, CodeSiteLowVisibility)
	}

	return out
}

func normalizeTag(tag string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tag)), "_", "-")
}
