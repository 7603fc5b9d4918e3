package server

import (
	"time"

	"canopy/internal/domain"
)

// Request payloads

type CreateAssessmentRequest struct {
	JobID       string             `json:"job_id"`
	Location    string             `json:"location,omitempty"`
	Tree        TreeRequest        `json:"tree"`
	Environment EnvironmentRequest `json:"environment"`
	Hazards     []HazardRequest    `json:"hazards,omitempty"`
	Access      []string           `json:"access_constraints,omitempty"`
	Equipment   []string           `json:"equipment_requirements,omitempty"`
	Crew        CrewRequest        `json:"crew"`
}

type TreeRequest struct {
	Species       *string  `json:"species,omitempty"`
	HeightFt      float64  `json:"height_ft"`
	DBHInches     *float64 `json:"dbh_inches,omitempty"`
	Condition     string   `json:"condition,omitempty"`
	LeanAngleDeg  *float64 `json:"lean_angle_deg,omitempty"`
	CrownRadiusFt *float64 `json:"crown_radius_ft,omitempty"`
}

type EnvironmentRequest struct {
	WindSpeedMph    float64 `json:"wind_speed_mph"`
	PrecipitationIn float64 `json:"precipitation_in"`
	TemperatureF    float64 `json:"temperature_f,omitempty"`
	VisibilityMi    float64 `json:"visibility_mi,omitempty"`
	Ground          string  `json:"ground,omitempty"`
	TimeOfDay       string  `json:"time_of_day,omitempty"`
	Season          string  `json:"season,omitempty"`
}

type HazardRequest struct {
	Type     string  `json:"type"`
	Distance float64 `json:"distance_ft"`
	Severity string  `json:"severity,omitempty"`
}

type CrewRequest struct {
	Size            int      `json:"size"`
	ExperienceLevel float64  `json:"experience_level"`
	Certifications  []string `json:"certifications,omitempty"`
	SafetyRecord    float64  `json:"safety_record,omitempty"`
}

type SnapshotRequest struct {
	Timestamp   time.Time          `json:"timestamp" format:"date-time"`
	Location    *string            `json:"location,omitempty"`
	Checklist   ChecklistRequest   `json:"checklist"`
	Environment EnvironmentRequest `json:"environment"`
	CrewOnSite  []string           `json:"crew_on_site,omitempty"`
	Incidents   []string           `json:"incidents,omitempty"`
}

type ChecklistRequest struct {
	PPECompliance        bool `json:"ppe_compliance"`
	EquipmentInspection  bool `json:"equipment_inspection"`
	SiteSecuring         bool `json:"site_securing"`
	EmergencyPlanReview  bool `json:"emergency_plan_review"`
	HazardIdentification bool `json:"hazard_identification"`
}

type CreateIncidentRequest struct {
	ID          *string  `json:"id,omitempty"`
	Location    string   `json:"location"`
	Tags        []string `json:"tags,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Description *string  `json:"description,omitempty"`
	OccurredAt  *string  `json:"occurred_at,omitempty" format:"date-time"`
}

func (r CreateAssessmentRequest) input() (domain.SiteAssessmentInput, domain.CrewProfile) {
	input := domain.SiteAssessmentInput{
		JobID:    r.JobID,
		Location: r.Location,
		Tree: domain.TreeAttributes{
			HeightFt:  r.Tree.HeightFt,
			Condition: domain.TreeCondition(r.Tree.Condition),
		},
		Environment: r.Environment.reading(),
		Access:      r.Access,
		Equipment:   r.Equipment,
	}
	if r.Tree.Species != nil {
		input.Tree.Species = *r.Tree.Species
	}
	if r.Tree.DBHInches != nil {
		input.Tree.DBHInches = *r.Tree.DBHInches
	}
	if r.Tree.LeanAngleDeg != nil {
		input.Tree.LeanAngleDeg = *r.Tree.LeanAngleDeg
	}
	if r.Tree.CrownRadiusFt != nil {
		input.Tree.CrownRadiusFt = *r.Tree.CrownRadiusFt
	}
	for _, h := range r.Hazards {
		input.Hazards = append(input.Hazards, domain.ProximityHazard{
			Type:     h.Type,
			Distance: h.Distance,
			Severity: h.Severity,
		})
	}
	crew := domain.CrewProfile{
		Size:            r.Crew.Size,
		ExperienceLevel: r.Crew.ExperienceLevel,
		Certifications:  r.Crew.Certifications,
		SafetyRecord:    r.Crew.SafetyRecord,
	}
	return input, crew
}

func (r EnvironmentRequest) reading() domain.EnvironmentReading {
	return domain.EnvironmentReading{
		WindSpeedMph:    r.WindSpeedMph,
		PrecipitationIn: r.PrecipitationIn,
		TemperatureF:    r.TemperatureF,
		VisibilityMi:    r.VisibilityMi,
		Ground:          domain.GroundCondition(r.Ground),
		TimeOfDay:       r.TimeOfDay,
		Season:          r.Season,
	}
}

func (r SnapshotRequest) snapshot(jobID string) domain.ComplianceSnapshot {
	snap := domain.ComplianceSnapshot{
		JobID:     jobID,
		Timestamp: r.Timestamp,
		Checklist: domain.Checklist{
			PPECompliance:        r.Checklist.PPECompliance,
			EquipmentInspection:  r.Checklist.EquipmentInspection,
			SiteSecuring:         r.Checklist.SiteSecuring,
			EmergencyPlanReview:  r.Checklist.EmergencyPlanReview,
			HazardIdentification: r.Checklist.HazardIdentification,
		},
		Environment: r.Environment.reading(),
		CrewOnSite:  r.CrewOnSite,
		Incidents:   r.Incidents,
	}
	if r.Location != nil {
		snap.Location = *r.Location
	}
	return snap
}
