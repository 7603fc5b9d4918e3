package domain

import "time"

// RiskFactor is one catalog entry. The catalog is loaded once at
// startup and never changes during a process lifetime.
type RiskFactor struct {
	Domain     RiskDomain `json:"domain"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	BaseWeight float64    `json:"base_weight"`
	RiskWeight int        `json:"risk_weight"`
}

type TreeAttributes struct {
	Species       string        `json:"species,omitempty"`
	HeightFt      float64       `json:"height_ft"`
	DBHInches     float64       `json:"dbh_inches,omitempty"`
	Condition     TreeCondition `json:"condition" enum:"healthy,declining,dying,dead"`
	LeanAngleDeg  float64       `json:"lean_angle_deg,omitempty"`
	CrownRadiusFt float64       `json:"crown_radius_ft,omitempty"`
}

// EnvironmentReading is a point-in-time weather/site snapshot. Used
// both in the baseline assessment input and in compliance snapshots.
type EnvironmentReading struct {
	WindSpeedMph    float64         `json:"wind_speed_mph"`
	PrecipitationIn float64         `json:"precipitation_in"`
	TemperatureF    float64         `json:"temperature_f"`
	VisibilityMi    float64         `json:"visibility_mi"`
	Ground          GroundCondition `json:"ground" enum:"dry,wet,frozen,unstable"`
	TimeOfDay       string          `json:"time_of_day,omitempty"`
	Season          string          `json:"season,omitempty"`
}

type ProximityHazard struct {
	Type     string  `json:"type"`
	Distance float64 `json:"distance_ft"`
	Severity string  `json:"severity,omitempty" enum:"low,medium,high"`
}

// SiteAssessmentInput is everything the scoring engine needs about the
// site before work starts. Missing optional fields are treated as
// "factor not applicable" and lower the assessment confidence.
type SiteAssessmentInput struct {
	JobID       string             `json:"job_id"`
	Location    string             `json:"location"`
	Tree        TreeAttributes     `json:"tree"`
	Environment EnvironmentReading `json:"environment"`
	Hazards     []ProximityHazard  `json:"hazards,omitempty"`
	Access      []string           `json:"access_constraints,omitempty"`
	Equipment   []string           `json:"equipment_requirements,omitempty"`
}

type CrewProfile struct {
	Size            int      `json:"size"`
	ExperienceLevel float64  `json:"experience_level"`
	Certifications  []string `json:"certifications,omitempty"`
	SafetyRecord    float64  `json:"safety_record"`
}

// DomainResult is the aggregated score for one catalog domain.
// Multiplier is exposed for pricing collaborators and does not feed
// the composite score.
type DomainResult struct {
	Domain     RiskDomain `json:"domain"`
	RiskScore  int        `json:"risk_score"`
	Multiplier float64    `json:"multiplier"`
	Factors    []string   `json:"factors,omitempty"`
}

// SubScores are the independent sub-model scores, each in [0,10].
type SubScores struct {
	Environmental float64 `json:"environmental"`
	Equipment     float64 `json:"equipment"`
	Crew          float64 `json:"crew"`
	Predictive    float64 `json:"predictive"`
	Historical    float64 `json:"historical"`
}

type ApprovalGates struct {
	ManagerApproval       bool `json:"manager_approval"`
	SafetyOfficerApproval bool `json:"safety_officer_approval"`
	ClientNotification    bool `json:"client_notification"`
	AdditionalInsurance   bool `json:"additional_insurance"`
	DelayRecommended      bool `json:"delay_recommended"`
}

type MitigationStrategy struct {
	Strategy string             `json:"strategy"`
	Priority MitigationPriority `json:"priority" enum:"low,medium,high,critical"`
	Timing   string             `json:"timing" enum:"before_work,during_work"`
}

// RiskAssessment is the immutable baseline produced once per job
// before work starts. The monitor derives adjusted scores from it but
// never mutates it.
type RiskAssessment struct {
	ID                   string               `json:"id"`
	JobID                string               `json:"job_id"`
	Domains              []DomainResult       `json:"domains"`
	DomainScore          int                  `json:"domain_score"`
	SubScores            SubScores            `json:"sub_scores"`
	CompositeScore       float64              `json:"composite_score"`
	Level                RiskLevel            `json:"level" enum:"low,moderate,high,extreme"`
	Confidence           float64              `json:"confidence"`
	Degraded             bool                 `json:"degraded,omitempty"`
	Mitigations          []MitigationStrategy `json:"mitigations,omitempty"`
	Approvals            ApprovalGates        `json:"approvals"`
	ProceedAuthorization bool                 `json:"proceed_authorization"`
	Environment          EnvironmentReading   `json:"environment"`
	CreatedAt            string               `json:"created_at" format:"date-time"`
}

// Checklist holds the named safety checks recorded at each on-site
// check-in. The compliance score is the fraction of true items.
type Checklist struct {
	PPECompliance        bool `json:"ppe_compliance"`
	EquipmentInspection  bool `json:"equipment_inspection"`
	SiteSecuring         bool `json:"site_securing"`
	EmergencyPlanReview  bool `json:"emergency_plan_review"`
	HazardIdentification bool `json:"hazard_identification"`
}

// Items returns the checklist as named booleans.
func (c Checklist) Items() map[string]bool {
	return map[string]bool{
		"ppe_compliance":        c.PPECompliance,
		"equipment_inspection":  c.EquipmentInspection,
		"site_securing":         c.SiteSecuring,
		"emergency_plan_review": c.EmergencyPlanReview,
		"hazard_identification": c.HazardIdentification,
	}
}

// ComplianceSnapshot is one on-site check-in. Immutable once recorded.
type ComplianceSnapshot struct {
	JobID       string             `json:"job_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Location    string             `json:"location,omitempty"`
	Checklist   Checklist          `json:"checklist"`
	Environment EnvironmentReading `json:"environment"`
	CrewOnSite  []string           `json:"crew_on_site,omitempty"`
	Incidents   []string           `json:"incidents,omitempty"`
}

type Violation struct {
	Item       string            `json:"item"`
	Severity   ViolationSeverity `json:"severity" enum:"warning,critical"`
	ObservedAt time.Time         `json:"observed_at"`
}

type Alert struct {
	ID             string        `json:"id"`
	JobID          string        `json:"job_id"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity" enum:"info,warning,immediate"`
	Message        string        `json:"message"`
	ActionRequired bool          `json:"action_required"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
}

// EnvironmentDelta is the signed change of live readings against the
// baseline assessment environment.
type EnvironmentDelta struct {
	WindSpeedMph    float64 `json:"wind_speed_mph"`
	PrecipitationIn float64 `json:"precipitation_in"`
	TemperatureF    float64 `json:"temperature_f"`
	VisibilityMi    float64 `json:"visibility_mi"`
	RiskIncrease    bool    `json:"risk_increase"`
}

// TickResult is what one processed compliance snapshot yields.
type TickResult struct {
	JobID           string           `json:"job_id"`
	ContinueWork    bool             `json:"continue_work"`
	ComplianceScore float64          `json:"compliance_score"`
	CrewScore       float64          `json:"crew_score"`
	AdjustedScore   float64          `json:"adjusted_score"`
	AdjustedLevel   RiskLevel        `json:"adjusted_level" enum:"low,moderate,high,extreme"`
	Delta           EnvironmentDelta `json:"environment_delta"`
	Violations      []Violation      `json:"violations,omitempty"`
	Alerts          []Alert          `json:"alerts,omitempty"`
	Degraded        bool             `json:"degraded,omitempty"`
}

// MonitoringState is the per-job mutable state owned by exactly one
// monitor worker. Violation and alert logs are append-only.
type MonitoringState struct {
	JobID           string      `json:"job_id"`
	AssessmentID    string      `json:"assessment_id"`
	Status          JobStatus   `json:"status" enum:"pending,active,completed,cancelled"`
	LastSnapshotAt  *time.Time  `json:"last_snapshot_at,omitempty"`
	ComplianceScore float64     `json:"compliance_score"`
	CrewScore       float64     `json:"crew_score"`
	AdjustedScore   float64     `json:"adjusted_score"`
	AdjustedLevel   RiskLevel   `json:"adjusted_level" enum:"low,moderate,high,extreme"`
	Violations      []Violation `json:"violations,omitempty"`
	Alerts          []Alert     `json:"alerts,omitempty"`
	Degraded        bool        `json:"degraded,omitempty"`
}

type Job struct {
	ID        string    `json:"id"`
	Location  string    `json:"location,omitempty"`
	Status    JobStatus `json:"status" enum:"pending,active,completed,cancelled"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
}

// IncidentRecord is one historical incident used by the historical
// risk sub-model.
type IncidentRecord struct {
	ID          string   `json:"id"`
	Location    string   `json:"location"`
	Tags        []string `json:"tags,omitempty"`
	Severity    string   `json:"severity,omitempty" enum:"low,medium,high"`
	Description string   `json:"description,omitempty"`
	OccurredAt  string   `json:"occurred_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
