package domain

// RiskDomain is one risk category in the factor catalog.
type RiskDomain string

const (
	DomainAccess         RiskDomain = "access"
	DomainFallZone       RiskDomain = "fall_zone"
	DomainInterference   RiskDomain = "interference"
	DomainSeverity       RiskDomain = "severity"
	DomainSiteConditions RiskDomain = "site_conditions"
)

// Domains lists all catalog domains in canonical order.
func Domains() []RiskDomain {
	return []RiskDomain{DomainAccess, DomainFallZone, DomainInterference, DomainSeverity, DomainSiteConditions}
}

func (d RiskDomain) IsValid() bool {
	switch d {
	case DomainAccess, DomainFallZone, DomainInterference, DomainSeverity, DomainSiteConditions:
		return true
	}
	return false
}

// RiskLevel classifies a composite or adjusted score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskExtreme  RiskLevel = "extreme"
)

func (l RiskLevel) IsValid() bool {
	switch l {
	case RiskLow, RiskModerate, RiskHigh, RiskExtreme:
		return true
	}
	return false
}

// Order returns the numeric rank of the level, low first.
func (l RiskLevel) Order() int {
	switch l {
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	case RiskExtreme:
		return 3
	}
	return 0
}

// ViolationSeverity ranks a failed checklist item.
type ViolationSeverity string

const (
	ViolationWarning  ViolationSeverity = "warning"
	ViolationCritical ViolationSeverity = "critical"
)

// AlertSeverity ranks an emitted alert.
type AlertSeverity string

const (
	AlertSevInfo      AlertSeverity = "info"
	AlertSevWarning   AlertSeverity = "warning"
	AlertSevImmediate AlertSeverity = "immediate"
)

// AlertType identifies the condition that produced an alert. Dedup in
// the monitor keys on (job, type).
type AlertType string

const (
	AlertHighRiskAssessment  AlertType = "high_risk_assessment"
	AlertDelayRecommended    AlertType = "delay_recommended"
	AlertComplianceViolation AlertType = "compliance_violation"
	AlertElevatedRisk        AlertType = "elevated_risk"
	AlertCheckinOverdue      AlertType = "checkin_overdue"
)

// JobStatus is the monitoring lifecycle of a field job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobActive, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether the job no longer accepts snapshots.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

// MitigationPriority orders mitigation strategies.
type MitigationPriority string

const (
	PriorityLow      MitigationPriority = "low"
	PriorityMedium   MitigationPriority = "medium"
	PriorityHigh     MitigationPriority = "high"
	PriorityCritical MitigationPriority = "critical"
)

func (p MitigationPriority) Order() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// TreeCondition is the assessed health of the tree.
type TreeCondition string

const (
	TreeHealthy   TreeCondition = "healthy"
	TreeDeclining TreeCondition = "declining"
	TreeDying     TreeCondition = "dying"
	TreeDead      TreeCondition = "dead"
)

// GroundCondition is the footing at the work site.
type GroundCondition string

const (
	GroundDry      GroundCondition = "dry"
	GroundWet      GroundCondition = "wet"
	GroundFrozen   GroundCondition = "frozen"
	GroundUnstable GroundCondition = "unstable"
)
