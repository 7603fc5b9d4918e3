package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"canopy/internal/domain"
)

// Config models canopy.yml. Weight and threshold values are bit-exact
// contracts with downstream consumers; Validate refuses to let the
// process serve assessments with a bad set.
type Config struct {
	Project struct {
		ID string `yaml:"id"`
	} `yaml:"project"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Auth       AuthConfig       `yaml:"auth"`
	Webhooks   []WebhookConfig  `yaml:"webhooks"`
}

// ScoringConfig carries the composite weights. The five weights must
// sum to exactly 1.0.
type ScoringConfig struct {
	Weights        Weights `yaml:"weights"`
	BaseConfidence float64 `yaml:"base_confidence"`
}

type Weights struct {
	Domain        float64 `yaml:"domain"`
	Predictive    float64 `yaml:"predictive"`
	Environmental float64 `yaml:"environmental"`
	Equipment     float64 `yaml:"equipment"`
	Crew          float64 `yaml:"crew"`
}

// Total returns the sum of all composite weights.
func (w Weights) Total() float64 {
	return w.Domain + w.Predictive + w.Environmental + w.Equipment + w.Crew
}

type MonitoringConfig struct {
	AlertThreshold         float64 `yaml:"alert_threshold"`
	DedupWindowMinutes     int     `yaml:"dedup_window_minutes"`
	CheckinIntervalMinutes int     `yaml:"checkin_interval_minutes"`
	SweepSchedule          string  `yaml:"sweep_schedule"`
	SnapshotBuffer         int     `yaml:"snapshot_buffer"`
}

// DedupWindow returns the alert dedup window as a duration.
func (m MonitoringConfig) DedupWindow() time.Duration {
	return time.Duration(m.DedupWindowMinutes) * time.Minute
}

// CheckinInterval returns how long an active job may go without a
// snapshot before the overdue sweep flags it.
func (m MonitoringConfig) CheckinInterval() time.Duration {
	return time.Duration(m.CheckinIntervalMinutes) * time.Minute
}

// CatalogConfig optionally replaces or extends the built-in factor
// catalog. Domain weights feed the pricing multiplier, not the
// composite score.
type CatalogConfig struct {
	DomainWeights map[domain.RiskDomain]float64 `yaml:"domain_weights"`
	Factors       []FactorConfig                `yaml:"factors"`
}

type FactorConfig struct {
	Domain     domain.RiskDomain `yaml:"domain"`
	Code       string            `yaml:"code"`
	Name       string            `yaml:"name"`
	BaseWeight float64           `yaml:"base_weight"`
	RiskWeight int               `yaml:"risk_weight"`
}

type AuthConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// weightTolerance absorbs decimal-literal rounding only. A config
// whose weights drift further than this does not sum to 1.0.
const weightTolerance = 1e-9

// Validate ensures the config meets required structure. A failure here
// is fatal at startup: the system must not serve assessments with
// wrong weights.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"domain":        w.Domain,
		"predictive":    w.Predictive,
		"environmental": w.Environmental,
		"equipment":     w.Equipment,
		"crew":          w.Crew,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scoring weight %s out of range [0,1]: %v", name, v)
		}
	}
	if math.Abs(w.Total()-1.0) > weightTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0, got %v", w.Total())
	}
	if c.Scoring.BaseConfidence <= 0 || c.Scoring.BaseConfidence > 1 {
		return fmt.Errorf("scoring.base_confidence must be in (0,1], got %v", c.Scoring.BaseConfidence)
	}
	if c.Monitoring.AlertThreshold < 0 || c.Monitoring.AlertThreshold > 10 {
		return fmt.Errorf("monitoring.alert_threshold must be in [0,10], got %v", c.Monitoring.AlertThreshold)
	}
	if c.Monitoring.DedupWindowMinutes <= 0 {
		return fmt.Errorf("monitoring.dedup_window_minutes must be positive, got %d", c.Monitoring.DedupWindowMinutes)
	}
	if c.Monitoring.CheckinIntervalMinutes <= 0 {
		return fmt.Errorf("monitoring.checkin_interval_minutes must be positive, got %d", c.Monitoring.CheckinIntervalMinutes)
	}
	if c.Monitoring.SnapshotBuffer <= 0 {
		return fmt.Errorf("monitoring.snapshot_buffer must be positive, got %d", c.Monitoring.SnapshotBuffer)
	}
	if len(c.Catalog.DomainWeights) > 0 {
		sum := 0.0
		for d, v := range c.Catalog.DomainWeights {
			if !d.IsValid() {
				return fmt.Errorf("catalog.domain_weights references unknown domain %s", d)
			}
			if v < 0 {
				return fmt.Errorf("catalog domain weight for %s is negative", d)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > weightTolerance {
			return fmt.Errorf("catalog.domain_weights must sum to 1.0, got %v", sum)
		}
	}
	seen := map[string]bool{}
	for _, f := range c.Catalog.Factors {
		if f.Code == "" {
			return fmt.Errorf("catalog factor with empty code")
		}
		if !f.Domain.IsValid() {
			return fmt.Errorf("catalog factor %s references unknown domain %s", f.Code, f.Domain)
		}
		if seen[f.Code] {
			return fmt.Errorf("catalog factor code %s duplicated", f.Code)
		}
		seen[f.Code] = true
		if f.RiskWeight < 0 {
			return fmt.Errorf("catalog factor %s has negative risk weight", f.Code)
		}
		if f.BaseWeight < 0 {
			return fmt.Errorf("catalog factor %s has negative base weight", f.Code)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "canopy.yml")
}

// Load reads and validates config from workspace, falling back to
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default("canopy"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset
// scoring and monitoring values take the defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("canopy")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Scoring.Weights = Weights{
		Domain:        0.30,
		Predictive:    0.25,
		Environmental: 0.20,
		Equipment:     0.15,
		Crew:          0.10,
	}
	cfg.Scoring.BaseConfidence = 0.85
	cfg.Monitoring.AlertThreshold = 7.0
	cfg.Monitoring.DedupWindowMinutes = 15
	cfg.Monitoring.CheckinIntervalMinutes = 30
	cfg.Monitoring.SweepSchedule = "*/5 * * * *"
	cfg.Monitoring.SnapshotBuffer = 16
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

const defaultTemplate = `project:
  id: %s

scoring:
  weights:
    domain: 0.30
    predictive: 0.25
    environmental: 0.20
    equipment: 0.15
    crew: 0.10
  base_confidence: 0.85

monitoring:
  alert_threshold: 7.0
  dedup_window_minutes: 15
  checkin_interval_minutes: 30
  sweep_schedule: "*/5 * * * *"
  snapshot_buffer: 16

catalog:
  domain_weights:
    access: 0.20
    fall_zone: 0.25
    interference: 0.20
    severity: 0.30
    site_conditions: 0.05

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

webhooks: []
`
