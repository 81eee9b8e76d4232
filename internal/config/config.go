package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"foundry/internal/domain"
)

// Config models the per-foundry policy file (foundry.yml).
type Config struct {
	Foundry struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"foundry"`
	Approvals   Approvals   `yaml:"approvals"`
	Escalation  Escalation  `yaml:"escalation"`
	Nudges      Nudges      `yaml:"nudges"`
	Recommender Recommender `yaml:"recommender"`
	RBAC        struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type Approvals struct {
	ExecutiveRoles     []string `yaml:"executive_roles"`
	PeerExcludedRoles  []string `yaml:"peer_excluded_roles"`
	PeerOnlyRiskLevels []string `yaml:"peer_only_risk_levels"`
	AllowSelfApproval  bool     `yaml:"allow_self_approval"`
}

type Escalation struct {
	TimeoutHours  float64 `yaml:"timeout_hours"`
	SweepInterval string  `yaml:"sweep_interval"`
	DefaultReason string  `yaml:"default_reason"`
}

type Nudges struct {
	MinInterval string `yaml:"min_interval"`
}

type Recommender struct {
	SkillWeight     float64            `yaml:"skill_weight"`
	WorkloadWeight  float64            `yaml:"workload_weight"`
	RequiredWeight  float64            `yaml:"required_weight"`
	DefaultLimit    int                `yaml:"default_limit"`
	DefaultCapacity float64            `yaml:"default_capacity"`
	RiskWeights     map[string]float64 `yaml:"risk_weights"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates foundry.yml from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with foundry config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Foundry.ID == "" {
		return fmt.Errorf("config.foundry.id is required")
	}
	if len(c.Approvals.ExecutiveRoles) == 0 {
		return fmt.Errorf("config.approvals.executive_roles is required")
	}
	for _, list := range [][]string{c.Approvals.ExecutiveRoles, c.Approvals.PeerExcludedRoles} {
		for _, r := range list {
			if _, err := domain.ParseRole(r); err != nil {
				return fmt.Errorf("config.approvals: %w", err)
			}
		}
	}
	for _, r := range c.Approvals.PeerOnlyRiskLevels {
		if _, err := domain.ParseRiskLevel(r); err != nil {
			return fmt.Errorf("config.approvals.peer_only_risk_levels: %w", err)
		}
	}
	if c.Escalation.TimeoutHours <= 0 {
		return fmt.Errorf("config.escalation.timeout_hours must be positive")
	}
	if _, err := parseDuration(c.Escalation.SweepInterval); err != nil {
		return fmt.Errorf("config.escalation.sweep_interval: %w", err)
	}
	if _, err := parseDuration(c.Nudges.MinInterval); err != nil {
		return fmt.Errorf("config.nudges.min_interval: %w", err)
	}
	rec := c.Recommender
	if rec.SkillWeight < 0 || rec.WorkloadWeight < 0 || rec.SkillWeight+rec.WorkloadWeight == 0 {
		return fmt.Errorf("config.recommender weights must be non-negative and not both zero")
	}
	if rec.RequiredWeight < 0 || rec.RequiredWeight > 1 {
		return fmt.Errorf("config.recommender.required_weight must be within [0,1]")
	}
	if rec.DefaultLimit <= 0 {
		return fmt.Errorf("config.recommender.default_limit must be positive")
	}
	if rec.DefaultCapacity <= 0 {
		return fmt.Errorf("config.recommender.default_capacity must be positive")
	}
	for level, w := range rec.RiskWeights {
		if _, err := domain.ParseRiskLevel(level); err != nil {
			return fmt.Errorf("config.recommender.risk_weights: %w", err)
		}
		if w < 0 {
			return fmt.Errorf("config.recommender.risk_weights.%s must be non-negative", level)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if _, err := domain.ParseRole(roleID); err != nil {
			return fmt.Errorf("config.rbac.roles: %w", err)
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// SweepInterval is how often the server escalates stale approvals.
func (c *Config) SweepInterval() time.Duration {
	d, _ := parseDuration(c.Escalation.SweepInterval)
	return d
}

// NudgeInterval is the minimum gap between two nudges on one task.
func (c *Config) NudgeInterval() time.Duration {
	d, _ := parseDuration(c.Nudges.MinInterval)
	return d
}

// RiskWeight returns the workload weight of an open task at the given risk level.
func (c *Config) RiskWeight(level domain.RiskLevel) float64 {
	if w, ok := c.Recommender.RiskWeights[string(level)]; ok {
		return w
	}
	return 1
}

// IsExecutiveRole reports whether role holds executive approval authority.
func (c *Config) IsExecutiveRole(role domain.Role) bool {
	return containsFold(c.Approvals.ExecutiveRoles, string(role))
}

// PeerOnly reports whether a peer review completes tasks of this risk level.
func (c *Config) PeerOnly(level domain.RiskLevel) bool {
	return containsFold(c.Approvals.PeerOnlyRiskLevels, string(level))
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "foundry.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(foundryID string) string {
	return fmt.Sprintf(defaultTemplate, foundryID, foundryID)
}

// Default returns the default Config struct for a foundry.
func Default(foundryID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(foundryID))).Decode(&cfg)
	cfg.Foundry.ID = foundryID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `foundry:
  id: %s
  name: %s

approvals:
  executive_roles: [Executive, Founder]
  peer_excluded_roles: [AI_Agent]
  peer_only_risk_levels: [Low]
  allow_self_approval: false

escalation:
  timeout_hours: 24
  sweep_interval: 15m
  default_reason: "approval pending past timeout"

nudges:
  min_interval: 4h

recommender:
  skill_weight: 0.7
  workload_weight: 0.3
  required_weight: 0.7
  default_limit: 5
  default_capacity: 10
  risk_weights:
    Low: 1
    Medium: 2
    High: 3

rbac:
  roles:
    Founder:
      description: "Owns the foundry"
      permissions: &all
        - foundry.read
        - foundry.config.write
        - foundry.events.read
        - profile.read
        - profile.write
        - team.write
        - task.create
        - task.read
        - task.update
        - task.transition
        - task.approve
        - task.escalate
        - task.nudge
        - task.forward
        - task.comment
        - objective.read
        - objective.write
        - delegation.read
        - delegation.write
        - recommend.read
        - standup.write
        - presence.write
        - apikey.write
    Executive:
      description: "Approves executive-level work"
      permissions: *all
    Apprentice:
      description: "Delivers tasks and peer reviews"
      permissions:
        - foundry.read
        - foundry.events.read
        - profile.read
        - task.create
        - task.read
        - task.update
        - task.transition
        - task.approve
        - task.nudge
        - task.forward
        - task.comment
        - objective.read
        - delegation.read
        - recommend.read
        - standup.write
        - presence.write
    AI_Agent:
      description: "Automated worker"
      permissions:
        - foundry.read
        - profile.read
        - task.read
        - task.update
        - task.transition
        - task.comment
        - objective.read
        - recommend.read
        - standup.write
        - presence.write
`
