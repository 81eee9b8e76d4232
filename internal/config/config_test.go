package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundry/internal/domain"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Foundry.ID)
	assert.Equal(t, 24.0, cfg.Escalation.TimeoutHours)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 4*time.Hour, cfg.NudgeInterval())
	assert.Equal(t, 5, cfg.Recommender.DefaultLimit)
	assert.Equal(t, 3.0, cfg.RiskWeight(domain.RiskHigh))
	assert.True(t, cfg.IsExecutiveRole(domain.RoleFounder))
	assert.False(t, cfg.IsExecutiveRole(domain.RoleApprentice))
	assert.True(t, cfg.PeerOnly(domain.RiskLow))
	assert.False(t, cfg.PeerOnly(domain.RiskHigh))
	// YAML aliases expand into the Executive permission list.
	assert.Contains(t, cfg.RBAC.Roles["Executive"].Permissions, "task.approve")
	assert.NotContains(t, cfg.RBAC.Roles["AI_Agent"].Permissions, "task.approve")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"missing id":      func(c *Config) { c.Foundry.ID = "" },
		"unknown role":    func(c *Config) { c.Approvals.ExecutiveRoles = []string{"CEO"} },
		"zero timeout":    func(c *Config) { c.Escalation.TimeoutHours = 0 },
		"bad interval":    func(c *Config) { c.Escalation.SweepInterval = "soon" },
		"bad risk":        func(c *Config) { c.Approvals.PeerOnlyRiskLevels = []string{"Trivial"} },
		"zero weights":    func(c *Config) { c.Recommender.SkillWeight, c.Recommender.WorkloadWeight = 0, 0 },
		"required weight": func(c *Config) { c.Recommender.RequiredWeight = 1.5 },
		"rbac role":       func(c *Config) { c.RBAC.Roles["Intern"] = RBACRole{} },
		"webhook url":     func(c *Config) { c.Webhooks = []WebhookConfig{{Events: []string{"task.escalated"}}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default("acme")
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foundry.yml")
	require.NoError(t, os.WriteFile(path, []byte(GenerateDefault("acme")), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Foundry.Name)

	_, err = FromYAML([]byte("foundry: ["))
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestSettingsStoreReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_interval: 30s\ntimeout_hours: 12\n"), 0o644))
	store, err := NewSettingsStore(path, DefaultServerSettings())
	require.NoError(t, err)
	cur := store.Current()
	assert.Equal(t, 30*time.Second, cur.SweepInterval)
	assert.Equal(t, 12.0, cur.TimeoutHours)
	assert.Equal(t, 2*time.Second, cur.WebhookInterval)
}

func TestSettingsStoreWithoutFile(t *testing.T) {
	store, err := NewSettingsStore("", DefaultServerSettings())
	require.NoError(t, err)
	assert.Equal(t, DefaultServerSettings(), store.Current())
	store.Watch()
}

func TestSettingsStoreRejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte("sweep_interval: -5s\n"), 0o644))
	_, err := NewSettingsStore(path, DefaultServerSettings())
	assert.Error(t, err)
}

func TestServerEnvLevel(t *testing.T) {
	t.Setenv("FOUNDRY_JWT_SECRET", "s3cret")
	t.Setenv("FOUNDRY_LOG_LEVEL", "debug")
	env, err := LoadServerEnv()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", env.JWTSecret)
	assert.True(t, env.Local())
	assert.Equal(t, []string{"*"}, env.CORSOrigins)
	assert.Equal(t, "DEBUG", env.SlogLevel().String())
}
