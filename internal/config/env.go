package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

// ServerEnv is the process environment read by `foundry serve`.
type ServerEnv struct {
	Env               string   `envconfig:"ENV" default:"local"`
	LogLevel          string   `envconfig:"LOG_LEVEL" default:"info"`
	JWTSecret         string   `envconfig:"JWT_SECRET" required:"true"`
	AllowLegacyHeader bool     `envconfig:"ALLOW_LEGACY_HEADER" default:"false"`
	Trace             string   `envconfig:"TRACE" default:""`
	CORSOrigins       []string `envconfig:"CORS_ORIGINS" default:"*"`
}

const namespace = "FOUNDRY"

func LoadServerEnv() (*ServerEnv, error) {
	var env ServerEnv
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *ServerEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (e *ServerEnv) Local() bool {
	return e != nil && e.Env == "local"
}
