package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ServerSettings are the runtime knobs of the background workers. They may be
// changed while the server runs by editing the settings file.
type ServerSettings struct {
	SweepInterval   time.Duration
	TimeoutHours    float64
	WebhookInterval time.Duration
}

func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		SweepInterval:   15 * time.Minute,
		WebhookInterval: 2 * time.Second,
	}
}

// SettingsStore holds the current ServerSettings and reloads them when the
// backing file changes.
type SettingsStore struct {
	mu       sync.RWMutex
	cur      ServerSettings
	v        *viper.Viper
	onChange []func(ServerSettings)
}

// NewSettingsStore returns a store serving defaults, optionally backed by a
// YAML file. An empty path disables file loading.
func NewSettingsStore(path string, defaults ServerSettings) (*SettingsStore, error) {
	s := &SettingsStore{cur: defaults}
	if path == "" {
		return s, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("sweep_interval", defaults.SweepInterval.String())
	v.SetDefault("timeout_hours", defaults.TimeoutHours)
	v.SetDefault("webhook_interval", defaults.WebhookInterval.String())
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	s.v = v
	next, err := s.decode()
	if err != nil {
		return nil, err
	}
	s.cur = next
	return s, nil
}

// Watch reloads settings on file change until the process exits.
func (s *SettingsStore) Watch() {
	if s.v == nil {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		next, err := s.decode()
		if err != nil {
			slog.Warn("ignoring invalid settings change", "file", e.Name, "error", err)
			return
		}
		s.mu.Lock()
		s.cur = next
		listeners := append([]func(ServerSettings){}, s.onChange...)
		s.mu.Unlock()
		slog.Info("settings reloaded", "file", e.Name, "sweep_interval", next.SweepInterval, "timeout_hours", next.TimeoutHours)
		for _, fn := range listeners {
			fn(next)
		}
	})
	s.v.WatchConfig()
}

// OnChange registers fn to run after every successful reload.
func (s *SettingsStore) OnChange(fn func(ServerSettings)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *SettingsStore) Current() ServerSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *SettingsStore) decode() (ServerSettings, error) {
	out := ServerSettings{TimeoutHours: s.v.GetFloat64("timeout_hours")}
	var err error
	if out.SweepInterval, err = time.ParseDuration(s.v.GetString("sweep_interval")); err != nil {
		return out, fmt.Errorf("sweep_interval: %w", err)
	}
	if out.WebhookInterval, err = time.ParseDuration(s.v.GetString("webhook_interval")); err != nil {
		return out, fmt.Errorf("webhook_interval: %w", err)
	}
	if out.SweepInterval <= 0 || out.WebhookInterval <= 0 {
		return out, fmt.Errorf("intervals must be positive")
	}
	if out.TimeoutHours < 0 {
		return out, fmt.Errorf("timeout_hours must not be negative")
	}
	return out, nil
}
