package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional config file read from the working directory
const FileName = "scene-maint.toml"

// EnvPrefix prefixes environment overrides (e.g., SCENE_MAINT_PORT=9090)
const EnvPrefix = "SCENE_MAINT_"

// Config holds all configuration for the application
type Config struct {
	Scene      string      `koanf:"scene"`     // Scene document to maintain
	WebMode    bool        `koanf:"web"`       // Serve the web UI
	Port       int         `koanf:"port"`      // Web UI port
	Watch      bool        `koanf:"watch"`     // Reload the document when it changes
	Write      bool        `koanf:"write"`     // Save the document after every change
	Beep       bool        `koanf:"beep"`      // Ring the terminal bell when an operation ends
	JSON       bool        `koanf:"json"`      // Log as JSON
	Verbosity  string      `koanf:"verbosity"` // Explicit log level name
	VerboseCnt int         `koanf:"verbose"`   // -v count
	Select     []string    `koanf:"select"`    // Entity names to select before running
	Purge      PurgeConfig `koanf:"purge"`
}

// PurgeConfig configures the staged purge
type PurgeConfig struct {
	Delay time.Duration `koanf:"delay"` // Pause between purge steps
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return load(f, FileName)
}

func load(f *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"scene":       "",
		"web":         false,
		"port":        8080,
		"watch":       false,
		"write":       false,
		"beep":        true,
		"json":        false,
		"verbosity":   "",
		"verbose":     0,
		"select":      []string{},
		"purge": map[string]interface{}{
			"delay": "500ms",
		},
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - scene-maint.toml
	// We ignore errors here as the file might not exist
	_ = k.Load(file.Provider(path), toml.Parser())

	// 3. Environment Variables
	// SCENE_MAINT_PURGE_DELAY maps to purge.delay
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Purge.Delay < 0 {
		return nil, fmt.Errorf("purge.delay must not be negative, got %s", cfg.Purge.Delay)
	}

	return &cfg, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
