// Package config provides configuration management for cortexmotion
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/normanking/cortexmotion/internal/clip"
	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/lipsync"
	"github.com/normanking/cortexmotion/internal/logging"
)

const envPrefix = "CORTEXMOTION"

// Config holds all application configuration
type Config struct {
	Engine  EngineConfig   `mapstructure:"engine"`
	Avatar  AvatarConfig   `mapstructure:"avatar"`
	Clips   ClipsConfig    `mapstructure:"clips"`
	LipSync lipsync.Config `mapstructure:"lipsync"`
	Control ControlConfig  `mapstructure:"control"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Log     logging.Config `mapstructure:"log"`
}

// EngineConfig configures the frame loop
type EngineConfig struct {
	FPS         int     `mapstructure:"fps"`
	MaxDelta    float64 `mapstructure:"max_delta"`    // seconds; longer frames are clamped
	DefaultFade float64 `mapstructure:"default_fade"` // seconds
	QueueSize   int     `mapstructure:"queue_size"`
}

// AvatarConfig names the avatar the headless runner loads
type AvatarConfig struct {
	Name        string `mapstructure:"name"`
	Rig         string `mapstructure:"rig"` // glTF/GLB path; empty uses the standard humanoid
	StartPreset string `mapstructure:"start_preset"`
}

// ClipsConfig configures where clips come from
type ClipsConfig struct {
	Manifest    string        `mapstructure:"manifest"`
	Strategies  []string      `mapstructure:"strategies"` // asset, factory
	Watch       bool          `mapstructure:"watch"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// ControlConfig configures the trigger endpoint
type ControlConfig struct {
	Listen  string `mapstructure:"listen"`
	FeedURL string `mapstructure:"feed_url"` // optional upstream event stream
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			FPS:         60,
			MaxDelta:    0.1,
			DefaultFade: 0.3,
			QueueSize:   64,
		},
		Avatar: AvatarConfig{
			Name:        "default",
			StartPreset: "idle",
		},
		Clips: ClipsConfig{
			Strategies:  []string{string(clip.StrategyAsset), string(clip.StrategyFactory)},
			Watch:       true,
			HTTPTimeout: 30 * time.Second,
		},
		LipSync: lipsync.DefaultConfig(),
		Control: ControlConfig{
			Listen: "127.0.0.1:8765",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9765",
		},
		Log: *logging.DefaultConfig(),
	}
}

// Validate checks values the engine can't recover from at runtime.
func (c *Config) Validate() error {
	if c.Engine.FPS <= 0 {
		return fmt.Errorf("engine.fps must be positive")
	}
	if c.Engine.MaxDelta <= 0 {
		return fmt.Errorf("engine.max_delta must be positive")
	}
	if c.Engine.DefaultFade < 0 {
		return fmt.Errorf("engine.default_fade must not be negative")
	}
	if _, err := clip.ParseStrategies(c.Clips.Strategies); err != nil {
		return fmt.Errorf("clips.strategies: %w", err)
	}
	if err := c.LipSync.Validate(); err != nil {
		return fmt.Errorf("lipsync: %w", err)
	}
	return nil
}

// FrameInterval is the wall time between updates.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.Engine.FPS)
}

// EngineSettings converts the loaded values into engine settings.
func (c *Config) EngineSettings() (engine.Config, error) {
	strategies, err := clip.ParseStrategies(c.Clips.Strategies)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxDelta:    float32(c.Engine.MaxDelta),
		FrameBudget: c.FrameInterval(),
		QueueSize:   c.Engine.QueueSize,
		Strategies:  strategies,
		LipSync:     c.LipSync,
	}, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about
	for k, val := range settings(DefaultConfig()) {
		v.SetDefault(k, val)
	}
	return v
}

// settings flattens cfg into viper keys.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"engine.fps":                cfg.Engine.FPS,
		"engine.max_delta":          cfg.Engine.MaxDelta,
		"engine.default_fade":       cfg.Engine.DefaultFade,
		"engine.queue_size":         cfg.Engine.QueueSize,
		"avatar.name":               cfg.Avatar.Name,
		"avatar.rig":                cfg.Avatar.Rig,
		"avatar.start_preset":       cfg.Avatar.StartPreset,
		"clips.manifest":            cfg.Clips.Manifest,
		"clips.strategies":          cfg.Clips.Strategies,
		"clips.watch":               cfg.Clips.Watch,
		"clips.http_timeout":        cfg.Clips.HTTPTimeout.String(),
		"lipsync.fft_size":          cfg.LipSync.FFTSize,
		"lipsync.smoothing":         cfg.LipSync.Smoothing,
		"lipsync.sensitivity":       cfg.LipSync.Sensitivity,
		"lipsync.silence_threshold": cfg.LipSync.SilenceThreshold,
		"lipsync.max_amplitude":     cfg.LipSync.MaxAmplitude,
		"lipsync.min_decibels":      cfg.LipSync.MinDecibels,
		"lipsync.max_decibels":      cfg.LipSync.MaxDecibels,
		"lipsync.band_edges":        cfg.LipSync.BandEdges,
		"control.listen":            cfg.Control.Listen,
		"control.feed_url":          cfg.Control.FeedURL,
		"metrics.enabled":           cfg.Metrics.Enabled,
		"metrics.listen":            cfg.Metrics.Listen,
		"log.dir":                   cfg.Log.Dir,
		"log.level":                 cfg.Log.Level,
		"log.max_history":           cfg.Log.MaxHistory,
		"log.console":               cfg.Log.Console,
		"log.file":                  cfg.Log.File,
	}
}

// Load reads ~/.cortexmotion/config.yaml (or ./config.yaml) and environment
// overrides such as CORTEXMOTION_ENGINE_FPS. A missing file is created with
// the defaults.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultConfig(), err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return DefaultConfig(), err
	}

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return DefaultConfig(), err
		}
		if err := Save(DefaultConfig(), filepath.Join(configDir, "config.yaml")); err != nil {
			return DefaultConfig(), err
		}
	}
	return unmarshal(v)
}

// LoadFile reads one explicit config file plus environment overrides.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return DefaultConfig(), fmt.Errorf("read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range settings(cfg) {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cortexmotion"), nil
}
