// Package config loads Kavach-R's runtime configuration from file, env,
// and flags via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the detection pipeline. Field names match
// the viper keys in snake_case (e.g. "window_size_sec" -> WindowSizeSec).
type Config struct {
	WatchPaths  []string `mapstructure:"watch_paths"`
	Recursive   bool     `mapstructure:"recursive"`
	ModelPath   string   `mapstructure:"model_path"`
	MetricsAddr string   `mapstructure:"metrics_addr"`
	VaultPath   string   `mapstructure:"vault_path"`

	WindowSizeSec   float64 `mapstructure:"window_size_sec"`
	Threshold       float64 `mapstructure:"threshold"`
	MinEvents       int     `mapstructure:"min_events"`
	SampleSize      int     `mapstructure:"sample_size"`
	MaxEntropyFiles int     `mapstructure:"max_entropy_files"`

	WarmupSec         float64 `mapstructure:"warmup_sec"`
	EMAAlphaFast      float64 `mapstructure:"ema_alpha_fast"`
	EMAAlphaSlow      float64 `mapstructure:"ema_alpha_slow"`
	FlagThreshold     float64 `mapstructure:"flag_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	MinConsecutive    int     `mapstructure:"min_consecutive"`
	LogThrottleSec    float64 `mapstructure:"log_throttle_sec"`

	TrainDurationSec float64 `mapstructure:"train_duration_sec"`
	Contamination    float64 `mapstructure:"contamination"`
	Seed             int64   `mapstructure:"seed"`
}

// WindowSize returns WindowSizeSec as a time.Duration.
func (c Config) WindowSize() time.Duration {
	return time.Duration(c.WindowSizeSec * float64(time.Second))
}

// TrainDuration returns TrainDurationSec as a time.Duration.
func (c Config) TrainDuration() time.Duration {
	return time.Duration(c.TrainDurationSec * float64(time.Second))
}

// setDefaults registers every default value so a config file or flags can
// override a subset without the rest silently zeroing out.
func setDefaults(v *viper.Viper) {
	v.SetDefault("recursive", true)
	v.SetDefault("model_path", "model.joblib")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("vault_path", "./vault")

	v.SetDefault("window_size_sec", 60.0)
	v.SetDefault("threshold", -0.5)
	v.SetDefault("min_events", 5)
	v.SetDefault("sample_size", 4096)
	v.SetDefault("max_entropy_files", 10)

	v.SetDefault("warmup_sec", 15.0)
	v.SetDefault("ema_alpha_fast", 0.5)
	v.SetDefault("ema_alpha_slow", 0.08)
	v.SetDefault("flag_threshold", 0.50)
	v.SetDefault("critical_threshold", 0.85)
	v.SetDefault("min_consecutive", 3)
	v.SetDefault("log_throttle_sec", 5.0)

	v.SetDefault("train_duration_sec", 120.0)
	v.SetDefault("contamination", 0.05)
	v.SetDefault("seed", 42)
}

// Load reads a single config file — cfgFile if non-empty, otherwise the
// first config.yaml found in . and then $HOME/.kavach-r — and environment
// variables prefixed KAVACH_, which take precedence over the file.
// Defaults fill every key neither source sets.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KAVACH")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kavach-r")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return &cfg, nil
}
