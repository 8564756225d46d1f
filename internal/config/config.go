// Package config loads harness settings from TOML files overlaid on
// compiled defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultEngineDir     = "engines"
	defaultTimeoutScale  = 1.0
	defaultMoveHardCap   = 1500 * time.Millisecond
	defaultWorkers       = 1
	defaultGracePeriod   = 2 * time.Second
	defaultTranscriptCap = 500
	defaultReportDir     = "results"
	defaultLogDir        = "logs"
)

// defaultInclude matches anything discoverable; the original batch tester
// shipped Windows engine bundles, so .exe files pass the candidate check
// even without an executable bit.
var defaultInclude = []string{"*"}

// Config stores runtime settings loaded from TOML files.
type Config struct {
	EngineDir     string
	Include       []string
	Exclude       []string
	TimeoutScale  float64
	MoveHardCap   time.Duration
	Workers       int
	GracePeriod   time.Duration
	TranscriptCap int
	ReportDir     string
	LogDir        string
}

type fileConfig struct {
	EngineDir     *string   `toml:"engine_dir"`
	Include       *[]string `toml:"include"`
	Exclude       *[]string `toml:"exclude"`
	TimeoutScale  *float64  `toml:"timeout_scale"`
	MoveHardCapMS *int      `toml:"max_move_ms"`
	Workers       *int      `toml:"workers"`
	GracePeriod   *string   `toml:"grace_period"`
	TranscriptCap *int      `toml:"transcript_cap"`
	ReportDir     *string   `toml:"report_dir"`
	LogDir        *string   `toml:"log_dir"`
}

// Load reads config from ~/.ucicheck/config.toml and overlays a
// project-local ucicheck.toml from the working directory.
func Load() (*Config, error) {
	cfg := Defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".ucicheck", "config.toml"),
		filepath.Join(workingDir, "ucicheck.toml"),
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns the compiled default configuration.
func Defaults() Config {
	return Config{
		EngineDir:     defaultEngineDir,
		Include:       append([]string(nil), defaultInclude...),
		Exclude:       nil,
		TimeoutScale:  defaultTimeoutScale,
		MoveHardCap:   defaultMoveHardCap,
		Workers:       defaultWorkers,
		GracePeriod:   defaultGracePeriod,
		TranscriptCap: defaultTranscriptCap,
		ReportDir:     defaultReportDir,
		LogDir:        defaultLogDir,
	}
}

// Validate rejects settings no run could honor.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if c.TimeoutScale <= 0 {
		return fmt.Errorf("timeout_scale must be positive, got %v", c.TimeoutScale)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MoveHardCap < 0 {
		return fmt.Errorf("max_move_ms must not be negative, got %s", c.MoveHardCap)
	}
	for _, pattern := range append(append([]string(nil), c.Include...), c.Exclude...) {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return fmt.Errorf("glob pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.EngineDir != nil {
		cfg.EngineDir = *decoded.EngineDir
	}
	if decoded.Include != nil {
		cfg.Include = append([]string(nil), (*decoded.Include)...)
	}
	if decoded.Exclude != nil {
		cfg.Exclude = append([]string(nil), (*decoded.Exclude)...)
	}
	if decoded.TimeoutScale != nil {
		cfg.TimeoutScale = *decoded.TimeoutScale
	}
	if decoded.MoveHardCapMS != nil {
		cfg.MoveHardCap = time.Duration(*decoded.MoveHardCapMS) * time.Millisecond
	}
	if decoded.Workers != nil {
		cfg.Workers = *decoded.Workers
	}
	if decoded.GracePeriod != nil {
		parsed, err := parseDuration(*decoded.GracePeriod, "grace_period", path)
		if err != nil {
			return err
		}
		cfg.GracePeriod = parsed
	}
	if decoded.TranscriptCap != nil {
		cfg.TranscriptCap = *decoded.TranscriptCap
	}
	if decoded.ReportDir != nil {
		cfg.ReportDir = *decoded.ReportDir
	}
	if decoded.LogDir != nil {
		cfg.LogDir = *decoded.LogDir
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}
