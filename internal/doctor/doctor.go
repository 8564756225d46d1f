// Package doctor runs preflight checks on the environment before a batch:
// the discovery root, glob patterns, and timing configuration.
package doctor

import (
	"errors"
	"fmt"
	"os"

	"github.com/pssnyder/engine-tester/internal/config"
	"github.com/pssnyder/engine-tester/internal/engine"
)

// Check is one named preflight probe result.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Report aggregates every preflight check.
type Report struct {
	Checks []Check
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, check := range r.Checks {
		if !check.OK {
			return false
		}
	}
	return true
}

// Run executes all preflight checks against the given configuration.
func Run(cfg *config.Config) (Report, error) {
	if cfg == nil {
		return Report{}, errors.New("config is required")
	}

	var report Report
	report.Checks = append(report.Checks, checkEngineDir(cfg.EngineDir))
	report.Checks = append(report.Checks, checkConfig(cfg))
	report.Checks = append(report.Checks, checkDiscovery(cfg))
	return report, nil
}

func checkEngineDir(dir string) Check {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return Check{Name: "engine directory", Detail: err.Error()}
	case !info.IsDir():
		return Check{Name: "engine directory", Detail: dir + " is not a directory"}
	default:
		return Check{Name: "engine directory", OK: true, Detail: dir}
	}
}

func checkConfig(cfg *config.Config) Check {
	if err := cfg.Validate(); err != nil {
		return Check{Name: "configuration", Detail: err.Error()}
	}
	return Check{
		Name: "configuration",
		OK:   true,
		Detail: fmt.Sprintf("scale=%.2f cap=%s workers=%d",
			cfg.TimeoutScale, cfg.MoveHardCap, cfg.Workers),
	}
}

func checkDiscovery(cfg *config.Config) Check {
	engines, err := engine.Discover(cfg.EngineDir, cfg.Include, cfg.Exclude)
	if err != nil {
		return Check{Name: "engine discovery", Detail: err.Error()}
	}
	if len(engines) == 0 {
		return Check{Name: "engine discovery", Detail: "no engine executables matched the include patterns"}
	}
	return Check{
		Name:   "engine discovery",
		OK:     true,
		Detail: fmt.Sprintf("%d engine(s) found", len(engines)),
	}
}
