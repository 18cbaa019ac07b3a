package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/spindle/internal/supervisor"
)

// SupervisorConfig is the top-level shape of the YAML file cmd/supervisor
// loads at startup: service-wide settings plus the list of workers to fork.
type SupervisorConfig struct {
	Service ServiceConfig          `yaml:"service"`
	Workers []SupervisorWorkerSpec `yaml:"workers"`
}

// ServiceConfig carries the process-wide knobs the supervisor itself needs,
// independent of any one worker.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	PIDFile   string `yaml:"pid_file"`
	WorkerBin string `yaml:"worker_bin"`
}

// SupervisorWorkerSpec is one entry of the workers list: everything needed
// to fork and register a worker, matching supervisor.WorkerConfig's fields
// plus the dynamic_port tri-state as plain YAML scalars.
type SupervisorWorkerSpec struct {
	ID          string            `yaml:"id"`
	URLPrefix   string            `yaml:"url_prefix"`
	Host        string            `yaml:"host"`
	Port        int               `yaml:"port"`
	DynamicPort DynamicPortSpec   `yaml:"dynamic_port"`
	Storage     string            `yaml:"storage"`
	Env         map[string]string `yaml:"env"`
}

// DynamicPortSpec mirrors supervisor.DynamicPort in plain YAML form:
// Enabled toggles dynamic-port retry, Attempts bounds it (0 means unlimited).
type DynamicPortSpec struct {
	Enabled  bool `yaml:"enabled"`
	Attempts int  `yaml:"attempts"`
}

// WorkerConfig converts the YAML spec into the supervisor.WorkerConfig Fork
// expects.
func (s SupervisorWorkerSpec) WorkerConfig() supervisor.WorkerConfig {
	dp := supervisor.DynamicPortOff
	if s.DynamicPort.Enabled {
		if s.DynamicPort.Attempts > 0 {
			dp = supervisor.DynamicPortAttempts(s.DynamicPort.Attempts)
		} else {
			dp = supervisor.DynamicPortOn()
		}
	}
	return supervisor.WorkerConfig{
		ID:          s.ID,
		URLPrefix:   s.URLPrefix,
		Host:        s.Host,
		Port:        s.Port,
		DynamicPort: dp,
		Storage:     s.Storage,
		Env:         s.Env,
	}
}

// DefaultSupervisorConfig returns the zero-worker baseline new deployments
// start from, matching the package's established Defaults()-then-overlay
// loading idiom.
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		Service: ServiceConfig{
			LogLevel:  "info",
			PIDFile:   "/var/run/spindle-supervisor.pid",
			WorkerBin: "spindle-worker",
		},
	}
}

// LoadSupervisorConfig reads and parses a SupervisorConfig YAML file,
// applying DefaultSupervisorConfig for any zero-valued service setting and
// validating that every worker entry carries a storage root.
func LoadSupervisorConfig(path string) (*SupervisorConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", absPath, err)
	}

	cfg := DefaultSupervisorConfig()
	parsed := *cfg
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	cfg = &parsed

	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Service.WorkerBin == "" {
		cfg.Service.WorkerBin = "spindle-worker"
	}

	for i, w := range cfg.Workers {
		if w.Storage == "" {
			return nil, fmt.Errorf("config: worker[%d] (id=%q): storage is required", i, w.ID)
		}
		if w.Host == "" {
			cfg.Workers[i].Host = "127.0.0.1"
		}
	}

	return cfg, nil
}
