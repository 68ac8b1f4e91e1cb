package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeAPI runs the HTTP control API.
	ServiceModeAPI ServiceMode = "api"
	// ServiceModeScheduler runs the trigger/job-executor/catalog-reconciler pipeline.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeUI runs the read-only web UI.
	ServiceModeUI ServiceMode = "ui"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeAPI, ServiceModeScheduler, ServiceModeUI}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeAPI, ServiceModeScheduler, ServiceModeUI:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: api, scheduler, ui)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// TasksDir is the directory scanned for YAML task definitions.
	TasksDir string `env:"SCHEDULER_TASKS_DIR" envDefault:"./tasks"`

	// RescanInterval is how often the catalog reconciler re-scans TasksDir
	// for added, changed, or removed task files.
	RescanInterval time.Duration `env:"SCHEDULER_RESCAN_INTERVAL" envDefault:"30s"`

	// MaxRetries is parsed and sanitized but not passed to the executor;
	// each Task's own max_retries is used as-is.
	MaxRetries int `env:"SCHEDULER_MAX_RETRIES" envDefault:"0"`

	// RetryDelay is parsed and sanitized but not passed to the executor;
	// each Task's own retry_delay is used as-is.
	RetryDelay time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"30s"`

	// DefaultTimeout is parsed and sanitized but not passed to the
	// executor; a Task with no timeout of its own runs without one.
	DefaultTimeout time.Duration `env:"SCHEDULER_DEFAULT_TIMEOUT" envDefault:"1h"`

	// GraceWindow is parsed but not read by the Scheduler, which fires any
	// task whose next fire time is at or before the current time.
	GraceWindow time.Duration `env:"SCHEDULER_GRACE_WINDOW" envDefault:"10s"`

	// RecoveryMessage is parsed but not passed to the Scheduler; start-up
	// recovery records the scheduler package's own RecoveryMessage constant.
	RecoveryMessage string `env:"SCHEDULER_RECOVERY_MESSAGE" envDefault:"interrupted by restart"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.RescanInterval < time.Second {
		s.RescanInterval = time.Second
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryDelay < 0 {
		s.RetryDelay = 0
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = time.Hour
	}
	if s.GraceWindow < 0 {
		s.GraceWindow = 0
	}
}

// RunnerConfig contains subprocess runner configuration.
type RunnerConfig struct {
	// LogDir is the directory subprocess stdout/stderr logs are written to.
	LogDir string `env:"RUNNER_LOG_DIR" envDefault:"./logs"`

	// OutputBufferLines bounds the in-memory tail kept per running process.
	OutputBufferLines int `env:"RUNNER_OUTPUT_BUFFER_LINES" envDefault:"200"`
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() {
	if r.OutputBufferLines < 1 {
		r.OutputBufferLines = 1
	}
}

// UIConfig contains the read-only web UI server configuration.
type UIConfig struct {
	Addr string `env:"UI_ADDR" envDefault:":8081"`
	// APIBaseURL is where the UI fetches task/job state from the control API.
	APIBaseURL string `env:"UI_API_BASE_URL" envDefault:"http://localhost:8080"`
}

// Sanitize applies guardrails to UI configuration values.
func (u *UIConfig) Sanitize() {
	u.APIBaseURL = strings.TrimRight(strings.TrimSpace(u.APIBaseURL), "/")
}

// ServicesConfig groups all service-related configuration.
type ServicesConfig struct {
	// Services is a comma-delimited list of enabled services.
	// Valid values: api, scheduler, ui
	Services string `env:"SERVICES" envDefault:"api,scheduler,ui"`

	Scheduler SchedulerConfig
	Runner    RunnerConfig
	UI        UIConfig
}

// GetEnabledServices returns the enabled services based on the Services field.
func (s *ServicesConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(s.Services)
}

// IsAPIEnabled returns true if the HTTP control API service is enabled.
func (s *ServicesConfig) IsAPIEnabled() bool {
	services, err := s.GetEnabledServices()
	return err == nil && services[ServiceModeAPI]
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (s *ServicesConfig) IsSchedulerEnabled() bool {
	services, err := s.GetEnabledServices()
	return err == nil && services[ServiceModeScheduler]
}

// IsUIEnabled returns true if the web UI service is enabled.
func (s *ServicesConfig) IsUIEnabled() bool {
	services, err := s.GetEnabledServices()
	return err == nil && services[ServiceModeUI]
}

// Sanitize applies guardrails to services configuration values.
func (s *ServicesConfig) Sanitize() {
	s.Scheduler.Sanitize()
	s.Runner.Sanitize()
	s.UI.Sanitize()
}
