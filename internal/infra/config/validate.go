package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateCLI(cfg, ve)
	validateWorkspace(cfg, ve)
	validateJobs(cfg, ve)
	validateDevServer(cfg, ve)
	validateGRPC(cfg, ve)
	validateDiscovery(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if cfg.Files.MaxSize <= 0 {
		ve.Add("files.max_size must be > 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func validateServer(cfg *Config, ve *ValidationError) {
	if !validPort(cfg.Server.Port) {
		ve.Add("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Server.RateLimit.RPM < 0 {
		ve.Add("server.rate_limit.rpm must be >= 0")
	}
	if cfg.Server.RateLimit.RPM > 0 && cfg.Server.RateLimit.Burst <= 0 {
		ve.Add("server.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateCLI(cfg *Config, ve *ValidationError) {
	if cfg.CLI.Path == "" {
		ve.Add("cli.path is required")
	}
	if cfg.CLI.Breaker.Timeout < 0 {
		ve.Add("cli.breaker.timeout must be >= 0")
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func validateSchedule(ve *ValidationError, field, expr string) {
	if expr == "" {
		return
	}
	if _, err := cronParser.Parse(expr); err == nil {
		return
	}
	if d, err := time.ParseDuration(expr); err != nil || d <= 0 {
		ve.Add("%s %q is neither a cron expression nor a positive duration", field, expr)
	}
}

func validateWorkspace(cfg *Config, ve *ValidationError) {
	if cfg.Workspace.Root == "" {
		ve.Add("workspace.root is required")
	}
	validateSchedule(ve, "workspace.rescan_schedule", cfg.Workspace.RescanSchedule)
}

func validateJobs(cfg *Config, ve *ValidationError) {
	if cfg.Jobs.Retention <= 0 {
		ve.Add("jobs.retention must be > 0")
	}
	validateSchedule(ve, "jobs.reap_schedule", cfg.Jobs.ReapSchedule)
	if cfg.Jobs.History.Enabled && cfg.Jobs.History.Path == "" {
		ve.Add("jobs.history.path is required when history is enabled")
	}
	if cfg.Jobs.History.Limit < 0 {
		ve.Add("jobs.history.limit must be >= 0")
	}
}

func validateDevServer(cfg *Config, ve *ValidationError) {
	if len(cfg.DevServer.Ports) == 0 {
		ve.Add("devserver.ports must not be empty")
	}
	for _, p := range cfg.DevServer.Ports {
		if !validPort(p) {
			ve.Add("devserver.ports: %d is out of range", p)
		}
	}
	for _, p := range cfg.DevServer.PreviewPorts {
		if !validPort(p) {
			ve.Add("devserver.preview_ports: %d is out of range", p)
		}
	}
	if cfg.DevServer.ReadyTimeout <= 0 {
		ve.Add("devserver.ready_timeout must be > 0")
	}
}

func validateGRPC(cfg *Config, ve *ValidationError) {
	if !cfg.GRPC.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.GRPC.Addr); err != nil {
		ve.Add("grpc.addr %q is not a valid host:port", cfg.GRPC.Addr)
	}
}

func validateDiscovery(cfg *Config, ve *ValidationError) {
	if !cfg.Discovery.Enabled {
		return
	}
	if cfg.Discovery.Instance == "" {
		ve.Add("discovery.instance is required when discovery is enabled")
	}
	if !strings.HasPrefix(cfg.Discovery.Service, "_") {
		ve.Add("discovery.service %q must look like _name._tcp", cfg.Discovery.Service)
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q must be stdout or noop", cfg.Tracer.Exporter)
	}
}
