package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"remotedev/internal/adapter/projects"
	"remotedev/internal/infra/config"
	"remotedev/internal/usecase/portprobe"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(args []string) error {
	fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	cfgPath := fs.StringP("config", "c", defaultConfigPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Some checks work without a valid config.
	cfg, cfgErr := config.Load(*cfgPath)
	if cfg == nil {
		cfg = config.Defaults()
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(*cfgPath, cfgErr)},
		{Name: "CLI tool", Fn: checkCLI},
		{Name: "Workspace", Fn: checkWorkspace},
		{Name: "Git", Fn: checkGit},
		{Name: "Server port", Fn: checkServerPort},
		{Name: "Job history", Fn: checkHistory},
		{Name: "API key", Fn: checkAPIKey},
	}

	_, fail := report(os.Stdout, cfg, checks)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

// report runs checks against cfg and prints one line per result.
func report(w io.Writer, cfg *config.Config, checks []Check) (warn, fail int) {
	fmt.Fprintln(w, "remotedev doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	switch {
	case fail > 0:
		fmt.Fprintln(w, "\nFix the FAIL issues above before starting remotedev.")
	case warn > 0:
		fmt.Fprintln(w, "\nremotedev should work, but consider addressing the warnings.")
	default:
		fmt.Fprintln(w, "\nAll checks passed! remotedev is ready to run.")
	}
	return warn, fail
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults", cfgPath),
				Fix:     "Create remotedev.yaml or pass --config",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Fix the reported fields in " + cfgPath,
			}
		}
		return CheckResult{Status: StatusPass, Message: cfgPath}
	}
}

func checkCLI(cfg *config.Config) CheckResult {
	path, err := exec.LookPath(cfg.CLI.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found; prompt and command jobs will fail", cfg.CLI.Path),
			Fix:     "Install the editor CLI or set cli.path",
		}
	}
	return CheckResult{Status: StatusPass, Message: path}
}

func checkWorkspace(cfg *config.Config) CheckResult {
	root := cfg.Workspace.Root
	info, err := os.Stat(root)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %v", root, err),
			Fix:     "Create the directory or set workspace.root",
		}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusFail, Message: root + " is not a directory"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	found, err := projects.New(root, nil, discardLogger()).Scan(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if len(found) == 0 {
		return CheckResult{Status: StatusWarn, Message: root + " contains no projects"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%d projects)", root, len(found))}
}

func checkGit(_ *config.Config) CheckResult {
	path, err := exec.LookPath("git")
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "git not found; git routes will fail",
			Fix:     "Install git",
		}
	}
	return CheckResult{Status: StatusPass, Message: path}
}

func checkServerPort(cfg *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st := portprobe.New().Check(ctx, cfg.Server.Port, "")
	if st.InUse {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("port %d is already in use", cfg.Server.Port),
			Fix:     "Stop the other process or set server.port",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("port %d is free", cfg.Server.Port)}
}

func checkHistory(cfg *config.Config) CheckResult {
	if !cfg.Jobs.History.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	dir := filepath.Dir(cfg.Jobs.History.Path)
	probe, err := os.CreateTemp(dir, ".remotedev-doctor-*")
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
			Fix:     "Set jobs.history.path to a writable location",
		}
	}
	probe.Close()
	os.Remove(probe.Name())
	return CheckResult{Status: StatusPass, Message: cfg.Jobs.History.Path}
}

func checkAPIKey(cfg *config.Config) CheckResult {
	if cfg.Auth.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no API key; every request is accepted",
			Fix:     "Set auth.api_key (see 'remotedev encrypt-secret')",
		}
	}
	return CheckResult{Status: StatusPass, Message: "configured"}
}
