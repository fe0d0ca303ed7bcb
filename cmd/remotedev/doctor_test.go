package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"remotedev/internal/infra/config"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/remotedev.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "remotedev.yaml")
	writeTestFile(t, cfgPath, "server:\n  port: 0\n")

	fn := checkConfigFile(cfgPath, &config.ValidationError{Errors: []string{"server.port out of range"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for invalid config, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "remotedev.yaml")
	writeTestFile(t, cfgPath, "server:\n  port: 4000\n")

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckWorkspace(t *testing.T) {
	cfg := config.Defaults()

	cfg.Workspace.Root = filepath.Join(t.TempDir(), "missing")
	if got := checkWorkspace(cfg).Status; got != StatusFail {
		t.Errorf("missing root: expected FAIL, got %s", got)
	}

	root := t.TempDir()
	cfg.Workspace.Root = root
	if got := checkWorkspace(cfg).Status; got != StatusWarn {
		t.Errorf("empty root: expected WARN, got %s", got)
	}

	writeTestFile(t, filepath.Join(root, "app", "package.json"), `{"name":"app"}`)
	result := checkWorkspace(cfg)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "1 projects") {
		t.Errorf("message = %q, want project count", result.Message)
	}
}

func TestCheckCLI(t *testing.T) {
	cfg := config.Defaults()
	cfg.CLI.Path = "/nonexistent/bin/editor-cli"
	if got := checkCLI(cfg).Status; got != StatusWarn {
		t.Errorf("expected WARN for missing CLI, got %s", got)
	}

	exe, err := os.Executable()
	if err != nil {
		t.Skip("no executable path")
	}
	cfg.CLI.Path = exe
	if got := checkCLI(cfg).Status; got != StatusPass {
		t.Errorf("expected PASS for %s, got %s", exe, got)
	}
}

func TestCheckServerPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := config.Defaults()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port
	if got := checkServerPort(cfg).Status; got != StatusFail {
		t.Errorf("expected FAIL for occupied port, got %s", got)
	}
}

func TestCheckHistory(t *testing.T) {
	cfg := config.Defaults()
	if got := checkHistory(cfg); got.Status != StatusPass || got.Message != "disabled" {
		t.Errorf("disabled history: got %+v", got)
	}

	cfg.Jobs.History.Enabled = true
	cfg.Jobs.History.Path = filepath.Join(t.TempDir(), "history.db")
	if got := checkHistory(cfg).Status; got != StatusPass {
		t.Errorf("writable dir: expected PASS, got %s", got)
	}

	cfg.Jobs.History.Path = "/nonexistent/dir/history.db"
	if got := checkHistory(cfg).Status; got != StatusFail {
		t.Errorf("missing dir: expected FAIL, got %s", got)
	}
}

func TestCheckAPIKey(t *testing.T) {
	cfg := config.Defaults()
	if got := checkAPIKey(cfg).Status; got != StatusWarn {
		t.Errorf("expected WARN without key, got %s", got)
	}
	cfg.Auth.APIKey = "secret"
	if got := checkAPIKey(cfg).Status; got != StatusPass {
		t.Errorf("expected PASS with key, got %s", got)
	}
}

func TestReportCounts(t *testing.T) {
	checks := []Check{
		{Name: "a", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "ok"} }},
		{Name: "b", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusWarn, Message: "meh", Fix: "do x"} }},
		{Name: "c", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail, Message: "bad"} }},
	}

	var buf bytes.Buffer
	warn, fail := report(&buf, config.Defaults(), checks)
	if warn != 1 || fail != 1 {
		t.Errorf("warn=%d fail=%d, want 1/1", warn, fail)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] a: ok", "[WARN] b: meh", "Fix: do x", "[FAIL] c: bad", "1 passed, 1 warnings, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass: "[PASS]",
		StatusWarn: "[WARN]",
		StatusFail: "[FAIL]",
		"other":    "[????]",
	}
	for status, want := range tests {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestEncryptSecretRoundTrip(t *testing.T) {
	out, err := encryptSecret("hunter2", "passphrase")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "enc:") {
		t.Fatalf("missing enc: prefix: %q", out)
	}
	plain, err := config.DecryptValue(strings.TrimPrefix(out, "enc:"), "passphrase")
	if err != nil {
		t.Fatal(err)
	}
	if plain != "hunter2" {
		t.Errorf("round trip = %q", plain)
	}

	if _, err := encryptSecret("", "passphrase"); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("value\r\nignored"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "value" {
		t.Errorf("readSecret = %q", got)
	}
}

func TestParseServeFlags(t *testing.T) {
	f, err := parseServeFlags([]string{"--config", "x.yaml", "-p", "4000", "--workspace", "/tmp/ws"})
	if err != nil {
		t.Fatal(err)
	}
	if f.ConfigPath != "x.yaml" || f.Port != 4000 || f.Workspace != "/tmp/ws" {
		t.Errorf("flags = %+v", f)
	}

	cfg := config.Defaults()
	if err := f.apply(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 4000 || cfg.Workspace.Root != "/tmp/ws" {
		t.Errorf("apply: port=%d root=%s", cfg.Server.Port, cfg.Workspace.Root)
	}

	if _, err := parseServeFlags([]string{"bogus"}); err == nil {
		t.Error("expected error for stray argument")
	}
}
