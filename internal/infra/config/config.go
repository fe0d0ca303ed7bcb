package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	CLI       CLIConfig       `yaml:"cli"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Jobs      JobsConfig      `yaml:"jobs"`
	DevServer DevServerConfig `yaml:"devserver"`
	Files     FilesConfig     `yaml:"files"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host        string          `yaml:"host"`
	Port        int             `yaml:"port"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig bounds requests per client IP. RPM 0 disables limiting.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

// AuthConfig holds API authentication. An empty key allows every request.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// CLIConfig describes the controlled editor CLI.
type CLIConfig struct {
	Path    string        `yaml:"path"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding CLI launches.
type BreakerConfig struct {
	Failures uint32        `yaml:"failures"` // consecutive failures before opening
	Timeout  time.Duration `yaml:"timeout"`  // open duration before half-open
}

// WorkspaceConfig locates projects.
type WorkspaceConfig struct {
	Root           string `yaml:"root"`
	WatchOnStart   bool   `yaml:"watch_on_start"`
	RescanSchedule string `yaml:"rescan_schedule"` // cron expression, empty = off
}

// JobsConfig holds job registry settings.
type JobsConfig struct {
	Retention    time.Duration `yaml:"retention"`
	ReapSchedule string        `yaml:"reap_schedule"`
	History      HistoryConfig `yaml:"history"`
}

// HistoryConfig holds the sqlite job archive settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Limit   int    `yaml:"limit"` // default page size for history queries
}

// DevServerConfig holds dev server lifecycle settings.
type DevServerConfig struct {
	Ports         []int         `yaml:"ports"`
	PreviewPorts  []int         `yaml:"preview_ports"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	ReadyPatterns []string      `yaml:"ready_patterns"`
}

// FilesConfig holds file collaborator limits.
type FilesConfig struct {
	MaxSize int64 `yaml:"max_size"`
}

// GRPCConfig holds the operator gRPC listener.
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DiscoveryConfig holds mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultWorkspaceRoot returns $HOME/Workspace, or ./workspace when $HOME
// cannot be determined.
func defaultWorkspaceRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./workspace"
	}
	return filepath.Join(home, "Workspace")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      3001,
			RateLimit: RateLimitConfig{RPM: 600, Burst: 60},
		},
		CLI: CLIConfig{
			Path:    "/usr/local/bin/cursor",
			Breaker: BreakerConfig{Failures: 5, Timeout: 30 * time.Second},
		},
		Workspace: WorkspaceConfig{
			Root: defaultWorkspaceRoot(),
		},
		Jobs: JobsConfig{
			Retention:    time.Hour,
			ReapSchedule: "@every 5m",
			History:      HistoryConfig{Path: "remotedev.db", Limit: 100},
		},
		DevServer: DevServerConfig{
			Ports:         []int{3000, 3001, 8080, 8000, 5000},
			PreviewPorts:  []int{3000, 3001, 8080, 8000, 5000, 4000, 9000},
			ReadyTimeout:  30 * time.Second,
			ReadyPatterns: []string{"Local:", "ready", "started"},
		},
		Files: FilesConfig{MaxSize: 10 << 20},
		GRPC:  GRPCConfig{Addr: "127.0.0.1:7443"},
		Discovery: DiscoveryConfig{
			Instance: "remotedev",
			Service:  "_remotedev._tcp",
			Domain:   "local.",
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Exporter: "noop"},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := decryptSecrets(cfg, os.Getenv("REMOTEDEV_CONFIG_KEY")); err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps REMOTEDEV_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	ve := &ValidationError{}

	if v := os.Getenv("REMOTEDEV_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("REMOTEDEV_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		} else {
			ve.Add("REMOTEDEV_PORT %q is not a number", v)
		}
	}
	if v := os.Getenv("REMOTEDEV_CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("REMOTEDEV_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("REMOTEDEV_CLI_PATH"); v != "" {
		cfg.CLI.Path = v
	}
	if v := os.Getenv("REMOTEDEV_WORKSPACE"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("REMOTEDEV_DEV_PORTS"); v != "" {
		var ports []int
		for _, s := range splitAndTrim(v, ",") {
			n, err := strconv.Atoi(s)
			if err != nil {
				ve.Add("REMOTEDEV_DEV_PORTS entry %q is not a number", s)
				continue
			}
			ports = append(ports, n)
		}
		if len(ports) > 0 {
			cfg.DevServer.Ports = ports
		}
	}
	if v := os.Getenv("REMOTEDEV_JOB_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.Retention = d
		} else {
			ve.Add("REMOTEDEV_JOB_RETENTION %q is not a duration", v)
		}
	}
	if v := os.Getenv("REMOTEDEV_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Files.MaxSize = n
		} else {
			ve.Add("REMOTEDEV_MAX_FILE_SIZE %q is not a number", v)
		}
	}
	if v := os.Getenv("REMOTEDEV_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("REMOTEDEV_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values with their plaintext. An
// encrypted value without a passphrase is an error.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"auth.api_key": &cfg.Auth.APIKey,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		if passphrase == "" {
			return fmt.Errorf("%s is encrypted but REMOTEDEV_CONFIG_KEY is not set", name)
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 64 MiB, 4 lanes, 32-byte key.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others,
// since they may hold the API key.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
