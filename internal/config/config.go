// Package config resolves the per-user state directory layout and
// daemon settings. Daemon settings are read from QORVEX_-prefixed
// environment variables; the persistent agent source directory lives in
// a small JSON file under the state directory instead, since it is
// user data the daemon itself writes, not deployment configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Paths resolves every filesystem location the daemon touches, rooted
// at a per-user state directory (default `~/.qorvex`).
type Paths struct {
	StateDir string
}

// DefaultPaths resolves StateDir under the user's home directory.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("config: resolve home directory: %w", err)
	}
	return Paths{StateDir: filepath.Join(home, ".qorvex")}, nil
}

// EnsureStateDir creates the state directory (and its logs
// subdirectory) if missing.
func (p Paths) EnsureStateDir() error {
	if err := os.MkdirAll(p.LogDir(), 0o755); err != nil {
		return fmt.Errorf("config: create state dir: %w", err)
	}
	return nil
}

// LogDir is where per-session append-only JSONL logs are written.
func (p Paths) LogDir() string { return filepath.Join(p.StateDir, "logs") }

// SocketPath is the Unix-domain socket path for a named session.
func (p Paths) SocketPath(sessionName string) string {
	return filepath.Join(p.StateDir, fmt.Sprintf("qorvex_%s.sock", sessionName))
}

// ConfigFilePath is the persistent JSON config file's path.
func (p Paths) ConfigFilePath() string { return filepath.Join(p.StateDir, "config.json") }

// SessionIndexPath is the SQLite session index database's path.
func (p Paths) SessionIndexPath() string { return filepath.Join(p.StateDir, "sessions.db") }

// PersistentConfig is the on-disk config.json contents: state the
// daemon itself writes and reads back across restarts, distinct from
// environment-driven deployment settings.
type PersistentConfig struct {
	AgentSourceDir string `json:"agent_source_dir,omitempty"`
}

// LoadPersistent reads config.json, returning a zero-value config if the
// file does not exist yet.
func LoadPersistent(p Paths) (PersistentConfig, error) {
	b, err := os.ReadFile(p.ConfigFilePath())
	if os.IsNotExist(err) {
		return PersistentConfig{}, nil
	}
	if err != nil {
		return PersistentConfig{}, fmt.Errorf("config: read %s: %w", p.ConfigFilePath(), err)
	}
	var cfg PersistentConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return PersistentConfig{}, fmt.Errorf("config: parse %s: %w", p.ConfigFilePath(), err)
	}
	return cfg, nil
}

// SavePersistent writes cfg to config.json, creating the state
// directory first if necessary.
func SavePersistent(p Paths, cfg PersistentConfig) error {
	if err := p.EnsureStateDir(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode config.json: %w", err)
	}
	if err := os.WriteFile(p.ConfigFilePath(), b, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", p.ConfigFilePath(), err)
	}
	return nil
}

// DaemonConfig holds environment-driven settings for the optional
// observability surfaces and agent lifecycle defaults.
type DaemonConfig struct {
	LogLevel  string
	LogFormat string

	AgentPort           int
	AgentStartupTimeout time.Duration
	AgentMaxRetries     int

	GRPCHealthEnabled bool
	GRPCHealthPort    int

	WSBridgeEnabled bool
	WSBridgeAddr    string

	TracingEnabled    bool
	TracingEndpoint   string
	TracingInsecure   bool
	TracingSampleRate float64
	Environment       string

	ArtifactStoreEnabled   bool
	ArtifactStoreEndpoint  string
	ArtifactStoreBucket    string
	ArtifactStoreRegion    string
	ArtifactStoreAccessKey string
	ArtifactStoreSecretKey string
	ArtifactStoreUseSSL    bool
}

// LoadDaemonConfig reads QORVEX_-prefixed environment variables,
// falling back to defaults matching spec.md's stated defaults (30s
// agent startup timeout, 3 max retries).
func LoadDaemonConfig() DaemonConfig {
	return DaemonConfig{
		LogLevel:  getEnv("QORVEX_LOG_LEVEL", "info"),
		LogFormat: getEnv("QORVEX_LOG_FORMAT", "console"),

		AgentPort:           getEnvInt("QORVEX_AGENT_PORT", 22087),
		AgentStartupTimeout: getEnvDuration("QORVEX_AGENT_STARTUP_TIMEOUT", 30*time.Second),
		AgentMaxRetries:     getEnvInt("QORVEX_AGENT_MAX_RETRIES", 3),

		GRPCHealthEnabled: getEnvBool("QORVEX_GRPC_HEALTH_ENABLED", false),
		GRPCHealthPort:    getEnvInt("QORVEX_GRPC_HEALTH_PORT", 9090),

		WSBridgeEnabled: getEnvBool("QORVEX_WSBRIDGE_ENABLED", false),
		WSBridgeAddr:    getEnv("QORVEX_WSBRIDGE_ADDR", "127.0.0.1:8787"),

		TracingEnabled:    getEnvBool("QORVEX_TRACING_ENABLED", false),
		TracingEndpoint:   getEnv("QORVEX_TRACING_ENDPOINT", ""),
		TracingInsecure:   getEnvBool("QORVEX_TRACING_INSECURE", true),
		TracingSampleRate: getEnvFloat("QORVEX_TRACING_SAMPLE_RATE", 1.0),
		Environment:       getEnv("QORVEX_ENVIRONMENT", "development"),

		ArtifactStoreEnabled:   getEnvBool("QORVEX_ARTIFACT_STORE_ENABLED", false),
		ArtifactStoreEndpoint:  getEnv("QORVEX_ARTIFACT_STORE_ENDPOINT", "127.0.0.1:9000"),
		ArtifactStoreBucket:    getEnv("QORVEX_ARTIFACT_STORE_BUCKET", "qorvex-screenshots"),
		ArtifactStoreRegion:    getEnv("QORVEX_ARTIFACT_STORE_REGION", "us-east-1"),
		ArtifactStoreAccessKey: getEnv("QORVEX_ARTIFACT_STORE_ACCESS_KEY", ""),
		ArtifactStoreSecretKey: getEnv("QORVEX_ARTIFACT_STORE_SECRET_KEY", ""),
		ArtifactStoreUseSSL:    getEnvBool("QORVEX_ARTIFACT_STORE_USE_SSL", false),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
