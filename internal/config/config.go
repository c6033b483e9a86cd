// Package config provides configuration management for proctord.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the proctord server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, staging files).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// StagingDir is where captures are written before durable persistence.
	StagingDir string

	// EditorImagePrefix is the Docker image prefix for workspace containers.
	// The language name is appended, e.g. "proctord-editor-python".
	EditorImagePrefix string

	// EditorPassword is the shared credential for the embedded code-server
	// login page. This is a local editor credential, not platform auth.
	EditorPassword string

	// ChromeBin overrides the browser binary used for captures. Empty means
	// let the launcher find one.
	ChromeBin string

	// CaptureInterval is how often periodic captures fire while a workspace
	// session is active. Default: 30 seconds.
	CaptureInterval time.Duration

	// PolicyPath is an optional YAML capture-policy file overriding
	// scheduler defaults.
	PolicyPath string

	// ProvisionTimeout bounds how long provision waits for a new editor
	// container to become reachable. Default: 15 seconds.
	ProvisionTimeout time.Duration

	// JPEGQuality for viewport captures (1-100). Default: 90.
	JPEGQuality int
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load ~/.proctord/config.env into the environment. Existing env vars
	// take precedence because godotenv.Load never overwrites set vars.
	_ = godotenv.Load(filepath.Join(defaultDataDir(), "config.env"))

	dataDir := envOr("PROCTORD_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	stagingDir := filepath.Join(dataDir, "staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:        envOr("PROCTORD_ADDR", ":7090"),
		DataDir:           dataDir,
		DatabasePath:      filepath.Join(dataDir, "proctord.db"),
		StagingDir:        stagingDir,
		EditorImagePrefix: envOr("PROCTORD_EDITOR_IMAGE_PREFIX", "proctord-editor"),
		EditorPassword:    envOr("PROCTORD_EDITOR_PASSWORD", "cs1234"),
		ChromeBin:         os.Getenv("PROCTORD_CHROME_BIN"),
		CaptureInterval:   envOrDuration("PROCTORD_CAPTURE_INTERVAL", 30*time.Second),
		PolicyPath:        os.Getenv("PROCTORD_POLICY_PATH"),
		ProvisionTimeout:  envOrDuration("PROCTORD_PROVISION_TIMEOUT", 15*time.Second),
		JPEGQuality:       envOrInt("PROCTORD_JPEG_QUALITY", 90),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.EditorPassword == "" {
		return fmt.Errorf("PROCTORD_EDITOR_PASSWORD is required")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("PROCTORD_JPEG_QUALITY must be 1-100, got %d", c.JPEGQuality)
	}
	return nil
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proctord"
	}
	return filepath.Join(home, ".proctord")
}
