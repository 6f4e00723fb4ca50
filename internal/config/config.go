package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"livepreview/internal/compile"
	"livepreview/internal/sandbox"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file location relative to the workspace.
const DefaultPath = ".preview/config.yaml"

// Config holds all preview configuration.
type Config struct {
	Name string `yaml:"name"`

	Server  ServerConfig  `yaml:"server"`
	Project ProjectConfig `yaml:"project"`
	Build   BuildConfig   `yaml:"build"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	StandaloneDir string `yaml:"standalone_dir"`
	OpenBrowser   bool   `yaml:"open_browser"`
}

// ProjectConfig configures the on-disk project source.
type ProjectConfig struct {
	Debounce    string `yaml:"debounce"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

// SandboxConfig selects the sandbox host. When Enabled is false the user's
// browser frame is the only host.
type SandboxConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Chrome  sandbox.ChromeConfig `yaml:"chrome"`
}

// HistoryConfig configures the generation history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "livepreview",
		Server: ServerConfig{
			Addr:          "127.0.0.1:5173",
			StandaloneDir: ".preview/standalone",
		},
		Project: ProjectConfig{
			Debounce:    "300ms",
			MaxFileSize: 2 << 20,
		},
		Build:   DefaultBuildConfig(),
		Sandbox: SandboxConfig{Chrome: sandbox.DefaultChromeConfig()},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".preview/history.db",
			Keep:    500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config, falling back to defaults when the file does not
// exist, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env next to the workspace; a missing file is fine.
	_ = godotenv.Load(filepath.Join(filepath.Dir(filepath.Dir(path)), ".env"))

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PREVIEW_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PREVIEW_CHROME_URL"); v != "" {
		c.Sandbox.Chrome.ControlURL = v
		c.Sandbox.Enabled = true
	}
	if v := os.Getenv("PREVIEW_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sandbox.Chrome.Headless = b
		}
	}
	if v := os.Getenv("PREVIEW_HISTORY_DB"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("PREVIEW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PREVIEW_SCANNER"); v != "" {
		c.Build.Scanner = strings.ToLower(v)
	}
}

// GetDebounce returns the watcher debounce window.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Project.Debounce)
	if err != nil || d <= 0 {
		return 300 * time.Millisecond
	}
	return d
}

// GetBuildTimeout bounds one-shot builds (build, check).
func (c *Config) GetBuildTimeout() time.Duration {
	d, err := time.ParseDuration(c.Build.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ValidScanners lists the accepted build.scanner values.
var ValidScanners = []string{"pattern", "syntax"}

// ValidTargets lists the accepted build.target values.
var ValidTargets = compile.Targets

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !contains(ValidScanners, c.Build.Scanner) {
		return fmt.Errorf("invalid build.scanner: %s (valid: %v)", c.Build.Scanner, ValidScanners)
	}
	if !contains(ValidTargets, c.Build.Target) {
		return fmt.Errorf("invalid build.target: %s (valid: %v)", c.Build.Target, ValidTargets)
	}
	if c.Build.Timeout != "" {
		if _, err := time.ParseDuration(c.Build.Timeout); err != nil {
			return fmt.Errorf("invalid build.timeout: %w", err)
		}
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if _, err := c.Logging.ZapLevel(); err != nil {
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
