// Package config loads plugcrawl settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BrowserConfig controls how pages are opened.
type BrowserConfig struct {
	UseRod     bool              `yaml:"use_rod"`
	Headless   *bool             `yaml:"headless"`
	Stealth    bool              `yaml:"stealth"`
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
	ProfileDir string            `yaml:"profile_dir"`
	ControlURL string            `yaml:"control_url"`
}

// IsHeadless reports whether the browser runs without a window. Unset means
// headless.
func (b BrowserConfig) IsHeadless() bool {
	return b.Headless == nil || *b.Headless
}

// ExtractionConfig holds the selector timeout tiers.
type ExtractionConfig struct {
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	SelectorTimeout time.Duration `yaml:"selector_timeout"`
}

// ManagerConfig holds worker pool settings.
type ManagerConfig struct {
	Workers           int           `yaml:"workers"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	URLTimeout        time.Duration `yaml:"url_timeout"`
}

// OutputConfig names where records are written. Empty values disable the
// corresponding sink.
type OutputConfig struct {
	Dir string `yaml:"dir"`
	DB  string `yaml:"db"`
}

// FileConfig represents the structure of ~/.plugcrawl/config.yaml.
type FileConfig struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Manager    ManagerConfig    `yaml:"manager"`
	Output     OutputConfig     `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *FileConfig {
	return &FileConfig{
		Extraction: ExtractionConfig{
			FallbackTimeout: 250 * time.Millisecond,
			SelectorTimeout: 2 * time.Second,
		},
		Manager: ManagerConfig{
			Workers:           3,
			NavigationTimeout: 30 * time.Second,
		},
	}
}

// DefaultPath returns ~/.plugcrawl/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".plugcrawl", "config.yaml"), nil
}

// LoadConfigFile loads configuration from path, or from DefaultPath when path
// is empty. Returns nil if the file doesn't exist (not an error). Returns
// error if the file exists but cannot be parsed.
func LoadConfigFile(path string) (*FileConfig, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil // File doesn't exist -- not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset keys keep their defaults
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Load reads the config file, falling back to Default, and applies
// PLUGCRAWL_* environment overrides.
func Load(path string) (*FileConfig, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables looked up with
// getenv. Empty variables are ignored.
func (c *FileConfig) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PLUGCRAWL_USER_AGENT", &c.Browser.UserAgent)
	str("PLUGCRAWL_PROFILE_DIR", &c.Browser.ProfileDir)
	str("PLUGCRAWL_CONTROL_URL", &c.Browser.ControlURL)
	str("PLUGCRAWL_OUTPUT_DIR", &c.Output.Dir)
	str("PLUGCRAWL_DB", &c.Output.DB)

	if err := boolean("PLUGCRAWL_USE_ROD", &c.Browser.UseRod); err != nil {
		return err
	}
	if err := boolean("PLUGCRAWL_STEALTH", &c.Browser.Stealth); err != nil {
		return err
	}
	if v := getenv("PLUGCRAWL_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PLUGCRAWL_HEADLESS: %w", err)
		}
		c.Browser.Headless = &b
	}

	if v := getenv("PLUGCRAWL_WORKERS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid PLUGCRAWL_WORKERS: %q", v)
		}
		c.Manager.Workers = n
	}

	if err := duration("PLUGCRAWL_NAVIGATION_TIMEOUT", &c.Manager.NavigationTimeout); err != nil {
		return err
	}
	if err := duration("PLUGCRAWL_URL_TIMEOUT", &c.Manager.URLTimeout); err != nil {
		return err
	}
	if err := duration("PLUGCRAWL_FALLBACK_TIMEOUT", &c.Extraction.FallbackTimeout); err != nil {
		return err
	}
	return duration("PLUGCRAWL_SELECTOR_TIMEOUT", &c.Extraction.SelectorTimeout)
}
