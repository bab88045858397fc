// Package config provides YAML-based configuration loading for Tutorline.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI looks for when --config is not given.
const DefaultPath = "tutor.yaml"

// BaseURLEnv overrides server.base_url when set.
const BaseURLEnv = "TUTOR_BASE_URL"

// Config is the top-level Tutorline configuration, loaded from tutor.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Log         LogConfig         `yaml:"log"`
	UI          UIConfig          `yaml:"ui"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// ServerConfig describes the tutoring backend.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CredentialsConfig selects where the access token is persisted.
type CredentialsConfig struct {
	Driver string      `yaml:"driver"` // sqlite, mysql or memory
	Path   string      `yaml:"path"`   // sqlite database file
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for a shared credential database.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"` // console or json
}

// UIConfig controls transcript rendering.
type UIConfig struct {
	Width int `yaml:"width"` // 0 means detect from the terminal
}

// DashboardConfig controls the stats refresh loop.
type DashboardConfig struct {
	Refresh string `yaml:"refresh"` // 5-field cron expression
}

// Default returns a validated Config built only from defaults and the
// environment.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load, except that a missing file at the default
// path yields the validated Default() instead of an error.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && path == DefaultPath && errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if v := os.Getenv(BaseURLEnv); v != "" {
		c.Server.BaseURL = v
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://127.0.0.1:8080"
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Credentials.Driver == "" {
		c.Credentials.Driver = "sqlite"
	}
	if c.Credentials.Path == "" {
		c.Credentials.Path = defaultCredentialPath()
	}
	if c.Credentials.MySQL.Host == "" {
		c.Credentials.MySQL.Host = "127.0.0.1"
	}
	if c.Credentials.MySQL.Port == 0 {
		c.Credentials.MySQL.Port = 3306
	}
	if c.Credentials.MySQL.User == "" {
		c.Credentials.MySQL.User = "root"
	}
	if c.Credentials.MySQL.Database == "" {
		c.Credentials.MySQL.Database = "tutor"
	}

	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Dashboard.Refresh == "" {
		c.Dashboard.Refresh = "*/1 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("server.base_url %q must be an absolute http(s) URL", c.Server.BaseURL))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, "server.timeout must not be negative")
	}
	switch c.Credentials.Driver {
	case "sqlite", "mysql", "memory":
	default:
		errs = append(errs, fmt.Sprintf("credentials.driver %q must be one of sqlite, mysql, memory", c.Credentials.Driver))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not a known level", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if c.UI.Width < 0 {
		errs = append(errs, "ui.width must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func defaultCredentialPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".tutor", "credentials.db")
	}
	return filepath.Join(home, ".tutor", "credentials.db")
}
