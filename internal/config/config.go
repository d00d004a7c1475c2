package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Strava   StravaConfig   `koanf:"strava"`
	Server   ServerConfig   `koanf:"server"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Display  DisplayConfig  `koanf:"display"`
}

// StravaConfig holds Strava API credentials and transport settings
type StravaConfig struct {
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	APIBaseURL   string        `koanf:"api_base_url"`
	TokenURL     string        `koanf:"token_url"`
	Timeout      time.Duration `koanf:"timeout"`
	MinInterval  time.Duration `koanf:"min_interval"`
}

// ServerConfig holds HTTP server and session settings
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	BaseURL         string        `koanf:"base_url"` // public origin, e.g. https://maps.example.com
	AppPath         string        `koanf:"app_path"` // path the map page is served under
	CookieName      string        `koanf:"cookie_name"`
	CookieSecure    bool          `koanf:"cookie_secure"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	RateLimit       int           `koanf:"rate_limit"` // requests per IP per window
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// IngestConfig tunes the ingestion queue
type IngestConfig struct {
	Pause            time.Duration `koanf:"pause"`
	ConfirmThreshold int           `koanf:"confirm_threshold"`
}

// DatabaseConfig locates the session database
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"` // terminal client only
}

// DisplayConfig holds display preferences
type DisplayConfig struct {
	DistanceUnit string `koanf:"distance_unit"`
}

// ErrNoConfig is returned when an explicitly named config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// PathEnvVar names a config file to load instead of searching
const PathEnvVar = "VINTAGEMAP_CONFIG"

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Strava: StravaConfig{
			Timeout:     30 * time.Second,
			MinInterval: 150 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			AppPath:         "/",
			CookieName:      "vintagemap_session",
			CookieSecure:    true,
			SessionTTL:      7 * 24 * time.Hour,
			RateLimit:       120,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			Pause:            500 * time.Millisecond,
			ConfirmThreshold: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Display: DisplayConfig{
			DistanceUnit: "km",
		},
	}
}

// Load layers defaults, an optional YAML file and VINTAGEMAP_* environment variables
func Load() (*Config, error) {
	path, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path; an empty path skips the file layer
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("VINTAGEMAP_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Database.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.Database.Path = filepath.Join(dir, "vintagemap.db")
	}

	return &cfg, nil
}

// envKeys maps environment variables to config paths. Unlisted variables are ignored.
var envKeys = map[string]string{
	"vintagemap_strava_client_id":     "strava.client_id",
	"vintagemap_strava_client_secret": "strava.client_secret",
	"vintagemap_strava_api_base_url":  "strava.api_base_url",
	"vintagemap_strava_token_url":     "strava.token_url",
	"vintagemap_strava_timeout":       "strava.timeout",
	"vintagemap_strava_min_interval":  "strava.min_interval",
	"vintagemap_host":                 "server.host",
	"vintagemap_port":                 "server.port",
	"vintagemap_base_url":             "server.base_url",
	"vintagemap_app_path":             "server.app_path",
	"vintagemap_cookie_name":          "server.cookie_name",
	"vintagemap_cookie_secure":        "server.cookie_secure",
	"vintagemap_session_ttl":          "server.session_ttl",
	"vintagemap_rate_limit":           "server.rate_limit",
	"vintagemap_rate_limit_window":    "server.rate_limit_window",
	"vintagemap_shutdown_timeout":     "server.shutdown_timeout",
	"vintagemap_ingest_pause":         "ingest.pause",
	"vintagemap_confirm_threshold":    "ingest.confirm_threshold",
	"vintagemap_db_path":              "database.path",
	"vintagemap_log_level":            "logging.level",
	"vintagemap_log_format":           "logging.format",
	"vintagemap_log_file":             "logging.file",
	"vintagemap_distance_unit":        "display.distance_unit",
}

func envKey(key string) string {
	return envKeys[strings.ToLower(key)]
}

// FindConfigFile returns the first config file found, or "" when there is none.
// A path named by VINTAGEMAP_CONFIG must exist.
func FindConfigFile() (string, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, p)
		}
		return p, nil
	}

	candidates := []string{"config.yaml", "config.yml"}
	if dir, err := GetConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// CreateExample writes a starter config file to ~/.vintagemap/config.yaml if none exists
func CreateExample() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, nil // Config exists, don't overwrite
	}

	k := koanf.New(".")
	example := map[string]interface{}{
		"strava.client_id":      "YOUR_CLIENT_ID",
		"strava.client_secret":  "YOUR_CLIENT_SECRET",
		"ingest.pause":          "500ms",
		"display.distance_unit": "km",
		"logging.level":         "info",
	}
	for key, v := range example {
		if err := k.Set(key, v); err != nil {
			return "", err
		}
	}
	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks if the config has required fields
func (c *Config) Validate() error {
	if c.Strava.ClientID == "" || c.Strava.ClientID == "YOUR_CLIENT_ID" {
		return errors.New("strava.client_id is required - get it from https://www.strava.com/settings/api")
	}
	if c.Strava.ClientSecret == "" || c.Strava.ClientSecret == "YOUR_CLIENT_SECRET" {
		return errors.New("strava.client_secret is required - get it from https://www.strava.com/settings/api")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	if !strings.HasPrefix(c.Server.AppPath, "/") {
		return fmt.Errorf("server.app_path must start with /, got %q", c.Server.AppPath)
	}

	if c.Ingest.Pause <= 0 {
		return fmt.Errorf("ingest.pause must be positive, got %v", c.Ingest.Pause)
	}
	if c.Ingest.ConfirmThreshold < 1 {
		return fmt.Errorf("ingest.confirm_threshold must be at least 1, got %d", c.Ingest.ConfirmThreshold)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	if c.Display.DistanceUnit != "" && c.Display.DistanceUnit != "km" && c.Display.DistanceUnit != "mi" {
		return fmt.Errorf("display.distance_unit must be \"km\" or \"mi\", got %q", c.Display.DistanceUnit)
	}

	return nil
}

// RedirectURL is the OAuth callback registered for the web flow
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + "/auth/strava/callback"
}

// AppURL is the map page, with an optional query string
func (c *Config) AppURL(query string) string {
	u := strings.TrimRight(c.Server.BaseURL, "/") + strings.TrimRight(c.Server.AppPath, "/") + "/vintagemap.html"
	if query != "" {
		u += "?" + query
	}
	return u
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".vintagemap"), nil
}
