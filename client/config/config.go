package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the client configuration. Sources are applied in order: defaults,
// the YAML file, .env, the environment, and finally command line flags.
type Config struct {
	APIURL  string `yaml:"api_url"`
	WSURL   string `yaml:"ws_url"`
	Proxy   string `yaml:"proxy"`
	DataDir string `yaml:"data_dir"`

	Log LogConfig `yaml:"log"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	WindowCapacity int           `yaml:"window_capacity"`
	MaxRetries     int           `yaml:"max_retries"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() Config {
	dir := ".nearchat"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".nearchat")
	}
	return Config{
		APIURL:         "http://localhost:8080",
		DataDir:        dir,
		PollInterval:   5 * time.Second,
		WindowCapacity: 50,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// DefaultPath is the config file consulted when none is given.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.yaml")
}

// Load builds the effective configuration. A missing file at path is not an
// error; an unreadable or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load(".env")
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.fill()
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("NEARCHAT_API_URL", &cfg.APIURL)
	str("NEARCHAT_WS_URL", &cfg.WSURL)
	str("NEARCHAT_PROXY", &cfg.Proxy)
	str("NEARCHAT_DATA_DIR", &cfg.DataDir)
	str("NEARCHAT_LOG_LEVEL", &cfg.Log.Level)
	str("NEARCHAT_LOG_FILE", &cfg.Log.File)

	if v := os.Getenv("NEARCHAT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NEARCHAT_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv("NEARCHAT_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NEARCHAT_MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}
	return nil
}

// fill derives values left empty.
func (c *Config) fill() {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.WSURL == "" {
		c.WSURL = DeriveWSURL(c.APIURL)
	}
}

// DeriveWSURL maps http(s)://host/base to ws(s)://host/base/ws.
func DeriveWSURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://") + "/ws"
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://") + "/ws"
	default:
		return apiURL + "/ws"
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	return nil
}
