package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment variables overriding the config file.
const EnvPrefix = "CHAT"

// Config represents the global ~/.sockchat/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile" envconfig:"DEFAULT_PROFILE"`

	// Transport endpoint. The api key and notify_self flag are appended as
	// query parameters by URL.
	Endpoint   string `toml:"endpoint" envconfig:"ENDPOINT"`
	APIKey     string `toml:"api_key" envconfig:"API_KEY"`
	NotifySelf bool   `toml:"notify_self" envconfig:"NOTIFY_SELF"`

	ReconnectDelay       time.Duration `toml:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	RetryDelay           time.Duration `toml:"retry_delay" envconfig:"RETRY_DELAY"`
	MaxRetryAttempts     int           `toml:"max_retry_attempts" envconfig:"MAX_RETRY_ATTEMPTS"`

	ReplyDelay    time.Duration `toml:"reply_delay" envconfig:"REPLY_DELAY"`
	ProbeInterval time.Duration `toml:"probe_interval" envconfig:"PROBE_INTERVAL"`
	ProbeTimeout  time.Duration `toml:"probe_timeout" envconfig:"PROBE_TIMEOUT"`

	// Ephemeral clears every chat when the daemon stops.
	Ephemeral bool `toml:"ephemeral" envconfig:"EPHEMERAL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile:       "main",
		Endpoint:             "wss://demo.piesocket.com/v3/1",
		NotifySelf:           true,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 5,
		RetryDelay:           2 * time.Second,
		MaxRetryAttempts:     3,
		ReplyDelay:           time.Second,
		ProbeInterval:        5 * time.Second,
		ProbeTimeout:         3 * time.Second,
	}
}

// URL builds the websocket URL with the access key and self-notification flag.
func (c *Config) URL() (string, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint scheme %q: want ws or wss", u.Scheme)
	}
	q := u.Query()
	if c.APIKey != "" {
		q.Set("api_key", c.APIKey)
	}
	if c.NotifySelf {
		q.Set("notify_self", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve loads the config file if present, then applies a .env file in the
// working directory and CHAT_* environment variables.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	// A missing .env file is not an error.
	_ = godotenv.Load(".env")
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
