// Package config loads and validates consentdesk YAML configuration.
// It applies defaults so the daemon can rely on fully populated values.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Bind      string    `yaml:"bind"`
	Port      int       `yaml:"port"`
	MaxBodyMB int       `yaml:"max_body_mb"`
	TLS       TLSConfig `yaml:"tls"`
}

// AuthConfig holds token settings. The secret signs bearer tokens and
// must be long enough to resist brute force.
type AuthConfig struct {
	TokenSecret     string `yaml:"token_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// Config mirrors the consentdesk.yaml schema. DataDir holds the system
// key PEM and the blob store.
type Config struct {
	Log     LogConfig  `yaml:"log"`
	DB      DBConfig   `yaml:"db"`
	DataDir string     `yaml:"data_dir"`
	HTTP    HTTPConfig `yaml:"http"`
	Auth    AuthConfig `yaml:"auth"`
}

// SystemKeyPath is where the daemon expects the system private key.
func (c Config) SystemKeyPath() string {
	return filepath.Join(c.DataDir, "system_key.pem")
}

// BlobDir is where file item payloads are stored.
func (c Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	// Make paths stable for daemon.
	c.DB.Path = strings.TrimSpace(c.DB.Path)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.HTTP.TLS.CertPath = strings.TrimSpace(c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = strings.TrimSpace(c.HTTP.TLS.KeyPath)
	return c, nil
}

// applyDefaults populates zero-values with sane defaults.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DB.Path == "" {
		c.DB.Path = "./data/consentdesk.db"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5641
	}
	if c.HTTP.MaxBodyMB == 0 {
		c.HTTP.MaxBodyMB = 64
	}
	if c.Auth.TokenTTLMinutes == 0 {
		c.Auth.TokenTTLMinutes = 60
	}
}

// validate performs basic sanity checks for required fields and ranges.
// It does not mutate the config.
func validate(c *Config) error {
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if c.DB.Path == "" {
		return errors.New("db.path is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if c.HTTP.MaxBodyMB < 1 || c.HTTP.MaxBodyMB > 10240 {
		return errors.New("http.max_body_mb is invalid")
	}
	if len(strings.TrimSpace(c.Auth.TokenSecret)) < 32 {
		return errors.New("auth.token_secret must be at least 32 characters")
	}
	if c.Auth.TokenTTLMinutes < 1 || c.Auth.TokenTTLMinutes > 24*60 {
		return errors.New("auth.token_ttl_minutes is invalid")
	}
	// If either TLS path is set, require both.
	cp := strings.TrimSpace(c.HTTP.TLS.CertPath)
	kp := strings.TrimSpace(c.HTTP.TLS.KeyPath)
	if (cp == "") != (kp == "") {
		return errors.New("http.tls.cert_path and http.tls.key_path must be set together")
	}
	// Basic sanity for paths.
	_ = filepath.Clean(c.DB.Path)
	_ = filepath.Clean(c.DataDir)
	return nil
}
