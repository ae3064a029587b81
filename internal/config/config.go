// Package config loads and validates glassfile YAML configuration.
// Everything is read once at startup; handlers only ever see the parsed
// struct, never the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miikkis-gh/glassfile/internal/auth"
)

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig holds the HTTP listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the storage directory and upload limits.
type StorageConfig struct {
	Directory string `yaml:"directory"`
	// MaxFileSize is the per-upload byte ceiling.
	MaxFileSize int64 `yaml:"max_file_size"`
	// AllowedExtensions, when non-empty, is the only accepted set
	// (entries like ".txt"). BlockedExtensions applies otherwise.
	AllowedExtensions []string `yaml:"allowed_extensions"`
	BlockedExtensions []string `yaml:"blocked_extensions"`
}

// SecurityConfig holds the credential material and the IP allow-list.
// The allow-list restricts login and every authenticated route; the
// public download route and /health are deliberately exempt so direct
// URLs keep working for arbitrary tooling.
type SecurityConfig struct {
	AdminPasswordHash string   `yaml:"admin_password_hash"`
	APIKeys           []string `yaml:"api_keys"`
	SessionLifetime   int      `yaml:"session_lifetime"` // seconds
	IPAllowlist       []string `yaml:"ip_allowlist"`     // IPs or CIDRs
}

// SessionTTL returns the session lifetime as a duration.
func (c SecurityConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionLifetime) * time.Second
}

// AuditConfig holds the audit database settings.
type AuditConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// WebDAVConfig holds the optional WebDAV mount settings.
type WebDAVConfig struct {
	Enable bool   `yaml:"enable"`
	Prefix string `yaml:"prefix"`
}

// JanitorConfig schedules the background sweep of stale temp files,
// expired sessions, and old audit rows.
type JanitorConfig struct {
	Schedule      string `yaml:"schedule"`         // cron spec or @every syntax
	TempMaxAgeMin int    `yaml:"temp_max_age_min"` // minutes
}

// TempMaxAge returns the temp-file age cutoff as a duration.
func (c JanitorConfig) TempMaxAge() time.Duration {
	return time.Duration(c.TempMaxAgeMin) * time.Minute
}

// Config mirrors the glassfile.yaml schema.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Security SecurityConfig `yaml:"security"`
	Audit    AuditConfig    `yaml:"audit"`
	WebDAV   WebDAVConfig   `yaml:"webdav"`
	Janitor  JanitorConfig  `yaml:"janitor"`
}

// Load reads path, applies defaults, and validates. Validation problems
// are aggregated so a broken config reports everything at once.
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
		return c, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// applyDefaults fills zero values so the daemon can rely on every field.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Directory == "" {
		c.Storage.Directory = "./files"
	}
	if c.Storage.MaxFileSize == 0 {
		c.Storage.MaxFileSize = 100 << 20
	}
	if c.Security.SessionLifetime == 0 {
		c.Security.SessionLifetime = 3600
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "./glassfile.db"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.WebDAV.Prefix == "" {
		c.WebDAV.Prefix = "/webdav"
	}
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = "@every 15m"
	}
	if c.Janitor.TempMaxAgeMin == 0 {
		c.Janitor.TempMaxAgeMin = 60
	}
}

// validate aggregates every problem instead of stopping at the first.
func validate(c *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.Directory) == "" {
		add("storage.directory is required")
	}
	if c.Storage.MaxFileSize < 0 {
		add("storage.max_file_size must not be negative")
	}
	for _, list := range [][]string{c.Storage.AllowedExtensions, c.Storage.BlockedExtensions} {
		for _, ext := range list {
			if !strings.HasPrefix(ext, ".") {
				add("extension %q must start with a dot", ext)
			}
		}
	}
	if c.Security.AdminPasswordHash == "" {
		add("security.admin_password_hash is required (generate one with the hashsecret subcommand)")
	} else if err := auth.ValidateHash(c.Security.AdminPasswordHash); err != nil {
		add("security.admin_password_hash: %v", err)
	}
	for i, k := range c.Security.APIKeys {
		if strings.TrimSpace(k) == "" {
			add("security.api_keys[%d] is empty", i)
		}
	}
	if c.Security.SessionLifetime < 1 {
		add("security.session_lifetime must be at least one second")
	}
	if c.Audit.RetentionDays < 1 {
		add("audit.retention_days must be at least one day")
	}
	if !strings.HasPrefix(c.WebDAV.Prefix, "/") {
		add("webdav.prefix must start with /")
	}
	if c.Janitor.TempMaxAgeMin < 1 {
		add("janitor.temp_max_age_min must be at least one minute")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
