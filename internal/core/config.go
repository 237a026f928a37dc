package core

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ubtreetrack/treetrack/internal/auth"
	"github.com/ubtreetrack/treetrack/internal/backend/imagehost"
	"github.com/ubtreetrack/treetrack/internal/backend/qrcode"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/reports"
)

// Environment variables that override secrets from the config file.
const (
	EnvImageHostToken = "IMGUR_ACCESS_TOKEN"
	EnvSessionSecret  = "SESSION_SECRET"
	EnvDatabaseURL    = "DATABASE_URL"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type ImageHost struct {
	APIBase           string        `yaml:"apiBase"`
	AccessToken       string        `yaml:"accessToken"`
	AlbumHash         string        `yaml:"albumHash"`
	QRAlbumHash       string        `yaml:"qrAlbumHash"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

type QRCode struct {
	Size int `yaml:"size"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Cooldown struct {
	Backend string        `yaml:"backend"`
	Period  time.Duration `yaml:"period"`
	Redis   Redis         `yaml:"redis"`
}

type Auth struct {
	SessionSecret     string        `yaml:"sessionSecret"`
	SessionMaxAge     time.Duration `yaml:"sessionMaxAge"`
	SecureCookies     bool          `yaml:"secureCookies"`
	ProtectedPrefixes []string      `yaml:"protectedPrefixes"`
}

type Workflow struct {
	// Compensate undoes completed steps when a later step fails. Defaults to true.
	Compensate *bool `yaml:"compensate"`
}

func (w Workflow) CompensationEnabled() bool {
	return w.Compensate == nil || *w.Compensate
}

type Reports struct {
	TimeZone string `yaml:"timeZone"`
}

type Gallery struct {
	Size int `yaml:"size"`
}

type ViewCache struct {
	TTL time.Duration `yaml:"ttl"`
}

type ServiceConfig struct {
	Port      int       `yaml:"port"`
	BaseURL   string    `yaml:"baseUrl"`
	LogLevel  string    `yaml:"logLevel"`
	Database  Database  `yaml:"database"`
	ImageHost ImageHost `yaml:"imageHost"`
	QRCode    QRCode    `yaml:"qrCode"`
	Cooldown  Cooldown  `yaml:"cooldown"`
	Auth      Auth      `yaml:"auth"`
	Workflow  Workflow  `yaml:"workflow"`
	Reports   Reports   `yaml:"reports"`
	Gallery   Gallery   `yaml:"gallery"`
	ViewCache ViewCache `yaml:"viewCache"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyEnvironment()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyEnvironment() {
	if token := os.Getenv(EnvImageHostToken); token != "" {
		c.ImageHost.AccessToken = token
	}
	if secret := os.Getenv(EnvSessionSecret); secret != "" {
		c.Auth.SessionSecret = secret
	}
	if dsn := os.Getenv(EnvDatabaseURL); dsn != "" {
		c.Database.ConnectionString = dsn
	}
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.ConnectionString == "" {
		c.Database.ConnectionString = "file:treetrack.db"
	}
	if c.ImageHost.APIBase == "" {
		c.ImageHost.APIBase = imagehost.DefaultAPIBase
	}
	if c.ImageHost.Timeout <= 0 {
		c.ImageHost.Timeout = imagehost.DefaultTimeout
	}
	if c.QRCode.Size <= 0 {
		c.QRCode.Size = qrcode.DefaultSize
	}
	if c.Cooldown.Backend == "" {
		c.Cooldown.Backend = "memory"
	}
	if c.Cooldown.Period <= 0 {
		c.Cooldown.Period = cooldown.DefaultPeriod
	}
	if c.Auth.ProtectedPrefixes == nil {
		c.Auth.ProtectedPrefixes = auth.DefaultProtectedPrefixes
	}
	if c.Reports.TimeZone == "" {
		c.Reports.TimeZone = reports.DefaultTimeZone
	}
	if c.Gallery.Size <= 0 {
		c.Gallery.Size = 10
	}
	if c.ViewCache.TTL == 0 {
		c.ViewCache.TTL = 30 * time.Second
	}
}

// Validate checks the settings the service cannot start without.
func (c *ServiceConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.ConnectionString == "" {
		return fmt.Errorf("database connection string is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("baseUrl is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("baseUrl must be an absolute URL: %q", c.BaseURL)
	}
	if c.ImageHost.AccessToken == "" {
		return fmt.Errorf("imageHost.accessToken is required (or set %s)", EnvImageHostToken)
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.sessionSecret is required (or set %s)", EnvSessionSecret)
	}
	switch c.Cooldown.Backend {
	case "memory":
	case "redis":
		if c.Cooldown.Redis.Addr == "" {
			return fmt.Errorf("cooldown.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported cooldown backend: %s", c.Cooldown.Backend)
	}
	if _, err := time.LoadLocation(c.Reports.TimeZone); err != nil {
		return fmt.Errorf("unknown report time zone %q: %w", c.Reports.TimeZone, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}
