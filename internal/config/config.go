package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Auction   lot.Rules       `yaml:"auction"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CatalogConfig selects where lots come from and where orders go.
type CatalogConfig struct {
	Driver   string         `yaml:"driver"` // "http", "sqlx" or "ent"
	APIURL   string         `yaml:"api_url"`
	CDNURL   string         `yaml:"cdn_url"`
	Timeout  time.Duration  `yaml:"timeout"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Migrate  bool   `yaml:"migrate"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// BroadcastConfig configures forwarding of notifications out of process.
type BroadcastConfig struct {
	Driver        string `yaml:"driver"` // "none", "nats" or "redis"
	URL           string `yaml:"url"`    // NATS server URL
	Addr          string `yaml:"addr"`   // Redis address
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure"`
	SampleRatio    float64       `yaml:"sample_ratio"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Catalog: CatalogConfig{
			Driver:  "http",
			Timeout: 10 * time.Second,
			Database: DatabaseConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
				Migrate: true,
			},
		},
		Auction: lot.DefaultRules(),
		Broadcast: BroadcastConfig{
			Driver:        "none",
			URL:           "nats://localhost:4222",
			Addr:          "localhost:6379",
			SubjectPrefix: "storefront",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "storefront",
			ServiceVersion: "0.1.0",
			Environment:    "development",
			SampleRatio:    1,
			ExportInterval: 30 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Catalog.Driver {
	case "http":
		if c.Catalog.APIURL == "" {
			return fmt.Errorf("catalog.api_url is required for the http driver")
		}
	case "sqlx", "ent":
		// valid
	default:
		return fmt.Errorf("unsupported catalog driver %q: must be \"http\", \"sqlx\" or \"ent\"", c.Catalog.Driver)
	}

	switch c.Broadcast.Driver {
	case "none", "nats", "redis":
		// valid
	default:
		return fmt.Errorf("unsupported broadcast driver %q: must be \"none\", \"nats\" or \"redis\"", c.Broadcast.Driver)
	}

	if c.Auction.CloseMultiplier < 1 {
		return fmt.Errorf("auction.close_multiplier must be at least 1, got %d", c.Auction.CloseMultiplier)
	}
	if c.Auction.MinIncrement < 1 {
		return fmt.Errorf("auction.min_increment must be at least 1, got %d", c.Auction.MinIncrement)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %v", c.Telemetry.SampleRatio)
	}
	return nil
}
