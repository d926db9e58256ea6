// Package config handles configuration loading for the distribution service.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows certificate
// passwords and database credentials to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS)
//   - distribution: NF-e web service settings (environment, timeout, trust)
//   - storage: cursor and document persistence (memory or MongoDB)
//   - sync: background download of configured companies
//   - portal: browser-automation scripts
//   - logging: level and format
//   - observability: Prometheus metrics endpoint
//
// # Example Configuration
//
//	server:
//	  port: 8080
//
//	distribution:
//	  environment: production
//	  jurisdiction: "35"
//	  timeout: 30s
//
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: dfe
//
//	sync:
//	  enabled: true
//	  interval: 1h
//	  companies:
//	    - taxId: "12345678000199"
//	      certificateFile: /etc/dfe/empresa.pfx
//	      password: ${EMPRESA_PFX_PASSWORD}
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sirosfoundation/go-dfe/pkg/message"
)

// Config is the root configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Distribution DistributionConfig `yaml:"distribution"`
	Storage      StorageConfig      `yaml:"storage"`
	Sync         SyncConfig         `yaml:"sync"`
	Portal       PortalConfig       `yaml:"portal"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"observability"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
	// MaxBodyBytes bounds JSON request bodies, which carry base64 certificates
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
	TLS          struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// DistributionConfig holds NF-e web service settings
type DistributionConfig struct {
	// Environment is "production" or "homologation"
	Environment string `yaml:"environment"`
	// Endpoint overrides the environment's URL
	Endpoint string `yaml:"endpoint"`
	// Jurisdiction is the default IBGE state code (cUFAutor)
	Jurisdiction     string        `yaml:"jurisdiction"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"maxResponseBytes"`
	// TrustServerCertificate skips verification of the service's TLS chain.
	// Defaults to true unless rootCAFile is set.
	TrustServerCertificate *bool  `yaml:"trustServerCertificate"`
	RootCAFile             string `yaml:"rootCAFile"`
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	// Type is "memory" or "mongodb"
	Type    string        `yaml:"type"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AuthConfig holds bearer-token settings for the API.
// Authentication is disabled when neither JWKSUrl nor HMACSecret is set.
type AuthConfig struct {
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	JWKSUrl    string `yaml:"jwksUrl"`
	HMACSecret string `yaml:"hmacSecret"`
}

// SyncConfig holds background download settings
type SyncConfig struct {
	Enabled        bool            `yaml:"enabled"`
	Interval       time.Duration   `yaml:"interval"`
	MaxPagesPerRun int             `yaml:"maxPagesPerRun"`
	Workers        int             `yaml:"workers"`
	RateLimitPause time.Duration   `yaml:"rateLimitPause"`
	Companies      []CompanyConfig `yaml:"companies"`
}

// CompanyConfig identifies one company whose documents are downloaded
type CompanyConfig struct {
	TaxID           string `yaml:"taxId"`
	Jurisdiction    string `yaml:"jurisdiction"`
	CertificateFile string `yaml:"certificateFile"`
	Password        string `yaml:"password"`
}

// PortalConfig holds browser-automation settings
type PortalConfig struct {
	ScriptsFile string `yaml:"scriptsFile"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Distribution.Environment == "" {
		c.Distribution.Environment = "production"
	}
	if c.Distribution.Timeout == 0 {
		c.Distribution.Timeout = 30 * time.Second
	}
	if c.Distribution.MaxResponseBytes == 0 {
		c.Distribution.MaxResponseBytes = 50 << 20
	}
	if c.Distribution.TrustServerCertificate == nil {
		trust := c.Distribution.RootCAFile == ""
		c.Distribution.TrustServerCertificate = &trust
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "dfe"
	}
	if c.Storage.MongoDB.Timeout == 0 {
		c.Storage.MongoDB.Timeout = 10 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = time.Hour
	}
	if c.Sync.MaxPagesPerRun == 0 {
		c.Sync.MaxPagesPerRun = 20
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 2
	}
	if c.Sync.RateLimitPause == 0 {
		c.Sync.RateLimitPause = time.Hour
	}
	for i := range c.Sync.Companies {
		if c.Sync.Companies[i].Jurisdiction == "" {
			c.Sync.Companies[i].Jurisdiction = c.Distribution.Jurisdiction
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if _, err := message.ParseEnvironment(c.Distribution.Environment); err != nil {
		return fmt.Errorf("distribution.environment: %w", err)
	}

	switch c.Storage.Type {
	case "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required when type is 'mongodb'")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory' or 'mongodb', got '%s'", c.Storage.Type)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}

	if c.Sync.Enabled && len(c.Sync.Companies) == 0 {
		return fmt.Errorf("sync.companies must not be empty when sync is enabled")
	}
	seen := make(map[string]bool)
	for i, company := range c.Sync.Companies {
		taxID := message.NormalizeTaxID(company.TaxID)
		if len(taxID) != 14 && len(taxID) != 11 {
			return fmt.Errorf("sync.companies[%d].taxId must be a CNPJ or CPF, got '%s'", i, company.TaxID)
		}
		if seen[taxID] {
			return fmt.Errorf("sync.companies[%d].taxId %s is listed twice", i, taxID)
		}
		seen[taxID] = true
		if company.CertificateFile == "" {
			return fmt.Errorf("sync.companies[%d].certificateFile is required", i)
		}
	}

	if c.Auth.Issuer != "" && c.Auth.JWKSUrl == "" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth.jwksUrl or auth.hmacSecret is required when auth.issuer is set")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}

// DistributionEnvironment returns the parsed distribution environment
func (c *Config) DistributionEnvironment() message.Environment {
	env, _ := message.ParseEnvironment(c.Distribution.Environment)
	return env
}

// SlogLevel converts Level to a slog.Level
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn or error, got '%s'", l.Level)
}
