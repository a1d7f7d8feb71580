// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig   `envPrefix:"SERVICE_"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Database  DatabaseConfig  `envPrefix:"DB_"`
	Rules     RulesConfig     `envPrefix:"RULES_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	NATS      NATSConfig      `envPrefix:"NATS_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	Bootstrap BootstrapConfig `envPrefix:"BOOTSTRAP_"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
}

type ServiceConfig struct {
	Name        string `env:"NAME" envDefault:"promotion-panel"`
	Version     string `env:"VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9090"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DatabaseConfig selects the store. Driver "postgres" uses the connection
// fields, driver "sqlite" uses SQLitePath.
type DatabaseConfig struct {
	Driver      string        `env:"DRIVER" envDefault:"postgres"`
	Host        string        `env:"HOST" envDefault:"localhost"`
	Port        int           `env:"PORT" envDefault:"5432"`
	User        string        `env:"USER" envDefault:"postgres"`
	Password    string        `env:"PASSWORD"`
	Database    string        `env:"NAME" envDefault:"promotion_panel"`
	SSLMode     string        `env:"SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnTime time.Duration `env:"MAX_CONN_TIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"MAX_IDLE_TIME" envDefault:"30m"`
	HealthCheck time.Duration `env:"HEALTH_CHECK" envDefault:"1m"`
	SQLitePath  string        `env:"SQLITE_PATH" envDefault:"promotion-panel.db"`
}

type RulesConfig struct {
	Path string `env:"PATH" envDefault:"configs/rules.yaml"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
}

type NATSConfig struct {
	URL string `env:"URL"`
}

type TelemetryConfig struct {
	Endpoint string `env:"ENDPOINT"`
}

// BootstrapConfig names the seed accounts created at start-up.
type BootstrapConfig struct {
	AdminUser     string `env:"ADMIN_USER" envDefault:"admin"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Admin"`
	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@example.com"`
	HRBPUser      string `env:"HRBP_USER" envDefault:"hrbp"`
	HRBPName      string `env:"HRBP_NAME" envDefault:"HRBP"`
	HRBPEmail     string `env:"HRBP_EMAIL" envDefault:"hrbp@example.com"`
	ApproverUser  string `env:"APPROVER_USER" envDefault:"approver"`
	ApproverName  string `env:"APPROVER_NAME" envDefault:"Final Approver"`
	ApproverEmail string `env:"APPROVER_EMAIL" envDefault:"approver@example.com"`
}

// Prefix is prepended to every environment variable name.
const Prefix = "PP_"

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("config: %sDB_SQLITE_PATH is required for the sqlite driver", Prefix)
		}
	default:
		return fmt.Errorf("config: unsupported database driver %q (want postgres or sqlite)", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: invalid grpc port %d", c.Server.GRPCPort)
	}
	if c.Server.Port == c.Server.GRPCPort {
		return fmt.Errorf("config: http and grpc ports must differ (both %d)", c.Server.Port)
	}
	return nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
