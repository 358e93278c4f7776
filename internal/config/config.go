package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

const (
	DriverMemory  = "memory"
	DriverSQLite  = "sqlite"
	DriverMongoDB = "mongodb"
	DriverRedis   = "redis"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	Storage   StorageConfig   `yaml:"storage"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Grpc      GRPCConfig      `yaml:"grpc"`
	Tokens    TokensConfig    `yaml:"tokens"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the backend of each store independently.
type StorageConfig struct {
	Users  string `yaml:"users" env:"STORAGE_USERS" env-default:"sqlite"`
	Tokens string `yaml:"tokens" env:"STORAGE_TOKENS" env-default:"sqlite"`
	Path   string `yaml:"path" env:"STORAGE_PATH" env-default:"./storage/auth.db"`
	// PurgeInterval is how often expired refresh tokens are deleted from
	// stores without native expiry; 0 disables.
	PurgeInterval time.Duration `yaml:"purge_interval" env:"STORAGE_PURGE_INTERVAL" env-default:"1h"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	Database string `yaml:"database" env:"MONGO_DATABASE" env-default:"auth"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type GRPCConfig struct {
	Port    int           `yaml:"port" env:"GRPC_PORT" env-default:"44044"`
	Timeout time.Duration `yaml:"timeout" env:"GRPC_TIMEOUT" env-default:"5s"`
}

// TokensConfig is consumed by the auth service; it never owns these values.
type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"168h"`
	// RefreshPepper is mixed into the stored digest of refresh tokens.
	RefreshPepper string `yaml:"refresh_pepper" env:"JWT_REFRESH_PEPPER"`
	// RevokeFamilyOnReuse revokes all of a user's refresh tokens when an
	// already rotated one is presented again.
	RevokeFamilyOnReuse bool `yaml:"revoke_family_on_reuse" env:"JWT_REVOKE_FAMILY_ON_REUSE"`
}

type RateLimitConfig struct {
	// RequestsPerMinute per peer on the unauthenticated methods; 0 disables.
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_LIMIT_RPM" env-default:"0"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is the URL of an OTLP/HTTP collector; empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"authsvc"`
}

// MustLoad loads the config from the path given by --config or CONFIG_PATH
// and panics on any error.
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		panic("config path is empty")
	}

	return MustLoadPath(path)
}

func MustLoadPath(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}

	switch c.Storage.Users {
	case DriverMemory, DriverSQLite, DriverMongoDB:
	default:
		return fmt.Errorf("unknown users storage %q", c.Storage.Users)
	}

	switch c.Storage.Tokens {
	case DriverMemory, DriverSQLite, DriverMongoDB, DriverRedis:
	default:
		return fmt.Errorf("unknown tokens storage %q", c.Storage.Tokens)
	}

	return c.Tokens.Validate()
}

func (t *TokensConfig) Validate() error {
	if t.AccessSecret == "" || t.RefreshSecret == "" {
		return errors.New("access and refresh secrets are required")
	}
	if t.AccessSecret == t.RefreshSecret {
		return errors.New("access and refresh secrets must differ")
	}
	if t.AccessTTL <= 0 || t.RefreshTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	return nil
}

// fetchConfigPath fetches config path from command line flag or environment variable.
// Priority: flag > env > default.
func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
