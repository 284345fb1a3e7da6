package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	Environment   string          `yaml:"environment"`
	HTTPAddr      string          `yaml:"http_addr"`
	GRPCAddr      string          `yaml:"grpc_addr"`
	Log           LogConfig       `yaml:"log"`
	API           APIConfig       `yaml:"api"`
	AccessControl AccessControl   `yaml:"access_control"`
	Features      map[string]bool `yaml:"features"`
	Storage       StorageConfig   `yaml:"storage"`
	Session       SessionConfig   `yaml:"session"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	NATS          NATSConfig      `yaml:"nats"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig selects between the bundled fixtures and a real REST backend.
type APIConfig struct {
	UseMockAPI     bool          `yaml:"use_mock_api"`
	APIBaseURL     string        `yaml:"api_base_url"`
	MockAPIBaseURL string        `yaml:"mock_api_base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	// ForwardSessionToken sends the caller's session token upstream. Only
	// enable it when the backend verifies tokens with the same secret.
	ForwardSessionToken bool `yaml:"forward_session_token"`
	// Token is a static credential sent upstream when session tokens are
	// not forwarded.
	Token string `yaml:"token"`
}

type AccessControl struct {
	EnableClientRoleManagement      bool `yaml:"enable_client_role_management"`
	EnableClientPermissionOverrides bool `yaml:"enable_client_permission_overrides"`
	// PermissionOverrides are static per-user overrides merged under the
	// stored ones: email -> permission key -> level.
	PermissionOverrides map[string]map[string]string `yaml:"permission_overrides"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Secret        string        `yaml:"secret"`
	Issuer        string        `yaml:"issuer"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Environment: "development",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":9090",
		Log:         LogConfig{Level: "info", Format: "json"},
		API: APIConfig{
			UseMockAPI:     true,
			MockAPIBaseURL: "embedded",
			Timeout:        8 * time.Second,
		},
		AccessControl: AccessControl{
			EnableClientRoleManagement:      true,
			EnableClientPermissionOverrides: true,
		},
		Features: map[string]bool{
			"enableMarketplace":       true,
			"enableSocietyModule":     true,
			"enableVisitorManagement": false,
			"enableParking":           false,
		},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			Path:        "data",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "rent360:",
		},
		Session: SessionConfig{
			TTL:           8 * time.Hour,
			Secret:        "dev-insecure-change-me",
			Issuer:        "rent360",
			SweepSchedule: "@every 10m",
		},
		RateLimit: RateLimitConfig{PerSecond: 20, Burst: 40},
		NATS:      NATSConfig{Subject: "rent360.properties.changed"},
	}
}

// Load resolves configuration in priority order: defaults -> YAML file -> env.
// A .env file in the working directory is read first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("R360_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("R360_ENV", cfg.Environment)
	cfg.HTTPAddr = getEnv("R360_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getEnv("R360_GRPC_ADDR", cfg.GRPCAddr)
	cfg.Log.Level = getEnv("R360_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("R360_LOG_FORMAT", cfg.Log.Format)

	cfg.API.UseMockAPI = getEnvBool("R360_USE_MOCK_API", cfg.API.UseMockAPI)
	cfg.API.APIBaseURL = getEnv("R360_API_BASE_URL", cfg.API.APIBaseURL)
	cfg.API.MockAPIBaseURL = getEnv("R360_MOCK_API_BASE_URL", cfg.API.MockAPIBaseURL)
	cfg.API.Timeout = getEnvDuration("R360_API_TIMEOUT", cfg.API.Timeout)
	cfg.API.ForwardSessionToken = getEnvBool("R360_API_FORWARD_SESSION_TOKEN", cfg.API.ForwardSessionToken)
	cfg.API.Token = getEnv("R360_API_TOKEN", cfg.API.Token)

	cfg.AccessControl.EnableClientRoleManagement = getEnvBool("R360_ENABLE_CLIENT_ROLE_MANAGEMENT", cfg.AccessControl.EnableClientRoleManagement)
	cfg.AccessControl.EnableClientPermissionOverrides = getEnvBool("R360_ENABLE_CLIENT_PERMISSION_OVERRIDES", cfg.AccessControl.EnableClientPermissionOverrides)

	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}
	for _, key := range []string{"enableMarketplace", "enableSocietyModule", "enableVisitorManagement", "enableParking"} {
		cfg.Features[key] = getEnvBool("R360_FEATURE_"+envSuffix(key), cfg.Features[key])
	}

	cfg.Storage.Backend = strings.ToLower(getEnv("R360_STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.Storage.Path = getEnv("R360_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.DSN = getEnv("R360_STORAGE_DSN", cfg.Storage.DSN)
	cfg.Storage.RedisAddr = getEnv("R360_REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.RedisPassword = getEnv("R360_REDIS_PASSWORD", cfg.Storage.RedisPassword)
	cfg.Storage.RedisDB = getEnvInt("R360_REDIS_DB", cfg.Storage.RedisDB)
	cfg.Storage.RedisPrefix = getEnv("R360_REDIS_PREFIX", cfg.Storage.RedisPrefix)

	cfg.Session.TTL = getEnvDuration("R360_SESSION_TTL", cfg.Session.TTL)
	cfg.Session.Secret = getEnv("R360_SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.Issuer = getEnv("R360_SESSION_ISSUER", cfg.Session.Issuer)
	cfg.Session.SweepSchedule = getEnv("R360_SESSION_SWEEP", cfg.Session.SweepSchedule)

	cfg.RateLimit.PerSecond = getEnvFloat("R360_RATE_LIMIT_RPS", cfg.RateLimit.PerSecond)
	cfg.RateLimit.Burst = getEnvInt("R360_RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.NATS.URL = getEnv("R360_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = getEnv("R360_NATS_SUBJECT", cfg.NATS.Subject)
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendPostgres && strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("postgres storage requires a DSN")
	}
	if !c.API.UseMockAPI && strings.TrimSpace(c.API.APIBaseURL) == "" {
		return errors.New("api mode requires an API base URL")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("session secret is required")
	}
	return nil
}

// envSuffix turns "enableSocietyModule" into "SOCIETY_MODULE".
func envSuffix(feature string) string {
	name := strings.TrimPrefix(feature, "enable")
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
