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

// Config is read-only after Load returns.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Mail     MailConfig     `yaml:"mail"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	RateLimit       int      `yaml:"rate_limit"`
	RateLimitWindow Duration `yaml:"rate_limit_window"`
	TrustProxy      bool     `yaml:"trust_proxy"` // only behind a proxy that rewrites X-Forwarded-For
}

type DatabaseConfig struct {
	URL             string   `yaml:"-"` // env-only
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type RabbitMQConfig struct {
	URL string `yaml:"-"` // env-only
}

// RedisConfig leaves caching disabled when Addr is empty.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"-"`
	DB       int      `yaml:"db"`
	Prefix   string   `yaml:"prefix"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

type MailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	User       string   `yaml:"user"`
	Password   string   `yaml:"-"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// PipelineConfig tunes the lead synchronizer. A zero ResyncInterval turns
// periodic reloads off.
type PipelineConfig struct {
	ResyncInterval Duration `yaml:"resync_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration accepts "30s" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load resolves configuration with precedence defaults → YAML file → env.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("PIPELINE_CONFIG_PATH", "config/pipeline.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			AllowedOrigins:  []string{"http://localhost:5173"},
			RateLimit:       60,
			RateLimitWindow: Duration(time.Minute),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			Prefix:   "pipeline:",
			CacheTTL: Duration(time.Minute),
		},
		Mail: MailConfig{
			Port: 587,
			From: "no-reply@localhost",
		},
		Pipeline: PipelineConfig{
			ResyncInterval: Duration(5 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile is a no-op when the file does not exist.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = getEnv("SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.RateLimit = getEnvInt("RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", cfg.Server.RateLimitWindow)
	cfg.Server.TrustProxy = getEnvBool("TRUST_PROXY", cfg.Server.TrustProxy)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.CacheTTL = getEnvDuration("CACHE_TTL", cfg.Redis.CacheTTL)

	cfg.Mail.Host = getEnv("MAIL_HOST", cfg.Mail.Host)
	cfg.Mail.Port = getEnvInt("MAIL_PORT", cfg.Mail.Port)
	cfg.Mail.User = getEnv("MAIL_USER", cfg.Mail.User)
	cfg.Mail.Password = getEnv("MAIL_PASS", cfg.Mail.Password)
	cfg.Mail.From = getEnv("MAIL_FROM", cfg.Mail.From)
	cfg.Mail.Recipients = getEnvList("DEAL_NOTIFY_RECIPIENTS", cfg.Mail.Recipients)

	cfg.Pipeline.ResyncInterval = getEnvDuration("PIPELINE_RESYNC_INTERVAL", cfg.Pipeline.ResyncInterval)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Pipeline.ResyncInterval < 0 {
		errs = append(errs, errors.New("resync_interval must not be negative"))
	}
	if c.Server.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit must be positive, got %d", c.Server.RateLimit))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format must be json or console, got %q", c.Log.Format))
	}
	if c.Mail.Host != "" && len(c.Mail.Recipients) == 0 {
		errs = append(errs, errors.New("DEAL_NOTIFY_RECIPIENTS is required when MAIL_HOST is set"))
	}
	return errors.Join(errs...)
}

// MailEnabled reports whether deal-won emails can be sent.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
