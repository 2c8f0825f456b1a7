package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env        string
	ListenAddr string
	OpsAddr    string

	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Server     ServerConfig
	Enrollment EnrollmentConfig
	Grading    GradingConfig
	Audit      AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig tunes the line-protocol listener.
type ServerConfig struct {
	ReadTimeout         time.Duration
	ShutdownTimeout     time.Duration
	MaintenanceCacheTTL time.Duration
}

// EnrollmentConfig carries registration/drop policy knobs.
type EnrollmentConfig struct {
	DropDeadline    time.Time
	StrictConflicts bool
}

// GradingConfig controls export artifact handling.
type GradingConfig struct {
	ExportsDir       string
	ExportsRetention time.Duration
}

// AuditConfig tunes the asynchronous audit writer.
type AuditConfig struct {
	Workers    int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.ListenAddr = v.GetString("LISTEN_ADDR")
	cfg.OpsAddr = v.GetString("OPS_ADDR")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Server = ServerConfig{
		ReadTimeout:         parseDuration(v.GetString("READ_TIMEOUT"), 10*time.Second),
		ShutdownTimeout:     parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 15*time.Second),
		MaintenanceCacheTTL: parseDuration(v.GetString("MAINTENANCE_CACHE_TTL"), 2*time.Second),
	}

	cfg.Enrollment = EnrollmentConfig{
		DropDeadline:    parseDate(v.GetString("DROP_DEADLINE")),
		StrictConflicts: v.GetBool("ENROLLMENT_STRICT_CONFLICTS"),
	}

	cfg.Grading = GradingConfig{
		ExportsDir:       v.GetString("EXPORTS_STORAGE_DIR"),
		ExportsRetention: parseDuration(v.GetString("EXPORTS_RETENTION"), 30*24*time.Hour),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		MaxRetries: v.GetInt("AUDIT_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("LISTEN_ADDR", ":7400")
	v.SetDefault("OPS_ADDR", ":7401")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "registrar")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("READ_TIMEOUT", "10s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("MAINTENANCE_CACHE_TTL", "2s")

	v.SetDefault("DROP_DEADLINE", "")
	v.SetDefault("ENROLLMENT_STRICT_CONFLICTS", false)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_RETENTION", "720h")

	v.SetDefault("AUDIT_WORKERS", 1)
	v.SetDefault("AUDIT_MAX_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// parseDate accepts YYYY-MM-DD; a zero time disables the deadline.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}
	}

	return t
}
