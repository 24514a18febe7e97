package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"crypto_dashboard/logger"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port        string
	Environment string

	DBDriver          string
	DatabaseURL       string
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	SQLitePath        string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	CoinGeckoURL   string
	CoinGeckoKey   string
	RequestTimeout time.Duration

	Timezone           string
	UpdateScheduleTime string // "HH:MM" in Timezone
	PurgeScheduleTime  string
	RetentionDays      int

	EmailEnabled bool
	AWSRegion    string
	SESFromEmail string
	SESToEmail   string

	RedisURL string
	CacheTTL time.Duration

	MongoURI      string
	MongoDatabase string

	RefreshRateLimitPerHour int

	LogLevel string
	LogFile  string
}

var AppConfig *Config

// LoadConfig loads environment variables, reading .env first when present
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.GetLogger().WithComponent("config").Debug("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "crypto_dashboard"),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		SQLitePath:        getEnv("SQLITE_PATH", "data/crypto_dashboard.db"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 300*time.Second),

		CoinGeckoURL:   strings.TrimRight(getEnv("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"), "/"),
		CoinGeckoKey:   getEnv("COINGECKO_API_KEY", ""),
		RequestTimeout: getEnvDuration("API_REQUEST_TIMEOUT", 30*time.Second),

		Timezone:           getEnv("TIMEZONE", "America/Chicago"),
		UpdateScheduleTime: getEnv("UPDATE_SCHEDULE_TIME", "09:00"),
		PurgeScheduleTime:  getEnv("PURGE_SCHEDULE_TIME", "03:00"),
		RetentionDays:      getEnvInt("DATA_RETENTION_DAYS", 30),

		EmailEnabled: getEnvBool("ENABLE_EMAIL_NOTIFICATIONS", true),
		AWSRegion:    getEnv("AWS_REGION", "us-east-2"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESToEmail:   getEnv("SES_TO_EMAIL", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getEnvDuration("CACHE_TTL", 10*time.Minute),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "crypto_dashboard"),

		RefreshRateLimitPerHour: getEnvInt("REFRESH_RATE_LIMIT_PER_HOUR", 100),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	AppConfig = config
	return config, nil
}

// Validate reports settings the application cannot start with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	for name, v := range map[string]string{
		"UPDATE_SCHEDULE_TIME": c.UpdateScheduleTime,
		"PURGE_SCHEDULE_TIME":  c.PurgeScheduleTime,
	} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid %s %q, expected HH:MM", name, v)
		}
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("DATA_RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}
	return nil
}

// Location returns the scheduler time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the connection string for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

// InitDB opens the database described by cfg and verifies the connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	log := logger.GetLogger().WithComponent("config")
	log.WithFields(logger.Fields{
		"driver": cfg.DBDriver,
		"host":   maskHost(cfg.DBHost),
		"dbname": cfg.DBName,
	}).Info("Connecting to database")

	logLevel := "info"
	if cfg.Environment == "production" {
		logLevel = "error"
	}

	db, err := OpenDatabase(cfg.DBDriver, cfg.DSN(), logLevel)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("Database connection verified successfully")
	return db, nil
}

// OpenDatabase opens a gorm handle for driver ("postgres" or "sqlite").
// logLevel is one of silent, error, warn, info.
func OpenDatabase(driver, dsn, logLevel string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormLogLevel(logLevel)),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	default:
		return gormlogger.Info
	}
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
