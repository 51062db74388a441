package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	TimeZone        string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string
	Env          string
	AllowedHosts []string
	// CORSOrigins are the browser origins allowed to send credentialed requests
	CORSOrigins []string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// SessionConfig holds the cookie session used to remember the active tenant
type SessionConfig struct {
	Name   string
	Secret string
	Secure bool
	MaxAge int
}

// TenantConfig controls how the tenant selector is read from requests
type TenantConfig struct {
	Header        string
	HeaderAliases []string
}

// MailConfig holds SMTP settings for account notifications
type MailConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	From         string
	AdminContact string
}

// Enabled reports whether SMTP delivery is configured
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.Port != "" && m.From != ""
}

// ExternalDBConfig holds the optional external mirror database
type ExternalDBConfig struct {
	Enabled      bool
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	ClientsQuery string
	ResultsTable string
	DefaultLimit int
}

// GetDSN returns the connection string for the configured mirror driver
func (c *ExternalDBConfig) GetDSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// StorageConfig selects where KYC documents are written
type StorageConfig struct {
	Backend     string
	LocalRoot   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	MaxUploadMB int
}

// SignatureConfig enables HMAC request signing when Secret is set
type SignatureConfig struct {
	Secret  string
	KeyID   string
	MaxSkew time.Duration
	// NonceCacheSize bounds the nonces remembered for replay detection
	NonceCacheSize int
}

// ReportConfig holds reporting settings
type ReportConfig struct {
	TimeZone string
}

// Config holds all configuration
type Config struct {
	DB         DBConfig
	Server     ServerConfig
	JWT        JWTConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Session    SessionConfig
	Tenant     TenantConfig
	Mail       MailConfig
	ExternalDB ExternalDBConfig
	Storage    StorageConfig
	Signature  SignatureConfig
	Report     ReportConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "cra"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			TimeZone:        getEnv("DB_TIMEZONE", "UTC"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8000"),
			Env:          getEnv("APP_ENV", "development"),
			AllowedHosts: getEnvAsList("ALLOWED_HOSTS", []string{"localhost:8000"}),
			CORSOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "cra-development-signing-key"),
			AccessLifetime:  getEnvAsDuration("JWT_ACCESS_LIFETIME", 60*time.Minute),
			RefreshLifetime: getEnvAsDuration("JWT_REFRESH_LIFETIME", 24*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "cra"),
		},
		Session: SessionConfig{
			Name:   getEnv("SESSION_NAME", "cra-session"),
			Secret: getEnv("SESSION_SECRET", ""),
			Secure: getEnvAsBool("SESSION_SECURE", false),
			MaxAge: getEnvAsInt("SESSION_MAX_AGE", 86400*7),
		},
		Tenant: TenantConfig{
			Header:        getEnv("TENANT_HEADER", "X-Tenant-ID"),
			HeaderAliases: getEnvAsList("TENANT_HEADER_ALIASES", []string{"X-Company-ID", "X-Channel-ID"}),
		},
		Mail: MailConfig{
			Host:         getEnv("SMTP_HOST", ""),
			Port:         getEnv("SMTP_PORT", "587"),
			User:         getEnv("SMTP_USER", ""),
			Password:     getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("MAIL_FROM", "noreply@cra.local"),
			AdminContact: getEnv("ADMIN_CONTACT_EMAIL", "info@cra.local"),
		},
		ExternalDB: ExternalDBConfig{
			Enabled:      getEnvAsBool("EXTERNAL_DB_ENABLED", false),
			Driver:       getEnv("EXTERNAL_DB_DRIVER", "mysql"),
			Host:         getEnv("EXTERNAL_DB_HOST", "localhost"),
			Port:         getEnv("EXTERNAL_DB_PORT", "3306"),
			User:         getEnv("EXTERNAL_DB_USER", ""),
			Password:     getEnv("EXTERNAL_DB_PASSWORD", ""),
			DBName:       getEnv("EXTERNAL_DB_NAME", ""),
			ClientsQuery: getEnv("EXTERNAL_DB_CLIENTS_QUERY", ""),
			ResultsTable: getEnv("EXTERNAL_DB_RESULTS_TABLE", "assessment_results"),
			DefaultLimit: getEnvAsInt("EXTERNAL_DB_DEFAULT_LIMIT", 50),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			LocalRoot:   getEnv("STORAGE_LOCAL_ROOT", "media"),
			S3Bucket:    getEnv("STORAGE_S3_BUCKET", ""),
			S3Region:    getEnv("STORAGE_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("STORAGE_S3_ENDPOINT", ""),
			S3Prefix:    getEnv("STORAGE_S3_PREFIX", ""),
			MaxUploadMB: getEnvAsInt("STORAGE_MAX_UPLOAD_MB", 20),
		},
		Signature: SignatureConfig{
			Secret:         getEnv("SIGNATURE_SECRET", ""),
			KeyID:          getEnv("SIGNATURE_KEY_ID", ""),
			MaxSkew:        getEnvAsDuration("SIGNATURE_MAX_SKEW", 5*time.Minute),
			NonceCacheSize: getEnvAsInt("SIGNATURE_NONCE_CACHE_SIZE", 10000),
		},
		Report: ReportConfig{
			TimeZone: getEnv("TIME_ZONE", "UTC"),
		},
	}

	if config.ExternalDB.Driver != "mysql" && config.ExternalDB.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported EXTERNAL_DB_DRIVER %q", config.ExternalDB.Driver)
	}
	if config.Storage.Backend != "local" && config.Storage.Backend != "s3" {
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", config.Storage.Backend)
	}
	if _, err := time.LoadLocation(config.Report.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", config.Report.TimeZone, err)
	}
	for _, origin := range config.Server.CORSOrigins {
		// credentialed responses cannot use a wildcard origin
		if origin == "*" {
			return nil, fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins, not %q", origin)
		}
	}

	return config, nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.String("tenant_header", c.Tenant.Header),
		zap.Bool("mail_enabled", c.Mail.Enabled()),
		zap.Bool("external_db_enabled", c.ExternalDB.Enabled),
		zap.String("storage_backend", c.Storage.Backend),
		zap.Bool("signature_required", c.Signature.Secret != ""),
		zap.String("time_zone", c.Report.TimeZone),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get comma separated environment variables
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
