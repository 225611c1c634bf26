package config

import (
	"errors"
	"io/fs"
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
	Env       string
	Port      int
	APIPrefix string

	Database          DatabaseConfig
	Redis             RedisConfig
	JWT               JWTConfig
	Cookie            CookieConfig
	CORS              CORSConfig
	Log               LogConfig
	ZeroTrust         ZeroTrustConfig
	Override          OverrideConfig
	Geo               GeoConfig
	LoginRateLimit    RateLimitConfig
	Permissions       PermissionsConfig
	PhoneVerification PhoneVerificationConfig
	MQTT              MQTTConfig
	InfluxDB          InfluxDBConfig
	Exports           ExportsConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the two independent signing secrets used by the token issuer.
type JWTConfig struct {
	AccessSecret      string
	RefreshSecret     string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

// CookieConfig controls the refresh-token cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ZeroTrustConfig tunes the gatekeeper policy and the threat engine.
type ZeroTrustConfig struct {
	TrustFloor            int
	LockdownThreshold     int
	RestrictedThreshold   int
	DecayInterval         time.Duration
	DecayAmount           int
	AuditThrottleWindow   time.Duration
	AuditAllowedDecisions bool
	MaxFailedLogins       int
}

// OverrideConfig governs emergency-override grants.
type OverrideConfig struct {
	GrantDuration      time.Duration
	MaxRequestsPerHour int
}

// GeoConfig configures geo-velocity anomaly detection.
type GeoConfig struct {
	MaxSpeedKMH      float64
	CriticalSpeedKMH float64
	TableFile        string
}

// RateLimitConfig is a token bucket definition.
type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// PermissionsConfig points at an optional YAML role table overriding the embedded one.
type PermissionsConfig struct {
	File string
}

// PhoneVerificationConfig controls verification codes.
type PhoneVerificationConfig struct {
	CodeTTL time.Duration
}

// MQTTConfig configures the alert bus.
type MQTTConfig struct {
	Enabled     bool
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// InfluxDBConfig configures threat history export.
type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// ExportsConfig configures asynchronous audit exports.
type ExportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	MaxRows           int
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		AccessSecret:      v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret:     v.GetString("JWT_REFRESH_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 15*time.Minute),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.Cookie = CookieConfig{
		Name:   v.GetString("REFRESH_COOKIE_NAME"),
		Path:   v.GetString("REFRESH_COOKIE_PATH"),
		Domain: v.GetString("REFRESH_COOKIE_DOMAIN"),
		Secure: v.GetBool("REFRESH_COOKIE_SECURE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.ZeroTrust = ZeroTrustConfig{
		TrustFloor:            v.GetInt("TRUST_FLOOR"),
		LockdownThreshold:     v.GetInt("THREAT_LOCKDOWN_THRESHOLD"),
		RestrictedThreshold:   v.GetInt("THREAT_RESTRICTED_THRESHOLD"),
		DecayInterval:         parseDuration(v.GetString("THREAT_DECAY_INTERVAL"), 5*time.Minute),
		DecayAmount:           v.GetInt("THREAT_DECAY_AMOUNT"),
		AuditThrottleWindow:   parseDuration(v.GetString("AUDIT_THROTTLE_WINDOW"), 10*time.Second),
		AuditAllowedDecisions: v.GetBool("AUDIT_ALLOWED_DECISIONS"),
		MaxFailedLogins:       v.GetInt("MAX_FAILED_LOGINS"),
	}

	cfg.Override = OverrideConfig{
		GrantDuration:      parseDuration(v.GetString("OVERRIDE_GRANT_DURATION"), 15*time.Minute),
		MaxRequestsPerHour: v.GetInt("OVERRIDE_MAX_PER_HOUR"),
	}

	cfg.Geo = GeoConfig{
		MaxSpeedKMH:      v.GetFloat64("GEO_MAX_SPEED_KMH"),
		CriticalSpeedKMH: v.GetFloat64("GEO_CRITICAL_SPEED_KMH"),
		TableFile:        v.GetString("GEO_TABLE_FILE"),
	}

	cfg.LoginRateLimit = RateLimitConfig{
		PerMinute: v.GetInt("LOGIN_RATE_PER_MINUTE"),
		Burst:     v.GetInt("LOGIN_RATE_BURST"),
	}

	cfg.Permissions = PermissionsConfig{File: v.GetString("PERMISSIONS_FILE")}

	cfg.PhoneVerification = PhoneVerificationConfig{
		CodeTTL: parseDuration(v.GetString("PHONE_CODE_TTL"), 10*time.Minute),
	}

	cfg.MQTT = MQTTConfig{
		Enabled:     v.GetBool("ENABLE_MQTT"),
		BrokerURL:   v.GetString("MQTT_BROKER_URL"),
		ClientID:    v.GetString("MQTT_CLIENT_ID"),
		Username:    v.GetString("MQTT_USERNAME"),
		Password:    v.GetString("MQTT_PASSWORD"),
		TopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),
		QoS:         v.GetInt("MQTT_QOS"),
	}

	cfg.InfluxDB = InfluxDBConfig{
		Enabled: v.GetBool("ENABLE_INFLUXDB"),
		URL:     v.GetString("INFLUXDB_URL"),
		Token:   v.GetString("INFLUXDB_TOKEN"),
		Org:     v.GetString("INFLUXDB_ORG"),
		Bucket:  v.GetString("INFLUXDB_BUCKET"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), time.Hour),
		CleanupInterval:   parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
		MaxRows:           v.GetInt("EXPORTS_MAX_ROWS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "citygrid")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_ACCESS_SECRET", "dev_access_secret")
	v.SetDefault("JWT_REFRESH_SECRET", "dev_refresh_secret")
	v.SetDefault("JWT_ISSUER", "citygrid-api")
	v.SetDefault("JWT_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("REFRESH_COOKIE_NAME", "refresh_token")
	v.SetDefault("REFRESH_COOKIE_PATH", "/api/v1/auth")
	v.SetDefault("REFRESH_COOKIE_DOMAIN", "")
	v.SetDefault("REFRESH_COOKIE_SECURE", true)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TRUST_FLOOR", 40)
	v.SetDefault("THREAT_LOCKDOWN_THRESHOLD", 80)
	v.SetDefault("THREAT_RESTRICTED_THRESHOLD", 90)
	v.SetDefault("THREAT_DECAY_INTERVAL", "5m")
	v.SetDefault("THREAT_DECAY_AMOUNT", 5)
	v.SetDefault("AUDIT_THROTTLE_WINDOW", "10s")
	v.SetDefault("AUDIT_ALLOWED_DECISIONS", true)
	v.SetDefault("MAX_FAILED_LOGINS", 5)

	v.SetDefault("OVERRIDE_GRANT_DURATION", "15m")
	v.SetDefault("OVERRIDE_MAX_PER_HOUR", 3)

	v.SetDefault("GEO_MAX_SPEED_KMH", 900)
	v.SetDefault("GEO_CRITICAL_SPEED_KMH", 2000)
	v.SetDefault("GEO_TABLE_FILE", "")

	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("LOGIN_RATE_BURST", 5)

	v.SetDefault("PERMISSIONS_FILE", "")
	v.SetDefault("PHONE_CODE_TTL", "10m")

	v.SetDefault("ENABLE_MQTT", false)
	v.SetDefault("MQTT_BROKER_URL", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "citygrid-api")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_TOPIC_PREFIX", "citygrid")
	v.SetDefault("MQTT_QOS", 1)

	v.SetDefault("ENABLE_INFLUXDB", false)
	v.SetDefault("INFLUXDB_URL", "http://localhost:8086")
	v.SetDefault("INFLUXDB_TOKEN", "")
	v.SetDefault("INFLUXDB_ORG", "citygrid")
	v.SetDefault("INFLUXDB_BUCKET", "security")

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "1h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)
	v.SetDefault("EXPORTS_MAX_ROWS", 5000)
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

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
