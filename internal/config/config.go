package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Metering   MeteringConfig
	Keys       KeysConfig
	Settlement SettlementConfig
	Auth       AuthConfig
	Encoder    EncoderConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	PublicBaseURL   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// MeteringConfig holds the micropayment parameters for metered sessions
type MeteringConfig struct {
	DefaultPricePerSegment string
	Asset                  string
	ServerAddress          string
	LegacyTokenTTL         time.Duration
	IdleTimeout            time.Duration
	IdleSweepInterval      time.Duration
	RateLimitRPS           int
	RateLimitBurst         int
}

// KeysConfig holds the server key-encryption key for master secrets
type KeysConfig struct {
	KEKHex string
}

// KEK decodes the configured key-encryption key.
func (k KeysConfig) KEK() ([]byte, error) {
	kek, err := hex.DecodeString(k.KEKHex)
	if err != nil {
		return nil, fmt.Errorf("keys.kekHex is not valid hex: %w", err)
	}
	if len(kek) != 32 {
		return nil, fmt.Errorf("keys.kekHex must decode to 32 bytes, got %d", len(kek))
	}
	return kek, nil
}

// SettlementConfig holds the external chain-settlement endpoint
type SettlementConfig struct {
	Endpoint string
	Secret   string
}

// AuthConfig holds creator API authentication configuration
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// EncoderConfig holds segmentation configuration
type EncoderConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	SegmentTime int
	Bandwidth   int64
}

// MetricsConfig holds the Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	JaegerEndpoint string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.publicBaseURL", "http://localhost:8080")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "streamgate")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "streamgate")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Metering defaults
	viper.SetDefault("metering.defaultPricePerSegment", "0.01")
	viper.SetDefault("metering.asset", "usdc")
	viper.SetDefault("metering.serverAddress", "")
	viper.SetDefault("metering.legacyTokenTTL", "4h")
	viper.SetDefault("metering.idleTimeout", "10m")
	viper.SetDefault("metering.idleSweepInterval", "1m")
	viper.SetDefault("metering.rateLimitRPS", 50)
	viper.SetDefault("metering.rateLimitBurst", 100)

	// Settlement defaults: empty endpoint disables distribution
	viper.SetDefault("settlement.endpoint", "")
	viper.SetDefault("settlement.secret", "")

	// Auth defaults
	viper.SetDefault("auth.jwtSecret", "")
	viper.SetDefault("auth.tokenTTL", "24h")

	// Encoder defaults
	viper.SetDefault("encoder.ffmpegPath", "ffmpeg")
	viper.SetDefault("encoder.ffprobePath", "ffprobe")
	viper.SetDefault("encoder.tempDir", "/tmp/streamgate")
	viper.SetDefault("encoder.segmentTime", 6)
	viper.SetDefault("encoder.bandwidth", 2500000)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.serviceName", "streamgate")
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
