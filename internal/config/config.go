package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the notification dispatcher.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	API        APIConfig        `mapstructure:"api"`
	Channels   ChannelsConfig   `mapstructure:"channels"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Offline    OfflineConfig    `mapstructure:"offline"`
	QuietHours QuietHoursConfig `mapstructure:"quiet_hours"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ChannelsConfig holds per-channel enablement and provider settings.
// Disabled channels are excluded from every attempt order.
type ChannelsConfig struct {
	SocketEnabled bool           `mapstructure:"socket_enabled"`
	PushEnabled   bool           `mapstructure:"push_enabled"`
	RelayEnabled  bool           `mapstructure:"relay_enabled"`
	SendTimeout   time.Duration  `mapstructure:"send_timeout"`
	Firebase      FirebaseConfig `mapstructure:"firebase"`
	Relay         RelayConfig    `mapstructure:"relay"`
}

// FirebaseConfig holds FCM push gateway configuration
type FirebaseConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
}

// RelayConfig holds the third-party push relay endpoint
type RelayConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RetryConfig holds backoff parameters for per-channel retries.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	Factor        float64       `mapstructure:"factor"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig holds per-user send-rate ceilings.
type RateLimitConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour"`
	MaxPerDay  int `mapstructure:"max_per_day"`
	// System-typed events skip the limiter when true.
	SystemBypass bool `mapstructure:"system_bypass"`
	// Auto-block: this many rejections within the violation window
	// suppresses the user entirely for the cooldown period.
	AutoBlockThreshold int           `mapstructure:"auto_block_threshold"`
	ViolationWindow    time.Duration `mapstructure:"violation_window"`
	AutoBlockCooldown  time.Duration `mapstructure:"auto_block_cooldown"`
}

// OfflineConfig holds offline queue replay bounds.
type OfflineConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// QuietHoursConfig holds deployment defaults applied when a user has
// not configured a window.
type QuietHoursConfig struct {
	DefaultStart int `mapstructure:"default_start"`
	DefaultEnd   int `mapstructure:"default_end"`
}

// MetricsConfig holds monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Println("Config file not found, using environment variables and defaults")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.database", "notifications")
	viper.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "notification-events")

	// API defaults
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)

	// Channel defaults
	viper.SetDefault("channels.socket_enabled", true)
	viper.SetDefault("channels.push_enabled", true)
	viper.SetDefault("channels.relay_enabled", true)
	viper.SetDefault("channels.send_timeout", 10*time.Second)

	// Retry defaults: base 30s, doubling, capped at an hour
	viper.SetDefault("retry.max_attempts", 4)
	viper.SetDefault("retry.base_delay", 30*time.Second)
	viper.SetDefault("retry.factor", 2.0)
	viper.SetDefault("retry.max_delay", time.Hour)
	viper.SetDefault("retry.sweep_interval", 30*time.Second)

	// Rate limit defaults
	viper.SetDefault("rate_limit.max_per_hour", 30)
	viper.SetDefault("rate_limit.max_per_day", 200)
	viper.SetDefault("rate_limit.system_bypass", true)
	viper.SetDefault("rate_limit.auto_block_threshold", 10)
	viper.SetDefault("rate_limit.violation_window", 5*time.Minute)
	viper.SetDefault("rate_limit.auto_block_cooldown", time.Hour)

	// Offline queue defaults
	viper.SetDefault("offline.max_retries", 5)
	viper.SetDefault("offline.retention", 7*24*time.Hour)
	viper.SetDefault("offline.sweep_interval", time.Minute)

	// Quiet hours defaults: disabled (start == end)
	viper.SetDefault("quiet_hours.default_start", 0)
	viper.SetDefault("quiet_hours.default_end", 0)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9091)
	viper.SetDefault("metrics.path", "/metrics")

	// Map environment variables
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.database", "DB_NAME")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_TOPIC")
	viper.BindEnv("channels.firebase.credentials_path", "FIREBASE_CREDENTIALS_PATH")
	viper.BindEnv("channels.relay.base_url", "RELAY_BASE_URL")
	viper.BindEnv("channels.relay.auth_token", "RELAY_AUTH_TOKEN")
}
