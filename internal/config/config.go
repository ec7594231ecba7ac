package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the report scheduler services
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	API       APIConfig       `mapstructure:"api"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
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

// SchedulerConfig holds dispatch evaluator configuration
type SchedulerConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	WorkerCount     int           `mapstructure:"worker_count"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	DefaultTimeZone string        `mapstructure:"default_time_zone"`
}

// ChannelsConfig holds delivery provider configurations
type ChannelsConfig struct {
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
}

// SendGridConfig holds SendGrid email configuration
type SendGridConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// WhatsAppConfig holds WhatsApp Business Cloud API configuration
type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	AccessToken   string `mapstructure:"access_token"`
	TemplateName  string `mapstructure:"template_name"`
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

	// Set default values
	setDefaults()

	// Read from environment variables
	viper.AutomaticEnv()

	// Read config file if it exists
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
	viper.SetDefault("database.database", "inspections")
	viper.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "report-dispatches")

	// API defaults
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)

	// Scheduler defaults
	viper.SetDefault("scheduler.tick_interval", time.Minute)
	viper.SetDefault("scheduler.worker_count", 4)
	viper.SetDefault("scheduler.send_timeout", 30*time.Second)
	viper.SetDefault("scheduler.lock_ttl", 60*time.Second)
	viper.SetDefault("scheduler.default_time_zone", "America/Toronto")

	// WhatsApp defaults
	viper.SetDefault("channels.whatsapp.base_url", "https://graph.facebook.com/v18.0")
	viper.SetDefault("channels.whatsapp.template_name", "inspection_report_summary")

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
	viper.BindEnv("channels.sendgrid.api_key", "SENDGRID_API_KEY")
	viper.BindEnv("channels.sendgrid.from_email", "SENDGRID_FROM_EMAIL")
	viper.BindEnv("channels.whatsapp.phone_number_id", "WHATSAPP_PHONE_NUMBER_ID")
	viper.BindEnv("channels.whatsapp.access_token", "WHATSAPP_ACCESS_TOKEN")
}
