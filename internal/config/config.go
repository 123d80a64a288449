// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Winding  WindingConfig  `mapstructure:"winding"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Enabled true"`
}

// SerialConfig represents the serial link settings of the winding machine
type SerialConfig struct {
	DefaultPort    string        `mapstructure:"default_port"`
	AutoConnect    bool          `mapstructure:"auto_connect"`
	BaudRate       int           `mapstructure:"baud_rate" validate:"required,gt=0"`
	DataBits       int           `mapstructure:"data_bits" validate:"oneof=5 6 7 8"`
	StopBits       int           `mapstructure:"stop_bits" validate:"oneof=1 2"`
	Parity         string        `mapstructure:"parity" validate:"oneof=none odd even mark space"`
	DTR            bool          `mapstructure:"dtr"`
	RTS            bool          `mapstructure:"rts"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" validate:"gte=0"`
	PacingDelay    time.Duration `mapstructure:"pacing_delay" validate:"gte=0"`
	MaxLineLength  int           `mapstructure:"max_line_length" validate:"gt=0"`
	ReadBufferSize int           `mapstructure:"read_buffer_size" validate:"gt=0"`
}

// WindingConfig represents winding session behaviour
type WindingConfig struct {
	SequenceGap    time.Duration `mapstructure:"sequence_gap" validate:"gte=0"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	HistoryQueue   int           `mapstructure:"history_queue" validate:"gt=0"`

	// HistoryRetention of zero keeps sessions forever
	HistoryRetention time.Duration `mapstructure:"history_retention" validate:"gte=0"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
	Host           string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port           int           `mapstructure:"port" validate:"required_if=Enabled true"`
	User           string        `mapstructure:"user" validate:"required_if=Enabled true"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname" validate:"required_if=Enabled true"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
}

// MQTTConfig represents the notification publisher configuration
type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker" validate:"required_if=Enabled true"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Topic          string        `mapstructure:"topic" validate:"required_if=Enabled true"`
	QoS            byte          `mapstructure:"qos" validate:"lte=2"`
	Retained       bool          `mapstructure:"retained"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Events         []string      `mapstructure:"events"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("../../internal/config")

	return load(v, true)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v, true)
}

// LoadDefaults builds a configuration from defaults and environment only
func LoadDefaults() (*Config, error) {
	return load(viper.New(), false)
}

func load(v *viper.Viper, readFile bool) (*Config, error) {
	// Environment variable support
	v.SetEnvPrefix("WINDER_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8086")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Serial defaults: 115200 8N1, DTR/RTS asserted
	v.SetDefault("serial.default_port", "")
	v.SetDefault("serial.auto_connect", false)
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.dtr", true)
	v.SetDefault("serial.rts", true)
	v.SetDefault("serial.read_timeout", "500ms")
	v.SetDefault("serial.write_timeout", "500ms")
	v.SetDefault("serial.settle_delay", "2500ms")
	v.SetDefault("serial.pacing_delay", "50ms")
	v.SetDefault("serial.max_line_length", 1024)
	v.SetDefault("serial.read_buffer_size", 256)

	// Winding defaults
	v.SetDefault("winding.sequence_gap", "100ms")
	v.SetDefault("winding.command_timeout", "5s")
	v.SetDefault("winding.history_queue", 64)
	v.SetDefault("winding.history_retention", "2160h")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "winder_service")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "winder")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", false)
	v.SetDefault("mqtt.connect_timeout", "10s")

	// Security defaults
	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", "1m")
	v.SetDefault("security.rate_limit_burst", 20)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "winder-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	// Struct tag validation
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.Serial.WriteTimeout < config.Serial.PacingDelay {
		return fmt.Errorf("serial.write_timeout must not be shorter than serial.pacing_delay")
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// DSN returns the lib/pq connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
