// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Security SecurityConfig `mapstructure:"security"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SerialConfig represents the board's serial link. An empty Port means the
// first port answering the handshake is used.
type SerialConfig struct {
	Port           string        `mapstructure:"port"`
	BaudRate       int           `mapstructure:"baud_rate"`
	DataBits       int           `mapstructure:"data_bits"`
	StopBits       int           `mapstructure:"stop_bits"`
	Parity         string        `mapstructure:"parity"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	WriteQueueSize int           `mapstructure:"write_queue_size"`
	PortPatterns   []string      `mapstructure:"port_patterns"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// BridgeConfig represents session behaviour
type BridgeConfig struct {
	AutoConnect      bool          `mapstructure:"auto_connect"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	CheckPhrase      string        `mapstructure:"check_phrase"`
	PersistReadings  bool          `mapstructure:"persist_readings"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	DBName        string        `mapstructure:"dbname"`
	SSLMode       string        `mapstructure:"sslmode"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	MaxLifetime   time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate   bool          `mapstructure:"auto_migrate"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents prometheus exposition
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	RateLimitEnabled bool     `mapstructure:"rate_limit_enabled"`
	RateLimitRate    float64  `mapstructure:"rate_limit_rate"`
	RateLimitBurst   int      `mapstructure:"rate_limit_burst"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

var (
	validEnvs      = []string{"development", "staging", "production", "test"}
	validLevels    = []string{"debug", "info", "warn", "error", "fatal"}
	validParities  = []string{"none", "odd", "even", "mark", "space"}
	validFormats   = []string{"json", "console"}
	validStopBits  = []int{1, 2}
	defaultConfigs = []string{".", "./config", "/etc/nori-bridge"}
)

// Load loads configuration from file and environment variables.
// A missing config file is not an error; defaults and environment apply.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if len(configPaths) == 0 {
		configPaths = defaultConfigs
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	// Environment variable support
	v.SetEnvPrefix("NORI_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.tls.enabled", false)

	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.read_buffer_size", 256)
	v.SetDefault("serial.write_queue_size", 64)
	v.SetDefault("serial.port_patterns", []string{"ttyUSB", "ttyACM", "cu.usbserial", "cu.usbmodem", "COM"})
	v.SetDefault("serial.probe_timeout", "2s")

	// Bridge defaults
	v.SetDefault("bridge.auto_connect", false)
	v.SetDefault("bridge.poll_interval", "50ms")
	v.SetDefault("bridge.handshake_timeout", "5s")
	v.SetDefault("bridge.reconnect_delay", "2s")
	v.SetDefault("bridge.check_phrase", "HiNori!")
	v.SetDefault("bridge.persist_readings", true)
	v.SetDefault("bridge.history_limit", 1000)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "nori_bridge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.retention_days", 7)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "nori_bridge")

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.rate_limit_rate", 50.0)
	v.SetDefault("security.rate_limit_burst", 100)

	// App defaults
	v.SetDefault("app.name", "nori-bridge")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	if !slices.Contains(validFormats, config.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}

	if config.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	if !slices.Contains(validParities, config.Serial.Parity) {
		return fmt.Errorf("serial.parity must be one of: %v", validParities)
	}
	if !slices.Contains(validStopBits, config.Serial.StopBits) {
		return fmt.Errorf("serial.stop_bits must be one of: %v", validStopBits)
	}

	if config.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge.poll_interval must be positive")
	}
	if config.Bridge.CheckPhrase == "" {
		return fmt.Errorf("bridge.check_phrase is required")
	}

	if config.Database.Enabled && config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}

	if config.Security.RateLimitEnabled && config.Security.RateLimitRate <= 0 {
		return fmt.Errorf("security.rate_limit_rate must be positive")
	}

	return nil
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
