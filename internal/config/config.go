// Package config manages configuration for the syncrelay server and CLI.
// It uses Viper for unified configuration management from files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	awsconfig "github.com/enflame-media/syncrelay/internal/config/aws"
	"github.com/enflame-media/syncrelay/internal/constants"
)

// Config represents the unified configuration structure for the relay and its CLI.
// It supports loading from YAML files and environment variables.
type Config struct {
	// Server
	Port        int                   `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel    string                `mapstructure:"log_level"`
	Environment constants.Environment `mapstructure:"environment" validate:"oneof=development production cli"`

	// Backends
	StorageBackend constants.BackendProvider `mapstructure:"storage_backend" validate:"oneof=memory dynamodb"`
	SessionBackend constants.BackendProvider `mapstructure:"session_backend" validate:"oneof=memory dynamodb redis"`

	// Connection registry
	MaxConnectionsPerUser            int           `mapstructure:"max_connections_per_user" validate:"min=1"`
	ConnectionTimeout                time.Duration `mapstructure:"connection_timeout" validate:"gt=0"`
	ReapInterval                     time.Duration `mapstructure:"reap_interval" validate:"gt=0"`
	AllowDuplicateUserConnections    bool          `mapstructure:"allow_duplicate_user_connections"`
	AllowDuplicateSessionConnections bool          `mapstructure:"allow_duplicate_session_connections"`
	AllowDuplicateMachineConnections bool          `mapstructure:"allow_duplicate_machine_connections"`

	// Transport
	EnableAutoResponse bool          `mapstructure:"enable_auto_response"`
	MaxMessageSize     int64         `mapstructure:"max_message_size" validate:"min=1"`
	AuthTimeout        time.Duration `mapstructure:"auth_timeout" validate:"gt=0"`
	PingInterval       time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SendBufferSize     int           `mapstructure:"send_buffer_size" validate:"min=1"`
	ReplayLimit        int           `mapstructure:"replay_limit" validate:"min=1"`

	// Session activity cache
	SessionCacheTTL             time.Duration `mapstructure:"session_cache_ttl" validate:"gt=0"`
	SessionCacheNegativeTTL     time.Duration `mapstructure:"session_cache_negative_ttl" validate:"gt=0"`
	SessionCacheCleanupInterval time.Duration `mapstructure:"session_cache_cleanup_interval" validate:"gt=0"`

	// Alarm retry scheduler
	AlarmMaxRetries   int     `mapstructure:"alarm_max_retries" validate:"min=0"`
	AlarmBaseDelayMs  int64   `mapstructure:"alarm_base_delay_ms" validate:"min=0"`
	AlarmMaxDelayMs   int64   `mapstructure:"alarm_max_delay_ms" validate:"gtefield=AlarmBaseDelayMs"`
	AlarmJitterFactor float64 `mapstructure:"alarm_jitter_factor" validate:"min=0,max=1"`

	// Provider specific
	AWS   *awsconfig.Config `mapstructure:"aws"`
	Redis RedisConfig       `mapstructure:"redis"`

	// CLI client
	RelayURL                   string  `mapstructure:"relay_url" yaml:"relay_url" validate:"omitempty,url"`
	Token                      string  `mapstructure:"token" yaml:"token"`
	KeyMaterial                string  `mapstructure:"key_material" yaml:"key_material"`
	ReconnectBaseDelayMs       int64   `mapstructure:"reconnect_base_delay_ms" validate:"min=0"`
	ReconnectMaxDelayMs        int64   `mapstructure:"reconnect_max_delay_ms" validate:"gtefield=ReconnectBaseDelayMs"`
	ReconnectBackoffMultiplier float64 `mapstructure:"reconnect_backoff_multiplier" validate:"gte=1"`
	ReconnectMaxAttempts       int     `mapstructure:"reconnect_max_attempts" validate:"min=0"`
}

// RedisConfig configures the Redis session lookup backend.
type RedisConfig struct {
	Addr             string `mapstructure:"addr"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db" validate:"min=0"`
	SessionKeyPrefix string `mapstructure:"session_key_prefix"`
}

var validate = validator.New()

// envKeys lists every key that can be overridden through a SYNCRELAY_ variable.
var envKeys = []string{
	"port",
	"log_level",
	"environment",
	"storage_backend",
	"session_backend",
	"max_connections_per_user",
	"connection_timeout",
	"reap_interval",
	"allow_duplicate_user_connections",
	"allow_duplicate_session_connections",
	"allow_duplicate_machine_connections",
	"enable_auto_response",
	"max_message_size",
	"auth_timeout",
	"ping_interval",
	"write_timeout",
	"send_buffer_size",
	"replay_limit",
	"session_cache_ttl",
	"session_cache_negative_ttl",
	"session_cache_cleanup_interval",
	"alarm_max_retries",
	"alarm_base_delay_ms",
	"alarm_max_delay_ms",
	"alarm_jitter_factor",
	"redis.addr",
	"redis.password",
	"redis.db",
	"redis.session_key_prefix",
	"relay_url",
	"token",
	"key_material",
	"reconnect_base_delay_ms",
	"reconnect_max_delay_ms",
	"reconnect_backoff_multiplier",
	"reconnect_max_attempts",
}

// Load loads the configuration using Viper.
// Values come from defaults, then ~/.syncrelay/config.yaml when present,
// then SYNCRELAY_ environment variables, which take precedence.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := loadConfigFile(v, configPath); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("error loading config file: %w", err)
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.StorageBackend = normalizeBackendProvider(cfg.StorageBackend)
	cfg.SessionBackend = normalizeBackendProvider(cfg.SessionBackend)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := validateBackends(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads configuration and exits on error.
// Suitable for application startup where configuration errors should be fatal.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Save writes the client settings to the user's config file.
// Overwrites the existing config file if it exists.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return save(cfg, path)
}

func save(cfg *Config, configFilePath string) error {
	if err := os.MkdirAll(filepath.Dir(configFilePath), constants.ConfigDirPermissions); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	v := viper.New()
	v.Set("relay_url", cfg.RelayURL)
	v.Set("token", cfg.Token)
	v.Set("key_material", cfg.KeyMaterial)

	if err := v.WriteConfigAs(configFilePath); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	if err := os.Chmod(configFilePath, constants.ConfigFilePermissions); err != nil {
		return fmt.Errorf("error setting config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	return constants.ConfigFilePath(home), nil
}

// GetLogLevel returns the slog.Level from the string configuration.
// Defaults to INFO if the level string is invalid.
func (c *Config) GetLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Helper functions

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", constants.DefaultPort)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("environment", string(constants.Development))
	v.SetDefault("storage_backend", string(constants.MemoryBackend))
	v.SetDefault("session_backend", string(constants.MemoryBackend))

	v.SetDefault("max_connections_per_user", constants.DefaultMaxConnectionsPerUser)
	v.SetDefault("connection_timeout", constants.DefaultConnectionTimeout)
	v.SetDefault("reap_interval", constants.DefaultReapInterval)
	v.SetDefault("allow_duplicate_user_connections", true)
	v.SetDefault("allow_duplicate_session_connections", true)
	v.SetDefault("allow_duplicate_machine_connections", false)

	v.SetDefault("enable_auto_response", constants.DefaultEnableAutoResponse)
	v.SetDefault("max_message_size", constants.DefaultMaxMessageSize)
	v.SetDefault("auth_timeout", constants.DefaultAuthTimeout)
	v.SetDefault("ping_interval", constants.DefaultPingInterval)
	v.SetDefault("write_timeout", constants.DefaultWriteTimeout)
	v.SetDefault("send_buffer_size", constants.DefaultSendBufferSize)
	v.SetDefault("replay_limit", constants.DefaultReplayLimit)

	v.SetDefault("session_cache_ttl", constants.DefaultSessionCacheTTL)
	v.SetDefault("session_cache_negative_ttl", constants.DefaultSessionCacheNegativeTTL)
	v.SetDefault("session_cache_cleanup_interval", constants.DefaultSessionCacheCleanupInterval)

	v.SetDefault("alarm_max_retries", constants.DefaultAlarmMaxRetries)
	v.SetDefault("alarm_base_delay_ms", constants.DefaultAlarmBaseDelayMs)
	v.SetDefault("alarm_max_delay_ms", constants.DefaultAlarmMaxDelayMs)
	v.SetDefault("alarm_jitter_factor", constants.DefaultAlarmJitterFactor)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.session_key_prefix", "session:")

	v.SetDefault("relay_url", constants.DefaultRelayURL)
	v.SetDefault("reconnect_base_delay_ms", constants.DefaultReconnectBaseDelayMs)
	v.SetDefault("reconnect_max_delay_ms", constants.DefaultReconnectMaxDelayMs)
	v.SetDefault("reconnect_backoff_multiplier", constants.DefaultReconnectBackoffMultiplier)
	v.SetDefault("reconnect_max_attempts", constants.DefaultReconnectMaxAttempts)

	awsconfig.BindEnvVars(v)
}

func loadConfigFile(v *viper.Viper, configFile string) error {
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	return v.ReadInConfig()
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range envKeys {
		envVar := constants.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// validateBackends checks that the provider sections required by the selected
// backends are filled in.
func validateBackends(cfg *Config) error {
	if cfg.StorageBackend == constants.DynamoDBBackend {
		if err := awsconfig.ValidateStorage(cfg.AWS); err != nil {
			return err
		}
	}

	switch cfg.SessionBackend {
	case constants.DynamoDBBackend:
		return awsconfig.ValidateSessions(cfg.AWS)
	case constants.RedisBackend:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%s cannot be empty", "Redis.Addr")
		}
	}

	return nil
}

// normalizeBackendProvider trims whitespace and lowercases the backend identifier.
func normalizeBackendProvider(provider constants.BackendProvider) constants.BackendProvider {
	return constants.BackendProvider(strings.ToLower(strings.TrimSpace(string(provider))))
}
