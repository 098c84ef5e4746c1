package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awsconfig "github.com/enflame-media/syncrelay/internal/config/aws"
	"github.com/enflame-media/syncrelay/internal/constants"
)

func TestConfig_GetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected slog.Level
	}{
		{name: "DEBUG level", logLevel: "DEBUG", expected: slog.LevelDebug},
		{name: "INFO level", logLevel: "INFO", expected: slog.LevelInfo},
		{name: "WARN level", logLevel: "WARN", expected: slog.LevelWarn},
		{name: "ERROR level", logLevel: "ERROR", expected: slog.LevelError},
		{name: "invalid level defaults to INFO", logLevel: "INVALID", expected: slog.LevelInfo},
		{name: "empty string defaults to INFO", logLevel: "", expected: slog.LevelInfo},
		{name: "lowercase level", logLevel: "debug", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			assert.Equal(t, tt.expected, cfg.GetLogLevel())
		})
	}
}

func missingConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing", constants.ConfigFileName)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(missingConfigPath(t))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, cfg.Port)
	assert.Equal(t, constants.Development, cfg.Environment)
	assert.Equal(t, constants.MemoryBackend, cfg.StorageBackend)
	assert.Equal(t, constants.MemoryBackend, cfg.SessionBackend)

	assert.Equal(t, 100, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 5*time.Minute, cfg.ConnectionTimeout)
	assert.True(t, cfg.EnableAutoResponse)
	assert.Equal(t, int64(1048576), cfg.MaxMessageSize)

	assert.True(t, cfg.AllowDuplicateUserConnections)
	assert.True(t, cfg.AllowDuplicateSessionConnections)
	assert.False(t, cfg.AllowDuplicateMachineConnections)

	assert.Equal(t, 3, cfg.AlarmMaxRetries)
	assert.Equal(t, int64(1000), cfg.AlarmBaseDelayMs)
	assert.Equal(t, int64(30000), cfg.AlarmMaxDelayMs)
	assert.InDelta(t, 0.2, cfg.AlarmJitterFactor, 1e-9)

	require.NotNil(t, cfg.AWS)
	assert.Equal(t, "syncrelay-updates", cfg.AWS.UpdatesTable)
	assert.Equal(t, constants.DefaultRelayURL, cfg.RelayURL)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Setenv("SYNCRELAY_LOG_LEVEL", "DEBUG")
	t.Setenv("SYNCRELAY_MAX_CONNECTIONS_PER_USER", "7")
	t.Setenv("SYNCRELAY_CONNECTION_TIMEOUT", "90s")
	t.Setenv("SYNCRELAY_ENABLE_AUTO_RESPONSE", "false")
	t.Setenv("SYNCRELAY_SESSION_BACKEND", " Redis ")
	t.Setenv("SYNCRELAY_REDIS_ADDR", "redis:6380")
	t.Setenv("SYNCRELAY_AWS_UPDATES_TABLE", "custom-updates")

	cfg, err := load(missingConfigPath(t))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 7, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 90*time.Second, cfg.ConnectionTimeout)
	assert.False(t, cfg.EnableAutoResponse)
	assert.Equal(t, constants.RedisBackend, cfg.SessionBackend)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "custom-updates", cfg.AWS.UpdatesTable)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), constants.ConfigFileName)
	content := "relay_url: wss://relay.example.com/v1/updates\n" +
		"token: tok-123\n" +
		"key_material: c2VjcmV0\n" +
		"reconnect_max_attempts: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), constants.ConfigFilePermissions))

	t.Setenv("SYNCRELAY_TOKEN", "tok-from-env")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com/v1/updates", cfg.RelayURL)
	assert.Equal(t, "tok-from-env", cfg.Token, "environment takes precedence over the file")
	assert.Equal(t, "c2VjcmV0", cfg.KeyMaterial)
	assert.Equal(t, 4, cfg.ReconnectMaxAttempts)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown storage backend", map[string]string{"SYNCRELAY_STORAGE_BACKEND": "postgres"}},
		{"zero connection cap", map[string]string{"SYNCRELAY_MAX_CONNECTIONS_PER_USER": "0"}},
		{"jitter above one", map[string]string{"SYNCRELAY_ALARM_JITTER_FACTOR": "1.5"}},
		{"max delay below base", map[string]string{
			"SYNCRELAY_ALARM_BASE_DELAY_MS": "5000",
			"SYNCRELAY_ALARM_MAX_DELAY_MS":  "1000",
		}},
		{"invalid relay url", map[string]string{"SYNCRELAY_RELAY_URL": "not a url"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cfg, err := load(missingConfigPath(t))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestValidateBackends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "memory backends need nothing",
			cfg:  &Config{StorageBackend: constants.MemoryBackend, SessionBackend: constants.MemoryBackend},
		},
		{
			name:    "dynamodb storage without aws section",
			cfg:     &Config{StorageBackend: constants.DynamoDBBackend, SessionBackend: constants.MemoryBackend},
			wantErr: "AWS configuration is required",
		},
		{
			name: "dynamodb sessions without table",
			cfg: &Config{
				StorageBackend: constants.MemoryBackend,
				SessionBackend: constants.DynamoDBBackend,
				AWS:            &awsconfig.Config{},
			},
			wantErr: "AWS.SessionsTable cannot be empty",
		},
		{
			name:    "redis sessions without address",
			cfg:     &Config{StorageBackend: constants.MemoryBackend, SessionBackend: constants.RedisBackend},
			wantErr: "Redis.Addr cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBackends(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), constants.ConfigDirName, constants.ConfigFileName)

	saved := &Config{
		RelayURL:    "wss://relay.example.com/v1/updates",
		Token:       "tok-abc",
		KeyMaterial: "a2V5",
	}
	require.NoError(t, save(saved, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(constants.ConfigFilePermissions), info.Mode().Perm())

	loaded, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, saved.RelayURL, loaded.RelayURL)
	assert.Equal(t, saved.Token, loaded.Token)
	assert.Equal(t, saved.KeyMaterial, loaded.KeyMaterial)
}

func TestGetConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := GetConfigPath()
	require.NoError(t, err)
	assert.Equal(t, constants.ConfigFilePath(home), path)
}

func TestNormalizeBackendProvider(t *testing.T) {
	tests := []struct {
		input    constants.BackendProvider
		expected constants.BackendProvider
	}{
		{"memory", constants.MemoryBackend},
		{"  DynamoDB ", constants.DynamoDBBackend},
		{"REDIS", constants.RedisBackend},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeBackendProvider(tt.input))
		})
	}
}
