// Package aws contains AWS-specific configuration helpers for syncrelay.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/viper"
)

// Config contains AWS-specific configuration.
// These settings are only used when a backend is set to dynamodb.
type Config struct {
	// DynamoDB Tables
	UpdatesTable     string `mapstructure:"updates_table"`
	SessionsTable    string `mapstructure:"sessions_table"`
	TokensTable      string `mapstructure:"tokens_table"`
	DeadLettersTable string `mapstructure:"dead_letters_table"`

	// Region overrides the region resolved from the default credential chain.
	Region string `mapstructure:"region"`
	// Endpoint points DynamoDB at a non-AWS endpoint such as DynamoDB Local.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	// AWS SDK Configuration (credentials, region, etc.)
	SDKConfig *aws.Config `mapstructure:"-"`
}

// BindEnvVars binds AWS-specific environment variables to the provided Viper instance.
func BindEnvVars(v *viper.Viper) {
	v.SetDefault("aws.updates_table", "syncrelay-updates")
	v.SetDefault("aws.sessions_table", "syncrelay-sessions")
	v.SetDefault("aws.tokens_table", "syncrelay-tokens")
	v.SetDefault("aws.dead_letters_table", "syncrelay-dead-letters")

	_ = v.BindEnv("aws.updates_table", "SYNCRELAY_AWS_UPDATES_TABLE")
	_ = v.BindEnv("aws.sessions_table", "SYNCRELAY_AWS_SESSIONS_TABLE")
	_ = v.BindEnv("aws.tokens_table", "SYNCRELAY_AWS_TOKENS_TABLE")
	_ = v.BindEnv("aws.dead_letters_table", "SYNCRELAY_AWS_DEAD_LETTERS_TABLE")
	_ = v.BindEnv("aws.region", "SYNCRELAY_AWS_REGION")
	_ = v.BindEnv("aws.endpoint", "SYNCRELAY_AWS_ENDPOINT")
}

// ValidateStorage validates the tables needed when updates, tokens and dead
// letters are stored in DynamoDB.
func ValidateStorage(cfg *Config) error {
	if cfg == nil {
		return errors.New("AWS configuration is required when storage_backend is dynamodb")
	}

	required := map[string]string{
		"AWS.UpdatesTable":     cfg.UpdatesTable,
		"AWS.TokensTable":      cfg.TokensTable,
		"AWS.DeadLettersTable": cfg.DeadLettersTable,
	}

	for field, value := range required {
		if value == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
	}

	return nil
}

// ValidateSessions validates the table needed when session ownership is read from DynamoDB.
func ValidateSessions(cfg *Config) error {
	if cfg == nil {
		return errors.New("AWS configuration is required when session_backend is dynamodb")
	}
	if cfg.SessionsTable == "" {
		return fmt.Errorf("%s cannot be empty", "AWS.SessionsTable")
	}
	return nil
}

// NormalizeEndpoint trims whitespace and a trailing slash from a custom endpoint.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
}

// LoadSDKConfig loads the AWS SDK configuration from the environment.
func (c *Config) LoadSDKConfig(ctx context.Context) error {
	var opts []func(*awsConfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsConfig.WithRegion(c.Region))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS SDK configuration: %w", err)
	}
	c.SDKConfig = &awsCfg
	return nil
}
