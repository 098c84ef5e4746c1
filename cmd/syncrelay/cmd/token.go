package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/auth"
	"github.com/enflame-media/syncrelay/internal/auth/authorization"
	"github.com/enflame-media/syncrelay/internal/config"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/database"
	"github.com/enflame-media/syncrelay/internal/output"
	awsdb "github.com/enflame-media/syncrelay/internal/providers/aws/database"
	dynamoRepo "github.com/enflame-media/syncrelay/internal/providers/aws/database/dynamodb"
)

var (
	tokenUser string
	tokenRole string
	tokenTTL  time.Duration
	tokenSave bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage relay bearer tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a bearer token in the DynamoDB token table",
	Long: `Generate a bearer token for a user and store its hash in the token table.
The plain token is printed once and never stored by the relay.`,
	Example: `  syncrelay token create --user u1 --ttl 720h --save
  syncrelay token create --user ops --role operator`,
	RunE:    tokenCreateRun,
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenUser, "user", "", "User the token authenticates as")
	tokenCreateCmd.Flags().StringVar(&tokenRole, "role", "", "Operator API role (user or operator)")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (0 never expires)")
	tokenCreateCmd.Flags().BoolVar(&tokenSave, "save", false, "Write the token to the local configuration file")
	_ = tokenCreateCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(tokenCreateCmd)
	rootCmd.AddCommand(tokenCmd)
}

// ErrTokensNeedDynamoDB is returned when tokens cannot be provisioned out of process.
var ErrTokensNeedDynamoDB = errors.New("memory storage keeps tokens inside the relay process; use serve --dev-token")

func tokenCreateRun(cmd *cobra.Command, _ []string) error {
	cfg, err := getConfigFromContext(cmd)
	if err != nil {
		return err
	}

	log := newLogger(constants.CLI, cfg)
	writer, err := tokenWriter(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	token, err := createToken(cmd.Context(), writer, tokenUser, tokenRole, tokenTTL, time.Now())
	if err != nil {
		return err
	}

	output.Successf("Token created for user %s", output.Bold(tokenUser))
	output.KeyValue("Token", token)
	if tokenRole != "" {
		output.KeyValue("Role", tokenRole)
	}
	if tokenTTL > 0 {
		output.KeyValue("Expires in", output.Duration(tokenTTL))
	}

	if tokenSave {
		cfg.Token = token
		if err = config.Save(cfg); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		output.Infof("Token saved to the configuration file")
	}
	return nil
}

func tokenWriter(ctx context.Context, cfg *config.Config, log *slog.Logger) (database.TokenWriter, error) {
	if cfg.StorageBackend != constants.DynamoDBBackend {
		return nil, ErrTokensNeedDynamoDB
	}

	client, err := awsdb.NewClient(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DynamoDB: %w", err)
	}
	return dynamoRepo.NewTokenRepository(client, cfg.AWS.TokensTable, log), nil
}

// createToken generates a secret for userID and stores its hash with role.
func createToken(
	ctx context.Context,
	writer database.TokenWriter,
	userID string,
	role string,
	ttl time.Duration,
	now time.Time,
) (string, error) {
	if userID == "" {
		return "", errors.New("user is required")
	}
	if _, err := authorization.ParseRole(role); err != nil {
		return "", err
	}

	token, err := auth.GenerateSecretToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	record := &api.TokenRecord{
		TokenHash: auth.HashToken(token),
		UserID:    userID,
		Role:      role,
		CreatedAt: now.Unix(),
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl).Unix()
	}

	if err = writer.PutToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}
