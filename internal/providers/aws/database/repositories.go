// Package database wires the DynamoDB-backed repositories.
package database

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	awsconfig "github.com/enflame-media/syncrelay/internal/config/aws"
	"github.com/enflame-media/syncrelay/internal/database"
	dynamoRepo "github.com/enflame-media/syncrelay/internal/providers/aws/database/dynamodb"
)

// NewClient builds a DynamoDB client from the loaded SDK configuration,
// honouring a custom endpoint such as DynamoDB Local.
func NewClient(ctx context.Context, cfg *awsconfig.Config) (dynamoRepo.Client, error) {
	if cfg.SDKConfig == nil {
		if err := cfg.LoadSDKConfig(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := awsconfig.NormalizeEndpoint(cfg.Endpoint)
	client := dynamodb.NewFromConfig(*cfg.SDKConfig, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	return dynamoRepo.NewClientAdapter(client), nil
}

// CreateRepositories creates the DynamoDB-backed update, token and dead-letter
// repositories and, when withSessions is set, the session repository.
func CreateRepositories(
	client dynamoRepo.Client,
	cfg *awsconfig.Config,
	withSessions bool,
	log *slog.Logger,
) *database.Repositories {
	repos := &database.Repositories{
		Updates:     dynamoRepo.NewUpdateRepository(client, cfg.UpdatesTable, log),
		Tokens:      dynamoRepo.NewTokenRepository(client, cfg.TokensTable, log),
		DeadLetters: dynamoRepo.NewDeadLetterRepository(client, cfg.DeadLettersTable, log),
	}
	if withSessions {
		repos.Sessions = dynamoRepo.NewSessionRepository(client, cfg.SessionsTable, log)
	}

	log.Debug("DynamoDB backend configured", "context", map[string]any{
		"updates_table":      cfg.UpdatesTable,
		"tokens_table":       cfg.TokensTable,
		"dead_letters_table": cfg.DeadLettersTable,
		"sessions_table":     cfg.SessionsTable,
		"with_sessions":      withSessions,
	})

	return repos
}
