package dynamodb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

// TokenRepository implements database.TokenRepository and database.TokenWriter using DynamoDB.
type TokenRepository struct {
	client    Client
	tableName string
	logger    *slog.Logger
}

const tokensPartitionKey = "token_hash"

var (
	_ database.TokenRepository = (*TokenRepository)(nil)
	_ database.TokenWriter     = (*TokenRepository)(nil)
)

// NewTokenRepository creates a new DynamoDB-backed token repository.
func NewTokenRepository(client Client, tableName string, log *slog.Logger) *TokenRepository {
	return &TokenRepository{
		client:    client,
		tableName: tableName,
		logger:    log,
	}
}

// tokenItem represents the structure stored in DynamoDB.
type tokenItem struct {
	TokenHash string `dynamodbav:"token_hash"`
	UserID    string `dynamodbav:"user_id"`
	Role      string `dynamodbav:"role,omitempty"`
	CreatedAt int64  `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
	Revoked   bool   `dynamodbav:"revoked"`
}

// GetTokenByHash retrieves a token by its hash.
// Returns nil if the token doesn't exist (DynamoDB TTL removes expired tokens eventually).
func (r *TokenRepository) GetTokenByHash(ctx context.Context, tokenHash string) (*api.TokenRecord, error) {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	logArgs := []any{
		"operation", "DynamoDB.GetItem",
		"table", r.tableName,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			tokensPartitionKey: &types.AttributeValueMemberS{Value: tokenHash},
		},
	})
	if err != nil {
		return nil, apperrors.ErrDatabaseError("failed to retrieve token", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var item tokenItem
	if err = attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, apperrors.ErrDatabaseError("failed to unmarshal token item", err)
	}

	reqLogger.Debug("token retrieved successfully", "context", map[string]string{
		"user_id": item.UserID,
	})

	return &api.TokenRecord{
		TokenHash: item.TokenHash,
		UserID:    item.UserID,
		Role:      item.Role,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
		Revoked:   item.Revoked,
	}, nil
}

// PutToken stores a new token. Existing hashes are never overwritten.
func (r *TokenRepository) PutToken(ctx context.Context, token *api.TokenRecord) error {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	av, err := attributevalue.MarshalMap(&tokenItem{
		TokenHash: token.TokenHash,
		UserID:    token.UserID,
		Role:      token.Role,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
		Revoked:   token.Revoked,
	})
	if err != nil {
		return apperrors.ErrDatabaseError("failed to marshal token item", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(tokensPartitionKey))).
		Build()
	if err != nil {
		return apperrors.ErrInternalError("failed to build condition expression", err)
	}

	logArgs := []any{
		"operation", "DynamoDB.PutItem",
		"table", r.tableName,
		"user_id", token.UserID,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return apperrors.ErrConflict(fmt.Sprintf("token for user %s already exists", token.UserID), err)
		}
		return apperrors.ErrDatabaseError("failed to store token", err)
	}
	return nil
}
