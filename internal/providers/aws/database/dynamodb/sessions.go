package dynamodb

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

// SessionRepository reads session ownership rows written by the session service.
type SessionRepository struct {
	client    Client
	tableName string
	logger    *slog.Logger
}

// NewSessionRepository creates a new DynamoDB-backed session repository.
func NewSessionRepository(client Client, tableName string, log *slog.Logger) database.SessionRepository {
	return &SessionRepository{
		client:    client,
		tableName: tableName,
		logger:    log,
	}
}

type sessionItem struct {
	SessionID  string `dynamodbav:"session_id"`
	UserID     string `dynamodbav:"user_id"`
	Active     bool   `dynamodbav:"active"`
	ArchivedAt int64  `dynamodbav:"archived_at,omitempty"`
}

// GetSession performs a strongly consistent read so that archival is seen immediately.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*api.SessionRecord, error) {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	logArgs := []any{
		"operation", "DynamoDB.GetItem",
		"table", r.tableName,
		"session_id", sessionID,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: sessionID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, apperrors.ErrDatabaseError("failed to get session", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item sessionItem
	if err = attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, apperrors.ErrDatabaseError("failed to unmarshal session item", err)
	}

	return &api.SessionRecord{
		SessionID:  item.SessionID,
		UserID:     item.UserID,
		Active:     item.Active,
		ArchivedAt: item.ArchivedAt,
	}, nil
}
