package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

const (
	updatesPartitionKey = "stream_key"
	updatesSortKey      = "seq"

	conditionalCheckFailed = "ConditionalCheckFailedException"
)

// UpdateRepository implements database.UpdateRepository using DynamoDB.
// Items are keyed by stream_key (partition) and seq (sort).
type UpdateRepository struct {
	client    Client
	tableName string
	logger    *slog.Logger
}

// NewUpdateRepository creates a new DynamoDB-backed update repository.
func NewUpdateRepository(client Client, tableName string, log *slog.Logger) database.UpdateRepository {
	return &UpdateRepository{
		client:    client,
		tableName: tableName,
		logger:    log,
	}
}

// updateItem represents the structure stored in DynamoDB.
// The body is stored as the raw JSON string it arrived as.
type updateItem struct {
	StreamKey string `dynamodbav:"stream_key"`
	Seq       int64  `dynamodbav:"seq"`
	UserID    string `dynamodbav:"user_id"`
	UpdateID  string `dynamodbav:"update_id"`
	Kind      string `dynamodbav:"kind"`
	Body      string `dynamodbav:"body"`
	CreatedAt int64  `dynamodbav:"created_at"`
}

func toUpdateItem(record *api.UpdateRecord) *updateItem {
	return &updateItem{
		StreamKey: string(record.StreamKey),
		Seq:       record.Seq,
		UserID:    record.UserID,
		UpdateID:  record.ID,
		Kind:      string(record.Kind),
		Body:      string(record.Body),
		CreatedAt: record.CreatedAt,
	}
}

func (i *updateItem) toRecord() *api.UpdateRecord {
	return &api.UpdateRecord{
		StreamKey: api.StreamKey(i.StreamKey),
		UserID:    i.UserID,
		Seq:       i.Seq,
		ID:        i.UpdateID,
		Kind:      api.UpdateKind(i.Kind),
		Body:      []byte(i.Body),
		CreatedAt: i.CreatedAt,
	}
}

// AppendUpdate writes the record only if its (stream_key, seq) is free.
func (r *UpdateRepository) AppendUpdate(ctx context.Context, record *api.UpdateRecord) error {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	av, err := attributevalue.MarshalMap(toUpdateItem(record))
	if err != nil {
		return apperrors.ErrDatabaseError("failed to marshal update item", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(updatesPartitionKey))).
		Build()
	if err != nil {
		return apperrors.ErrInternalError("failed to build condition expression", err)
	}

	logArgs := []any{
		"operation", "DynamoDB.PutItem",
		"table", r.tableName,
		"stream_key", record.StreamKey,
		"seq", record.Seq,
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
			return apperrors.ErrConflict(
				fmt.Sprintf("sequence %d already exists on stream %s", record.Seq, record.StreamKey), err)
		}
		return apperrors.ErrDatabaseError("failed to store update", err)
	}

	return nil
}

// LatestSequence reads the last item of the stream's partition.
func (r *UpdateRepository) LatestSequence(ctx context.Context, stream api.StreamKey) (int64, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(updatesPartitionKey).Equal(expression.Value(string(stream)))).
		Build()
	if err != nil {
		return 0, apperrors.ErrInternalError("failed to build key condition", err)
	}

	result, err := r.query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item updateItem
	if err = attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, apperrors.ErrDatabaseError("failed to unmarshal update item", err)
	}
	return item.Seq, nil
}

// ListUpdatesAfter pages through the stream from after+1 until limit items are read.
func (r *UpdateRepository) ListUpdatesAfter(
	ctx context.Context,
	stream api.StreamKey,
	after int64,
	limit int,
) ([]*api.UpdateRecord, error) {
	keyCond := expression.Key(updatesPartitionKey).Equal(expression.Value(string(stream))).
		And(expression.Key(updatesSortKey).GreaterThan(expression.Value(after)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, apperrors.ErrInternalError("failed to build key condition", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var records []*api.UpdateRecord
	for {
		if limit > 0 {
			input.Limit = aws.Int32(safeInt32Count(limit - len(records)))
		}

		result, queryErr := r.query(ctx, input)
		if queryErr != nil {
			return nil, queryErr
		}

		var items []updateItem
		if err = attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, apperrors.ErrDatabaseError("failed to unmarshal update items", err)
		}
		for i := range items {
			records = append(records, items[i].toRecord())
		}

		if result.LastEvaluatedKey == nil || (limit > 0 && len(records) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return records, nil
}

func (r *UpdateRepository) query(ctx context.Context, input *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	logArgs := []any{
		"operation", "DynamoDB.Query",
		"table", r.tableName,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, apperrors.ErrDatabaseError("failed to query updates", err)
	}
	return result, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == conditionalCheckFailed
}
