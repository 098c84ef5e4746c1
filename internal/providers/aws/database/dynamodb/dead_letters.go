package dynamodb

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/database"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/logger"
)

// DeadLetterRepository stores alarm dead letters, one item per entry ID.
type DeadLetterRepository struct {
	client    Client
	tableName string
	logger    *slog.Logger
}

// NewDeadLetterRepository creates a new DynamoDB-backed dead-letter repository.
func NewDeadLetterRepository(client Client, tableName string, log *slog.Logger) database.DeadLetterRepository {
	return &DeadLetterRepository{
		client:    client,
		tableName: tableName,
		logger:    log,
	}
}

type deadLetterItem struct {
	ID                  string `dynamodbav:"id"`
	OriginalScheduledAt int64  `dynamodbav:"original_scheduled_at"`
	DeadLetteredAt      int64  `dynamodbav:"dead_lettered_at"`
	Attempts            int    `dynamodbav:"attempts"`
	FinalError          string `dynamodbav:"final_error"`
	Context             string `dynamodbav:"context"`
	Stack               string `dynamodbav:"stack,omitempty"`
}

func toDeadLetterItem(entry *api.AlarmDeadLetterEntry) *deadLetterItem {
	return &deadLetterItem{
		ID:                  entry.ID,
		OriginalScheduledAt: entry.OriginalScheduledAt.UnixMilli(),
		DeadLetteredAt:      entry.DeadLetteredAt.UnixMilli(),
		Attempts:            entry.Attempts,
		FinalError:          entry.FinalError,
		Context:             entry.Context,
		Stack:               entry.Stack,
	}
}

func (i *deadLetterItem) toEntry() *api.AlarmDeadLetterEntry {
	return &api.AlarmDeadLetterEntry{
		ID:                  i.ID,
		OriginalScheduledAt: time.UnixMilli(i.OriginalScheduledAt).UTC(),
		DeadLetteredAt:      time.UnixMilli(i.DeadLetteredAt).UTC(),
		Attempts:            i.Attempts,
		FinalError:          i.FinalError,
		Context:             i.Context,
		Stack:               i.Stack,
	}
}

// SaveDeadLetter stores an entry.
func (r *DeadLetterRepository) SaveDeadLetter(ctx context.Context, entry *api.AlarmDeadLetterEntry) error {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	av, err := attributevalue.MarshalMap(toDeadLetterItem(entry))
	if err != nil {
		return apperrors.ErrDatabaseError("failed to marshal dead letter item", err)
	}

	logArgs := []any{
		"operation", "DynamoDB.PutItem",
		"table", r.tableName,
		"dead_letter_id", entry.ID,
		"alarm_context", entry.Context,
	}
	logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
	reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

	if _, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      av,
	}); err != nil {
		return apperrors.ErrDatabaseError("failed to store dead letter", err)
	}

	return nil
}

// ListDeadLetters scans the table and returns the newest entries.
// The dead-letter log is small and read only by operators.
func (r *DeadLetterRepository) ListDeadLetters(ctx context.Context, limit int) ([]*api.AlarmDeadLetterEntry, error) {
	reqLogger := logger.DeriveRequestLogger(ctx, r.logger)

	input := &dynamodb.ScanInput{TableName: aws.String(r.tableName)}

	var items []deadLetterItem
	for {
		logArgs := []any{
			"operation", "DynamoDB.Scan",
			"table", r.tableName,
		}
		logArgs = append(logArgs, logger.GetDeadlineInfo(ctx)...)
		reqLogger.Debug("calling external service", "context", logger.SliceToMap(logArgs))

		result, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, apperrors.ErrDatabaseError("failed to scan dead letters", err)
		}

		var page []deadLetterItem
		if err = attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, apperrors.ErrDatabaseError("failed to unmarshal dead letter items", err)
		}
		items = append(items, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	sort.Slice(items, func(a, b int) bool {
		return items[a].DeadLetteredAt > items[b].DeadLetteredAt
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	entries := make([]*api.AlarmDeadLetterEntry, 0, len(items))
	for i := range items {
		entries = append(entries, items[i].toEntry())
	}
	return entries, nil
}
