package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enflame-media/syncrelay/internal/api"
	apperrors "github.com/enflame-media/syncrelay/internal/errors"
	"github.com/enflame-media/syncrelay/internal/testutil"
)

const (
	updatesTable     = "updates-table"
	sessionsTable    = "sessions-table"
	tokensTable      = "tokens-table"
	deadLettersTable = "dead-letters-table"
)

func newTestClient() *MockDynamoDBClient {
	return NewMockDynamoDBClient().
		DefineTable(updatesTable, "stream_key", "seq").
		DefineTable(sessionsTable, "session_id", "").
		DefineTable(tokensTable, "token_hash", "").
		DefineTable(deadLettersTable, "id", "")
}

func TestAppendUpdate_Success(t *testing.T) {
	client := newTestClient()
	repo := NewUpdateRepository(client, updatesTable, testutil.SilentLogger())

	record := testutil.NewUpdateRecordBuilder().WithSeq(1).Build()
	err := repo.AppendUpdate(context.Background(), record)

	require.NoError(t, err)
	assert.Equal(t, 1, client.PutItemCalls)
}

func TestAppendUpdate_SequenceTaken(t *testing.T) {
	client := newTestClient()
	repo := NewUpdateRepository(client, updatesTable, testutil.SilentLogger())
	ctx := context.Background()

	require.NoError(t, repo.AppendUpdate(ctx, testutil.NewUpdateRecordBuilder().WithSeq(1).Build()))
	err := repo.AppendUpdate(ctx, testutil.NewUpdateRecordBuilder().WithSeq(1).WithID("dup").Build())

	require.Error(t, err)
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeConflict)
}

func TestAppendUpdate_ClientError(t *testing.T) {
	client := newTestClient()
	client.PutItemError = errors.New("throttled")
	repo := NewUpdateRepository(client, updatesTable, testutil.SilentLogger())

	err := repo.AppendUpdate(context.Background(), testutil.NewUpdateRecordBuilder().Build())

	require.Error(t, err)
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeDatabaseError)
}

func TestIsConditionalCheckFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed exception", &types.ConditionalCheckFailedException{}, true},
		{"generic api error", &smithy.GenericAPIError{Code: "ConditionalCheckFailedException"}, true},
		{"wrapped", fmt.Errorf("put: %w", &types.ConditionalCheckFailedException{}), true},
		{"other api error", &smithy.GenericAPIError{Code: "ValidationException"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConditionalCheckFailed(tt.err))
		})
	}
}

func TestLatestSequenceAndListUpdatesAfter(t *testing.T) {
	client := newTestClient()
	repo := NewUpdateRepository(client, updatesTable, testutil.SilentLogger())
	ctx := context.Background()
	stream := api.SessionStream("u1", "s1")

	latest, err := repo.LatestSequence(ctx, stream)
	require.NoError(t, err)
	assert.Zero(t, latest)

	for seq := int64(1); seq <= 12; seq++ {
		record := testutil.NewUpdateRecordBuilder().WithSeq(seq).WithID(fmt.Sprintf("upd-%d", seq)).Build()
		require.NoError(t, repo.AppendUpdate(ctx, record))
	}
	other := testutil.NewUpdateRecordBuilder().WithStream("u1", api.UserStream("u1")).WithSeq(40).Build()
	require.NoError(t, repo.AppendUpdate(ctx, other))

	latest, err = repo.LatestSequence(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(12), latest, "numeric ordering, not lexical")

	records, err := repo.ListUpdatesAfter(ctx, stream, 9, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int64{10, 11, 12}, []int64{records[0].Seq, records[1].Seq, records[2].Seq})
	assert.Equal(t, "upd-10", records[0].ID)
	assert.JSONEq(t, string(testutil.NewUpdateRecordBuilder().Build().Body), string(records[0].Body))

	limited, err := repo.ListUpdatesAfter(ctx, stream, 0, 4)
	require.NoError(t, err)
	require.Len(t, limited, 4)
	assert.Equal(t, int64(1), limited[0].Seq)
}

func TestListUpdatesAfter_QueryError(t *testing.T) {
	client := newTestClient()
	client.QueryError = errors.New("unavailable")
	repo := NewUpdateRepository(client, updatesTable, testutil.SilentLogger())

	_, err := repo.ListUpdatesAfter(context.Background(), api.UserStream("u1"), 0, 10)
	require.Error(t, err)
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeDatabaseError)
}

func TestGetSession(t *testing.T) {
	client := newTestClient()
	repo := NewSessionRepository(client, sessionsTable, testutil.SilentLogger())
	ctx := context.Background()

	_, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(sessionsTable),
		Item: map[string]types.AttributeValue{
			"session_id": &types.AttributeValueMemberS{Value: "s1"},
			"user_id":    &types.AttributeValueMemberS{Value: "u1"},
			"active":     &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	require.NoError(t, err)

	session, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.Valid("u1"))

	missing, err := repo.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	client.GetItemError = errors.New("timeout")
	_, err = repo.GetSession(ctx, "s1")
	require.Error(t, err)
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeDatabaseError)
}

func TestGetTokenByHash(t *testing.T) {
	client := newTestClient()
	repo := NewTokenRepository(client, tokensTable, testutil.SilentLogger())
	ctx := context.Background()

	_, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tokensTable),
		Item: map[string]types.AttributeValue{
			"token_hash": &types.AttributeValueMemberS{Value: "hash-1"},
			"user_id":    &types.AttributeValueMemberS{Value: "u1"},
			"created_at": &types.AttributeValueMemberN{Value: "1700000000"},
			"expires_at": &types.AttributeValueMemberN{Value: "1800000000"},
			"revoked":    &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	require.NoError(t, err)

	token, err := repo.GetTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "u1", token.UserID)
	assert.Equal(t, int64(1800000000), token.ExpiresAt)

	missing, err := repo.GetTokenByHash(ctx, "hash-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeadLetters(t *testing.T) {
	client := newTestClient()
	repo := NewDeadLetterRepository(client, deadLettersTable, testutil.SilentLogger())
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000).UTC()

	for i := range 3 {
		require.NoError(t, repo.SaveDeadLetter(ctx, &api.AlarmDeadLetterEntry{
			ID:                  fmt.Sprintf("dl-%d", i),
			OriginalScheduledAt: base,
			DeadLetteredAt:      base.Add(time.Duration(i) * time.Minute),
			Attempts:            3,
			FinalError:          "store unavailable",
			Context:             "cleanup",
		}))
	}

	entries, err := repo.ListDeadLetters(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dl-2", entries[0].ID)
	assert.Equal(t, "dl-1", entries[1].ID)
	assert.Equal(t, base, entries[0].OriginalScheduledAt)
	assert.Equal(t, 3, entries[0].Attempts)

	client.ScanError = errors.New("denied")
	_, err = repo.ListDeadLetters(ctx, 2)
	require.Error(t, err)
}

func TestMockRejectsUndefinedTable(t *testing.T) {
	client := NewMockDynamoDBClient()

	_, err := client.GetItem(context.Background(), &dynamodb.GetItemInput{TableName: aws.String("nope")})

	var notFound *types.ResourceNotFoundException
	assert.ErrorAs(t, err, &notFound)
}

func TestPutToken(t *testing.T) {
	client := newTestClient()
	repo := NewTokenRepository(client, tokensTable, testutil.SilentLogger())
	ctx := context.Background()

	token := &api.TokenRecord{TokenHash: "hash-1", UserID: "u1", Role: "operator", CreatedAt: 1700000000}
	require.NoError(t, repo.PutToken(ctx, token))

	stored, err := repo.GetTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *token, *stored)

	err = repo.PutToken(ctx, &api.TokenRecord{TokenHash: "hash-1", UserID: "u2"})
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeConflict)

	client.PutItemError = errors.New("throttled")
	err = repo.PutToken(ctx, &api.TokenRecord{TokenHash: "hash-2", UserID: "u1"})
	testutil.AssertAppErrorCode(t, err, apperrors.ErrCodeDatabaseError)
}
