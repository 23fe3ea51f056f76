package ttl

import (
	"context"
	"testing"
	"time"

	"github.com/pretenderdb/pretender/dynamo/sqlstore"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Unix(200, 0))
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		DatabaseURL: ":memory:",
		Logger:      zaptest.NewLogger(t),
		Clock:       clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String("sessions"),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
	})
	require.NoError(t, err)
	_, err = store.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String("sessions"),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("expiry"),
			Enabled:       aws.Bool(true),
		},
	})
	require.NoError(t, err)

	_, err = store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String("sessions"),
		Item: map[string]types.AttributeValue{
			"id":     &types.AttributeValueMemberS{Value: "t"},
			"expiry": &types.AttributeValueMemberN{Value: "100"},
		},
	})
	require.NoError(t, err)

	sweeper := New(store, zaptest.NewLogger(t), Config{})
	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String("sessions"),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "t"}},
	})
	require.NoError(t, err)
	assert.Empty(t, got.Item)
}
