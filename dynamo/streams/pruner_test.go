package streams_test

import (
	"context"
	"testing"
	"time"

	"github.com/pretenderdb/pretender/dynamo/sqlstore"
	"github.com/pretenderdb/pretender/dynamo/streams"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamstypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupStreamedTable(t *testing.T) (*sqlstore.Store, *clockwork.FakeClock, string) {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		DatabaseURL: ":memory:",
		Logger:      zaptest.NewLogger(t),
		Clock:       clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String("events"),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewImage,
		},
	})
	require.NoError(t, err)

	desc, err := store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String("events")})
	require.NoError(t, err)
	return store, clock, *desc.Table.LatestStreamArn
}

func put(t *testing.T, store *sqlstore.Store, id string) {
	t.Helper()
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String("events"),
		Item:      map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	require.NoError(t, err)
}

func TestPrunerRetention(t *testing.T) {
	ctx := context.Background()
	store, clock, arn := setupStreamedTable(t)
	reader := streams.NewReader(store.DB())

	put(t, store, "old-1")
	put(t, store, "old-2")

	// Cross the retention boundary, then write a surviving record.
	clock.Advance(25 * time.Hour)
	put(t, store, "new-1")

	pruner := streams.NewPruner(store.DB(), clock, zaptest.NewLogger(t), 24*time.Hour, time.Minute)
	require.NoError(t, pruner.PruneOnce(ctx))

	iter, err := reader.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(arn),
		ShardId:           aws.String(streams.ShardID),
		ShardIteratorType: streamstypes.ShardIteratorTypeTrimHorizon,
	})
	require.NoError(t, err)
	out, err := reader.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iter.ShardIterator})
	require.NoError(t, err)

	// Only the post-boundary record survives; TRIM_HORIZON serves from the
	// earliest surviving record.
	require.Len(t, out.Records, 1)
	id := out.Records[0].Dynamodb.Keys["id"].(*streamstypes.AttributeValueMemberS)
	assert.Equal(t, "new-1", id.Value)

	desc, err := reader.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: aws.String(arn)})
	require.NoError(t, err)
	assert.Equal(t, streams.SequenceNumber(3), *desc.StreamDescription.Shards[0].SequenceNumberRange.StartingSequenceNumber)
}

func TestPrunerKeepsRecentRecords(t *testing.T) {
	ctx := context.Background()
	store, clock, arn := setupStreamedTable(t)
	reader := streams.NewReader(store.DB())

	put(t, store, "a")
	put(t, store, "b")

	pruner := streams.NewPruner(store.DB(), clock, zaptest.NewLogger(t), 24*time.Hour, time.Minute)
	require.NoError(t, pruner.PruneOnce(ctx))

	iter, err := reader.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(arn),
		ShardId:           aws.String(streams.ShardID),
		ShardIteratorType: streamstypes.ShardIteratorTypeTrimHorizon,
	})
	require.NoError(t, err)
	out, err := reader.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iter.ShardIterator})
	require.NoError(t, err)
	assert.Len(t, out.Records, 2)
}
