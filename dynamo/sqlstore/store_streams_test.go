package sqlstore

import (
	"context"
	"testing"

	"github.com/pretenderdb/pretender/dynamo/streams"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamstypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamArnOf(t *testing.T, store *Store, tableName string) string {
	t.Helper()
	desc, err := store.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	require.NoError(t, err)
	require.NotNil(t, desc.Table.LatestStreamArn)
	return *desc.Table.LatestStreamArn
}

func readAllRecords(t *testing.T, reader *streams.Reader, arn string) []streamstypes.Record {
	t.Helper()
	ctx := context.Background()
	iter, err := reader.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         aws.String(arn),
		ShardId:           aws.String(streams.ShardID),
		ShardIteratorType: streamstypes.ShardIteratorTypeTrimHorizon,
	})
	require.NoError(t, err)

	out, err := reader.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iter.ShardIterator})
	require.NoError(t, err)
	return out.Records
}

func TestStreamCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then modify with both images", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", types.StreamViewTypeNewAndOldImages)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "events")

		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("s"), "v": n("1")})
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String("events"),
			Key:                       map[string]types.AttributeValue{"id": s("s")},
			UpdateExpression:          aws.String("SET v = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": n("2")},
		})
		require.NoError(t, err)

		records := readAllRecords(t, reader, arn)
		require.Len(t, records, 2)

		insert := records[0]
		assert.Equal(t, streamstypes.OperationTypeInsert, insert.EventName)
		assert.Nil(t, insert.Dynamodb.OldImage)
		require.NotNil(t, insert.Dynamodb.NewImage)
		newV := insert.Dynamodb.NewImage["v"].(*streamstypes.AttributeValueMemberN)
		assert.Equal(t, "1", newV.Value)

		modify := records[1]
		assert.Equal(t, streamstypes.OperationTypeModify, modify.EventName)
		require.NotNil(t, modify.Dynamodb.OldImage)
		require.NotNil(t, modify.Dynamodb.NewImage)
		oldV := modify.Dynamodb.OldImage["v"].(*streamstypes.AttributeValueMemberN)
		modV := modify.Dynamodb.NewImage["v"].(*streamstypes.AttributeValueMemberN)
		assert.Equal(t, "1", oldV.Value)
		assert.Equal(t, "2", modV.Value)

		// Sequence numbers are strictly increasing.
		assert.Less(t, *insert.Dynamodb.SequenceNumber, *modify.Dynamodb.SequenceNumber)
	})

	t.Run("keys only view omits images", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", types.StreamViewTypeKeysOnly)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "events")

		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("k"), "v": n("1")})

		records := readAllRecords(t, reader, arn)
		require.Len(t, records, 1)
		assert.Nil(t, records[0].Dynamodb.NewImage)
		assert.Nil(t, records[0].Dynamodb.OldImage)
		assert.NotNil(t, records[0].Dynamodb.Keys)
	})

	t.Run("latest iterator sees only new records", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", types.StreamViewTypeNewImage)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "events")

		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("before")})

		iter, err := reader.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
			StreamArn:         aws.String(arn),
			ShardId:           aws.String(streams.ShardID),
			ShardIteratorType: streamstypes.ShardIteratorTypeLatest,
		})
		require.NoError(t, err)

		empty, err := reader.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: iter.ShardIterator})
		require.NoError(t, err)
		assert.Empty(t, empty.Records)
		require.NotNil(t, empty.NextShardIterator, "an exhausted iterator stays valid for polling")

		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("after")})

		next, err := reader.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{ShardIterator: empty.NextShardIterator})
		require.NoError(t, err)
		require.Len(t, next.Records, 1)
	})

	t.Run("disabled stream captures nothing", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", "")
		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("x")})

		var count int
		require.NoError(t, store.DB().Get(&count, `SELECT COUNT(*) FROM stream_records`))
		assert.Zero(t, count)
	})

	t.Run("list and describe", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", types.StreamViewTypeNewImage)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "events")

		list, err := reader.ListStreams(ctx, &dynamodbstreams.ListStreamsInput{TableName: aws.String("events")})
		require.NoError(t, err)
		require.Len(t, list.Streams, 1)
		assert.Equal(t, arn, *list.Streams[0].StreamArn)

		desc, err := reader.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: aws.String(arn)})
		require.NoError(t, err)
		assert.Equal(t, streamstypes.StreamStatusEnabled, desc.StreamDescription.StreamStatus)
		require.Len(t, desc.StreamDescription.Shards, 1)
		assert.Equal(t, streams.ShardID, *desc.StreamDescription.Shards[0].ShardId)
		require.Len(t, desc.StreamDescription.KeySchema, 1)
		assert.Equal(t, "id", *desc.StreamDescription.KeySchema[0].AttributeName)
	})

	t.Run("delete table removes the stream", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "events", types.StreamViewTypeNewImage)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "events")
		putSimpleItem(t, store, "events", map[string]types.AttributeValue{"id": s("x")})

		_, err := store.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String("events")})
		require.NoError(t, err)

		_, err = reader.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: aws.String(arn)})
		var notFound *streamstypes.ResourceNotFoundException
		require.ErrorAs(t, err, &notFound)
	})
}

func TestTTLSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("expired item is removed with a service REMOVE record", func(t *testing.T) {
		store, clock := newTestStore(t)
		createHashTable(t, store, "sessions", types.StreamViewTypeOldImage)
		reader := streams.NewReader(store.DB())
		arn := streamArnOf(t, store, "sessions")

		_, err := store.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String("sessions"),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String("ttl"),
				Enabled:       aws.Bool(true),
			},
		})
		require.NoError(t, err)

		putSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("t"), "ttl": n("100")})
		putSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("fresh"), "ttl": n("999999999999")})
		putSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("nottl")})

		removed, err := store.SweepExpired(ctx, clock.Now().Unix(), 100, "dynamodb.amazonaws.com")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		assert.Empty(t, getSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("t")}))
		assert.NotEmpty(t, getSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("fresh")}))

		records := readAllRecords(t, reader, arn)
		var removes []streamstypes.Record
		for _, rec := range records {
			if rec.EventName == streamstypes.OperationTypeRemove {
				removes = append(removes, rec)
			}
		}
		require.Len(t, removes, 1)
		require.NotNil(t, removes[0].UserIdentity)
		assert.Equal(t, "Service", *removes[0].UserIdentity.Type)
		assert.Equal(t, "dynamodb.amazonaws.com", *removes[0].UserIdentity.PrincipalId)
	})

	t.Run("non-numeric ttl attribute is ignored", func(t *testing.T) {
		store, clock := newTestStore(t)
		createHashTable(t, store, "sessions", "")
		_, err := store.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String("sessions"),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String("ttl"),
				Enabled:       aws.Bool(true),
			},
		})
		require.NoError(t, err)

		putSimpleItem(t, store, "sessions", map[string]types.AttributeValue{"id": s("str"), "ttl": s("100")})

		removed, err := store.SweepExpired(ctx, clock.Now().Unix(), 100, "dynamodb.amazonaws.com")
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
