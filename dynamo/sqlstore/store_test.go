package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	store, err := Open(context.Background(), Options{
		DatabaseURL: ":memory:",
		Logger:      zaptest.NewLogger(t),
		Clock:       clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

// createHashTable provisions a table with a single S hash key "id", and an
// optional stream.
func createHashTable(t *testing.T, store *Store, name string, streamView types.StreamViewType) {
	t.Helper()
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
	}
	if streamView != "" {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: streamView,
		}
	}
	_, err := store.CreateTable(context.Background(), input)
	require.NoError(t, err)
}

// createRangeTable provisions a table with S hash "pk" and N range "sk".
func createRangeTable(t *testing.T, store *Store, name string) {
	t.Helper()
	_, err := store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
	})
	require.NoError(t, err)
}

// createStatusIndexTable provisions hash "id" plus GSI "StatusIdx" on
// "status" with the given projection.
func createStatusIndexTable(t *testing.T, store *Store, name string, projection types.ProjectionType) {
	t.Helper()
	_, err := store.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("status"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String("StatusIdx"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("status"), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: projection},
		}},
	})
	require.NoError(t, err)
}

func putSimpleItem(t *testing.T, store *Store, tableName string, item map[string]types.AttributeValue) {
	t.Helper()
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      item,
	})
	require.NoError(t, err)
}

func getSimpleItem(t *testing.T, store *Store, tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	t.Helper()
	out, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key:       key,
	})
	require.NoError(t, err)
	return out.Item
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }
