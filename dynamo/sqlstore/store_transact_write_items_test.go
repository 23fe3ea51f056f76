package sqlstore

import (
	"context"
	"testing"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactWriteItems(t *testing.T) {
	ctx := context.Background()

	t.Run("failed condition rolls back every mutation", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", types.StreamViewTypeNewAndOldImages)
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{
			"id": s("r"), "version": n("1"), "data": s("orig"),
		})

		_, err := store.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Put: &types.Put{
						TableName: aws.String("accounts"),
						Item:      map[string]types.AttributeValue{"id": s("nw"), "data": s("new")},
					},
				},
				{
					Update: &types.Update{
						TableName:           aws.String("accounts"),
						Key:                 map[string]types.AttributeValue{"id": s("r")},
						UpdateExpression:    aws.String("SET #d = :d"),
						ConditionExpression: aws.String("version = :want"),
						ExpressionAttributeNames: map[string]string{
							"#d": "data",
						},
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":d":    s("changed"),
							":want": n("2"),
						},
					},
				},
			},
		})

		var cancelled *types.TransactionCanceledException
		require.ErrorAs(t, err, &cancelled)
		require.Len(t, cancelled.CancellationReasons, 2)
		assert.Equal(t, "None", *cancelled.CancellationReasons[0].Code)
		assert.Equal(t, "ConditionalCheckFailed", *cancelled.CancellationReasons[1].Code)

		assert.Empty(t, getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("nw")}))
		got := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("r")})
		assert.True(t, attrvalue.Equal(got["data"], s("orig")))

		// No stream records beyond the seeding put escaped the rollback.
		var records int
		require.NoError(t, store.DB().Get(&records, `SELECT COUNT(*) FROM stream_records`))
		assert.Equal(t, 1, records)
	})

	t.Run("transfer commits both sides", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a1"), "balance": n("500")})
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a2"), "balance": n("200")})

		_, err := store.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Update: &types.Update{
						TableName:           aws.String("accounts"),
						Key:                 map[string]types.AttributeValue{"id": s("a1")},
						UpdateExpression:    aws.String("SET balance = balance - :amt"),
						ConditionExpression: aws.String("balance >= :amt"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":amt": n("100"),
						},
					},
				},
				{
					Update: &types.Update{
						TableName:        aws.String("accounts"),
						Key:              map[string]types.AttributeValue{"id": s("a2")},
						UpdateExpression: aws.String("SET balance = balance + :amt"),
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":amt": n("100"),
						},
					},
				},
			},
		})
		require.NoError(t, err)

		a1 := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a1")})
		a2 := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a2")})
		assert.True(t, attrvalue.Equal(a1["balance"], n("400")))
		assert.True(t, attrvalue.Equal(a2["balance"], n("300")))
	})

	t.Run("duplicate keys are rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")

		_, err := store.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{Put: &types.Put{
					TableName: aws.String("accounts"),
					Item:      map[string]types.AttributeValue{"id": s("dup")},
				}},
				{ConditionCheck: &types.ConditionCheck{
					TableName:           aws.String("accounts"),
					Key:                 map[string]types.AttributeValue{"id": s("dup")},
					ConditionExpression: aws.String("attribute_exists(id)"),
				}},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "multiple operations")
	})

	t.Run("condition check without mutation", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("guard")})

		_, err := store.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{ConditionCheck: &types.ConditionCheck{
					TableName:           aws.String("accounts"),
					Key:                 map[string]types.AttributeValue{"id": s("guard")},
					ConditionExpression: aws.String("attribute_exists(id)"),
				}},
				{Put: &types.Put{
					TableName: aws.String("accounts"),
					Item:      map[string]types.AttributeValue{"id": s("payload")},
				}},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("payload")}))
	})
}

func TestTransactGetItems(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	createHashTable(t, store, "accounts", "")
	putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a"), "v": n("1")})

	out, err := store.TransactGetItems(ctx, &dynamodb.TransactGetItemsInput{
		TransactItems: []types.TransactGetItem{
			{Get: &types.Get{
				TableName: aws.String("accounts"),
				Key:       map[string]types.AttributeValue{"id": s("missing")},
			}},
			{Get: &types.Get{
				TableName: aws.String("accounts"),
				Key:       map[string]types.AttributeValue{"id": s("a")},
			}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.Responses, 2)
	assert.Nil(t, out.Responses[0].Item)
	assert.True(t, attrvalue.Equal(out.Responses[1].Item["v"], n("1")))
}
