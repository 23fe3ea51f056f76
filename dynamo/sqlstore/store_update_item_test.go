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

func TestUpdateItem(t *testing.T) {
	ctx := context.Background()

	t.Run("add and remove in one expression", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{
			"id":      s("x"),
			"counter": n("10"),
			"tags":    &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
			"unused":  s("bye"),
		})

		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String("accounts"),
			Key:              map[string]types.AttributeValue{"id": s("x")},
			UpdateExpression: aws.String("ADD counter :five, tags :c REMOVE unused"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":five": n("5"),
				":c":    &types.AttributeValueMemberSS{Value: []string{"c"}},
			},
		})
		require.NoError(t, err)

		got := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("x")})
		assert.True(t, attrvalue.Equal(got["counter"], n("15")))
		tags := got["tags"].(*types.AttributeValueMemberSS)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, tags.Value)
		assert.NotContains(t, got, "unused")
	})

	t.Run("upsert on absent item materializes the key", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")

		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String("accounts"),
			Key:              map[string]types.AttributeValue{"id": s("fresh")},
			UpdateExpression: aws.String("SET v = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": n("1"),
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		require.NoError(t, err)
		assert.True(t, attrvalue.Equal(out.Attributes["id"], s("fresh")))
		assert.True(t, attrvalue.Equal(out.Attributes["v"], n("1")))
	})

	t.Run("condition on version blocks stale writers", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{
			"id": s("r"), "version": n("1"), "data": s("orig"),
		})

		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String("accounts"),
			Key:                 map[string]types.AttributeValue{"id": s("r")},
			UpdateExpression:    aws.String("SET #d = :d"),
			ConditionExpression: aws.String("version = :want"),
			ExpressionAttributeNames: map[string]string{
				"#d": "data",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d":    s("new"),
				":want": n("2"),
			},
		})
		var failed *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &failed)

		got := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("r")})
		assert.True(t, attrvalue.Equal(got["data"], s("orig")))
	})

	t.Run("updated old and new return values", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{
			"id": s("u"), "v": n("1"), "other": s("untouched"),
		})

		oldOut, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String("accounts"),
			Key:                       map[string]types.AttributeValue{"id": s("u")},
			UpdateExpression:          aws.String("SET v = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": n("2")},
			ReturnValues:              types.ReturnValueUpdatedOld,
		})
		require.NoError(t, err)
		require.Len(t, oldOut.Attributes, 1)
		assert.True(t, attrvalue.Equal(oldOut.Attributes["v"], n("1")))

		newOut, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String("accounts"),
			Key:                       map[string]types.AttributeValue{"id": s("u")},
			UpdateExpression:          aws.String("SET v = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": n("3")},
			ReturnValues:              types.ReturnValueUpdatedNew,
		})
		require.NoError(t, err)
		require.Len(t, newOut.Attributes, 1)
		assert.True(t, attrvalue.Equal(newOut.Attributes["v"], n("3")))
	})

	t.Run("key attributes cannot be modified", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("k")})

		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String("accounts"),
			Key:                       map[string]types.AttributeValue{"id": s("k")},
			UpdateExpression:          aws.String("SET id = :other"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":other": s("changed")},
		})
		require.Error(t, err)
	})
}

func TestDeleteItem(t *testing.T) {
	ctx := context.Background()

	t.Run("delete removes the item", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")
		putSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a"), "v": n("1")})

		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    aws.String("accounts"),
			Key:          map[string]types.AttributeValue{"id": s("a")},
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.True(t, attrvalue.Equal(out.Attributes["v"], n("1")))

		got := getSimpleItem(t, store, "accounts", map[string]types.AttributeValue{"id": s("a")})
		assert.Empty(t, got)
	})

	t.Run("deleting a missing item succeeds", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")

		_, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String("accounts"),
			Key:       map[string]types.AttributeValue{"id": s("ghost")},
		})
		require.NoError(t, err)
	})

	t.Run("condition demanding existence fails on missing item", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "accounts", "")

		_, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String("accounts"),
			Key:                 map[string]types.AttributeValue{"id": s("ghost")},
			ConditionExpression: aws.String("attribute_exists(id)"),
		})
		var failed *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &failed)
	})
}
