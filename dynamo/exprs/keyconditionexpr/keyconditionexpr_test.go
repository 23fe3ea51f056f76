package keyconditionexpr

import (
	"testing"

	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashRangeKeys = table.PrimaryKeyDefinition{
	PartitionKey: table.KeyDefinition{Name: "pk", Kind: table.KeyKindS},
	SortKey:      table.KeyDefinition{Name: "sk", Kind: table.KeyKindN},
}

func values(pairs map[string]types.AttributeValue) map[string]types.AttributeValue {
	return pairs
}

func TestParseShapes(t *testing.T) {
	t.Run("hash only", func(t *testing.T) {
		kc, err := Parse("pk = :p", ParseParams{
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: "a"},
			}),
			TableKeys: hashRangeKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, SortKeyOp(""), kc.SortOp)
		assert.True(t, kc.HashValue != nil)
	})

	t.Run("hash and range comparison", func(t *testing.T) {
		kc, err := Parse("pk = :p AND sk >= :s", ParseParams{
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: "a"},
				":s": &types.AttributeValueMemberN{Value: "5"},
			}),
			TableKeys: hashRangeKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, OpGreaterOrEqual, kc.SortOp)
	})

	t.Run("between", func(t *testing.T) {
		kc, err := Parse("pk = :p AND sk BETWEEN :lo AND :hi", ParseParams{
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p":  &types.AttributeValueMemberS{Value: "a"},
				":lo": &types.AttributeValueMemberN{Value: "1"},
				":hi": &types.AttributeValueMemberN{Value: "9"},
			}),
			TableKeys: hashRangeKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, OpBetween, kc.SortOp)
		assert.NotNil(t, kc.SortUpper)
	})

	t.Run("begins_with", func(t *testing.T) {
		keys := hashRangeKeys
		keys.SortKey.Kind = table.KeyKindS
		kc, err := Parse("pk = :p AND begins_with(sk, :prefix)", ParseParams{
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p":      &types.AttributeValueMemberS{Value: "a"},
				":prefix": &types.AttributeValueMemberS{Value: "ord#"},
			}),
			TableKeys: keys,
		})
		require.NoError(t, err)
		assert.Equal(t, OpBeginsWith, kc.SortOp)
	})

	t.Run("flipped comparison normalizes", func(t *testing.T) {
		kc, err := Parse("pk = :p AND :s > sk", ParseParams{
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: "a"},
				":s": &types.AttributeValueMemberN{Value: "5"},
			}),
			TableKeys: hashRangeKeys,
		})
		require.NoError(t, err)
		assert.Equal(t, OpLessThan, kc.SortOp)
	})

	t.Run("name placeholder", func(t *testing.T) {
		_, err := Parse("#p = :p", ParseParams{
			ExpressionAttributeNames: map[string]string{"#p": "pk"},
			ExpressionAttributeValues: values(map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: "a"},
			}),
			TableKeys: hashRangeKeys,
		})
		require.NoError(t, err)
	})
}

func TestParseRejections(t *testing.T) {
	env := values(map[string]types.AttributeValue{
		":p": &types.AttributeValueMemberS{Value: "a"},
		":s": &types.AttributeValueMemberN{Value: "1"},
	})
	for name, expr := range map[string]string{
		"missing hash":          "sk = :s",
		"hash inequality":       "pk > :p",
		"non-key attribute":     "pk = :p AND other = :s",
		"or is invalid":         "pk = :p OR sk = :s",
		"sort not-equal":        "pk = :p AND sk <> :s",
		"three terms":           "pk = :p AND sk = :s AND sk = :s",
		"hash twice":            "pk = :p AND pk = :p",
		"filter-style function": "attribute_exists(pk)",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr, ParseParams{ExpressionAttributeValues: env, TableKeys: hashRangeKeys})
			require.Error(t, err)
		})
	}
}
