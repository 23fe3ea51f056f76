package attrvalue

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberEqual(t *testing.T) {
	assert.True(t, NumberEqual("1", "1.0"))
	assert.True(t, NumberEqual("0.5", ".5"))
	assert.True(t, NumberEqual("100", "1e2"))
	assert.False(t, NumberEqual("1", "1.01"))
}

func TestCompareOrdering(t *testing.T) {
	t.Run("numeric", func(t *testing.T) {
		cmp, ok := Compare(
			&types.AttributeValueMemberN{Value: "9"},
			&types.AttributeValueMemberN{Value: "10"},
		)
		require.True(t, ok)
		assert.Negative(t, cmp)
	})

	t.Run("string code points", func(t *testing.T) {
		cmp, ok := Compare(
			&types.AttributeValueMemberS{Value: "a"},
			&types.AttributeValueMemberS{Value: "b"},
		)
		require.True(t, ok)
		assert.Negative(t, cmp)
	})

	t.Run("binary bytewise", func(t *testing.T) {
		cmp, ok := Compare(
			&types.AttributeValueMemberB{Value: []byte{0x01}},
			&types.AttributeValueMemberB{Value: []byte{0x01, 0x00}},
		)
		require.True(t, ok)
		assert.Negative(t, cmp)
	})

	t.Run("mismatched variants are unordered", func(t *testing.T) {
		_, ok := Compare(
			&types.AttributeValueMemberS{Value: "1"},
			&types.AttributeValueMemberN{Value: "1"},
		)
		assert.False(t, ok)
	})
}

func TestEqualSetsUnordered(t *testing.T) {
	a := &types.AttributeValueMemberSS{Value: []string{"x", "y"}}
	b := &types.AttributeValueMemberSS{Value: []string{"y", "x"}}
	assert.True(t, Equal(a, b))

	c := &types.AttributeValueMemberNS{Value: []string{"1.0", "2"}}
	d := &types.AttributeValueMemberNS{Value: []string{"2.0", "1"}}
	assert.True(t, Equal(c, d))
}

func TestEqualNestedContainers(t *testing.T) {
	a := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberN{Value: "1.0"},
		}},
	}}
	b := &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"l": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberN{Value: "1"},
		}},
	}}
	assert.True(t, Equal(a, b))
}
