package updateexpr

import (
	"testing"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, expr string, values map[string]types.AttributeValue, old map[string]types.AttributeValue) *EvalOutput {
	t.Helper()
	compiled, err := Parse(expr)
	require.NoError(t, err)
	out, err := compiled.Apply(EvalInput{ExpressionValues: values}, old)
	require.NoError(t, err)
	return out
}

func TestSet(t *testing.T) {
	t.Run("plain set", func(t *testing.T) {
		out := apply(t, "SET v = :v",
			map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "2"}},
			map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "a"}})
		assert.True(t, attrvalue.Equal(out.Item["v"], &types.AttributeValueMemberN{Value: "2"}))
	})

	t.Run("arithmetic uses exact decimals", func(t *testing.T) {
		out := apply(t, "SET balance = balance - :amt",
			map[string]types.AttributeValue{":amt": &types.AttributeValueMemberN{Value: "0.1"}},
			map[string]types.AttributeValue{"balance": &types.AttributeValueMemberN{Value: "100"}})
		n := out.Item["balance"].(*types.AttributeValueMemberN)
		assert.Equal(t, "99.9", n.Value)
	})

	t.Run("if_not_exists", func(t *testing.T) {
		out := apply(t, "SET counter = if_not_exists(counter, :zero) + :one",
			map[string]types.AttributeValue{
				":zero": &types.AttributeValueMemberN{Value: "0"},
				":one":  &types.AttributeValueMemberN{Value: "1"},
			},
			nil)
		n := out.Item["counter"].(*types.AttributeValueMemberN)
		assert.Equal(t, "1", n.Value)
	})

	t.Run("list_append", func(t *testing.T) {
		out := apply(t, "SET log = list_append(log, :more)",
			map[string]types.AttributeValue{
				":more": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: "b"},
				}},
			},
			map[string]types.AttributeValue{
				"log": &types.AttributeValueMemberL{Value: []types.AttributeValue{
					&types.AttributeValueMemberS{Value: "a"},
				}},
			})
		list := out.Item["log"].(*types.AttributeValueMemberL)
		require.Len(t, list.Value, 2)
	})

	t.Run("nested path creates maps", func(t *testing.T) {
		out := apply(t, "SET meta.owner = :o",
			map[string]types.AttributeValue{":o": &types.AttributeValueMemberS{Value: "ops"}},
			nil)
		m := out.Item["meta"].(*types.AttributeValueMemberM)
		assert.True(t, attrvalue.Equal(m.Value["owner"], &types.AttributeValueMemberS{Value: "ops"}))
	})
}

func TestAddRemoveDelete(t *testing.T) {
	old := map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: "x"},
		"counter": &types.AttributeValueMemberN{Value: "10"},
		"tags":    &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"unused":  &types.AttributeValueMemberS{Value: "bye"},
	}

	out := apply(t, "ADD counter :five, tags :more REMOVE unused",
		map[string]types.AttributeValue{
			":five": &types.AttributeValueMemberN{Value: "5"},
			":more": &types.AttributeValueMemberSS{Value: []string{"c"}},
		}, old)

	counter := out.Item["counter"].(*types.AttributeValueMemberN)
	assert.Equal(t, "15", counter.Value)

	tags := out.Item["tags"].(*types.AttributeValueMemberSS)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, tags.Value)

	_, hasUnused := out.Item["unused"]
	assert.False(t, hasUnused)

	// The pre-image is untouched.
	assert.Equal(t, "10", old["counter"].(*types.AttributeValueMemberN).Value)
}

func TestAddCreatesFreshAttribute(t *testing.T) {
	t.Run("number", func(t *testing.T) {
		out := apply(t, "ADD counter :n",
			map[string]types.AttributeValue{":n": &types.AttributeValueMemberN{Value: "3"}}, nil)
		assert.Equal(t, "3", out.Item["counter"].(*types.AttributeValueMemberN).Value)
	})
	t.Run("set", func(t *testing.T) {
		out := apply(t, "ADD tags :s",
			map[string]types.AttributeValue{":s": &types.AttributeValueMemberSS{Value: []string{"a"}}}, nil)
		assert.ElementsMatch(t, []string{"a"}, out.Item["tags"].(*types.AttributeValueMemberSS).Value)
	})
}

func TestDeleteSetDifference(t *testing.T) {
	out := apply(t, "DELETE tags :gone",
		map[string]types.AttributeValue{":gone": &types.AttributeValueMemberSS{Value: []string{"b"}}},
		map[string]types.AttributeValue{"tags": &types.AttributeValueMemberSS{Value: []string{"a", "b"}}})
	assert.ElementsMatch(t, []string{"a"}, out.Item["tags"].(*types.AttributeValueMemberSS).Value)

	out = apply(t, "DELETE tags :gone",
		map[string]types.AttributeValue{":gone": &types.AttributeValueMemberSS{Value: []string{"a"}}},
		map[string]types.AttributeValue{"tags": &types.AttributeValueMemberSS{Value: []string{"a"}}})
	_, has := out.Item["tags"]
	assert.False(t, has, "deleting the last member removes the attribute")
}

func TestRemoveListElement(t *testing.T) {
	out := apply(t, "REMOVE log[0]", nil,
		map[string]types.AttributeValue{
			"log": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberS{Value: "a"},
				&types.AttributeValueMemberS{Value: "b"},
			}},
		})
	list := out.Item["log"].(*types.AttributeValueMemberL)
	require.Len(t, list.Value, 1)
	assert.True(t, attrvalue.Equal(list.Value[0], &types.AttributeValueMemberS{Value: "b"}))
}

func TestTouchedAttributes(t *testing.T) {
	old := map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "x"},
		"v":  &types.AttributeValueMemberN{Value: "1"},
	}
	compiled, err := Parse("SET v = :v")
	require.NoError(t, err)
	out, err := compiled.Apply(EvalInput{
		ExpressionValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "2"}},
	}, old)
	require.NoError(t, err)

	updatedOld := out.TouchedAttributes(old)
	require.Len(t, updatedOld, 1)
	assert.Equal(t, "1", updatedOld["v"].(*types.AttributeValueMemberN).Value)

	updatedNew := out.TouchedAttributes(out.Item)
	assert.Equal(t, "2", updatedNew["v"].(*types.AttributeValueMemberN).Value)
}

func TestParseErrors(t *testing.T) {
	for name, expr := range map[string]string{
		"empty":            "",
		"duplicate clause": "SET a = :v SET b = :v",
		"size in SET":      "SET a = size(a)",
		"missing equals":   "SET a :v",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
		})
	}
}

func TestAddTypeMismatch(t *testing.T) {
	compiled, err := Parse("ADD tags :n")
	require.NoError(t, err)
	_, err = compiled.Apply(EvalInput{
		ExpressionValues: map[string]types.AttributeValue{":n": &types.AttributeValueMemberN{Value: "1"}},
	}, map[string]types.AttributeValue{"tags": &types.AttributeValueMemberSS{Value: []string{"a"}}})
	require.Error(t, err)
}
