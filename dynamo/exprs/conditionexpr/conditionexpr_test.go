package conditionexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: "a"},
		"version": &types.AttributeValueMemberN{Value: "3"},
		"balance": &types.AttributeValueMemberN{Value: "500"},
		"tags":    &types.AttributeValueMemberSS{Value: []string{"red", "blue"}},
		"title":   &types.AttributeValueMemberS{Value: "hello world"},
		"meta": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"owner": &types.AttributeValueMemberS{Value: "ops"},
			"ids": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberN{Value: "1"},
				&types.AttributeValueMemberN{Value: "2"},
			}},
		}},
	}
}

func TestEval(t *testing.T) {
	doc := testDoc()

	cases := []struct {
		name   string
		expr   string
		values map[string]types.AttributeValue
		names  map[string]string
		want   bool
	}{
		{
			name:   "equality with numeric coercion",
			expr:   "version = :v",
			values: map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "3.0"}},
			want:   true,
		},
		{
			name: "comparison and AND",
			expr: "balance >= :min AND version < :max",
			values: map[string]types.AttributeValue{
				":min": &types.AttributeValueMemberN{Value: "100"},
				":max": &types.AttributeValueMemberN{Value: "10"},
			},
			want: true,
		},
		{
			name: "OR with NOT",
			expr: "NOT version = :v OR id = :id",
			values: map[string]types.AttributeValue{
				":v":  &types.AttributeValueMemberN{Value: "3"},
				":id": &types.AttributeValueMemberS{Value: "a"},
			},
			want: true,
		},
		{
			name: "between",
			expr: "balance BETWEEN :lo AND :hi",
			values: map[string]types.AttributeValue{
				":lo": &types.AttributeValueMemberN{Value: "400"},
				":hi": &types.AttributeValueMemberN{Value: "600"},
			},
			want: true,
		},
		{
			name: "in list",
			expr: "id IN (:a, :b)",
			values: map[string]types.AttributeValue{
				":a": &types.AttributeValueMemberS{Value: "z"},
				":b": &types.AttributeValueMemberS{Value: "a"},
			},
			want: true,
		},
		{
			name: "attribute_exists on nested path",
			expr: "attribute_exists(meta.owner)",
			want: true,
		},
		{
			name: "attribute_not_exists",
			expr: "attribute_not_exists(missing)",
			want: true,
		},
		{
			name:   "attribute_type",
			expr:   "attribute_type(tags, :t)",
			values: map[string]types.AttributeValue{":t": &types.AttributeValueMemberS{Value: "SS"}},
			want:   true,
		},
		{
			name:   "begins_with",
			expr:   "begins_with(title, :p)",
			values: map[string]types.AttributeValue{":p": &types.AttributeValueMemberS{Value: "hello"}},
			want:   true,
		},
		{
			name:   "contains substring",
			expr:   "contains(title, :sub)",
			values: map[string]types.AttributeValue{":sub": &types.AttributeValueMemberS{Value: "o w"}},
			want:   true,
		},
		{
			name:   "contains set member",
			expr:   "contains(tags, :tag)",
			values: map[string]types.AttributeValue{":tag": &types.AttributeValueMemberS{Value: "blue"}},
			want:   true,
		},
		{
			name:   "contains list member numeric",
			expr:   "contains(meta.ids, :n)",
			values: map[string]types.AttributeValue{":n": &types.AttributeValueMemberN{Value: "2.0"}},
			want:   true,
		},
		{
			name:   "size comparison",
			expr:   "size(tags) = :two",
			values: map[string]types.AttributeValue{":two": &types.AttributeValueMemberN{Value: "2"}},
			want:   true,
		},
		{
			name:   "list index path",
			expr:   "meta.ids[1] = :n",
			values: map[string]types.AttributeValue{":n": &types.AttributeValueMemberN{Value: "2"}},
			want:   true,
		},
		{
			name:   "missing path never matches",
			expr:   "missing = :v",
			values: map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "1"}},
			want:   false,
		},
		{
			name:  "name placeholder",
			expr:  "#n = :v",
			names: map[string]string{"#n": "id"},
			values: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberS{Value: "a"},
			},
			want: true,
		},
		{
			name: "parenthesized precedence",
			expr: "(id = :x OR id = :y) AND version = :v",
			values: map[string]types.AttributeValue{
				":x": &types.AttributeValueMemberS{Value: "a"},
				":y": &types.AttributeValueMemberS{Value: "b"},
				":v": &types.AttributeValueMemberN{Value: "3"},
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Eval(tc.expr, EvalInput{
				ExpressionNames:  tc.names,
				ExpressionValues: tc.values,
			}, doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalAgainstAbsentItem(t *testing.T) {
	got, err := Eval("attribute_not_exists(id)", EvalInput{}, nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestParseErrors(t *testing.T) {
	for name, expr := range map[string]string{
		"dangling AND":       "id = :v AND",
		"reserved word":      "status = :v",
		"unknown function":   "frobnicate(id)",
		"update-only fn":     "if_not_exists(id, :v) = :v",
		"missing comparator": "id :v",
		"unbalanced paren":   "(id = :v",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
		})
	}
}

func TestUndefinedPlaceholder(t *testing.T) {
	_, err := Eval("id = :missing", EvalInput{}, testDoc())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":missing")
}

func TestUsageTracking(t *testing.T) {
	compiled, err := Parse("#a = :x AND begins_with(#b, :y)")
	require.NoError(t, err)
	assert.Contains(t, compiled.Usage.Names, "#a")
	assert.Contains(t, compiled.Usage.Names, "#b")
	assert.Contains(t, compiled.Usage.Values, ":x")
	assert.Contains(t, compiled.Usage.Values, ":y")
}
