package projectionexpr

import (
	"testing"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject(t *testing.T) {
	item := map[string]types.AttributeValue{
		"id":    &types.AttributeValueMemberS{Value: "a"},
		"extra": &types.AttributeValueMemberS{Value: "drop me"},
		"meta": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"owner": &types.AttributeValueMemberS{Value: "ops"},
			"other": &types.AttributeValueMemberS{Value: "drop me too"},
		}},
	}

	compiled, err := Parse("id, meta.owner, missing")
	require.NoError(t, err)

	got, err := compiled.Project(nil, item)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, attrvalue.Equal(got["id"], item["id"]))
	meta := got["meta"].(*types.AttributeValueMemberM)
	require.Len(t, meta.Value, 1)
	assert.True(t, attrvalue.Equal(meta.Value["owner"], &types.AttributeValueMemberS{Value: "ops"}))
}

func TestProjectWithNamePlaceholders(t *testing.T) {
	item := map[string]types.AttributeValue{
		"status": &types.AttributeValueMemberS{Value: "active"},
	}
	compiled, err := Parse("#s")
	require.NoError(t, err)
	got, err := compiled.Project(map[string]string{"#s": "status"}, item)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseErrors(t *testing.T) {
	for name, expr := range map[string]string{
		"empty":          "",
		"trailing comma": "a, b,",
		"reserved":       "name",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
		})
	}
}
