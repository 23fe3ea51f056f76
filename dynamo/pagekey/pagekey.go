// Package pagekey builds and validates the pagination cursors: a
// LastEvaluatedKey is the attribute-value map of the last examined row's
// primary key — plus the index key for GSI reads — echoed back verbatim as
// ExclusiveStartKey on the next call.
package pagekey

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Encode builds the wire token from an item. For index reads, indexKeys adds
// the GSI key attributes alongside the table's.
func Encode(item map[string]types.AttributeValue, tableKeys table.PrimaryKeyDefinition, indexKeys *table.PrimaryKeyDefinition) map[string]types.AttributeValue {
	token := make(map[string]types.AttributeValue, 4)
	put := func(keys table.PrimaryKeyDefinition) {
		if av, ok := item[keys.PartitionKey.Name]; ok {
			token[keys.PartitionKey.Name] = av
		}
		if keys.HasSortKey() {
			if av, ok := item[keys.SortKey.Name]; ok {
				token[keys.SortKey.Name] = av
			}
		}
	}
	put(tableKeys)
	if indexKeys != nil {
		put(*indexKeys)
	}
	return token
}

// Decode validates an ExclusiveStartKey against the target table (and index)
// schema and extracts the typed keys.
func Decode(start map[string]types.AttributeValue, tableKeys table.PrimaryKeyDefinition, indexKeys *table.PrimaryKeyDefinition) (base table.PrimaryKey, index *table.PrimaryKey, err error) {
	base, err = tableKeys.ExtractPrimaryKey(start)
	if err != nil {
		return base, nil, fmt.Errorf("invalid ExclusiveStartKey: %w", err)
	}
	want := keyAttrCount(tableKeys)
	if indexKeys != nil {
		idx, err := indexKeys.ExtractPrimaryKey(start)
		if err != nil {
			return base, nil, fmt.Errorf("invalid ExclusiveStartKey: %w", err)
		}
		index = &idx
		want = len(unionAttrs(tableKeys, *indexKeys))
	}
	if len(start) != want {
		return base, nil, fmt.Errorf("invalid ExclusiveStartKey: unexpected attributes")
	}
	return base, index, nil
}

func keyAttrCount(keys table.PrimaryKeyDefinition) int {
	if keys.HasSortKey() {
		return 2
	}
	return 1
}

func unionAttrs(a, b table.PrimaryKeyDefinition) map[string]struct{} {
	attrs := make(map[string]struct{}, 4)
	for _, keys := range []table.PrimaryKeyDefinition{a, b} {
		attrs[keys.PartitionKey.Name] = struct{}{}
		if keys.HasSortKey() {
			attrs[keys.SortKey.Name] = struct{}{}
		}
	}
	return attrs
}
