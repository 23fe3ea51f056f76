package sqlstore

import (
	"context"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"
	"github.com/pretenderdb/pretender/dynamo/exprs/keyconditionexpr"
	"github.com/pretenderdb/pretender/dynamo/exprs/projectionexpr"
	"github.com/pretenderdb/pretender/dynamo/pagekey"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Query reads items matching a key condition, in range-key order, from the
// base table or a GSI.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.KeyConditionExpression == nil {
		return nil, ddberr.Validation("KeyConditionExpression is required")
	}

	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}

	readKeys, gsi, err := resolveReadKeys(def, params.IndexName)
	if err != nil {
		return nil, err
	}

	keyCond, err := keyconditionexpr.Parse(*params.KeyConditionExpression, keyconditionexpr.ParseParams{
		ExpressionAttributeNames:  params.ExpressionAttributeNames,
		ExpressionAttributeValues: params.ExpressionAttributeValues,
		TableKeys:                 readKeys,
	})
	if err != nil {
		return nil, ddberr.Validation("%s", err)
	}

	var filter *conditionexpr.Compiled
	if params.FilterExpression != nil {
		if filter, err = conditionexpr.Parse(*params.FilterExpression); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	var projection *projectionexpr.Compiled
	if params.ProjectionExpression != nil {
		if projection, err = projectionexpr.Parse(*params.ProjectionExpression); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	if err := validatePlaceholders(combinedUsage(keyCond.Used(), filter.Used(), projection.Used()),
		params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	hashBytes, err := encodeQueryHash(readKeys, keyCond.HashValue)
	if err != nil {
		return nil, err
	}

	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	order := "ASC"
	if !forward {
		order = "DESC"
	}

	var query string
	var args []any
	if gsi == nil {
		query = `SELECT payload FROM items WHERE table_name = ? AND hash_key = ?`
		args = append(args, def.Name, hashBytes)
	} else {
		query = `SELECT payload FROM gsi_projections WHERE table_name = ? AND index_name = ? AND gsi_hash = ?`
		args = append(args, def.Name, gsi.Name, hashBytes)
	}

	sortCol := "range_key"
	if gsi != nil {
		sortCol = "gsi_range"
	}
	sortPred, sortArgs, err := sortPredicate(sortCol, readKeys, keyCond)
	if err != nil {
		return nil, err
	}
	query += sortPred
	args = append(args, sortArgs...)

	if params.ExclusiveStartKey != nil {
		var idxKeys *table.PrimaryKeyDefinition
		if gsi != nil {
			idxKeys = &gsi.KeyDefinitions
		}
		basePK, idxPK, err := pagekey.Decode(params.ExclusiveStartKey, def.KeyDefinitions, idxKeys)
		if err != nil {
			return nil, ddberr.Validation("%s", err)
		}
		cmp := ">"
		if !forward {
			cmp = "<"
		}
		if gsi == nil {
			baseKey, err := encodePrimaryKey(basePK)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			query += fmt.Sprintf(` AND range_key %s ?`, cmp)
			args = append(args, baseKey.Range)
		} else {
			baseKey, err := encodePrimaryKey(basePK)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			gsiKey, err := encodePrimaryKey(*idxPK)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			query += fmt.Sprintf(` AND (gsi_range, base_hash, base_range) %s (?, ?, ?)`, cmp)
			args = append(args, gsiKey.Range, baseKey.Hash, baseKey.Range)
		}
	}

	if gsi == nil {
		query += fmt.Sprintf(` ORDER BY range_key %s`, order)
	} else {
		query += fmt.Sprintf(` ORDER BY gsi_range %s, base_hash %s, base_range %s`, order, order, order)
	}

	limit := 0
	if params.Limit != nil {
		limit = int(*params.Limit)
		query += ` LIMIT ?`
		args = append(args, limit+1)
	}

	rows, err := s.db.QueryxContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []map[string]types.AttributeValue
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		item, err := attrvalue.UnmarshalItem([]byte(payload))
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := &dynamodb.QueryOutput{}
	truncated := limit > 0 && len(candidates) > limit
	if truncated {
		candidates = candidates[:limit]
	}
	out.ScannedCount = int32(len(candidates))
	if truncated {
		var idxKeys *table.PrimaryKeyDefinition
		if gsi != nil {
			idxKeys = &gsi.KeyDefinitions
		}
		out.LastEvaluatedKey = pagekey.Encode(candidates[len(candidates)-1], def.KeyDefinitions, idxKeys)
	}

	items, err := s.applyFilter(filter, params.ExpressionAttributeNames, params.ExpressionAttributeValues, candidates)
	if err != nil {
		return nil, err
	}
	if projection != nil {
		for i, item := range items {
			if items[i], err = projection.Project(params.ExpressionAttributeNames, item); err != nil {
				return nil, ddberr.Validation("%s", err)
			}
		}
	}

	out.Items = items
	out.Count = int32(len(items))
	return out, nil
}

// resolveReadKeys picks the key schema a read operates under: the table's, or
// the named GSI's.
func resolveReadKeys(def table.Definition, indexName *string) (table.PrimaryKeyDefinition, *table.GSIDefinition, error) {
	if indexName == nil || *indexName == "" {
		return def.KeyDefinitions, nil, nil
	}
	gsi, ok := def.GSI(*indexName)
	if !ok {
		return table.PrimaryKeyDefinition{}, nil, ddberr.ResourceNotFound(
			"Requested resource not found: Index: %s not found on table %s", *indexName, def.Name)
	}
	return gsi.KeyDefinitions, &gsi, nil
}

func encodeQueryHash(keys table.PrimaryKeyDefinition, hashValue types.AttributeValue) ([]byte, error) {
	if !keys.PartitionKey.Matches(hashValue) {
		return nil, ddberr.Validation("partition key value type does not match schema type %s", keys.PartitionKey.Kind)
	}
	return encodeKeyValue(hashValue)
}

// sortPredicate renders the range-key part of a key condition as SQL over the
// order-preserving encoded column.
func sortPredicate(col string, keys table.PrimaryKeyDefinition, kc *keyconditionexpr.KeyCondition) (string, []any, error) {
	if kc.SortOp == "" {
		return "", nil, nil
	}
	if !keys.HasSortKey() {
		return "", nil, ddberr.Validation("key condition constrains a sort key, but the schema has none")
	}
	checkKind := func(av types.AttributeValue) ([]byte, error) {
		if !keys.SortKey.Matches(av) {
			return nil, ddberr.Validation("sort key value type does not match schema type %s", keys.SortKey.Kind)
		}
		return encodeKeyValue(av)
	}

	switch kc.SortOp {
	case keyconditionexpr.OpEqual, keyconditionexpr.OpLessThan, keyconditionexpr.OpLessOrEqual,
		keyconditionexpr.OpGreaterThan, keyconditionexpr.OpGreaterOrEqual:
		enc, err := checkKind(kc.SortValue)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf(` AND %s %s ?`, col, kc.SortOp), []any{enc}, nil

	case keyconditionexpr.OpBetween:
		lower, err := checkKind(kc.SortValue)
		if err != nil {
			return "", nil, err
		}
		upper, err := checkKind(kc.SortUpper)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf(` AND %s >= ? AND %s <= ?`, col, col), []any{lower, upper}, nil

	case keyconditionexpr.OpBeginsWith:
		if keys.SortKey.Kind == table.KeyKindN {
			return "", nil, ddberr.Validation("begins_with is not supported for N sort keys")
		}
		prefix, err := checkKind(kc.SortValue)
		if err != nil {
			return "", nil, err
		}
		upper := prefixSuccessor(prefix)
		if upper == nil {
			return fmt.Sprintf(` AND %s >= ?`, col), []any{prefix}, nil
		}
		return fmt.Sprintf(` AND %s >= ? AND %s < ?`, col, col), []any{prefix, upper}, nil
	}
	return "", nil, ddberr.Validation("unsupported sort key operator %s", kc.SortOp)
}

// prefixSuccessor returns the smallest byte string greater than every string
// with the given prefix, or nil when none exists (all 0xFF).
func prefixSuccessor(prefix []byte) []byte {
	succ := append([]byte{}, prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] < 0xFF {
			succ[i]++
			return succ[:i+1]
		}
	}
	return nil
}

// applyFilter evaluates a filter expression over candidates, after the limit
// cut.
func (s *Store) applyFilter(filter *conditionexpr.Compiled, names map[string]string, values map[string]types.AttributeValue, candidates []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	if filter == nil {
		return candidates, nil
	}
	input := conditionexpr.EvalInput{ExpressionNames: names, ExpressionValues: values}
	var kept []map[string]types.AttributeValue
	for _, item := range candidates {
		ok, err := filter.Eval(input, item)
		if err != nil {
			return nil, ddberr.Validation("%s", err)
		}
		if ok {
			kept = append(kept, item)
		}
	}
	return kept, nil
}
