package sqlstore

import (
	"context"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"
	"github.com/pretenderdb/pretender/dynamo/exprs/projectionexpr"
	"github.com/pretenderdb/pretender/dynamo/pagekey"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Scan walks a table or index in primary-key order. Segmented scans partition
// the hash-key space into disjoint buckets.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if (params.Segment == nil) != (params.TotalSegments == nil) {
		return nil, ddberr.Validation("Segment and TotalSegments must be provided together")
	}
	if params.TotalSegments != nil {
		if *params.TotalSegments < 1 {
			return nil, ddberr.Validation("TotalSegments must be at least 1")
		}
		if *params.Segment < 0 || *params.Segment >= *params.TotalSegments {
			return nil, ddberr.Validation("Segment must be in [0, TotalSegments)")
		}
		if params.IndexName != nil {
			return nil, ddberr.Validation("segmented scans are not supported on indexes")
		}
	}

	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}
	_, gsi, err := resolveReadKeys(def, params.IndexName)
	if err != nil {
		return nil, err
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
	if err := validatePlaceholders(combinedUsage(filter.Used(), projection.Used()),
		params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	var query string
	var args []any
	if gsi == nil {
		query = `SELECT payload FROM items WHERE table_name = ?`
		args = append(args, def.Name)
		if params.TotalSegments != nil {
			query += ` AND segment_hash % ? = ?`
			args = append(args, int64(*params.TotalSegments), int64(*params.Segment))
		}
	} else {
		query = `SELECT payload FROM gsi_projections WHERE table_name = ? AND index_name = ?`
		args = append(args, def.Name, gsi.Name)
	}

	if params.ExclusiveStartKey != nil {
		var idxKeys *table.PrimaryKeyDefinition
		if gsi != nil {
			idxKeys = &gsi.KeyDefinitions
		}
		basePK, idxPK, err := pagekey.Decode(params.ExclusiveStartKey, def.KeyDefinitions, idxKeys)
		if err != nil {
			return nil, ddberr.Validation("%s", err)
		}
		baseKey, err := encodePrimaryKey(basePK)
		if err != nil {
			return nil, ddberr.Validation("%s", err)
		}
		if gsi == nil {
			query += ` AND (hash_key, range_key) > (?, ?)`
			args = append(args, baseKey.Hash, baseKey.Range)
		} else {
			gsiKey, err := encodePrimaryKey(*idxPK)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			query += ` AND (gsi_hash, gsi_range, base_hash, base_range) > (?, ?, ?, ?)`
			args = append(args, gsiKey.Hash, gsiKey.Range, baseKey.Hash, baseKey.Range)
		}
	}

	if gsi == nil {
		query += ` ORDER BY hash_key, range_key`
	} else {
		query += ` ORDER BY gsi_hash, gsi_range, base_hash, base_range`
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
			return nil, fmt.Errorf("decode item: %w", err)
		}
		candidates = append(candidates, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := &dynamodb.ScanOutput{}
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
