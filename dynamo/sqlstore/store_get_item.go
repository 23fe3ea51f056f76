package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/projectionexpr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// GetItem fetches one item by primary key. A missing item is an empty result,
// not an error.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.Key == nil {
		return nil, ddberr.Validation("Key is required")
	}

	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := extractKeyOnly(def, params.Key)
	if err != nil {
		return nil, err
	}
	key, err := encodePrimaryKey(pk)
	if err != nil {
		return nil, ddberr.Validation("%s", err)
	}

	var projection *projectionexpr.Compiled
	if params.ProjectionExpression != nil {
		if projection, err = projectionexpr.Parse(*params.ProjectionExpression); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	if err := validatePlaceholders(combinedUsage(projection.Used()), params.ExpressionAttributeNames, nil); err != nil {
		return nil, err
	}

	var payload string
	err = s.db.QueryRowxContext(ctx,
		s.rebind(`SELECT payload FROM items WHERE table_name = ? AND hash_key = ? AND range_key = ?`),
		def.Name, key.Hash, key.Range).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return &dynamodb.GetItemOutput{}, nil
	}
	if err != nil {
		return nil, err
	}

	item, err := attrvalue.UnmarshalItem([]byte(payload))
	if err != nil {
		return nil, err
	}
	if projection != nil {
		if item, err = projection.Project(params.ExpressionAttributeNames, item); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}
