package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/projectionexpr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// TransactGetItems reads up to 100 items under one snapshot transaction,
// returning results in the input order.
func (s *Store) TransactGetItems(ctx context.Context, params *dynamodb.TransactGetItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactGetItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, ddberr.Validation("TransactItems is required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, ddberr.Validation("Member must have length less than or equal to %d", maxTransactItems)
	}

	responses := make([]types.ItemResponse, len(params.TransactItems))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i, item := range params.TransactItems {
			if item.Get == nil {
				return ddberr.Validation("item %d: transact item must contain Get", i)
			}
			get := item.Get
			if get.TableName == nil {
				return ddberr.Validation("item %d: TableName is required", i)
			}
			def, err := s.catalog.get(ctx, *get.TableName)
			if err != nil {
				return err
			}
			pk, err := extractKeyOnly(def, get.Key)
			if err != nil {
				return err
			}
			key, err := encodePrimaryKey(pk)
			if err != nil {
				return ddberr.Validation("%s", err)
			}

			var projection *projectionexpr.Compiled
			if get.ProjectionExpression != nil {
				if projection, err = projectionexpr.Parse(*get.ProjectionExpression); err != nil {
					return ddberr.Validation("item %d: %s", i, err)
				}
			}
			if err := validatePlaceholders(combinedUsage(projection.Used()), get.ExpressionAttributeNames, nil); err != nil {
				return err
			}

			var payload string
			err = tx.QueryRowx(tx.Rebind(
				`SELECT payload FROM items WHERE table_name = ? AND hash_key = ? AND range_key = ?`),
				def.Name, key.Hash, key.Range).Scan(&payload)
			if errors.Is(err, sql.ErrNoRows) {
				responses[i] = types.ItemResponse{}
				continue
			}
			if err != nil {
				return err
			}
			got, err := attrvalue.UnmarshalItem([]byte(payload))
			if err != nil {
				return err
			}
			if projection != nil {
				if got, err = projection.Project(get.ExpressionAttributeNames, got); err != nil {
					return ddberr.Validation("%s", err)
				}
			}
			responses[i] = types.ItemResponse{Item: got}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.TransactGetItemsOutput{Responses: responses}, nil
}
