package sqlstore

import (
	"context"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// DeleteItem removes one item. Deleting a non-existent item succeeds without
// emitting a stream record, unless a condition demands existence.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.Key == nil {
		return nil, ddberr.Validation("Key is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, ddberr.Validation("DeleteItem supports ReturnValues NONE and ALL_OLD, got %s", params.ReturnValues)
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

	var condition *conditionexpr.Compiled
	if params.ConditionExpression != nil {
		if condition, err = conditionexpr.Parse(*params.ConditionExpression); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	if err := validatePlaceholders(combinedUsage(condition.Used()), params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	var oldItem map[string]types.AttributeValue
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var found bool
		oldItem, found, err = s.loadItemLocked(tx, def, key)
		if err != nil {
			return err
		}
		if !found {
			oldItem = nil
		}

		if condition != nil {
			ok, err := condition.Eval(conditionexpr.EvalInput{
				ExpressionNames:  params.ExpressionAttributeNames,
				ExpressionValues: params.ExpressionAttributeValues,
			}, oldItem)
			if err != nil {
				return ddberr.Validation("%s", err)
			}
			if !ok {
				return ddberr.ConditionalCheckFailed(nil)
			}
		}

		return s.removeItem(tx, def, key, oldItem, "")
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && oldItem != nil {
		out.Attributes = oldItem
	}
	return out, nil
}
