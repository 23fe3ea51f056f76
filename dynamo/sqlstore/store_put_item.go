package sqlstore

import (
	"context"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// PutItem creates or fully replaces an item.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.Item == nil {
		return nil, ddberr.Validation("Item is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, ddberr.Validation("PutItem supports ReturnValues NONE and ALL_OLD, got %s", params.ReturnValues)
	}

	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := def.ExtractPrimaryKey(params.Item)
	if err != nil {
		return nil, ddberr.Validation("%s", err)
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

		return s.persistItem(tx, def, oldItem, params.Item)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && oldItem != nil {
		out.Attributes = oldItem
	}
	return out, nil
}
