package sqlstore

import (
	"context"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"
	"github.com/pretenderdb/pretender/dynamo/exprs/updateexpr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// UpdateItem applies an update expression. An absent pre-image is treated as
// an empty item carrying the key attributes, giving upsert semantics.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.Key == nil {
		return nil, ddberr.Validation("Key is required")
	}
	if params.UpdateExpression == nil {
		return nil, ddberr.Validation("UpdateExpression is required")
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

	update, err := updateexpr.Parse(*params.UpdateExpression)
	if err != nil {
		return nil, ddberr.Validation("%s", err)
	}
	var condition *conditionexpr.Compiled
	if params.ConditionExpression != nil {
		if condition, err = conditionexpr.Parse(*params.ConditionExpression); err != nil {
			return nil, ddberr.Validation("%s", err)
		}
	}
	if err := validatePlaceholders(combinedUsage(update.Used(), condition.Used()),
		params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}

	evalInput := updateexpr.EvalInput{
		ExpressionNames:  params.ExpressionAttributeNames,
		ExpressionValues: params.ExpressionAttributeValues,
	}

	var oldItem map[string]types.AttributeValue
	var result *updateexpr.EvalOutput
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

		// The expression runs over the pre-image plus the key attributes, so
		// an upsert materializes the key.
		base := make(map[string]types.AttributeValue, len(oldItem)+len(params.Key))
		for k, v := range oldItem {
			base[k] = v
		}
		for k, v := range params.Key {
			base[k] = v
		}

		result, err = update.Apply(evalInput, base)
		if err != nil {
			return ddberr.Validation("%s", err)
		}

		// The update expression may not touch key attributes.
		newPK, err := def.ExtractPrimaryKey(result.Item)
		if err != nil {
			return ddberr.Validation("%s", err)
		}
		if !attrvalue.Equal(newPK.Values.PartitionKey, pk.Values.PartitionKey) ||
			(def.KeyDefinitions.HasSortKey() && !attrvalue.Equal(newPK.Values.SortKey, pk.Values.SortKey)) {
			return ddberr.Validation("update expression may not modify key attributes")
		}

		return s.persistItem(tx, def, oldItem, result.Item)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllOld:
		if oldItem != nil {
			out.Attributes = oldItem
		}
	case types.ReturnValueAllNew:
		out.Attributes = result.Item
	case types.ReturnValueUpdatedOld:
		if oldItem != nil {
			out.Attributes = result.TouchedAttributes(oldItem)
		}
	case types.ReturnValueUpdatedNew:
		out.Attributes = result.TouchedAttributes(result.Item)
	}
	return out, nil
}
