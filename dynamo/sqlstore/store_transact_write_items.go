package sqlstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/conditionexpr"
	"github.com/pretenderdb/pretender/dynamo/exprs/updateexpr"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

const maxTransactItems = 100

// txOpKind discriminates the four transact-write entry types.
type txOpKind int

const (
	txPut txOpKind = iota
	txUpdate
	txDelete
	txConditionCheck
)

// txOp is one planned transact-write entry, with its expressions compiled and
// its key encoded up front.
type txOp struct {
	index     int
	kind      txOpKind
	def       table.Definition
	pk        table.PrimaryKey
	key       encodedKey
	item      map[string]types.AttributeValue // Put only
	update    *updateexpr.Compiled            // Update only
	condition *conditionexpr.Compiled
	names     map[string]string
	values    map[string]types.AttributeValue

	oldItem map[string]types.AttributeValue
	found   bool
}

// TransactWriteItems applies up to 100 writes atomically. All target rows are
// locked in deterministic (tableName, keyBytes) order before any condition is
// evaluated; a single failed condition cancels the whole transaction with
// per-item reasons.
func (s *Store) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if params == nil || len(params.TransactItems) == 0 {
		return nil, ddberr.Validation("TransactItems is required")
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, ddberr.Validation("Member must have length less than or equal to %d", maxTransactItems)
	}

	ops, err := s.planTransactWrite(ctx, params.TransactItems)
	if err != nil {
		return nil, err
	}

	// Duplicate primary keys within one transaction are rejected.
	seen := make(map[string]int, len(ops))
	for _, op := range ops {
		id := fmt.Sprintf("%s\x00%x\x00%x", op.def.Name, op.key.Hash, op.key.Range)
		if _, dup := seen[id]; dup {
			return nil, ddberr.Validation("Transaction request cannot include multiple operations on one item")
		}
		seen[id] = op.index
	}

	// Deterministic lock order across concurrent transactions.
	locked := make([]*txOp, len(ops))
	copy(locked, ops)
	sort.Slice(locked, func(i, j int) bool {
		if locked[i].def.Name != locked[j].def.Name {
			return locked[i].def.Name < locked[j].def.Name
		}
		if c := bytes.Compare(locked[i].key.Hash, locked[j].key.Hash); c != 0 {
			return c < 0
		}
		return bytes.Compare(locked[i].key.Range, locked[j].key.Range) < 0
	})

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, op := range locked {
			op.oldItem, op.found, err = s.loadItemLocked(tx, op.def, op.key)
			if err != nil {
				return err
			}
			if !op.found {
				op.oldItem = nil
			}
		}

		reasons := make([]types.CancellationReason, len(ops))
		cancelled := false
		for i, op := range ops {
			reasons[i] = types.CancellationReason{Code: strRef("None")}
			if op.condition == nil {
				continue
			}
			ok, err := op.condition.Eval(conditionexpr.EvalInput{
				ExpressionNames:  op.names,
				ExpressionValues: op.values,
			}, op.oldItem)
			if err != nil {
				reasons[i] = types.CancellationReason{
					Code:    strRef("ValidationError"),
					Message: strRef(err.Error()),
				}
				cancelled = true
				continue
			}
			if !ok {
				reasons[i] = types.CancellationReason{
					Code:    strRef("ConditionalCheckFailed"),
					Message: strRef("The conditional request failed"),
				}
				cancelled = true
			}
		}
		if cancelled {
			return ddberr.TransactionCanceled(reasons)
		}

		for _, op := range ops {
			switch op.kind {
			case txPut:
				if err := s.persistItem(tx, op.def, op.oldItem, op.item); err != nil {
					return err
				}
			case txUpdate:
				base := make(map[string]types.AttributeValue, len(op.oldItem)+2)
				for k, v := range op.oldItem {
					base[k] = v
				}
				for k, v := range op.pk.DDB() {
					base[k] = v
				}
				result, err := op.update.Apply(updateexpr.EvalInput{
					ExpressionNames:  op.names,
					ExpressionValues: op.values,
				}, base)
				if err != nil {
					return ddberr.Validation("%s", err)
				}
				if err := s.persistItem(tx, op.def, op.oldItem, result.Item); err != nil {
					return err
				}
			case txDelete:
				if err := s.removeItem(tx, op.def, op.key, op.oldItem, ""); err != nil {
					return err
				}
			case txConditionCheck:
				// Assert-only, nothing to write.
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// planTransactWrite validates and compiles every entry before anything locks.
func (s *Store) planTransactWrite(ctx context.Context, items []types.TransactWriteItem) ([]*txOp, error) {
	ops := make([]*txOp, 0, len(items))
	for i, item := range items {
		op := &txOp{index: i}
		var tableName *string
		var keySource map[string]types.AttributeValue
		var conditionExpr *string

		switch {
		case item.Put != nil:
			op.kind = txPut
			tableName = item.Put.TableName
			op.item = item.Put.Item
			keySource = item.Put.Item
			conditionExpr = item.Put.ConditionExpression
			op.names = item.Put.ExpressionAttributeNames
			op.values = item.Put.ExpressionAttributeValues
		case item.Update != nil:
			op.kind = txUpdate
			tableName = item.Update.TableName
			keySource = item.Update.Key
			conditionExpr = item.Update.ConditionExpression
			op.names = item.Update.ExpressionAttributeNames
			op.values = item.Update.ExpressionAttributeValues
			if item.Update.UpdateExpression == nil {
				return nil, ddberr.Validation("item %d: UpdateExpression is required", i)
			}
			update, err := updateexpr.Parse(*item.Update.UpdateExpression)
			if err != nil {
				return nil, ddberr.Validation("item %d: %s", i, err)
			}
			op.update = update
		case item.Delete != nil:
			op.kind = txDelete
			tableName = item.Delete.TableName
			keySource = item.Delete.Key
			conditionExpr = item.Delete.ConditionExpression
			op.names = item.Delete.ExpressionAttributeNames
			op.values = item.Delete.ExpressionAttributeValues
		case item.ConditionCheck != nil:
			op.kind = txConditionCheck
			tableName = item.ConditionCheck.TableName
			keySource = item.ConditionCheck.Key
			conditionExpr = item.ConditionCheck.ConditionExpression
			op.names = item.ConditionCheck.ExpressionAttributeNames
			op.values = item.ConditionCheck.ExpressionAttributeValues
			if conditionExpr == nil {
				return nil, ddberr.Validation("item %d: ConditionCheck requires a ConditionExpression", i)
			}
		default:
			return nil, ddberr.Validation("item %d: transact item must contain Put, Update, Delete or ConditionCheck", i)
		}

		if tableName == nil {
			return nil, ddberr.Validation("item %d: TableName is required", i)
		}
		def, err := s.catalog.get(ctx, *tableName)
		if err != nil {
			return nil, err
		}
		op.def = def

		if op.kind == txPut {
			op.pk, err = def.ExtractPrimaryKey(keySource)
		} else {
			op.pk, err = extractKeyOnly(def, keySource)
		}
		if err != nil {
			return nil, ddberr.Validation("item %d: %s", i, err)
		}
		op.key, err = encodePrimaryKey(op.pk)
		if err != nil {
			return nil, ddberr.Validation("item %d: %s", i, err)
		}

		if conditionExpr != nil {
			if op.condition, err = conditionexpr.Parse(*conditionExpr); err != nil {
				return nil, ddberr.Validation("item %d: %s", i, err)
			}
		}
		usage := combinedUsage(op.condition.Used(), op.update.Used())
		if err := validatePlaceholders(usage, op.names, op.values); err != nil {
			return nil, ddberr.Validation("item %d: %s", i, err)
		}

		ops = append(ops, op)
	}
	return ops, nil
}

func strRef(s string) *string { return &s }
