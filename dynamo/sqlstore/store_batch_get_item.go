package sqlstore

import (
	"context"

	"github.com/pretenderdb/pretender/dynamo/ddberr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const maxBatchGetKeys = 100

// BatchGetItem fans out reads across tables. Sub-requests fail independently;
// keys that could not be read come back as UnprocessedKeys for the caller to
// retry.
func (s *Store) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, ddberr.Validation("RequestItems is required")
	}

	total := 0
	for _, req := range params.RequestItems {
		total += len(req.Keys)
	}
	if total > maxBatchGetKeys {
		return nil, ddberr.Validation("Too many items requested for the BatchGetItem call: %d, max %d", total, maxBatchGetKeys)
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       make(map[string][]map[string]types.AttributeValue),
		UnprocessedKeys: make(map[string]types.KeysAndAttributes),
	}

	for tableName, req := range params.RequestItems {
		// Table-level failures (missing table, bad projection) fail the call;
		// per-key read failures only mark the key unprocessed.
		if _, err := s.catalog.get(ctx, tableName); err != nil {
			return nil, err
		}
		for _, key := range req.Keys {
			got, err := s.GetItem(ctx, &dynamodb.GetItemInput{
				TableName:                &tableName,
				Key:                      key,
				ProjectionExpression:     req.ProjectionExpression,
				ExpressionAttributeNames: req.ExpressionAttributeNames,
				ConsistentRead:           req.ConsistentRead,
			})
			if err != nil {
				if ddberr.IsClientFault(err) {
					return nil, err
				}
				s.logger.Warn("batch get sub-request failed; returning key unprocessed")
				unprocessed := out.UnprocessedKeys[tableName]
				unprocessed.Keys = append(unprocessed.Keys, key)
				unprocessed.ProjectionExpression = req.ProjectionExpression
				unprocessed.ExpressionAttributeNames = req.ExpressionAttributeNames
				out.UnprocessedKeys[tableName] = unprocessed
				continue
			}
			if got.Item != nil {
				out.Responses[tableName] = append(out.Responses[tableName], got.Item)
			}
		}
	}

	for tableName, unprocessed := range out.UnprocessedKeys {
		if len(unprocessed.Keys) == 0 {
			delete(out.UnprocessedKeys, tableName)
		}
	}
	return out, nil
}
