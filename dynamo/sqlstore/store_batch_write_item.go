package sqlstore

import (
	"context"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const maxBatchWriteItems = 25

// BatchWriteItem fans out puts and deletes across tables, non-atomically.
// Each sub-request commits on its own; failed writes and oversized items come
// back as UnprocessedItems.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, ddberr.Validation("RequestItems is required")
	}

	total := 0
	for _, reqs := range params.RequestItems {
		total += len(reqs)
	}
	if total > maxBatchWriteItems {
		return nil, ddberr.Validation("Too many items requested for the BatchWriteItem call: %d, max %d", total, maxBatchWriteItems)
	}

	// Duplicate keys within one call are rejected outright, as AWS does.
	seen := make(map[string]struct{}, total)
	for tableName, reqs := range params.RequestItems {
		def, err := s.catalog.get(ctx, tableName)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			var keySource map[string]types.AttributeValue
			switch {
			case req.PutRequest != nil:
				keySource = req.PutRequest.Item
			case req.DeleteRequest != nil:
				keySource = req.DeleteRequest.Key
			default:
				return nil, ddberr.Validation("write request must contain a PutRequest or DeleteRequest")
			}
			pk, err := def.ExtractPrimaryKey(keySource)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			enc, err := encodePrimaryKey(pk)
			if err != nil {
				return nil, ddberr.Validation("%s", err)
			}
			dedupe := fmt.Sprintf("%s\x00%x\x00%x", tableName, enc.Hash, enc.Range)
			if _, dup := seen[dedupe]; dup {
				return nil, ddberr.Validation("Provided list of item keys contains duplicates")
			}
			seen[dedupe] = struct{}{}
		}
	}

	unprocessed := make(map[string][]types.WriteRequest)
	for tableName, reqs := range params.RequestItems {
		for _, req := range reqs {
			if err := s.applyBatchWrite(ctx, tableName, req); err != nil {
				if ddberr.IsClientFault(err) {
					return nil, err
				}
				s.logger.Warn("batch write sub-request failed; returning item unprocessed")
				unprocessed[tableName] = append(unprocessed[tableName], req)
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

func (s *Store) applyBatchWrite(ctx context.Context, tableName string, req types.WriteRequest) error {
	if req.PutRequest != nil {
		// Oversized items are not an error at the batch level; the caller
		// gets them back unprocessed.
		if payload, err := attrvalue.MarshalItem(req.PutRequest.Item); err == nil && len(payload) > maxItemBytes {
			return fmt.Errorf("item exceeds the %d byte limit", maxItemBytes)
		}
		_, err := s.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &tableName,
			Item:      req.PutRequest.Item,
		})
		return err
	}
	_, err := s.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &tableName,
		Key:       req.DeleteRequest.Key,
	})
	return err
}
