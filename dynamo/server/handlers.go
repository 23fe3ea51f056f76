package server

import (
	"context"
	"encoding/json"

	"github.com/pretenderdb/pretender/dynamo/ddberr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamstypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/pretenderdb/pretender/dynamo/streams"
)

func (s *Server) dynamoHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"CreateTable":        s.handleCreateTable,
		"DeleteTable":        s.handleDeleteTable,
		"DescribeTable":      s.handleDescribeTable,
		"ListTables":         s.handleListTables,
		"UpdateTable":        s.handleUpdateTable,
		"UpdateTimeToLive":   s.handleUpdateTimeToLive,
		"DescribeTimeToLive": s.handleDescribeTimeToLive,
		"PutItem":            s.handlePutItem,
		"GetItem":            s.handleGetItem,
		"UpdateItem":         s.handleUpdateItem,
		"DeleteItem":         s.handleDeleteItem,
		"Query":              s.handleQuery,
		"Scan":               s.handleScan,
		"BatchGetItem":       s.handleBatchGetItem,
		"BatchWriteItem":     s.handleBatchWriteItem,
		"TransactWriteItems": s.handleTransactWriteItems,
		"TransactGetItems":   s.handleTransactGetItems,
	}
}

func (s *Server) streamsHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"ListStreams":      s.handleListStreams,
		"DescribeStream":   s.handleDescribeStream,
		"GetShardIterator": s.handleGetShardIterator,
		"GetRecords":       s.handleGetRecords,
	}
}

func decodeRequest[T any](body []byte) (*T, error) {
	var req T
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ddberr.Validation("malformed request: %s", err)
	}
	return &req, nil
}

func (s *Server) handlePutItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[putItemRequest](body)
	if err != nil {
		return nil, err
	}
	item, err := decodeItemField(req.Item)
	if err != nil {
		return nil, ddberr.Validation("Item: %s", err)
	}
	values, err := decodeItemField(req.ExpressionAttributeValues)
	if err != nil {
		return nil, ddberr.Validation("ExpressionAttributeValues: %s", err)
	}
	out, err := s.store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 req.TableName,
		Item:                      item,
		ConditionExpression:       req.ConditionExpression,
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	attrs, err := encodeItemField(out.Attributes)
	if err != nil {
		return nil, err
	}
	return itemResponse{Attributes: attrs}, nil
}

func (s *Server) handleGetItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[getItemRequest](body)
	if err != nil {
		return nil, err
	}
	key, err := decodeItemField(req.Key)
	if err != nil {
		return nil, ddberr.Validation("Key: %s", err)
	}
	out, err := s.store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                req.TableName,
		Key:                      key,
		ProjectionExpression:     req.ProjectionExpression,
		ExpressionAttributeNames: req.ExpressionAttributeNames,
		ConsistentRead:           req.ConsistentRead,
	})
	if err != nil {
		return nil, err
	}
	item, err := encodeItemField(out.Item)
	if err != nil {
		return nil, err
	}
	return itemResponse{Item: item}, nil
}

func (s *Server) handleUpdateItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[updateItemRequest](body)
	if err != nil {
		return nil, err
	}
	key, err := decodeItemField(req.Key)
	if err != nil {
		return nil, ddberr.Validation("Key: %s", err)
	}
	values, err := decodeItemField(req.ExpressionAttributeValues)
	if err != nil {
		return nil, ddberr.Validation("ExpressionAttributeValues: %s", err)
	}
	out, err := s.store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 req.TableName,
		Key:                       key,
		UpdateExpression:          req.UpdateExpression,
		ConditionExpression:       req.ConditionExpression,
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	attrs, err := encodeItemField(out.Attributes)
	if err != nil {
		return nil, err
	}
	return itemResponse{Attributes: attrs}, nil
}

func (s *Server) handleDeleteItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[deleteItemRequest](body)
	if err != nil {
		return nil, err
	}
	key, err := decodeItemField(req.Key)
	if err != nil {
		return nil, ddberr.Validation("Key: %s", err)
	}
	values, err := decodeItemField(req.ExpressionAttributeValues)
	if err != nil {
		return nil, ddberr.Validation("ExpressionAttributeValues: %s", err)
	}
	out, err := s.store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 req.TableName,
		Key:                       key,
		ConditionExpression:       req.ConditionExpression,
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValue(req.ReturnValues),
	})
	if err != nil {
		return nil, err
	}
	attrs, err := encodeItemField(out.Attributes)
	if err != nil {
		return nil, err
	}
	return itemResponse{Attributes: attrs}, nil
}

func (s *Server) handleQuery(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[queryRequest](body)
	if err != nil {
		return nil, err
	}
	values, err := decodeItemField(req.ExpressionAttributeValues)
	if err != nil {
		return nil, ddberr.Validation("ExpressionAttributeValues: %s", err)
	}
	startKey, err := decodeItemField(req.ExclusiveStartKey)
	if err != nil {
		return nil, ddberr.Validation("ExclusiveStartKey: %s", err)
	}
	out, err := s.store.Query(ctx, &dynamodb.QueryInput{
		TableName:                 req.TableName,
		IndexName:                 req.IndexName,
		KeyConditionExpression:    req.KeyConditionExpression,
		FilterExpression:          req.FilterExpression,
		ProjectionExpression:      req.ProjectionExpression,
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		ScanIndexForward:          req.ScanIndexForward,
		Limit:                     req.Limit,
		ExclusiveStartKey:         startKey,
		ConsistentRead:            req.ConsistentRead,
	})
	if err != nil {
		return nil, err
	}
	return encodeReadResponse(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

func (s *Server) handleScan(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[scanRequest](body)
	if err != nil {
		return nil, err
	}
	values, err := decodeItemField(req.ExpressionAttributeValues)
	if err != nil {
		return nil, ddberr.Validation("ExpressionAttributeValues: %s", err)
	}
	startKey, err := decodeItemField(req.ExclusiveStartKey)
	if err != nil {
		return nil, ddberr.Validation("ExclusiveStartKey: %s", err)
	}
	out, err := s.store.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 req.TableName,
		IndexName:                 req.IndexName,
		FilterExpression:          req.FilterExpression,
		ProjectionExpression:      req.ProjectionExpression,
		ExpressionAttributeNames:  req.ExpressionAttributeNames,
		ExpressionAttributeValues: values,
		Limit:                     req.Limit,
		ExclusiveStartKey:         startKey,
		Segment:                   req.Segment,
		TotalSegments:             req.TotalSegments,
	})
	if err != nil {
		return nil, err
	}
	return encodeReadResponse(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

func encodeReadResponse(items []map[string]types.AttributeValue, count, scanned int32, lastKey map[string]types.AttributeValue) (any, error) {
	resp := readResponse{
		Items:        make([]json.RawMessage, 0, len(items)),
		Count:        count,
		ScannedCount: scanned,
	}
	for _, item := range items {
		raw, err := encodeItemField(item)
		if err != nil {
			return nil, err
		}
		resp.Items = append(resp.Items, raw)
	}
	if lastKey != nil {
		raw, err := encodeItemField(lastKey)
		if err != nil {
			return nil, err
		}
		resp.LastEvaluatedKey = raw
	}
	return resp, nil
}

func (s *Server) handleBatchGetItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[batchGetRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.BatchGetItemInput{RequestItems: make(map[string]types.KeysAndAttributes, len(req.RequestItems))}
	for tableName, tableReq := range req.RequestItems {
		keysAndAttrs := types.KeysAndAttributes{
			ProjectionExpression:     tableReq.ProjectionExpression,
			ExpressionAttributeNames: tableReq.ExpressionAttributeNames,
			ConsistentRead:           tableReq.ConsistentRead,
		}
		for _, rawKey := range tableReq.Keys {
			key, err := decodeItemField(rawKey)
			if err != nil {
				return nil, ddberr.Validation("Keys: %s", err)
			}
			keysAndAttrs.Keys = append(keysAndAttrs.Keys, key)
		}
		input.RequestItems[tableName] = keysAndAttrs
	}

	out, err := s.store.BatchGetItem(ctx, input)
	if err != nil {
		return nil, err
	}

	resp := batchGetResponse{
		Responses:       make(map[string][]json.RawMessage),
		UnprocessedKeys: make(map[string]batchGetTableRequest),
	}
	for tableName, items := range out.Responses {
		for _, item := range items {
			raw, err := encodeItemField(item)
			if err != nil {
				return nil, err
			}
			resp.Responses[tableName] = append(resp.Responses[tableName], raw)
		}
	}
	for tableName, unprocessed := range out.UnprocessedKeys {
		tableReq := batchGetTableRequest{
			ProjectionExpression:     unprocessed.ProjectionExpression,
			ExpressionAttributeNames: unprocessed.ExpressionAttributeNames,
		}
		for _, key := range unprocessed.Keys {
			raw, err := encodeItemField(key)
			if err != nil {
				return nil, err
			}
			tableReq.Keys = append(tableReq.Keys, raw)
		}
		resp.UnprocessedKeys[tableName] = tableReq
	}
	return resp, nil
}

func (s *Server) handleBatchWriteItem(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[batchWriteRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.BatchWriteItemInput{RequestItems: make(map[string][]types.WriteRequest, len(req.RequestItems))}
	for tableName, reqs := range req.RequestItems {
		for _, wr := range reqs {
			var converted types.WriteRequest
			switch {
			case wr.PutRequest != nil:
				item, err := decodeItemField(wr.PutRequest.Item)
				if err != nil {
					return nil, ddberr.Validation("PutRequest.Item: %s", err)
				}
				converted.PutRequest = &types.PutRequest{Item: item}
			case wr.DeleteRequest != nil:
				key, err := decodeItemField(wr.DeleteRequest.Key)
				if err != nil {
					return nil, ddberr.Validation("DeleteRequest.Key: %s", err)
				}
				converted.DeleteRequest = &types.DeleteRequest{Key: key}
			}
			input.RequestItems[tableName] = append(input.RequestItems[tableName], converted)
		}
	}

	out, err := s.store.BatchWriteItem(ctx, input)
	if err != nil {
		return nil, err
	}

	resp := batchWriteResponse{UnprocessedItems: make(map[string][]writeRequest)}
	for tableName, reqs := range out.UnprocessedItems {
		for _, wr := range reqs {
			var converted writeRequest
			if wr.PutRequest != nil {
				raw, err := encodeItemField(wr.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				converted.PutRequest = &putRequest{Item: raw}
			}
			if wr.DeleteRequest != nil {
				raw, err := encodeItemField(wr.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				converted.DeleteRequest = &deleteRequest{Key: raw}
			}
			resp.UnprocessedItems[tableName] = append(resp.UnprocessedItems[tableName], converted)
		}
	}
	return resp, nil
}

func (s *Server) handleTransactWriteItems(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[transactWriteRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.TransactWriteItemsInput{}
	for i, entry := range req.TransactItems {
		var item types.TransactWriteItem
		switch {
		case entry.Put != nil:
			putItem, err := decodeItemField(entry.Put.Item)
			if err != nil {
				return nil, ddberr.Validation("item %d: Item: %s", i, err)
			}
			values, err := decodeItemField(entry.Put.ExpressionAttributeValues)
			if err != nil {
				return nil, ddberr.Validation("item %d: ExpressionAttributeValues: %s", i, err)
			}
			item.Put = &types.Put{
				TableName:                 entry.Put.TableName,
				Item:                      putItem,
				ConditionExpression:       entry.Put.ConditionExpression,
				ExpressionAttributeNames:  entry.Put.ExpressionAttributeNames,
				ExpressionAttributeValues: values,
			}
		case entry.Update != nil:
			key, err := decodeItemField(entry.Update.Key)
			if err != nil {
				return nil, ddberr.Validation("item %d: Key: %s", i, err)
			}
			values, err := decodeItemField(entry.Update.ExpressionAttributeValues)
			if err != nil {
				return nil, ddberr.Validation("item %d: ExpressionAttributeValues: %s", i, err)
			}
			item.Update = &types.Update{
				TableName:                 entry.Update.TableName,
				Key:                       key,
				UpdateExpression:          entry.Update.UpdateExpression,
				ConditionExpression:       entry.Update.ConditionExpression,
				ExpressionAttributeNames:  entry.Update.ExpressionAttributeNames,
				ExpressionAttributeValues: values,
			}
		case entry.Delete != nil:
			key, err := decodeItemField(entry.Delete.Key)
			if err != nil {
				return nil, ddberr.Validation("item %d: Key: %s", i, err)
			}
			values, err := decodeItemField(entry.Delete.ExpressionAttributeValues)
			if err != nil {
				return nil, ddberr.Validation("item %d: ExpressionAttributeValues: %s", i, err)
			}
			item.Delete = &types.Delete{
				TableName:                 entry.Delete.TableName,
				Key:                       key,
				ConditionExpression:       entry.Delete.ConditionExpression,
				ExpressionAttributeNames:  entry.Delete.ExpressionAttributeNames,
				ExpressionAttributeValues: values,
			}
		case entry.ConditionCheck != nil:
			key, err := decodeItemField(entry.ConditionCheck.Key)
			if err != nil {
				return nil, ddberr.Validation("item %d: Key: %s", i, err)
			}
			values, err := decodeItemField(entry.ConditionCheck.ExpressionAttributeValues)
			if err != nil {
				return nil, ddberr.Validation("item %d: ExpressionAttributeValues: %s", i, err)
			}
			item.ConditionCheck = &types.ConditionCheck{
				TableName:                 entry.ConditionCheck.TableName,
				Key:                       key,
				ConditionExpression:       entry.ConditionCheck.ConditionExpression,
				ExpressionAttributeNames:  entry.ConditionCheck.ExpressionAttributeNames,
				ExpressionAttributeValues: values,
			}
		}
		input.TransactItems = append(input.TransactItems, item)
	}

	if _, err := s.store.TransactWriteItems(ctx, input); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) handleTransactGetItems(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[transactGetRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.TransactGetItemsInput{}
	for i, entry := range req.TransactItems {
		if entry.Get == nil {
			return nil, ddberr.Validation("item %d: Get is required", i)
		}
		key, err := decodeItemField(entry.Get.Key)
		if err != nil {
			return nil, ddberr.Validation("item %d: Key: %s", i, err)
		}
		input.TransactItems = append(input.TransactItems, types.TransactGetItem{
			Get: &types.Get{
				TableName:                entry.Get.TableName,
				Key:                      key,
				ProjectionExpression:     entry.Get.ProjectionExpression,
				ExpressionAttributeNames: entry.Get.ExpressionAttributeNames,
			},
		})
	}

	out, err := s.store.TransactGetItems(ctx, input)
	if err != nil {
		return nil, err
	}

	resp := transactGetResponse{Responses: make([]itemResponse, len(out.Responses))}
	for i, itemResp := range out.Responses {
		raw, err := encodeItemField(itemResp.Item)
		if err != nil {
			return nil, err
		}
		resp.Responses[i] = itemResponse{Item: raw}
	}
	return resp, nil
}

func (s *Server) handleListStreams(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[listStreamsRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.streams.ListStreams(ctx, &dynamodbstreams.ListStreamsInput{
		TableName:               req.TableName,
		Limit:                   req.Limit,
		ExclusiveStartStreamArn: req.ExclusiveStartStreamArn,
	})
	if err != nil {
		return nil, err
	}
	resp := listStreamsResponse{Streams: make([]streamSummary, 0, len(out.Streams))}
	for _, stream := range out.Streams {
		resp.Streams = append(resp.Streams, streamSummary{
			StreamArn:   deref(stream.StreamArn),
			StreamLabel: deref(stream.StreamLabel),
			TableName:   deref(stream.TableName),
		})
	}
	resp.LastEvaluatedStreamArn = out.LastEvaluatedStreamArn
	return resp, nil
}

func (s *Server) handleDescribeStream(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[describeStreamRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.streams.DescribeStream(ctx, &dynamodbstreams.DescribeStreamInput{StreamArn: req.StreamArn})
	if err != nil {
		return nil, err
	}
	desc := out.StreamDescription
	resp := streamDescription{
		StreamArn:      deref(desc.StreamArn),
		StreamLabel:    deref(desc.StreamLabel),
		StreamStatus:   string(desc.StreamStatus),
		StreamViewType: string(desc.StreamViewType),
		TableName:      deref(desc.TableName),
	}
	if desc.CreationRequestDateTime != nil {
		resp.CreationRequestDateTime = float64(desc.CreationRequestDateTime.Unix())
	}
	for _, elem := range desc.KeySchema {
		resp.KeySchema = append(resp.KeySchema, keySchemaElement{
			AttributeName: deref(elem.AttributeName),
			KeyType:       string(elem.KeyType),
		})
	}
	for _, shard := range desc.Shards {
		converted := shardDescription{ShardId: deref(shard.ShardId)}
		if shard.SequenceNumberRange != nil {
			converted.SequenceNumberRange = &sequenceNumberRange{
				StartingSequenceNumber: deref(shard.SequenceNumberRange.StartingSequenceNumber),
				EndingSequenceNumber:   deref(shard.SequenceNumberRange.EndingSequenceNumber),
			}
		}
		resp.Shards = append(resp.Shards, converted)
	}
	return describeStreamResponse{StreamDescription: &resp}, nil
}

func (s *Server) handleGetShardIterator(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[getShardIteratorRequest](body)
	if err != nil {
		return nil, err
	}
	if req.ShardIteratorType == nil {
		return nil, ddberr.Validation("ShardIteratorType is required")
	}
	out, err := s.streams.GetShardIterator(ctx, &dynamodbstreams.GetShardIteratorInput{
		StreamArn:         req.StreamArn,
		ShardId:           req.ShardId,
		ShardIteratorType: streamstypes.ShardIteratorType(*req.ShardIteratorType),
		SequenceNumber:    req.SequenceNumber,
	})
	if err != nil {
		return nil, err
	}
	return getShardIteratorResponse{ShardIterator: deref(out.ShardIterator)}, nil
}

func (s *Server) handleGetRecords(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[getRecordsRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.streams.GetRecords(ctx, &dynamodbstreams.GetRecordsInput{
		ShardIterator: req.ShardIterator,
		Limit:         req.Limit,
	})
	if err != nil {
		return nil, err
	}
	resp := getRecordsResponse{
		Records:           make([]wireRecord, 0, len(out.Records)),
		NextShardIterator: out.NextShardIterator,
	}
	for _, record := range out.Records {
		converted, err := encodeWireRecord(record)
		if err != nil {
			return nil, err
		}
		resp.Records = append(resp.Records, converted)
	}
	return resp, nil
}

func encodeWireRecord(record streamstypes.Record) (wireRecord, error) {
	out := wireRecord{
		AwsRegion:    deref(record.AwsRegion),
		EventID:      deref(record.EventID),
		EventName:    string(record.EventName),
		EventSource:  deref(record.EventSource),
		EventVersion: deref(record.EventVersion),
	}
	if record.UserIdentity != nil {
		out.UserIdentity = &wireIdentity{
			PrincipalId: deref(record.UserIdentity.PrincipalId),
			Type:        deref(record.UserIdentity.Type),
		}
	}
	if record.Dynamodb != nil {
		sr := &wireStreamRecord{
			SequenceNumber: deref(record.Dynamodb.SequenceNumber),
			StreamViewType: string(record.Dynamodb.StreamViewType),
		}
		if record.Dynamodb.ApproximateCreationDateTime != nil {
			sr.ApproximateCreationDateTime = float64(record.Dynamodb.ApproximateCreationDateTime.Unix())
		}
		for _, field := range []struct {
			src map[string]streamstypes.AttributeValue
			dst *json.RawMessage
		}{
			{record.Dynamodb.Keys, &sr.Keys},
			{record.Dynamodb.NewImage, &sr.NewImage},
			{record.Dynamodb.OldImage, &sr.OldImage},
		} {
			if field.src == nil {
				continue
			}
			item, err := streams.ToDynamoItem(field.src)
			if err != nil {
				return wireRecord{}, err
			}
			raw, err := encodeItemField(item)
			if err != nil {
				return wireRecord{}, err
			}
			*field.dst = raw
		}
		out.Dynamodb = sr
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
