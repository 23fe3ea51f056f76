package server

import (
	"encoding/json"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// The DynamoDB JSON protocol carries attribute values in their canonical wire
// shape; request DTOs keep those fields as raw JSON and decode them through
// the attrvalue codec, since the SDK's union types do not unmarshal with
// encoding/json.

func decodeItemField(raw json.RawMessage) (map[string]types.AttributeValue, error) {
	if raw == nil {
		return nil, nil
	}
	return attrvalue.UnmarshalItem(raw)
}

func encodeItemField(item map[string]types.AttributeValue) (json.RawMessage, error) {
	if item == nil {
		return nil, nil
	}
	return attrvalue.MarshalItem(item)
}

type putItemRequest struct {
	TableName                 *string           `json:"TableName"`
	Item                      json.RawMessage   `json:"Item"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

type getItemRequest struct {
	TableName                *string           `json:"TableName"`
	Key                      json.RawMessage   `json:"Key"`
	ProjectionExpression     *string           `json:"ProjectionExpression"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames"`
	ConsistentRead           *bool             `json:"ConsistentRead"`
}

type updateItemRequest struct {
	TableName                 *string           `json:"TableName"`
	Key                       json.RawMessage   `json:"Key"`
	UpdateExpression          *string           `json:"UpdateExpression"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

type deleteItemRequest struct {
	TableName                 *string           `json:"TableName"`
	Key                       json.RawMessage   `json:"Key"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
	ReturnValues              string            `json:"ReturnValues"`
}

type queryRequest struct {
	TableName                 *string           `json:"TableName"`
	IndexName                 *string           `json:"IndexName"`
	KeyConditionExpression    *string           `json:"KeyConditionExpression"`
	FilterExpression          *string           `json:"FilterExpression"`
	ProjectionExpression      *string           `json:"ProjectionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
	ScanIndexForward          *bool             `json:"ScanIndexForward"`
	Limit                     *int32            `json:"Limit"`
	ExclusiveStartKey         json.RawMessage   `json:"ExclusiveStartKey"`
	ConsistentRead            *bool             `json:"ConsistentRead"`
}

type scanRequest struct {
	TableName                 *string           `json:"TableName"`
	IndexName                 *string           `json:"IndexName"`
	FilterExpression          *string           `json:"FilterExpression"`
	ProjectionExpression      *string           `json:"ProjectionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
	Limit                     *int32            `json:"Limit"`
	ExclusiveStartKey         json.RawMessage   `json:"ExclusiveStartKey"`
	Segment                   *int32            `json:"Segment"`
	TotalSegments             *int32            `json:"TotalSegments"`
}

type itemResponse struct {
	Item       json.RawMessage `json:"Item,omitempty"`
	Attributes json.RawMessage `json:"Attributes,omitempty"`
}

type readResponse struct {
	Items            []json.RawMessage `json:"Items"`
	Count            int32             `json:"Count"`
	ScannedCount     int32             `json:"ScannedCount"`
	LastEvaluatedKey json.RawMessage   `json:"LastEvaluatedKey,omitempty"`
}

type batchGetRequest struct {
	RequestItems map[string]batchGetTableRequest `json:"RequestItems"`
}

type batchGetTableRequest struct {
	Keys                     []json.RawMessage `json:"Keys"`
	ProjectionExpression     *string           `json:"ProjectionExpression"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames"`
	ConsistentRead           *bool             `json:"ConsistentRead"`
}

type batchGetResponse struct {
	Responses       map[string][]json.RawMessage    `json:"Responses"`
	UnprocessedKeys map[string]batchGetTableRequest `json:"UnprocessedKeys"`
}

type batchWriteRequest struct {
	RequestItems map[string][]writeRequest `json:"RequestItems"`
}

type writeRequest struct {
	PutRequest    *putRequest    `json:"PutRequest,omitempty"`
	DeleteRequest *deleteRequest `json:"DeleteRequest,omitempty"`
}

type putRequest struct {
	Item json.RawMessage `json:"Item"`
}

type deleteRequest struct {
	Key json.RawMessage `json:"Key"`
}

type batchWriteResponse struct {
	UnprocessedItems map[string][]writeRequest `json:"UnprocessedItems"`
}

type transactWriteRequest struct {
	TransactItems []transactWriteEntry `json:"TransactItems"`
}

type transactWriteEntry struct {
	Put            *transactPut            `json:"Put,omitempty"`
	Update         *transactUpdate         `json:"Update,omitempty"`
	Delete         *transactDelete         `json:"Delete,omitempty"`
	ConditionCheck *transactConditionCheck `json:"ConditionCheck,omitempty"`
}

type transactPut struct {
	TableName                 *string           `json:"TableName"`
	Item                      json.RawMessage   `json:"Item"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
}

type transactUpdate struct {
	TableName                 *string           `json:"TableName"`
	Key                       json.RawMessage   `json:"Key"`
	UpdateExpression          *string           `json:"UpdateExpression"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
}

type transactDelete struct {
	TableName                 *string           `json:"TableName"`
	Key                       json.RawMessage   `json:"Key"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
}

type transactConditionCheck struct {
	TableName                 *string           `json:"TableName"`
	Key                       json.RawMessage   `json:"Key"`
	ConditionExpression       *string           `json:"ConditionExpression"`
	ExpressionAttributeNames  map[string]string `json:"ExpressionAttributeNames"`
	ExpressionAttributeValues json.RawMessage   `json:"ExpressionAttributeValues"`
}

type transactGetRequest struct {
	TransactItems []transactGetEntry `json:"TransactItems"`
}

type transactGetEntry struct {
	Get *transactGet `json:"Get"`
}

type transactGet struct {
	TableName                *string           `json:"TableName"`
	Key                      json.RawMessage   `json:"Key"`
	ProjectionExpression     *string           `json:"ProjectionExpression"`
	ExpressionAttributeNames map[string]string `json:"ExpressionAttributeNames"`
}

type transactGetResponse struct {
	Responses []itemResponse `json:"Responses"`
}

// Table lifecycle shapes.

type attributeDefinition struct {
	AttributeName string `json:"AttributeName"`
	AttributeType string `json:"AttributeType"`
}

type keySchemaElement struct {
	AttributeName string `json:"AttributeName"`
	KeyType       string `json:"KeyType"`
}

type projectionSpec struct {
	ProjectionType   string   `json:"ProjectionType,omitempty"`
	NonKeyAttributes []string `json:"NonKeyAttributes,omitempty"`
}

type gsiSpec struct {
	IndexName  string             `json:"IndexName"`
	KeySchema  []keySchemaElement `json:"KeySchema"`
	Projection *projectionSpec    `json:"Projection,omitempty"`
}

type streamSpecification struct {
	StreamEnabled  *bool  `json:"StreamEnabled,omitempty"`
	StreamViewType string `json:"StreamViewType,omitempty"`
}

type createTableRequest struct {
	TableName              *string               `json:"TableName"`
	AttributeDefinitions   []attributeDefinition `json:"AttributeDefinitions"`
	KeySchema              []keySchemaElement    `json:"KeySchema"`
	GlobalSecondaryIndexes []gsiSpec             `json:"GlobalSecondaryIndexes,omitempty"`
	StreamSpecification    *streamSpecification  `json:"StreamSpecification,omitempty"`
}

type tableNameRequest struct {
	TableName *string `json:"TableName"`
}

type listTablesRequest struct {
	ExclusiveStartTableName *string `json:"ExclusiveStartTableName"`
	Limit                   *int32  `json:"Limit"`
}

type listTablesResponse struct {
	TableNames             []string `json:"TableNames"`
	LastEvaluatedTableName *string  `json:"LastEvaluatedTableName,omitempty"`
}

type updateTableRequest struct {
	TableName           *string              `json:"TableName"`
	StreamSpecification *streamSpecification `json:"StreamSpecification"`
}

type timeToLiveSpecification struct {
	AttributeName *string `json:"AttributeName"`
	Enabled       *bool   `json:"Enabled"`
}

type updateTimeToLiveRequest struct {
	TableName               *string                  `json:"TableName"`
	TimeToLiveSpecification *timeToLiveSpecification `json:"TimeToLiveSpecification"`
}

type tableDescription struct {
	TableName              string                `json:"TableName"`
	TableStatus            string                `json:"TableStatus"`
	CreationDateTime       float64               `json:"CreationDateTime"`
	AttributeDefinitions   []attributeDefinition `json:"AttributeDefinitions"`
	KeySchema              []keySchemaElement    `json:"KeySchema"`
	GlobalSecondaryIndexes []gsiDescription      `json:"GlobalSecondaryIndexes,omitempty"`
	StreamSpecification    *streamSpecification  `json:"StreamSpecification,omitempty"`
	LatestStreamArn        string                `json:"LatestStreamArn,omitempty"`
	LatestStreamLabel      string                `json:"LatestStreamLabel,omitempty"`
}

type gsiDescription struct {
	IndexName   string             `json:"IndexName"`
	IndexStatus string             `json:"IndexStatus"`
	KeySchema   []keySchemaElement `json:"KeySchema"`
	Projection  *projectionSpec    `json:"Projection,omitempty"`
}

type tableDescriptionResponse struct {
	TableDescription *tableDescription `json:"TableDescription,omitempty"`
	Table            *tableDescription `json:"Table,omitempty"`
}

// Streams consumer shapes.

type listStreamsRequest struct {
	TableName               *string `json:"TableName"`
	Limit                   *int32  `json:"Limit"`
	ExclusiveStartStreamArn *string `json:"ExclusiveStartStreamArn"`
}

type streamSummary struct {
	StreamArn   string `json:"StreamArn"`
	StreamLabel string `json:"StreamLabel"`
	TableName   string `json:"TableName"`
}

type listStreamsResponse struct {
	Streams                []streamSummary `json:"Streams"`
	LastEvaluatedStreamArn *string         `json:"LastEvaluatedStreamArn,omitempty"`
}

type describeStreamRequest struct {
	StreamArn *string `json:"StreamArn"`
}

type sequenceNumberRange struct {
	StartingSequenceNumber string `json:"StartingSequenceNumber,omitempty"`
	EndingSequenceNumber   string `json:"EndingSequenceNumber,omitempty"`
}

type shardDescription struct {
	ShardId             string               `json:"ShardId"`
	SequenceNumberRange *sequenceNumberRange `json:"SequenceNumberRange,omitempty"`
}

type streamDescription struct {
	StreamArn               string             `json:"StreamArn"`
	StreamLabel             string             `json:"StreamLabel"`
	StreamStatus            string             `json:"StreamStatus"`
	StreamViewType          string             `json:"StreamViewType"`
	CreationRequestDateTime float64            `json:"CreationRequestDateTime"`
	TableName               string             `json:"TableName"`
	KeySchema               []keySchemaElement `json:"KeySchema,omitempty"`
	Shards                  []shardDescription `json:"Shards"`
}

type describeStreamResponse struct {
	StreamDescription *streamDescription `json:"StreamDescription"`
}

type getShardIteratorRequest struct {
	StreamArn         *string `json:"StreamArn"`
	ShardId           *string `json:"ShardId"`
	ShardIteratorType *string `json:"ShardIteratorType"`
	SequenceNumber    *string `json:"SequenceNumber"`
}

type getShardIteratorResponse struct {
	ShardIterator string `json:"ShardIterator"`
}

type getRecordsRequest struct {
	ShardIterator *string `json:"ShardIterator"`
	Limit         *int32  `json:"Limit"`
}

type wireStreamRecord struct {
	ApproximateCreationDateTime float64         `json:"ApproximateCreationDateTime"`
	Keys                        json.RawMessage `json:"Keys"`
	NewImage                    json.RawMessage `json:"NewImage,omitempty"`
	OldImage                    json.RawMessage `json:"OldImage,omitempty"`
	SequenceNumber              string          `json:"SequenceNumber"`
	StreamViewType              string          `json:"StreamViewType"`
}

type wireIdentity struct {
	PrincipalId string `json:"PrincipalId"`
	Type        string `json:"Type"`
}

type wireRecord struct {
	AwsRegion    string            `json:"awsRegion"`
	Dynamodb     *wireStreamRecord `json:"dynamodb"`
	EventID      string            `json:"eventID"`
	EventName    string            `json:"eventName"`
	EventSource  string            `json:"eventSource"`
	EventVersion string            `json:"eventVersion"`
	UserIdentity *wireIdentity     `json:"userIdentity,omitempty"`
}

type getRecordsResponse struct {
	Records           []wireRecord `json:"Records"`
	NextShardIterator *string      `json:"NextShardIterator,omitempty"`
}
