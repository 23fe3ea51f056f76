package streams

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	streamstypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ShardID is the single logical shard every stream exposes.
const ShardID = "shardId-00000000000000000000-00000001"

const defaultRecordLimit = 1000

// Arn builds a stream ARN for a table and stream label.
func Arn(tableName, label string) string {
	return fmt.Sprintf("arn:aws:dynamodb:ddblocal:000000000000:table/%s/stream/%s", tableName, label)
}

// Reader serves the Streams consumer API from the stream_records relation.
// Method shapes match the dynamodbstreams client.
type Reader struct {
	db     *sqlx.DB
	region string
}

// NewReader builds a consumer-side reader over the store's database.
func NewReader(db *sqlx.DB) *Reader {
	return &Reader{db: db, region: "ddblocal"}
}

type streamRow struct {
	StreamArn string    `db:"stream_arn"`
	TableName string    `db:"table_name"`
	Label     string    `db:"stream_label"`
	ViewType  string    `db:"view_type"`
	NextSeq   int64     `db:"next_seq"`
	TrimSeq   int64     `db:"trim_seq"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *Reader) getStream(ctx context.Context, arn string) (*streamRow, error) {
	var row streamRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM streams WHERE stream_arn = ?`), arn)
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("Requested resource not found: Stream: %s not found", arn)
		return nil, &streamstypes.ResourceNotFoundException{Message: &msg}
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListStreams returns stream identifiers, optionally filtered to one table.
func (r *Reader) ListStreams(ctx context.Context, params *dynamodbstreams.ListStreamsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.ListStreamsOutput, error) {
	query := `SELECT * FROM streams`
	var args []any
	if params != nil && params.TableName != nil {
		query += ` WHERE table_name = ?`
		args = append(args, *params.TableName)
	}
	query += ` ORDER BY stream_arn`

	var rows []streamRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	limit := len(rows)
	if params != nil && params.Limit != nil && int(*params.Limit) > 0 && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}
	out := &dynamodbstreams.ListStreamsOutput{}
	started := params == nil || params.ExclusiveStartStreamArn == nil
	for _, row := range rows {
		if !started {
			if row.StreamArn == *params.ExclusiveStartStreamArn {
				started = true
			}
			continue
		}
		if len(out.Streams) == limit {
			last := out.Streams[len(out.Streams)-1].StreamArn
			out.LastEvaluatedStreamArn = last
			break
		}
		out.Streams = append(out.Streams, streamstypes.Stream{
			StreamArn:   strptr(row.StreamArn),
			StreamLabel: strptr(row.Label),
			TableName:   strptr(row.TableName),
		})
	}
	return out, nil
}

// DescribeStream reports the stream's single shard and its sequence range.
func (r *Reader) DescribeStream(ctx context.Context, params *dynamodbstreams.DescribeStreamInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.DescribeStreamOutput, error) {
	if params == nil || params.StreamArn == nil {
		return nil, fmt.Errorf("StreamArn is required")
	}
	row, err := r.getStream(ctx, *params.StreamArn)
	if err != nil {
		return nil, err
	}

	status := streamstypes.StreamStatusEnabled
	if !row.Enabled {
		status = streamstypes.StreamStatusDisabled
	}

	keySchema, err := r.keySchemaOf(ctx, row.TableName)
	if err != nil {
		return nil, err
	}

	shard := streamstypes.Shard{
		ShardId: strptr(ShardID),
		SequenceNumberRange: &streamstypes.SequenceNumberRange{
			StartingSequenceNumber: strptr(SequenceNumber(row.TrimSeq + 1)),
		},
	}
	if !row.Enabled {
		shard.SequenceNumberRange.EndingSequenceNumber = strptr(SequenceNumber(row.NextSeq - 1))
	}

	created := row.CreatedAt
	return &dynamodbstreams.DescribeStreamOutput{
		StreamDescription: &streamstypes.StreamDescription{
			CreationRequestDateTime: &created,
			KeySchema:               keySchema,
			Shards:                  []streamstypes.Shard{shard},
			StreamArn:               strptr(row.StreamArn),
			StreamLabel:             strptr(row.Label),
			StreamStatus:            status,
			StreamViewType:          streamstypes.StreamViewType(row.ViewType),
			TableName:               strptr(row.TableName),
		},
	}, nil
}

func (r *Reader) keySchemaOf(ctx context.Context, tableName string) ([]streamstypes.KeySchemaElement, error) {
	var schemaJSON string
	err := r.db.GetContext(ctx, &schemaJSON, r.db.Rebind(`SELECT schema_json FROM tables WHERE name = ?`), tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var def table.Definition
	if err := json.Unmarshal([]byte(schemaJSON), &def); err != nil {
		return nil, fmt.Errorf("decode table schema: %w", err)
	}
	schema := []streamstypes.KeySchemaElement{{
		AttributeName: strptr(def.KeyDefinitions.PartitionKey.Name),
		KeyType:       streamstypes.KeyTypeHash,
	}}
	if def.KeyDefinitions.HasSortKey() {
		schema = append(schema, streamstypes.KeySchemaElement{
			AttributeName: strptr(def.KeyDefinitions.SortKey.Name),
			KeyType:       streamstypes.KeyTypeRange,
		})
	}
	return schema, nil
}

// GetShardIterator returns an opaque iterator encoding (stream, position).
func (r *Reader) GetShardIterator(ctx context.Context, params *dynamodbstreams.GetShardIteratorInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetShardIteratorOutput, error) {
	if params == nil || params.StreamArn == nil || params.ShardId == nil {
		return nil, fmt.Errorf("StreamArn and ShardId are required")
	}
	row, err := r.getStream(ctx, *params.StreamArn)
	if err != nil {
		return nil, err
	}
	if *params.ShardId != ShardID {
		msg := fmt.Sprintf("Requested resource not found: Shard: %s not found", *params.ShardId)
		return nil, &streamstypes.ResourceNotFoundException{Message: &msg}
	}

	var after int64
	switch params.ShardIteratorType {
	case streamstypes.ShardIteratorTypeTrimHorizon:
		after = 0
	case streamstypes.ShardIteratorTypeLatest:
		after = row.NextSeq - 1
	case streamstypes.ShardIteratorTypeAtSequenceNumber, streamstypes.ShardIteratorTypeAfterSequenceNumber:
		if params.SequenceNumber == nil {
			return nil, fmt.Errorf("SequenceNumber is required for iterator type %s", params.ShardIteratorType)
		}
		var seq int64
		if _, err := fmt.Sscanf(*params.SequenceNumber, "%d", &seq); err != nil {
			return nil, fmt.Errorf("malformed sequence number %q", *params.SequenceNumber)
		}
		after = seq - 1
		if params.ShardIteratorType == streamstypes.ShardIteratorTypeAfterSequenceNumber {
			after = seq
		}
	default:
		return nil, fmt.Errorf("unknown shard iterator type %q", params.ShardIteratorType)
	}

	it := encodeIterator(iterator{StreamArn: row.StreamArn, ShardID: ShardID, AfterSeq: after})
	return &dynamodbstreams.GetShardIteratorOutput{ShardIterator: &it}, nil
}

type recordRow struct {
	Seq              int64   `db:"seq"`
	EventName        string  `db:"event_name"`
	KeysJSON         string  `db:"keys_json"`
	OldImage         *string `db:"old_image"`
	NewImage         *string `db:"new_image"`
	ServicePrincipal *string `db:"service_principal"`
	CreatedAt        int64   `db:"created_at"`
}

// GetRecords returns records at or after the iterator position. Iterators
// pointing into pruned territory serve from the earliest surviving record; an
// exhausted iterator returns an empty batch with a still-valid next iterator.
func (r *Reader) GetRecords(ctx context.Context, params *dynamodbstreams.GetRecordsInput, optFns ...func(*dynamodbstreams.Options)) (*dynamodbstreams.GetRecordsOutput, error) {
	if params == nil || params.ShardIterator == nil {
		return nil, fmt.Errorf("ShardIterator is required")
	}
	it, err := decodeIterator(*params.ShardIterator)
	if err != nil {
		return nil, err
	}
	row, err := r.getStream(ctx, it.StreamArn)
	if err != nil {
		return nil, err
	}

	limit := defaultRecordLimit
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}

	var rows []recordRow
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT seq, event_name, keys_json, old_image, new_image, service_principal, created_at
		 FROM stream_records WHERE stream_arn = ? AND seq > ? ORDER BY seq LIMIT ?`),
		it.StreamArn, it.AfterSeq, limit)
	if err != nil {
		return nil, err
	}

	out := &dynamodbstreams.GetRecordsOutput{}
	next := it
	for _, rec := range rows {
		converted, err := r.toRecord(row, rec)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, converted)
		next.AfterSeq = rec.Seq
	}
	nextIt := encodeIterator(next)
	out.NextShardIterator = &nextIt
	return out, nil
}

func (r *Reader) toRecord(stream *streamRow, rec recordRow) (streamstypes.Record, error) {
	keys, err := attrvalue.UnmarshalItem([]byte(rec.KeysJSON))
	if err != nil {
		return streamstypes.Record{}, fmt.Errorf("decode stream keys: %w", err)
	}
	streamKeys, err := toStreamsItem(keys)
	if err != nil {
		return streamstypes.Record{}, err
	}

	created := time.UnixMilli(rec.CreatedAt).UTC()
	sr := &streamstypes.StreamRecord{
		ApproximateCreationDateTime: &created,
		Keys:                        streamKeys,
		SequenceNumber:              strptr(SequenceNumber(rec.Seq)),
		StreamViewType:              streamstypes.StreamViewType(stream.ViewType),
	}
	if rec.OldImage != nil {
		img, err := attrvalue.UnmarshalItem([]byte(*rec.OldImage))
		if err != nil {
			return streamstypes.Record{}, fmt.Errorf("decode old image: %w", err)
		}
		if sr.OldImage, err = toStreamsItem(img); err != nil {
			return streamstypes.Record{}, err
		}
	}
	if rec.NewImage != nil {
		img, err := attrvalue.UnmarshalItem([]byte(*rec.NewImage))
		if err != nil {
			return streamstypes.Record{}, fmt.Errorf("decode new image: %w", err)
		}
		if sr.NewImage, err = toStreamsItem(img); err != nil {
			return streamstypes.Record{}, err
		}
	}

	record := streamstypes.Record{
		AwsRegion:    strptr(r.region),
		Dynamodb:     sr,
		EventID:      strptr(uuid.NewString()),
		EventName:    streamstypes.OperationType(rec.EventName),
		EventSource:  strptr("aws:dynamodb"),
		EventVersion: strptr("1.1"),
	}
	if rec.ServicePrincipal != nil {
		record.UserIdentity = &streamstypes.Identity{
			PrincipalId: rec.ServicePrincipal,
			Type:        strptr("Service"),
		}
	}
	return record, nil
}

func strptr(s string) *string { return &s }
