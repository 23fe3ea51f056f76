// Package streams implements change capture and the DynamoDB Streams consumer
// protocol: records are appended inside the SQL transaction that mutates the
// item, sequenced per stream, served through shard iterators and pruned after
// the retention window.
package streams

import (
	"fmt"
	"time"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// Event names, as they appear on the wire.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Capture describes one mutation to record.
type Capture struct {
	StreamArn string
	ViewType  types.StreamViewType
	EventName string
	Keys      map[string]types.AttributeValue
	OldImage  map[string]types.AttributeValue
	NewImage  map[string]types.AttributeValue
	// ServicePrincipal marks service-originated mutations (TTL expiry); the
	// record then carries a userIdentity of type "Service".
	ServicePrincipal string
	Now              time.Time
}

// Append writes one stream record inside the caller's transaction. The
// sequence number comes from the stream's counter row, so concurrent
// transactions can never collide: the UPDATE serializes them.
func Append(tx *sqlx.Tx, rec Capture) error {
	var seq int64
	err := tx.QueryRowx(
		tx.Rebind(`UPDATE streams SET next_seq = next_seq + 1 WHERE stream_arn = ? RETURNING next_seq - 1`),
		rec.StreamArn,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("allocate stream sequence: %w", err)
	}

	keysJSON, err := attrvalue.MarshalItem(rec.Keys)
	if err != nil {
		return fmt.Errorf("serialize stream keys: %w", err)
	}

	var oldJSON, newJSON *string
	if rec.OldImage != nil && (rec.ViewType == types.StreamViewTypeOldImage || rec.ViewType == types.StreamViewTypeNewAndOldImages) {
		b, err := attrvalue.MarshalItem(rec.OldImage)
		if err != nil {
			return fmt.Errorf("serialize old image: %w", err)
		}
		s := string(b)
		oldJSON = &s
	}
	if rec.NewImage != nil && (rec.ViewType == types.StreamViewTypeNewImage || rec.ViewType == types.StreamViewTypeNewAndOldImages) {
		b, err := attrvalue.MarshalItem(rec.NewImage)
		if err != nil {
			return fmt.Errorf("serialize new image: %w", err)
		}
		s := string(b)
		newJSON = &s
	}

	var principal *string
	if rec.ServicePrincipal != "" {
		principal = &rec.ServicePrincipal
	}

	_, err = tx.Exec(
		tx.Rebind(`INSERT INTO stream_records
			(stream_arn, seq, event_name, keys_json, old_image, new_image, service_principal, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.StreamArn, seq, rec.EventName, string(keysJSON), oldJSON, newJSON, principal,
		rec.Now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append stream record: %w", err)
	}
	return nil
}

// SequenceNumber renders a sequence for the wire: zero-padded so string
// comparison matches numeric order, as AWS sequence numbers do.
func SequenceNumber(seq int64) string {
	return fmt.Sprintf("%021d", seq)
}
