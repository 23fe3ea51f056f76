package sqlstore

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// maxItemBytes is the serialized-size guard, matching DynamoDB's 400KB item cap.
const maxItemBytes = 400 * 1024

// itemRow is the storage form of one item: the full wire JSON payload plus
// the encoded key columns and bookkeeping columns.
type itemRow struct {
	Key         encodedKey
	Payload     []byte
	TTLEpoch    *int64
	SegmentHash int64
}

func encodeItemRow(def table.Definition, item map[string]types.AttributeValue) (itemRow, error) {
	pk, err := def.ExtractPrimaryKey(item)
	if err != nil {
		return itemRow{}, err
	}
	key, err := encodePrimaryKey(pk)
	if err != nil {
		return itemRow{}, err
	}
	payload, err := attrvalue.MarshalItem(item)
	if err != nil {
		return itemRow{}, fmt.Errorf("serialize item: %w", err)
	}
	if len(payload) > maxItemBytes {
		return itemRow{}, fmt.Errorf("item size %d exceeds the %d byte limit", len(payload), maxItemBytes)
	}
	return itemRow{
		Key:         key,
		Payload:     payload,
		TTLEpoch:    ttlEpochOf(def, item),
		SegmentHash: segmentHash(key.Hash),
	}, nil
}

// ttlEpochOf extracts the table's TTL attribute when it is an integral N
// value; anything else leaves the column NULL and the item unswept.
func ttlEpochOf(def table.Definition, item map[string]types.AttributeValue) *int64 {
	if def.TimeToLiveAttr == "" {
		return nil
	}
	av, ok := item[def.TimeToLiveAttr]
	if !ok {
		return nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return nil
	}
	dec, err := decimal.NewFromString(n.Value)
	if err != nil || !dec.IsInteger() {
		return nil
	}
	epoch := dec.IntPart()
	return &epoch
}

// gsiPayload builds the projection row payload for one index: keys only, keys
// plus the named non-key attributes, or the full item.
func gsiPayload(def table.Definition, gsi table.GSIDefinition, item map[string]types.AttributeValue) ([]byte, error) {
	var projected map[string]types.AttributeValue
	switch gsi.Projection {
	case table.ProjectionAll, "":
		projected = item
	case table.ProjectionKeysOnly:
		projected = make(map[string]types.AttributeValue)
		copyAttr(projected, item, def.KeyDefinitions)
		copyAttr(projected, item, gsi.KeyDefinitions)
	case table.ProjectionInclude:
		projected = make(map[string]types.AttributeValue)
		copyAttr(projected, item, def.KeyDefinitions)
		copyAttr(projected, item, gsi.KeyDefinitions)
		for _, name := range gsi.NonKeyAttributes {
			if av, ok := item[name]; ok {
				projected[name] = av
			}
		}
	default:
		return nil, fmt.Errorf("unknown projection type %q", gsi.Projection)
	}
	return attrvalue.MarshalItem(projected)
}

func copyAttr(dst, src map[string]types.AttributeValue, keys table.PrimaryKeyDefinition) {
	if av, ok := src[keys.PartitionKey.Name]; ok {
		dst[keys.PartitionKey.Name] = av
	}
	if keys.HasSortKey() {
		if av, ok := src[keys.SortKey.Name]; ok {
			dst[keys.SortKey.Name] = av
		}
	}
}
