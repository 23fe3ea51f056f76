package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/exprs/parser"
	"github.com/pretenderdb/pretender/dynamo/streams"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// extractKeyOnly validates a Key parameter: all key attributes present with
// matching kinds, and nothing else.
func extractKeyOnly(def table.Definition, key map[string]types.AttributeValue) (table.PrimaryKey, error) {
	pk, err := def.ExtractPrimaryKey(key)
	if err != nil {
		return table.PrimaryKey{}, ddberr.Validation("%s", err)
	}
	want := 1
	if def.KeyDefinitions.HasSortKey() {
		want = 2
	}
	if len(key) != want {
		return table.PrimaryKey{}, ddberr.Validation("The provided key element does not match the schema")
	}
	return pk, nil
}

// loadItemLocked reads an item row inside the transaction, taking a row lock
// on engines that support it.
func (s *Store) loadItemLocked(tx *sqlx.Tx, def table.Definition, key encodedKey) (map[string]types.AttributeValue, bool, error) {
	var payload string
	query := `SELECT payload FROM items WHERE table_name = ? AND hash_key = ? AND range_key = ?` + s.dialect.ForUpdate()
	err := tx.QueryRowx(tx.Rebind(query), def.Name, key.Hash, key.Range).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	item, err := attrvalue.UnmarshalItem([]byte(payload))
	if err != nil {
		return nil, false, fmt.Errorf("decode item: %w", err)
	}
	return item, true, nil
}

// persistItem upserts the item row, maintains every GSI projection, and
// captures the stream record, all inside the caller's transaction.
func (s *Store) persistItem(tx *sqlx.Tx, def table.Definition, oldItem, newItem map[string]types.AttributeValue) error {
	row, err := encodeItemRow(def, newItem)
	if err != nil {
		return ddberr.Validation("%s", err)
	}

	_, err = tx.Exec(tx.Rebind(
		`INSERT INTO items (table_name, hash_key, range_key, payload, ttl_epoch, segment_hash)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_name, hash_key, range_key)
		 DO UPDATE SET payload = excluded.payload, ttl_epoch = excluded.ttl_epoch, segment_hash = excluded.segment_hash`),
		def.Name, row.Key.Hash, row.Key.Range, string(row.Payload), row.TTLEpoch, row.SegmentHash)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}

	if err := s.syncGSIs(tx, def, row.Key, oldItem, newItem); err != nil {
		return err
	}

	if def.StreamEnabled() {
		event := streams.EventModify
		if oldItem == nil {
			event = streams.EventInsert
		}
		return s.appendStream(tx, streams.Capture{
			StreamArn: def.StreamArn,
			ViewType:  def.StreamViewType,
			EventName: event,
			Keys:      keyAttributes(newItem, def.KeyDefinitions),
			OldImage:  oldItem,
			NewImage:  newItem,
			Now:       s.now(),
		})
	}
	return nil
}

// removeItem deletes the item row and its GSI projections. When the item
// existed, a REMOVE record is captured; servicePrincipal marks TTL-originated
// deletes.
func (s *Store) removeItem(tx *sqlx.Tx, def table.Definition, key encodedKey, oldItem map[string]types.AttributeValue, servicePrincipal string) error {
	if oldItem == nil {
		return nil
	}
	_, err := tx.Exec(tx.Rebind(`DELETE FROM items WHERE table_name = ? AND hash_key = ? AND range_key = ?`),
		def.Name, key.Hash, key.Range)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if len(def.GSIs) > 0 {
		_, err = tx.Exec(tx.Rebind(`DELETE FROM gsi_projections WHERE table_name = ? AND base_hash = ? AND base_range = ?`),
			def.Name, key.Hash, key.Range)
		if err != nil {
			return fmt.Errorf("delete gsi projections: %w", err)
		}
	}

	if def.StreamEnabled() {
		return s.appendStream(tx, streams.Capture{
			StreamArn:        def.StreamArn,
			ViewType:         def.StreamViewType,
			EventName:        streams.EventRemove,
			Keys:             keyAttributes(oldItem, def.KeyDefinitions),
			OldImage:         oldItem,
			ServicePrincipal: servicePrincipal,
			Now:              s.now(),
		})
	}
	return nil
}

// syncGSIs reconciles every index projection with the new item. A projection
// row exists iff the item carries all of the index's key attributes.
func (s *Store) syncGSIs(tx *sqlx.Tx, def table.Definition, baseKey encodedKey, oldItem, newItem map[string]types.AttributeValue) error {
	for _, gsi := range def.GSIs {
		qualifies := gsi.KeyDefinitions.HasCompleteKey(newItem)
		qualified := oldItem != nil && gsi.KeyDefinitions.HasCompleteKey(oldItem)

		if !qualifies {
			if qualified {
				_, err := tx.Exec(tx.Rebind(
					`DELETE FROM gsi_projections WHERE table_name = ? AND index_name = ? AND base_hash = ? AND base_range = ?`),
					def.Name, gsi.Name, baseKey.Hash, baseKey.Range)
				if err != nil {
					return fmt.Errorf("index %s: delete projection: %w", gsi.Name, err)
				}
			}
			continue
		}

		gsiPK, err := gsi.ExtractPrimaryKey(newItem)
		if err != nil {
			return fmt.Errorf("index %s: %w", gsi.Name, err)
		}
		gsiKey, err := encodePrimaryKey(gsiPK)
		if err != nil {
			return fmt.Errorf("index %s: %w", gsi.Name, err)
		}
		payload, err := gsiPayload(def, gsi, newItem)
		if err != nil {
			return fmt.Errorf("index %s: %w", gsi.Name, err)
		}

		_, err = tx.Exec(tx.Rebind(
			`INSERT INTO gsi_projections (table_name, index_name, gsi_hash, gsi_range, base_hash, base_range, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (table_name, index_name, base_hash, base_range)
			 DO UPDATE SET gsi_hash = excluded.gsi_hash, gsi_range = excluded.gsi_range, payload = excluded.payload`),
			def.Name, gsi.Name, gsiKey.Hash, gsiKey.Range, baseKey.Hash, baseKey.Range, string(payload))
		if err != nil {
			return fmt.Errorf("index %s: upsert projection: %w", gsi.Name, err)
		}
	}
	return nil
}

func keyAttributes(item map[string]types.AttributeValue, keys table.PrimaryKeyDefinition) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, 2)
	if av, ok := item[keys.PartitionKey.Name]; ok {
		out[keys.PartitionKey.Name] = av
	}
	if keys.HasSortKey() {
		if av, ok := item[keys.SortKey.Name]; ok {
			out[keys.SortKey.Name] = av
		}
	}
	return out
}

// combinedUsage merges per-expression placeholder usage across one request.
func combinedUsage(usages ...*parser.Usage) *parser.Usage {
	merged := parser.NewUsage()
	for _, u := range usages {
		merged.Merge(u)
	}
	return merged
}

// validatePlaceholders enforces the environment contract: every referenced
// placeholder must be defined, and every defined placeholder must be
// referenced by some expression of the request.
func validatePlaceholders(usage *parser.Usage, names map[string]string, values map[string]types.AttributeValue) error {
	if usage == nil {
		usage = parser.NewUsage()
	}
	for ref := range usage.Names {
		if _, ok := names[ref]; !ok {
			return ddberr.Validation("ExpressionAttributeNames missing %s", ref)
		}
	}
	for ref := range usage.Values {
		if _, ok := values[ref]; !ok {
			return ddberr.Validation("ExpressionAttributeValues missing %s", ref)
		}
	}
	for _, ref := range sortedKeys(names) {
		if _, ok := usage.Names[ref]; !ok {
			return ddberr.Validation("ExpressionAttributeNames contains unused name %s", ref)
		}
	}
	for _, ref := range sortedKeysAV(values) {
		if _, ok := usage.Values[ref]; !ok {
			return ddberr.Validation("ExpressionAttributeValues contains unused value %s", ref)
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func sortedKeysAV(m map[string]types.AttributeValue) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
