package sqlstore

import (
	"context"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jmoiron/sqlx"
)

// SweepExpired physically removes up to batch items whose TTL attribute
// expired at or before nowEpoch, across every TTL-enabled table. Each delete
// runs the standard pipeline, so GSI projections are cleaned up and a REMOVE
// stream record with the service identity is captured.
func (s *Store) SweepExpired(ctx context.Context, nowEpoch int64, batch int, servicePrincipal string) (int, error) {
	names, err := s.catalog.listNames(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if removed >= batch {
			break
		}
		def, err := s.catalog.get(ctx, name)
		if err != nil {
			return removed, err
		}
		if def.TimeToLiveAttr == "" {
			continue
		}

		type expiredRow struct {
			Hash  []byte `db:"hash_key"`
			Range []byte `db:"range_key"`
		}
		var rows []expiredRow
		err = s.db.SelectContext(ctx, &rows, s.rebind(
			`SELECT hash_key, range_key FROM items
			 WHERE table_name = ? AND ttl_epoch IS NOT NULL AND ttl_epoch <= ?
			 ORDER BY hash_key, range_key LIMIT ?`),
			def.Name, nowEpoch, batch-removed)
		if err != nil {
			return removed, err
		}

		for _, row := range rows {
			key := encodedKey{Hash: row.Hash, Range: row.Range}
			if key.Range == nil {
				// Hash-only rows store an empty range_key, which scans back as
				// nil; a nil slice would bind as NULL and match no row.
				key.Range = []byte{}
			}
			err := s.withTx(ctx, func(tx *sqlx.Tx) error {
				oldItem, found, err := s.loadItemLocked(tx, def, key)
				if err != nil || !found {
					return err
				}
				// Recheck under the lock; a concurrent write may have pushed
				// the expiry forward.
				if !expiredAt(def.TimeToLiveAttr, oldItem, nowEpoch) {
					return nil
				}
				if err := s.removeItem(tx, def, key, oldItem, servicePrincipal); err != nil {
					return err
				}
				removed++
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("sweep table %s: %w", def.Name, err)
			}
		}
	}
	return removed, nil
}

func expiredAt(ttlAttr string, item map[string]types.AttributeValue, nowEpoch int64) bool {
	av, ok := item[ttlAttr]
	if !ok {
		return false
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	dec, err := attrvalue.Number(n.Value)
	if err != nil || !dec.IsInteger() {
		return false
	}
	return dec.IntPart() <= nowEpoch
}
