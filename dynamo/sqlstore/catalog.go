package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/jmoiron/sqlx"
)

// catalog persists table schemas in the tables relation and keeps a
// read-through cache. The cache is invalidated on every DDL operation; an
// operation resolves its schema once at the start, so it stays consistent
// within the operation.
type catalog struct {
	db *sqlx.DB

	mu    sync.RWMutex
	cache map[string]table.Definition
}

func newCatalog(db *sqlx.DB) *catalog {
	return &catalog{db: db, cache: make(map[string]table.Definition)}
}

func (c *catalog) get(ctx context.Context, name string) (table.Definition, error) {
	c.mu.RLock()
	def, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return def, nil
	}

	var schemaJSON string
	err := c.db.GetContext(ctx, &schemaJSON, c.db.Rebind(`SELECT schema_json FROM tables WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return table.Definition{}, ddberr.ResourceNotFound("Requested resource not found: Table: %s not found", name)
	}
	if err != nil {
		return table.Definition{}, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &def); err != nil {
		return table.Definition{}, fmt.Errorf("decode schema for table %q: %w", name, err)
	}

	c.mu.Lock()
	c.cache[name] = def
	c.mu.Unlock()
	return def, nil
}

func (c *catalog) invalidate(name string) {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()
}

// insert persists a new table schema inside the caller's transaction.
func (c *catalog) insert(tx *sqlx.Tx, def table.Definition) error {
	schemaJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	_, err = tx.Exec(tx.Rebind(`INSERT INTO tables (name, schema_json, created_at) VALUES (?, ?, ?)`),
		def.Name, string(schemaJSON), def.CreatedAt)
	return err
}

// update replaces a table schema inside the caller's transaction.
func (c *catalog) update(tx *sqlx.Tx, def table.Definition) error {
	schemaJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	_, err = tx.Exec(tx.Rebind(`UPDATE tables SET schema_json = ? WHERE name = ?`),
		string(schemaJSON), def.Name)
	return err
}

func (c *catalog) exists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := c.db.GetContext(ctx, &count, c.db.Rebind(`SELECT COUNT(*) FROM tables WHERE name = ?`), name); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c *catalog) listNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.db.SelectContext(ctx, &names, `SELECT name FROM tables ORDER BY name`); err != nil {
		return nil, err
	}
	return names, nil
}
