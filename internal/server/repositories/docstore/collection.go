// Package docstore stores JSON documents in a single PostgreSQL table,
// partitioned by collection name. Typed repositories are built on top of
// Collection and filter with JSONB containment.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/creditshare/internal/common"
	"github.com/dmitrijs2005/creditshare/internal/dbx"
)

// Collection is a typed view of one collection in the documents table.
// Deleted documents are kept with deleted_at set and never returned.
type Collection[T any] struct {
	db   dbx.DBTX
	name string
}

func NewCollection[T any](db dbx.DBTX, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

// Insert stores doc under staticID. A non-empty dedupKey is checked against
// the unique index; a clash yields common.ErrorAlreadyExists.
func (c *Collection[T]) Insert(ctx context.Context, staticID, dedupKey string, doc *T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}

	query := `INSERT INTO documents (collection, static_id, dedup_key, data)
		VALUES ($1, $2, $3, $4)`

	if _, err := c.db.ExecContext(ctx, query, c.name, staticID, nullable(dedupKey), data); err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update replaces the document stored under staticID. The dedup key is
// rewritten as well, so clearing it releases the unique slot.
func (c *Collection[T]) Update(ctx context.Context, staticID, dedupKey string, doc *T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}

	query := `UPDATE documents SET data = $3, dedup_key = $4, updated_at = now()
		WHERE collection = $1 AND static_id = $2 AND deleted_at IS NULL`

	res, err := c.db.ExecContext(ctx, query, c.name, staticID, data, nullable(dedupKey))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// Patch merges the top-level fields of patch into the document stored under
// staticID, but only while that document still contains guard. The check and
// the write are one statement, so two racing callers cannot both succeed.
// releaseDedup frees the unique slot. A missing document or a failed guard
// yields common.ErrorNotFound; otherwise the patched document is returned.
func (c *Collection[T]) Patch(ctx context.Context, staticID string, guard, patch any, releaseDedup bool) (*T, error) {
	g, err := encodeFilter(guard)
	if err != nil {
		return nil, err
	}
	p, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode %s patch: %w", c.name, err)
	}

	query := `UPDATE documents SET data = data || $4::jsonb,
		dedup_key = CASE WHEN $5 THEN NULL ELSE dedup_key END, updated_at = now()
		WHERE collection = $1 AND static_id = $2 AND deleted_at IS NULL AND data @> $3::jsonb
		RETURNING data`

	var data []byte
	if err := c.db.QueryRowContext(ctx, query, c.name, staticID, g, p, releaseDedup).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c.decode(data)
}

// Get returns the document stored under staticID or common.ErrorNotFound.
func (c *Collection[T]) Get(ctx context.Context, staticID string) (*T, error) {
	query := `SELECT data FROM documents
		WHERE collection = $1 AND static_id = $2 AND deleted_at IS NULL`

	var data []byte
	if err := c.db.QueryRowContext(ctx, query, c.name, staticID).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c.decode(data)
}

// Find returns every document containing filter, oldest first. filter is
// marshalled to JSON; an empty filter matches the whole collection.
func (c *Collection[T]) Find(ctx context.Context, filter any) ([]*T, error) {
	f, err := encodeFilter(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT data FROM documents
		WHERE collection = $1 AND data @> $2::jsonb AND deleted_at IS NULL
		ORDER BY created_at`

	return c.query(ctx, query, c.name, f)
}

// FindOne returns the first document containing filter, or nil when none does.
func (c *Collection[T]) FindOne(ctx context.Context, filter any) (*T, error) {
	items, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// Delete soft-deletes the document stored under staticID.
func (c *Collection[T]) Delete(ctx context.Context, staticID string) error {
	query := `UPDATE documents SET deleted_at = now(), dedup_key = NULL
		WHERE collection = $1 AND static_id = $2 AND deleted_at IS NULL`

	res, err := c.db.ExecContext(ctx, query, c.name, staticID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (c *Collection[T]) query(ctx context.Context, query string, args ...any) ([]*T, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		item, err := c.decode(data)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func (c *Collection[T]) decode(data []byte) (*T, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return &item, nil
}

func encodeFilter(filter any) ([]byte, error) {
	if filter == nil {
		return []byte("{}"), nil
	}
	f, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	return f, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
