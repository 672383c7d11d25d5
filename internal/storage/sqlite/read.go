package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/graphstore/internal/storage"
)

// Get returns one object.
func (h *Handle) Get(ctx context.Context, id storage.ObjectID) (storage.Record, bool, error) {
	var (
		rec   storage.Record
		found bool
	)
	err := h.use(func() error {
		var data string
		var version int64
		err := h.db.QueryRowContext(ctx, `
			SELECT props, version FROM objects WHERE entity = ? AND key = ?
		`, id.Entity, id.Key).Scan(&data, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", id, err)
		}
		props, err := unmarshalProps(data)
		if err != nil {
			return fmt.Errorf("get %s: %w", id, err)
		}
		rec = storage.Record{ID: id, Props: props, Version: version}
		found = true
		return nil
	})
	return rec, found, err
}

// Scan returns all objects of entity ordered by version ASC, key ASC COLLATE BINARY.
// Returns an empty slice, not nil, when there are none.
func (h *Handle) Scan(ctx context.Context, entity string) ([]storage.Record, error) {
	records := []storage.Record{}
	err := h.use(func() error {
		rows, err := h.db.QueryContext(ctx, `
			SELECT key, props, version FROM objects
			WHERE entity = ?
			ORDER BY version ASC, key COLLATE BINARY ASC
		`, entity)
		if err != nil {
			return fmt.Errorf("scan %s: %w", entity, err)
		}
		defer rows.Close()

		for rows.Next() {
			var key, data string
			var version int64
			if err := rows.Scan(&key, &data, &version); err != nil {
				return fmt.Errorf("scan %s: %w", entity, err)
			}
			props, err := unmarshalProps(data)
			if err != nil {
				return fmt.Errorf("scan %s/%s: %w", entity, key, err)
			}
			records = append(records, storage.Record{
				ID:      storage.ObjectID{Entity: entity, Key: key},
				Props:   props,
				Version: version,
			})
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("scan %s: iterate: %w", entity, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
