package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// Apply writes cs in one transaction and records a commit row.
//
// Inserts fail with storage.ErrDuplicateObject when the object exists;
// updates fail with storage.ErrObjectNotFound when it does not. Deletes of
// missing objects are no-ops. Any failure rolls the whole change set back.
func (h *Handle) Apply(ctx context.Context, cs storage.ChangeSet) (storage.Commit, error) {
	var commit storage.Commit
	err := h.use(func() error {
		var err error
		commit, err = h.apply(ctx, cs)
		return err
	})
	return commit, err
}

func (h *Handle) apply(ctx context.Context, cs storage.ChangeSet) (storage.Commit, error) {
	if err := cs.Validate(); err != nil {
		return storage.Commit{}, fmt.Errorf("apply: %w", err)
	}
	digest, err := cs.Digest()
	if err != nil {
		return storage.Commit{}, fmt.Errorf("apply: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Commit{}, fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM commits`).Scan(&seq); err != nil {
		return storage.Commit{}, fmt.Errorf("apply: next seq: %w", err)
	}

	out := storage.ChangeSet{}

	for _, rec := range cs.Inserted {
		props := storage.StripNulls(rec.Props)
		data, err := marshalProps(props)
		if err != nil {
			return storage.Commit{}, fmt.Errorf("apply: insert %s: %w", rec.ID, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO objects (entity, key, props, version)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(entity, key) DO NOTHING
		`, rec.ID.Entity, rec.ID.Key, data, seq)
		if err != nil {
			return storage.Commit{}, fmt.Errorf("apply: insert %s: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return storage.Commit{}, fmt.Errorf("apply: insert %s: rows affected: %w", rec.ID, err)
		} else if n == 0 {
			return storage.Commit{}, fmt.Errorf("apply: insert %s: %w", rec.ID, storage.ErrDuplicateObject)
		}
		out.Inserted = append(out.Inserted, storage.Record{ID: rec.ID, Props: props, Version: seq})
	}

	for _, rec := range cs.Updated {
		stored, err := loadProps(ctx, tx, rec.ID)
		if err != nil {
			return storage.Commit{}, fmt.Errorf("apply: update %s: %w", rec.ID, err)
		}
		merged := storage.MergeProps(stored, rec)
		data, err := marshalProps(merged)
		if err != nil {
			return storage.Commit{}, fmt.Errorf("apply: update %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE objects SET props = ?, version = ?
			WHERE entity = ? AND key = ?
		`, data, seq, rec.ID.Entity, rec.ID.Key); err != nil {
			return storage.Commit{}, fmt.Errorf("apply: update %s: %w", rec.ID, err)
		}
		out.Updated = append(out.Updated, storage.Record{
			ID:      rec.ID,
			Props:   merged,
			Changed: append([]string(nil), rec.Changed...),
			Version: seq,
		})
	}

	for _, id := range cs.Deleted {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM objects WHERE entity = ? AND key = ?`, id.Entity, id.Key,
		); err != nil {
			return storage.Commit{}, fmt.Errorf("apply: delete %s: %w", id, err)
		}
		out.Deleted = append(out.Deleted, id)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (seq, digest, inserted, updated, deleted)
		VALUES (?, ?, ?, ?, ?)
	`, seq, digest, len(cs.Inserted), len(cs.Updated), len(cs.Deleted)); err != nil {
		return storage.Commit{}, fmt.Errorf("apply: record commit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Commit{}, fmt.Errorf("apply: commit: %w", err)
	}

	return storage.Commit{Seq: seq, Digest: digest, ChangeSet: out}, nil
}

func loadProps(ctx context.Context, tx *sql.Tx, id storage.ObjectID) (value.Map, error) {
	var data string
	err := tx.QueryRowContext(ctx,
		`SELECT props FROM objects WHERE entity = ? AND key = ?`, id.Entity, id.Key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalProps(data)
}

// marshalProps stores properties as canonical JSON TEXT.
func marshalProps(props value.Map) (string, error) {
	if props == nil {
		props = value.Map{}
	}
	data, err := value.MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("marshal props: %w", err)
	}
	return string(data), nil
}

func unmarshalProps(data string) (value.Map, error) {
	m, err := value.DecodeMap([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}
	return m, nil
}
