package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSchemaObjects returns the cached objects for dbName ordered by kind then name.
// An empty slice means nothing is cached.
func (s *SQLiteStore) GetSchemaObjects(ctx context.Context, dbName string) ([]SchemaObject, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT db_name, object_name, object_kind, metadata_json, updated_at
		FROM schema_metadata
		WHERE db_name = ?
		ORDER BY object_kind, object_name
	`, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var objects []SchemaObject
	for rows.Next() {
		var obj SchemaObject
		var kind, metadata, updatedAt string
		if err := rows.Scan(&obj.DBName, &obj.Name, &kind, &metadata, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema metadata: %w", err)
		}
		obj.Kind = ObjectKind(kind)
		obj.Metadata = []byte(metadata)
		if obj.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// ReplaceSchemaObjects atomically swaps the cached objects for dbName.
func (s *SQLiteStore) ReplaceSchemaObjects(ctx context.Context, dbName string, objects []SchemaObject) error {
	return s.replaceSchemaObjects(ctx, dbName, "", objects)
}

// ReplaceSchemaObjectsFor swaps the cached objects for dbName only while the
// connection record for dbName still points at url. It returns ErrStale and
// writes nothing otherwise.
func (s *SQLiteStore) ReplaceSchemaObjectsFor(ctx context.Context, dbName, url string, objects []SchemaObject) error {
	return s.replaceSchemaObjects(ctx, dbName, url, objects)
}

func (s *SQLiteStore) replaceSchemaObjects(ctx context.Context, dbName, url string, objects []SchemaObject) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if url != "" {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT url FROM connections WHERE name = ?`, dbName).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && current != url) {
			return ErrStale
		}
		if err != nil {
			return fmt.Errorf("failed to read connection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_metadata WHERE db_name = ?`, dbName); err != nil {
		return fmt.Errorf("failed to clear schema metadata: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schema_metadata (db_name, object_name, object_kind, metadata_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := s.now()
	for _, obj := range objects {
		updatedAt := obj.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, dbName, obj.Name, string(obj.Kind), string(obj.Metadata), formatTime(updatedAt)); err != nil {
			return fmt.Errorf("failed to insert schema metadata for %s: %w", obj.Name, err)
		}
	}

	return tx.Commit()
}

// DeleteSchemaObjects removes every cached object for dbName.
func (s *SQLiteStore) DeleteSchemaObjects(ctx context.Context, dbName string) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM schema_metadata WHERE db_name = ?`, dbName); err != nil {
		return fmt.Errorf("failed to delete schema metadata: %w", err)
	}
	return nil
}
