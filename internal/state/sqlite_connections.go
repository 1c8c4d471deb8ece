package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetConnection retrieves a connection record by name.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) GetConnection(ctx context.Context, name string) (*Connection, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT name, url, created_at, updated_at FROM connections WHERE name = ?`, name)
	conn, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns every connection record ordered by name.
func (s *SQLiteStore) ListConnections(ctx context.Context) ([]*Connection, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, created_at, updated_at FROM connections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conns := []*Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpsertConnection inserts a record or updates the url of an existing one.
// created_at is preserved on update; updated_at is always refreshed.
func (s *SQLiteStore) UpsertConnection(ctx context.Context, name, url string) (*Connection, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (name, url, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at
	`, name, url, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT name, url, created_at, updated_at FROM connections WHERE name = ?`, name)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored connection: %w", err)
	}
	return conn, nil
}

// DeleteConnection removes a connection record and its cached schema rows.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, name string) error {
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

	result, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_metadata WHERE db_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete schema metadata: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var conn Connection
	var createdAt, updatedAt string
	if err := row.Scan(&conn.Name, &conn.URL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if conn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conn, nil
}
