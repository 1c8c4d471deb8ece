// Package state is the bookkeeping store for querydeck, backed by SQLite.
// It records named connections and the per-object schema metadata cache.
//
// Every method serializes on a single mutex. Callers must not hold results
// open across network I/O; the store only ever does local disk work.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a connection record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStale is returned when a guarded schema write targets a connection that
// was deleted or pointed at another URL after its metadata was read.
var ErrStale = errors.New("connection changed")

// ObjectKind distinguishes cached tables from views.
type ObjectKind string

// Object kinds stored in schema_metadata.object_kind.
const (
	KindTable ObjectKind = "table"
	KindView  ObjectKind = "view"
)

// Connection is a named connection record.
type Connection struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SchemaObject is one cached table or view for a named database.
type SchemaObject struct {
	DBName    string
	Name      string
	Kind      ObjectKind
	Metadata  json.RawMessage
	UpdatedAt time.Time
}

// Store is the bookkeeping store interface consumed by the registry and schema service.
type Store interface {
	GetConnection(ctx context.Context, name string) (*Connection, error)
	ListConnections(ctx context.Context) ([]*Connection, error)
	UpsertConnection(ctx context.Context, name, url string) (*Connection, error)
	DeleteConnection(ctx context.Context, name string) error

	GetSchemaObjects(ctx context.Context, dbName string) ([]SchemaObject, error)
	ReplaceSchemaObjects(ctx context.Context, dbName string, objects []SchemaObject) error
	ReplaceSchemaObjectsFor(ctx context.Context, dbName, url string, objects []SchemaObject) error
	DeleteSchemaObjects(ctx context.Context, dbName string) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
