// Package schema describes the tables and views of a named target database
// and caches that description in the bookkeeping store.
package schema

import "time"

// Metadata is the full description of one named database.
type Metadata struct {
	DBName    string      `json:"dbName"`
	Tables    []TableInfo `json:"tables"`
	Views     []ViewInfo  `json:"views"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// TableInfo describes a base table. RowCount is nil when the count could not be measured.
type TableInfo struct {
	Name       string       `json:"name"`
	Columns    []ColumnInfo `json:"columns"`
	PrimaryKey []string     `json:"primaryKey"`
	RowCount   *uint64      `json:"rowCount"`
}

// ViewInfo describes a view.
type ViewInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column. DataType is the target database's own type name.
type ColumnInfo struct {
	Name         string  `json:"name"`
	DataType     string  `json:"dataType"`
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"defaultValue"`
}

// Table returns the table with the given name, or nil.
func (m *Metadata) Table(name string) *TableInfo {
	for i := range m.Tables {
		if m.Tables[i].Name == name {
			return &m.Tables[i]
		}
	}
	return nil
}

// Policy decides whether cached metadata can be served without a live re-fetch.
type Policy func(m *Metadata) bool

// IsComplete reports whether every table carries a row count. Views never
// carry one and are not checked.
func IsComplete(m *Metadata) bool {
	if m == nil {
		return false
	}
	for _, t := range m.Tables {
		if t.RowCount == nil {
			return false
		}
	}
	return true
}
