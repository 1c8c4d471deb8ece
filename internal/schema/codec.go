package schema

import (
	"encoding/json"
	"fmt"

	"github.com/leapstack-labs/querydeck/internal/state"
)

// tableBlob and viewBlob are the per-object JSON stored in schema_metadata.metadata_json.
type tableBlob struct {
	Columns    []ColumnInfo `json:"columns"`
	PrimaryKey []string     `json:"primaryKey,omitempty"`
	RowCount   *uint64      `json:"rowCount,omitempty"`
}

type viewBlob struct {
	Columns []ColumnInfo `json:"columns"`
}

// encodeObjects flattens metadata into one cache row per table and view.
func encodeObjects(m *Metadata) ([]state.SchemaObject, error) {
	objects := make([]state.SchemaObject, 0, len(m.Tables)+len(m.Views))
	for _, t := range m.Tables {
		raw, err := json.Marshal(tableBlob{Columns: t.Columns, PrimaryKey: t.PrimaryKey, RowCount: t.RowCount})
		if err != nil {
			return nil, fmt.Errorf("failed to encode table %s: %w", t.Name, err)
		}
		objects = append(objects, state.SchemaObject{DBName: m.DBName, Name: t.Name, Kind: state.KindTable, Metadata: raw})
	}
	for _, v := range m.Views {
		raw, err := json.Marshal(viewBlob{Columns: v.Columns})
		if err != nil {
			return nil, fmt.Errorf("failed to encode view %s: %w", v.Name, err)
		}
		objects = append(objects, state.SchemaObject{DBName: m.DBName, Name: v.Name, Kind: state.KindView, Metadata: raw})
	}
	return objects, nil
}

// decodeObjects rebuilds metadata from cache rows. It returns nil when there are no rows.
func decodeObjects(dbName string, objects []state.SchemaObject) (*Metadata, error) {
	if len(objects) == 0 {
		return nil, nil
	}

	m := &Metadata{DBName: dbName, Tables: []TableInfo{}, Views: []ViewInfo{}}
	for _, obj := range objects {
		if obj.UpdatedAt.After(m.UpdatedAt) {
			m.UpdatedAt = obj.UpdatedAt
		}
		switch obj.Kind {
		case state.KindTable:
			var blob tableBlob
			if err := json.Unmarshal(obj.Metadata, &blob); err != nil {
				return nil, fmt.Errorf("failed to decode cached table %s: %w", obj.Name, err)
			}
			m.Tables = append(m.Tables, TableInfo{
				Name:       obj.Name,
				Columns:    nonNilColumns(blob.Columns),
				PrimaryKey: blob.PrimaryKey,
				RowCount:   blob.RowCount,
			})
		case state.KindView:
			var blob viewBlob
			if err := json.Unmarshal(obj.Metadata, &blob); err != nil {
				return nil, fmt.Errorf("failed to decode cached view %s: %w", obj.Name, err)
			}
			m.Views = append(m.Views, ViewInfo{Name: obj.Name, Columns: nonNilColumns(blob.Columns)})
		default:
			return nil, fmt.Errorf("unknown cached object kind %q for %s", obj.Kind, obj.Name)
		}
	}
	return m, nil
}

func nonNilColumns(cols []ColumnInfo) []ColumnInfo {
	if cols == nil {
		return []ColumnInfo{}
	}
	return cols
}
