package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"})
}

func nameRows(col string, names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{col})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

// expectShopIntrospection registers the queries issued for a database with
// tables "Weird-Name" and "orders" and view "active_orders".
func expectShopIntrospection(mock sqlmock.Sqlmock, orderCount int64) {
	mock.ExpectQuery(tablesQuery).WillReturnRows(nameRows("table_name", "Weird-Name", "orders"))
	mock.ExpectQuery(viewsQuery).WillReturnRows(nameRows("table_name", "active_orders"))

	mock.ExpectQuery(columnsQuery).WithArgs("Weird-Name").
		WillReturnRows(columnRows().AddRow("x", "integer", "NO", nil))
	mock.ExpectQuery(primaryKeyQuery).WithArgs("Weird-Name").
		WillReturnRows(nameRows("column_name"))

	mock.ExpectQuery(columnsQuery).WithArgs("orders").
		WillReturnRows(columnRows().
			AddRow("id", "integer", "NO", "nextval('orders_id_seq'::regclass)").
			AddRow("region", "text", "NO", nil).
			AddRow("note", "text", "YES", nil))
	mock.ExpectQuery(primaryKeyQuery).WithArgs("orders").
		WillReturnRows(nameRows("column_name", "id", "region"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(orderCount))

	mock.ExpectQuery(columnsQuery).WithArgs("active_orders").
		WillReturnRows(columnRows().AddRow("id", "integer", "YES", nil))
}

func TestIntrospector_Introspect(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	expectShopIntrospection(mock, 42)

	in := NewIntrospector(testutil.NewTestLogger(t))
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return fixed }

	m, err := in.Introspect(context.Background(), db, "shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", m.DBName)
	assert.Equal(t, fixed, m.UpdatedAt)
	require.Len(t, m.Tables, 2)
	require.Len(t, m.Views, 1)

	weird := m.Table("Weird-Name")
	require.NotNil(t, weird)
	assert.Nil(t, weird.RowCount, "unsafe identifier must not be counted")
	assert.Nil(t, weird.PrimaryKey)

	orders := m.Table("orders")
	require.NotNil(t, orders)
	require.NotNil(t, orders.RowCount)
	assert.Equal(t, uint64(42), *orders.RowCount)
	assert.Equal(t, []string{"id", "region"}, orders.PrimaryKey)
	require.Len(t, orders.Columns, 3)
	assert.Equal(t, ColumnInfo{Name: "region", DataType: "text"}, orders.Columns[1])
	assert.True(t, orders.Columns[2].Nullable)
	require.NotNil(t, orders.Columns[0].DefaultValue)
	assert.Equal(t, "nextval('orders_id_seq'::regclass)", *orders.Columns[0].DefaultValue)

	assert.Equal(t, "active_orders", m.Views[0].Name)
	assert.True(t, m.Views[0].Columns[0].Nullable)
}

func TestIntrospector_CountFailureDegrades(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	mock.ExpectQuery(tablesQuery).WillReturnRows(nameRows("table_name", "orders"))
	mock.ExpectQuery(viewsQuery).WillReturnRows(nameRows("table_name"))
	mock.ExpectQuery(columnsQuery).WithArgs("orders").
		WillReturnRows(columnRows().AddRow("id", "integer", "NO", nil))
	mock.ExpectQuery(primaryKeyQuery).WithArgs("orders").
		WillReturnRows(nameRows("column_name", "id"))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "orders"`).
		WillReturnError(errors.New("permission denied for table orders"))

	m, err := NewIntrospector(nil).Introspect(context.Background(), db, "shop")
	require.NoError(t, err)
	require.Len(t, m.Tables, 1)
	assert.Nil(t, m.Tables[0].RowCount)
	assert.Empty(t, m.Views)
	assert.False(t, IsComplete(m))
}

func TestIntrospector_ListFailurePropagates(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	mock.ExpectQuery(tablesQuery).WillReturnError(errors.New("connection reset"))

	_, err := NewIntrospector(nil).Introspect(context.Background(), db, "shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tables")
}

func TestCountableIdent(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"orders", true},
		{"_staging", true},
		{"Orders2024", true},
		{"2024_orders", false},
		{"order-items", false},
		{`orders"; DROP TABLE x; --`, false},
		{"", false},
		{"a23456789012345678901234567890123456789012345678901234567890123", true},
		{"a234567890123456789012345678901234567890123456789012345678901234", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, countableIdent.MatchString(tt.name))
		})
	}
}
