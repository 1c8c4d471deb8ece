package schema

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/state"
	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeResolver resolves records straight from the store.
type storeResolver struct{ store state.Store }

func (r storeResolver) Get(ctx context.Context, name string) (*state.Connection, error) {
	conn, err := r.store.GetConnection(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return nil, apperr.NotFoundf("Database '%s' not found", name)
	}
	return conn, err
}

type serviceFixture struct {
	svc   *Service
	store *state.SQLiteStore
	mock  sqlmock.Sqlmock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := testutil.NewTestLogger(t)

	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "querydeck.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	db, mock := testutil.NewMockDB(t)
	pools := pool.NewCache(func(context.Context, string, pool.Limits) (*pool.Pool, error) {
		return pool.NewPool(db, time.Second, func() error { return nil }), nil
	}, pool.DefaultLimits(), logger)
	t.Cleanup(pools.Close)

	return &serviceFixture{
		svc:   NewService(storeResolver{store}, store, pools, logger),
		store: store,
		mock:  mock,
	}
}

func TestService_CacheHitWhenComplete(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	// seed a complete cache: no live queries may run
	count := uint64(7)
	objects, err := encodeObjects(&Metadata{
		DBName: "shop",
		Tables: []TableInfo{{Name: "orders", Columns: []ColumnInfo{{Name: "id", DataType: "integer"}}, RowCount: &count}},
		Views:  []ViewInfo{{Name: "v", Columns: []ColumnInfo{}}},
	})
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceSchemaObjects(ctx, "shop", objects))

	m, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, m.Tables, 1)
	assert.Equal(t, uint64(7), *m.Tables[0].RowCount)
	require.Len(t, m.Views, 1)
	assert.False(t, m.UpdatedAt.IsZero())
}

func TestService_MissFetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	expectShopIntrospection(f.mock, 3)
	// the unsafe table has no row count, so the next call must fetch again
	expectShopIntrospection(f.mock, 4)

	first, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), *first.Table("orders").RowCount)

	objects, err := f.store.GetSchemaObjects(ctx, "shop")
	require.NoError(t, err)
	assert.Len(t, objects, 3)

	second, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), *second.Table("orders").RowCount)
}

func TestService_IncompleteCacheForcesRefetch(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	require.NoError(t, f.store.ReplaceSchemaObjects(ctx, "shop", []state.SchemaObject{
		{Name: "orders", Kind: state.KindTable, Metadata: json.RawMessage(`{"columns":[],"rowCount":10}`)},
		{Name: "stale", Kind: state.KindTable, Metadata: json.RawMessage(`{"columns":[]}`)},
	}))

	f.mock.ExpectQuery(tablesQuery).WillReturnRows(nameRows("table_name", "orders"))
	f.mock.ExpectQuery(viewsQuery).WillReturnRows(nameRows("table_name"))
	f.mock.ExpectQuery(columnsQuery).WithArgs("orders").
		WillReturnRows(columnRows().AddRow("id", "integer", "NO", nil))
	f.mock.ExpectQuery(primaryKeyQuery).WithArgs("orders").
		WillReturnRows(nameRows("column_name", "id"))
	f.mock.ExpectQuery(`SELECT COUNT(*) FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	m, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, m.Tables, 1)
	assert.Equal(t, uint64(11), *m.Tables[0].RowCount)

	// the stale object is gone and the fresh result is now a cache hit
	again, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, again.Tables, 1)
	assert.Equal(t, []string{"id"}, again.Tables[0].PrimaryKey)
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	count := uint64(1)
	objects, err := encodeObjects(&Metadata{DBName: "shop", Tables: []TableInfo{{Name: "old", RowCount: &count}}})
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceSchemaObjects(ctx, "shop", objects))

	f.mock.ExpectQuery(tablesQuery).WillReturnRows(nameRows("table_name"))
	f.mock.ExpectQuery(viewsQuery).WillReturnRows(nameRows("table_name", "report"))
	f.mock.ExpectQuery(columnsQuery).WithArgs("report").
		WillReturnRows(columnRows().AddRow("total", "numeric", "YES", nil))

	m, err := f.svc.Refresh(ctx, "shop")
	require.NoError(t, err)
	assert.Empty(t, m.Tables)
	require.Len(t, m.Views, 1)
	assert.Equal(t, "report", m.Views[0].Name)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *serviceFixture)
		db    string
		kind  apperr.Kind
		msg   string
	}{
		{
			name: "unknown name",
			db:   "missing",
			kind: apperr.NotFound,
			msg:  "Database 'missing' not found",
		},
		{
			name: "non postgres url",
			setup: func(t *testing.T, f *serviceFixture) {
				_, err := f.store.UpsertConnection(ctx, "legacy", "mysql://root@localhost/legacy")
				require.NoError(t, err)
			},
			db:   "legacy",
			kind: apperr.Validation,
			msg:  "Only PostgreSQL databases are supported",
		},
		{
			name: "deleted connection",
			setup: func(t *testing.T, f *serviceFixture) {
				_, err := f.store.UpsertConnection(ctx, "gone", "postgres://localhost/gone")
				require.NoError(t, err)
				require.NoError(t, f.store.DeleteConnection(ctx, "gone"))
			},
			db:   "gone",
			kind: apperr.NotFound,
			msg:  "Database 'gone' not found",
		},
		{
			name: "introspection failure",
			setup: func(t *testing.T, f *serviceFixture) {
				_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
				require.NoError(t, err)
				f.mock.ExpectQuery(tablesQuery).WillReturnError(errors.New("relation does not exist"))
			},
			db:   "shop",
			kind: apperr.Database,
			msg:  "Failed to introspect schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			_, err := f.svc.GetSchemaMetadata(ctx, tt.db)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// blockingPools counts pool requests and holds each until released.
type blockingPools struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingPools) GetOrCreate(context.Context, string, string) (*pool.Pool, error) {
	b.calls.Add(1)
	<-b.release
	return nil, apperr.ConnectionErr("Failed to connect to database", time.Second, errors.New("refused"))
}

func TestService_ConcurrentRefreshCollapses(t *testing.T) {
	ctx := context.Background()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "querydeck.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	_, err := store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	pools := &blockingPools{release: make(chan struct{})}
	svc := NewService(storeResolver{store}, store, pools, nil)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(ctx, "shop")
		}(i)
	}

	require.Eventually(t, func() bool { return pools.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(pools.release)
	wg.Wait()

	assert.Equal(t, int32(1), pools.calls.Load())
	for _, err := range errs {
		assert.True(t, apperr.Is(err, apperr.Connection))
	}
}

// gatedPools hands out one pool once released. It gives up early only when
// the context it was called with ends.
type gatedPools struct {
	calls   atomic.Int32
	release chan struct{}
	pool    *pool.Pool
}

func (g *gatedPools) GetOrCreate(ctx context.Context, _, _ string) (*pool.Pool, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.pool, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newGatedService(t *testing.T) (*Service, *state.SQLiteStore, *gatedPools, sqlmock.Sqlmock) {
	t.Helper()
	store := state.NewSQLiteStore(nil)
	require.NoError(t, store.Open(filepath.Join(t.TempDir(), "querydeck.db")))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	_, err := store.UpsertConnection(context.Background(), "shop", "postgres://localhost/shop")
	require.NoError(t, err)

	db, mock := testutil.NewMockDB(t)
	pools := &gatedPools{
		release: make(chan struct{}),
		pool:    pool.NewPool(db, time.Second, func() error { return nil }),
	}
	return NewService(storeResolver{store}, store, pools, nil), store, pools, mock
}

func TestService_CancelledCallerDoesNotFailOthers(t *testing.T) {
	svc, store, pools, mock := newGatedService(t)
	expectShopIntrospection(mock, 3)

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(cancelled, "shop")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return pools.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		m   *Metadata
		err error
	}
	second := make(chan result, 1)
	go func() {
		m, err := svc.Refresh(context.Background(), "shop")
		second <- result{m, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(pools.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, uint64(3), *res.m.Table("orders").RowCount)
	assert.Equal(t, int32(1), pools.calls.Load())

	objects, err := store.GetSchemaObjects(context.Background(), "shop")
	require.NoError(t, err)
	assert.Len(t, objects, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_DeleteDuringRebuildLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	svc, store, pools, mock := newGatedService(t)
	expectShopIntrospection(mock, 3)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(ctx, "shop")
		done <- err
	}()
	require.Eventually(t, func() bool { return pools.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, store.DeleteConnection(ctx, "shop"))
	close(pools.release)
	require.NoError(t, <-done)

	objects, err := store.GetSchemaObjects(ctx, "shop")
	require.NoError(t, err)
	assert.Empty(t, objects)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsComplete(t *testing.T) {
	one := uint64(1)
	tests := []struct {
		name string
		m    *Metadata
		want bool
	}{
		{"nil", nil, false},
		{"no tables", &Metadata{Views: []ViewInfo{{Name: "v"}}}, true},
		{"all counted", &Metadata{Tables: []TableInfo{{Name: "a", RowCount: &one}, {Name: "b", RowCount: &one}}}, true},
		{"one missing", &Metadata{Tables: []TableInfo{{Name: "a", RowCount: &one}, {Name: "b"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsComplete(tt.m))
		})
	}
}

func TestService_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.svc = NewService(storeResolver{f.store}, f.store, nil, nil, WithPolicy(func(*Metadata) bool { return true }))

	_, err := f.store.UpsertConnection(ctx, "shop", "postgres://localhost/shop")
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceSchemaObjects(ctx, "shop", []state.SchemaObject{
		{Name: "orders", Kind: state.KindTable, Metadata: json.RawMessage(`{"columns":[]}`)},
	}))

	m, err := f.svc.GetSchemaMetadata(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, m.Tables, 1)
	assert.Nil(t, m.Tables[0].RowCount)
}
