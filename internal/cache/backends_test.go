package cache

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeMemcache struct {
	items map[string][]byte
	err   error
}

func (f *fakeMemcache) Get(key string) (*memcache.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return &memcache.Item{Key: key, Value: v}, nil
}

func (f *fakeMemcache) Set(item *memcache.Item) error {
	if f.err != nil {
		return f.err
	}
	f.items[item.Key] = item.Value
	return nil
}

func (f *fakeMemcache) Delete(key string) error {
	if _, ok := f.items[key]; !ok {
		return memcache.ErrCacheMiss
	}
	delete(f.items, key)
	return nil
}

func TestMemcacheBackend(t *testing.T) {
	t.Parallel()

	client := &fakeMemcache{items: map[string][]byte{}}
	b := newMemcacheBackend(client, "")
	ctx := context.Background()

	_, err := b.Get(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, b.Delete(ctx))

	require.NoError(t, b.Set(ctx, []byte("payload")))
	require.Contains(t, client.items, "catalog_snapshot")
	ok, err := b.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := b.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	require.NoError(t, b.Delete(ctx))
	ok, err = b.Exists(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	client.err = errors.New("server down")
	_, err = b.Exists(ctx)
	require.Error(t, err)
}

func TestPostgresBackendGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewPostgresBackendWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM catalog_snapshot WHERE id = 1")).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"timestamp":1,"data":[]}`)))
	data, err := b.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, `{"timestamp":1,"data":[]}`, string(data))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM catalog_snapshot WHERE id = 1")).
		WillReturnError(pgx.ErrNoRows)
	_, err = b.Get(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendWrites(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b, err := NewPostgresBackendWithPool(mock, "snapshots")
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, b.EnsureSchema(ctx))

	payload := []byte(`{"timestamp":1,"data":[]}`)
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, b.Set(ctx, payload))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM snapshots WHERE id = 1)")).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := b.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM snapshots WHERE id = 1")).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, b.Delete(ctx))

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(payload).
		WillReturnError(errors.New("conn reset"))
	require.Error(t, b.Set(ctx, payload))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresBackendWithPool(mock, "snap; DROP TABLE x")
	require.Error(t, err)
	_, err = NewPostgresBackendWithPool(nil, "")
	require.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("CATALOG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CATALOG_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBackendWithClient(client, "catalog:test:snapshot")
	ctx := context.Background()
	require.NoError(t, b.Delete(ctx))

	_, err := b.Get(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, []byte("payload")))
	ok, err := b.Exists(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := b.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.NoError(t, b.Delete(ctx))
}
