package authority

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/pdx/internal/common"
	"github.com/rawbytedev/pdx/pkg/pdxtype"
)

func point(t *testing.T, fields ...string) *pdxtype.TypeDescriptor {
	t.Helper()
	d := pdxtype.New("Point")
	for _, f := range fields {
		_, err := d.AddField(f, common.Int)
		require.NoError(t, err)
	}
	return d
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r, err := NewRedis(RedisOptions{Client: client, KeyPrefix: "test", DistributedSystemID: 3})
	require.NoError(t, err)
	return r, mr
}

func implementations(t *testing.T) map[string]Authority {
	r, _ := newRedis(t)
	return map[string]Authority{
		"memory": NewMemory(WithDistributedSystemID(3)),
		"redis":  r,
	}
}

func TestTypeIDsAreDeduplicated(t *testing.T) {
	ctx := context.Background()
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := a.RequestTypeID(ctx, point(t, "x", "y"))
			require.NoError(t, err)
			id2, err := a.RequestTypeID(ctx, point(t, "x", "y"))
			require.NoError(t, err)
			assert.Equal(t, id1, id2)

			id3, err := a.RequestTypeID(ctx, point(t, "x", "y", "z"))
			require.NoError(t, err)
			assert.NotEqual(t, id1, id3)

			// same names, different order is a different shape
			id4, err := a.RequestTypeID(ctx, point(t, "y", "x"))
			require.NoError(t, err)
			assert.NotEqual(t, id1, id4)
		})
	}
}

func TestFetchTypeReturnsFreshCopies(t *testing.T) {
	ctx := context.Background()
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			src := point(t, "x", "y")
			id, err := a.RequestTypeID(ctx, src)
			require.NoError(t, err)
			assert.Zero(t, src.TypeID(), "the caller's descriptor is not mutated")

			got, err := a.FetchType(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, got.TypeID())
			assert.True(t, got.Equal(src))
			got.SetLocal(true)

			again, err := a.FetchType(ctx, id)
			require.NoError(t, err)
			assert.False(t, again.IsLocal())
			assert.NotSame(t, got, again)
		})
	}
}

func TestFetchUnknown(t *testing.T) {
	ctx := context.Background()
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.FetchType(ctx, 12345)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = a.FetchEnum(ctx, 12345)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEnumIDs(t *testing.T) {
	ctx := context.Background()
	red := pdxtype.EnumDescriptor{ClassName: "Color", Name: "RED", Ordinal: 0}
	blue := pdxtype.EnumDescriptor{ClassName: "Color", Name: "BLUE", Ordinal: 2}
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			r1, err := a.RequestEnumValue(ctx, red)
			require.NoError(t, err)
			r2, err := a.RequestEnumValue(ctx, red)
			require.NoError(t, err)
			assert.Equal(t, r1, r2)
			assert.Equal(t, int32(3), r1>>24, "distributed system id in the high byte")

			b, err := a.RequestEnumValue(ctx, blue)
			require.NoError(t, err)
			assert.NotEqual(t, r1, b)

			got, err := a.FetchEnum(ctx, b)
			require.NoError(t, err)
			assert.Equal(t, blue, got)
		})
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			_, err := a.RequestTypeID(ctx, point(t, "x"))
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestConcurrentRequestsAgree(t *testing.T) {
	ctx := context.Background()
	for name, a := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			const n = 16
			ids := make([]int32, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					d := pdxtype.New("Point")
					d.AddField("x", common.Int)
					id, err := a.RequestTypeID(ctx, d)
					assert.NoError(t, err)
					ids[i] = id
				}(i)
			}
			wg.Wait()
			for _, id := range ids[1:] {
				assert.Equal(t, ids[0], id)
			}
		})
	}
}

func TestMemorySaveLoad(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithFirstTypeID(10))
	id, err := m.RequestTypeID(ctx, point(t, "x", "y"))
	require.NoError(t, err)
	assert.Equal(t, int32(10), id)
	eid, err := m.RequestEnumValue(ctx, pdxtype.EnumDescriptor{ClassName: "Color", Name: "RED"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	restored := NewMemory()
	require.NoError(t, restored.Load(bytes.NewReader(buf.Bytes())))

	got, err := restored.FetchType(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Equal(point(t, "x", "y")))

	same, err := restored.RequestTypeID(ctx, point(t, "x", "y"))
	require.NoError(t, err)
	assert.Equal(t, id, same)

	next, err := restored.RequestTypeID(ctx, point(t, "z"))
	require.NoError(t, err)
	assert.Equal(t, int32(11), next)

	e, err := restored.FetchEnum(ctx, eid)
	require.NoError(t, err)
	assert.Equal(t, "RED", e.Name)

	require.Error(t, restored.Load(bytes.NewReader([]byte("garbage"))))
}

func TestRedisKeysAndCache(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedis(t)
	id, err := r.RequestTypeID(ctx, point(t, "x"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:type:"+idString(id)))

	// served from the local cache once the server forgets it
	mr.Del("test:type:" + idString(id))
	_, err = r.FetchType(ctx, id)
	require.NoError(t, err)

	// a second client without the cache sees the server state
	other, err := NewRedis(RedisOptions{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}), KeyPrefix: "test"})
	require.NoError(t, err)
	_, err = other.FetchType(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewRedis(RedisOptions{})
	require.Error(t, err)
}
