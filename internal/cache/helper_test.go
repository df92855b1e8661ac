package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestCache_Aside(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *payload) func() error {
		return func() error {
			calls++
			*dest = payload{Name: "feed", Count: calls}
			return nil
		}
	}

	var first payload
	require.NoError(t, c.Aside(ctx, "k", &first, time.Minute, fetch(&first)))
	assert.Equal(t, 1, first.Count)

	var second payload
	require.NoError(t, c.Aside(ctx, "k", &second, time.Minute, fetch(&second)))
	assert.Equal(t, 1, second.Count, "second read served from cache")
	assert.Equal(t, 1, calls)

	mr.FastForward(2 * time.Minute)
	var third payload
	require.NoError(t, c.Aside(ctx, "k", &third, time.Minute, fetch(&third)))
	assert.Equal(t, 2, third.Count)
}

func TestCache_AsideFetchErrorNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	var dest payload
	err := c.Aside(context.Background(), "k", &dest, time.Minute, func() error {
		return errors.New("db down")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestCache_NilClientPassThrough(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	found, err := c.GetJSON(ctx, "k", &payload{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.SetJSON(ctx, "k", payload{}, time.Minute))

	calls := 0
	var dest payload
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Aside(ctx, "k", &dest, time.Minute, func() error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
	c.Invalidate(ctx, "k")
}

func TestCache_Invalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, PostKey(1), payload{Name: "p"}, time.Minute))
	assert.True(t, mr.Exists("cache:post:1"))
	c.Invalidate(ctx, PostKey(1))
	assert.False(t, mr.Exists("cache:post:1"))
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect("redis://localhost:notaport")
	assert.Error(t, err)
}

func TestConnect_Miniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Connect(mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()
	require.NoError(t, rdb.Set(context.Background(), "a", "1", 0).Err())
}
