// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Endpoint: s.Addr(), Namespace: "fc:"})
	require.NoError(t, err)
	return r, s
}

func TestRedisConfigValidateRequiresEndpoint(t *testing.T) {
	err := (&RedisConfig{}).Validate()
	assert.ErrorIs(t, err, ErrRedisConfigNoEndpoint)
}

func TestRedisGetUnknownID(t *testing.T) {
	r, _ := newTestRedis(t)
	entries, err := r.Get(context.Background(), "missing", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisStoreThenGet(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: 120 * time.Second},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", string(got[0].Content))
}

func TestRedisStoreMultipleVaryVariants(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Vary: cache.Vary{"lang": "en"}, Content: []byte("hello")}, MaxStoreFor: time.Minute},
		{Entry: cache.Entry{ID: "A", Vary: cache.Vary{"lang": "fr"}, Content: []byte("bonjour")}, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{"lang": "fr"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bonjour", string(got[0].Content))
}

func TestRedisVaryWithAbsentMarkerRoundTrips(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Vary: cache.Vary{"user": cache.Absent}, Content: []byte("anon")}, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cache.Vary{"user": cache.Absent}, got[0].Vary)

	got, err = r.Get(context.Background(), "A", cache.Params{"user": "bob"})
	require.NoError(t, err)
	assert.Empty(t, got, "an entry keyed on absence must not match a present param")
}

func TestRedisStoreLastWriterWinsByBirthDate(t *testing.T) {
	r, _ := newTestRedis(t)
	older := cache.Entry{ID: "A", Content: []byte("old"), Date: time.Unix(1000, 0)}
	newer := cache.Entry{ID: "A", Content: []byte("new"), Date: time.Unix(2000, 0)}

	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: newer, MaxStoreFor: time.Minute},
		{Entry: older, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", string(got[0].Content))
}

func TestRedisEntryExpiresAfterMaxStoreFor(t *testing.T) {
	r, s := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: 120 * time.Second},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	s.FastForward(121 * time.Second)

	got, err = r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got, "expired entries must be dropped, and their stale vary-set member pruned")
}

func TestRedisZeroMaxStoreForIsNotRetained(t *testing.T) {
	r, s := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: 0},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got, "a zero MaxStoreFor must never be held past, not persisted forever")

	// Confirm this isn't merely an artifact of Get pruning a live-but-
	// expired key: the underlying Redis key must never have been set at
	// all (MaxStoreFor=0 passed to go-redis' Set means "no TTL").
	s.FastForward(time.Millisecond)
	got, err = r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisInfiniteMaxStoreForSetsNoTTL(t *testing.T) {
	r, s := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: time.Duration(1<<63 - 1)},
	})
	require.NoError(t, err)

	s.FastForward(365 * 24 * time.Hour)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", string(got[0].Content))
}

func TestRedisMaxItemSizeDropsOversizedEntries(t *testing.T) {
	s := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Endpoint: s.Addr(), Namespace: "fc:", MaxItemSize: 4})
	require.NoError(t, err)

	err = r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("too big")}, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)
	require.NoError(t, r.Delete(context.Background(), "A"))

	got, err := r.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisGetManyMatchesIndividualGet(t *testing.T) {
	r, _ := newTestRedis(t)
	err := r.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: cache.Entry{ID: "A", Content: []byte("Alice")}, MaxStoreFor: time.Minute},
		{Entry: cache.Entry{ID: "B", Content: []byte("Bob")}, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	results, err := r.GetMany(context.Background(), []cache.LookupKey{
		{ID: "A", Params: cache.Params{}},
		{ID: "missing", Params: cache.Params{}},
		{ID: "B", Params: cache.Params{}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Len(t, results[0], 1)
	assert.Equal(t, "Alice", string(results[0][0].Content))
	assert.Empty(t, results[1])
	require.Len(t, results[2], 1)
	assert.Equal(t, "Bob", string(results[2][0].Content))
}

func TestRedisConcurrentAccess(t *testing.T) {
	r, _ := newTestRedis(t)
	for _, id := range []string{"A", "B", "G", "E"} {
		err := r.StoreEntries(context.Background(), []cache.StoreInput{
			{Entry: cache.Entry{ID: id, Content: []byte(id)}, MaxStoreFor: time.Minute},
		})
		require.NoError(t, err)
	}

	ch := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
			for j := 0; j < 50; j++ {
				_, _ = r.Get(context.Background(), "A", cache.Params{})
				_ = r.StoreEntries(context.Background(), []cache.StoreInput{
					{Entry: cache.Entry{ID: "A", Content: []byte("Arnie")}, MaxStoreFor: time.Minute},
				})
			}
		}()
	}
	close(ch)
	wg.Wait()
}
