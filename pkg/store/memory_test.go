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

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustStore(t *testing.T, m *Memory, entry cache.Entry, maxStoreFor time.Duration) {
	t.Helper()
	err := m.StoreEntries(context.Background(), []cache.StoreInput{{Entry: entry, MaxStoreFor: maxStoreFor}})
	require.NoError(t, err)
}

func TestMemoryGetUnknownID(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	entries, err := m.Get(context.Background(), "missing", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStoreThenGet(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	entry := cache.Entry{ID: "A", Content: []byte("Alice")}
	mustStore(t, m, entry, 120*time.Second)

	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", string(got[0].Content))

	got, err = m.Get(context.Background(), "B", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreMultipleVaryVariants(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	en := cache.Entry{ID: "A", Vary: cache.Vary{"lang": "en"}, Content: []byte("hello")}
	fr := cache.Entry{ID: "A", Vary: cache.Vary{"lang": "fr"}, Content: []byte("bonjour")}
	mustStore(t, m, en, time.Minute)
	mustStore(t, m, fr, time.Minute)

	got, err := m.Get(context.Background(), "A", cache.Params{"lang": "fr"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bonjour", string(got[0].Content))

	got, err = m.Get(context.Background(), "A", cache.Params{"lang": "en"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0].Content))
}

func TestMemoryStoreLastWriterWinsByBirthDate(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	older := cache.Entry{ID: "A", Content: []byte("old"), Date: time.Unix(1000, 0)}
	newer := cache.Entry{ID: "A", Content: []byte("new"), Date: time.Unix(2000, 0)}

	err = m.StoreEntries(context.Background(), []cache.StoreInput{
		{Entry: newer, MaxStoreFor: time.Minute},
		{Entry: older, MaxStoreFor: time.Minute},
	})
	require.NoError(t, err)

	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", string(got[0].Content))
}

func TestMemoryEntryExpiresAfterMaxStoreFor(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	entry := cache.Entry{ID: "A", Content: []byte("Alice"), Date: now}
	mustStore(t, m, entry, 120*time.Second)

	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	now = now.Add(90 * time.Second)
	got, err = m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	now = now.Add(31 * time.Second) // 121s total
	got, err = m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryInfiniteMaxStoreForNeverExpires(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	entry := cache.Entry{ID: "A", Content: []byte("Alice"), Date: now}
	mustStore(t, m, entry, time.Duration(1<<63-1))

	now = now.Add(365 * 24 * time.Hour)
	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", string(got[0].Content))
}

func TestMemoryMaxEntriesPerIDTrimsOldestByBirthDate(t *testing.T) {
	m, err := NewMemory(MemoryConfig{MaxBytes: DefaultMemoryConfig.MaxBytes, MaxEntriesPerID: 2})
	require.NoError(t, err)

	variants := []struct {
		lang string
		born int64
	}{
		{"en", 1000},
		{"fr", 2000},
		{"de", 3000},
	}
	for _, v := range variants {
		e := cache.Entry{ID: "A", Vary: cache.Vary{"lang": v.lang}, Content: []byte(v.lang), Date: time.Unix(v.born, 0)}
		mustStore(t, m, e, time.Minute)
	}

	got, err := m.Get(context.Background(), "A", cache.Params{"lang": "en"})
	require.NoError(t, err)
	assert.Empty(t, got, "oldest variant must have been trimmed")

	got, err = m.Get(context.Background(), "A", cache.Params{"lang": "fr"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.Get(context.Background(), "A", cache.Params{"lang": "de"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryMaxBytesEvictsOldestID(t *testing.T) {
	itemSize := sliceHeaderSize + 40 // matches the teacher's inmemory provider accounting
	m, err := NewMemory(MemoryConfig{MaxBytes: uint64(2 * itemSize)})
	require.NoError(t, err)

	mustStore(t, m, cache.Entry{ID: "A", Content: make([]byte, 40)}, time.Minute)
	mustStore(t, m, cache.Entry{ID: "B", Content: make([]byte, 40)}, time.Minute)

	gotA, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Len(t, gotA, 1)

	// Touch A so it's most-recently-used, then push in C: B should be evicted.
	mustStore(t, m, cache.Entry{ID: "C", Content: make([]byte, 40)}, time.Minute)

	gotB, err := m.Get(context.Background(), "B", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, gotB, "B should have been evicted to make room for C")

	gotC, err := m.Get(context.Background(), "C", cache.Params{})
	require.NoError(t, err)
	assert.Len(t, gotC, 1)
}

func TestMemoryDelete(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	mustStore(t, m, cache.Entry{ID: "A", Content: []byte("Alice")}, time.Minute)
	require.NoError(t, m.Delete(context.Background(), "A"))

	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryClosePurges(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	mustStore(t, m, cache.Entry{ID: "A", Content: []byte("Alice")}, time.Minute)
	require.NoError(t, m.Close(context.Background(), 0))

	got, err := m.Get(context.Background(), "A", cache.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryGetManyMatchesIndividualGet(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	mustStore(t, m, cache.Entry{ID: "A", Content: []byte("Alice")}, time.Minute)
	mustStore(t, m, cache.Entry{ID: "B", Content: []byte("Bob")}, time.Minute)

	results, err := m.GetMany(context.Background(), []cache.LookupKey{
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

func TestMemoryConcurrentAccess(t *testing.T) {
	m, err := NewMemory(DefaultMemoryConfig)
	require.NoError(t, err)

	ids := []string{"A", "B", "G", "E"}
	for _, id := range ids {
		mustStore(t, m, cache.Entry{ID: id, Content: []byte(id)}, time.Minute)
	}

	ch := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
			for j := 0; j < 200; j++ {
				_, _ = m.Get(context.Background(), "A", cache.Params{})
				mustStore(t, m, cache.Entry{ID: "A", Content: []byte("Arnie")}, time.Minute)
			}
		}()
	}
	close(ch)
	wg.Wait()
}
