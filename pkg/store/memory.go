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

// Package store provides reference cache.Store implementations: an
// in-memory LRU and a Redis-backed store. Stores are explicitly external
// collaborators of the core cache package; these exist so the module is
// runnable end to end, not because the decision engine depends on them.
package store

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/rs/zerolog/log"
)

const sliceHeaderSize = 24

// MemoryConfig configures a Memory store.
type MemoryConfig struct {
	// MaxBytes bounds the total size of stored content. Defaults to 256 MiB.
	MaxBytes uint64 `yaml:"max_bytes"`

	// MaxEntriesPerID caps how many distinct vary-variants are kept per id,
	// evicting the oldest by birth date beyond that. Zero means unbounded.
	MaxEntriesPerID int `yaml:"max_entries_per_id"`
}

// DefaultMemoryConfig mirrors the teacher's in-memory provider defaults.
var DefaultMemoryConfig = MemoryConfig{MaxBytes: 1 << 28}

// Memory is a process-local LRU-evicted cache.Store. Eviction happens at
// the granularity of an id: the LRU tracks total size per id and drops
// the least-recently-used id's whole entry set when capacity is
// exceeded, the same strategy the teacher's in-memory provider uses for
// byte values.
type Memory struct {
	mu sync.Mutex

	inner    *lru.Cache[string, []record]
	maxBytes uint64
	curBytes uint64
	cfg      MemoryConfig

	now func() time.Time
}

type record struct {
	entry     cache.Entry
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates a Memory store. cfg.MaxEntriesPerID, if set, bounds
// the number of vary-variants retained per id.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMemoryConfig.MaxBytes
	}

	m := &Memory{maxBytes: cfg.MaxBytes, cfg: cfg, now: time.Now}
	inner, err := lru.NewWithEvict[string, []record](int(^uint(0)>>1), m.onEvict)
	if err != nil {
		return nil, err
	}
	m.inner = inner
	return m, nil
}

func (m *Memory) onEvict(_ string, recs []record) {
	for _, r := range recs {
		m.curBytes -= recordSize(r)
	}
}

func recordSize(r record) uint64 {
	return sliceHeaderSize + uint64(len(r.entry.Content))
}

// Get implements cache.Store.
func (m *Memory) Get(_ context.Context, id string, params cache.Params) ([]cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs, ok := m.inner.Get(id)
	if !ok {
		return nil, nil
	}

	now := m.now()
	var out []cache.Entry
	var live []record
	for _, r := range recs {
		if !r.expiresAt.IsZero() && !r.expiresAt.After(now) {
			continue
		}
		live = append(live, r)
		if cache.VaryMatches(r.entry.Vary, params) {
			out = append(out, r.entry)
		}
	}
	if len(live) != len(recs) {
		if len(live) == 0 {
			m.removeLocked(id)
		} else {
			m.inner.Add(id, live)
		}
	}
	return out, nil
}

// GetMany implements cache.Store using the default bounded-concurrency
// fan-out over Get.
func (m *Memory) GetMany(ctx context.Context, keys []cache.LookupKey) ([][]cache.Entry, error) {
	return cache.DefaultGetMany(ctx, m, keys, 8)
}

// StoreEntries implements cache.Store. Within a batch, entries sharing
// an (id, vary) key keep the one with the latest birth date.
func (m *Memory) StoreEntries(_ context.Context, inputs []cache.StoreInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := map[string][]cache.StoreInput{}
	for _, in := range inputs {
		byID[in.Entry.ID] = append(byID[in.Entry.ID], in)
	}

	now := m.now()
	for id, ins := range byID {
		existing, _ := m.inner.Get(id)
		merged := map[string]record{}
		for _, r := range existing {
			merged[varyKey(r.entry.Vary)] = r
		}
		for _, in := range ins {
			k := varyKey(in.Entry.Vary)
			if prior, ok := merged[k]; ok && !cache.BirthDate(in.Entry).After(cache.BirthDate(prior.entry)) {
				continue
			}
			expires := time.Time{}
			if in.MaxStoreFor < (time.Duration(1<<63 - 1)) {
				expires = now.Add(in.MaxStoreFor)
			}
			merged[k] = record{entry: in.Entry, expiresAt: expires}
		}

		recs := make([]record, 0, len(merged))
		for _, r := range merged {
			recs = append(recs, r)
		}
		if m.cfg.MaxEntriesPerID > 0 && len(recs) > m.cfg.MaxEntriesPerID {
			recs = trimOldest(recs, m.cfg.MaxEntriesPerID)
		}

		var added uint64
		for _, r := range recs {
			added += recordSize(r)
		}
		m.ensureCapacityLocked(added)

		if old, ok := m.inner.Get(id); ok {
			for _, r := range old {
				m.curBytes -= recordSize(r)
			}
		}
		m.inner.Add(id, recs)
		m.curBytes += added
	}
	return nil
}

func trimOldest(recs []record, keep int) []record {
	for len(recs) > keep {
		oldestIdx := 0
		for i, r := range recs {
			if cache.BirthDate(r.entry).Before(cache.BirthDate(recs[oldestIdx].entry)) {
				oldestIdx = i
			}
		}
		recs = append(recs[:oldestIdx], recs[oldestIdx+1:]...)
	}
	return recs
}

func varyKey(v cache.Vary) string {
	return cache.CanonicalKey("", varyAsParams(v))
}

func varyAsParams(v cache.Vary) cache.Params {
	p := make(cache.Params, len(v))
	for k, val := range v {
		p[k] = val
	}
	return p
}

func (m *Memory) ensureCapacityLocked(additional uint64) {
	for m.curBytes+additional > m.maxBytes {
		if _, _, ok := m.inner.RemoveOldest(); !ok {
			log.Debug().Msg("store: memory cache cannot free enough space, purging")
			m.inner.Purge()
			m.curBytes = 0
			return
		}
	}
}

func (m *Memory) removeLocked(id string) {
	if recs, ok := m.inner.Peek(id); ok {
		for _, r := range recs {
			m.curBytes -= recordSize(r)
		}
	}
	m.inner.Remove(id)
}

// Delete implements cache.Store.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

// Close implements cache.Store. Memory holds no external resources.
func (m *Memory) Close(context.Context, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner.Purge()
	m.curBytes = 0
	return nil
}
