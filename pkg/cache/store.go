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

package cache

import (
	"context"
	"sync"
	"time"
)

// LookupKey identifies a single store lookup: an id plus the normalized
// request params used to pick a matching Vary.
type LookupKey struct {
	ID     string
	Params Params
}

// StoreInput pairs a normalized entry with the advisory maximum time it
// may remain in the store, as computed by CalculateStoreFor.
type StoreInput struct {
	Entry       Entry
	MaxStoreFor time.Duration
}

// Store is the external, keyed entry store the Cache façade queries. A
// Store is not implemented by this package - it is the sole interface the
// library consumes. Concrete stores (an in-process LRU, a SQL- or
// Redis-backed store, etc.) live in their own packages and only need to
// satisfy this contract.
type Store interface {
	// Get returns every entry for id whose Vary is compatible with
	// params (see VaryMatches). Returns an empty slice, not an error, if
	// id is entirely unknown.
	Get(ctx context.Context, id string, params Params) ([]Entry, error)

	// GetMany is the batched form of Get. The length and order of the
	// result matches keys.
	GetMany(ctx context.Context, keys []LookupKey) ([][]Entry, error)

	// StoreEntries upserts each input keyed by (Entry.ID, Entry.Vary).
	// Within a single call, if multiple inputs share a key, the one with
	// the latest BirthDate wins. MaxStoreFor is advisory.
	StoreEntries(ctx context.Context, inputs []StoreInput) error

	// Delete removes every entry for id, across all Vary keys.
	Delete(ctx context.Context, id string) error

	// Close releases resources. timeout, if non-zero, bounds how long
	// Close may block before the store is free to cancel pending I/O.
	Close(ctx context.Context, timeout time.Duration) error
}

// DefaultGetMany implements Store.GetMany in terms of Get, calling it with
// bounded concurrency. Store implementations that have no cheaper batched
// path can embed this helper.
func DefaultGetMany(ctx context.Context, store Store, keys []LookupKey, maxConcurrency int) ([][]Entry, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	results := make([][]Entry, len(keys))
	errs := make([]error, len(keys))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	for i, k := range keys {
		i, k := i, k
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			entries, err := store.Get(ctx, k.ID, k.Params)
			results[i], errs[i] = entries, err
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
