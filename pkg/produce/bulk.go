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

package produce

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/kacheio/freshcache/pkg/collapse"
	"github.com/kacheio/freshcache/pkg/diag"
	"github.com/rs/zerolog/log"
)

// BulkItem is one element of a bulk producer's response: either a Result
// or a per-element Err, never both. A bulk producer's own call never
// fails outright; only its elements can.
type BulkItem struct {
	Result Result
	Err    error
}

// BulkFunc is a batched producer. Its returned slice must be the same
// length and order as reqs.
type BulkFunc func(ctx context.Context, reqs []cache.Request) []BulkItem

// BulkOutput is one element of a BulkWrapper.Get response, positioned at
// the same index as its corresponding request.
type BulkOutput struct {
	Entry cache.Entry
	Err   error
}

// BulkWrapper is the batched counterpart to Wrapper: it partitions a
// batch of requests into cacheable/uncacheable and hit/SWR/miss subsets,
// calling the bulk producer at most once per subset (SWR refreshes run
// in the background), and reassembles the result in input order.
type BulkWrapper struct {
	cache     *cache.Cache
	producer  BulkFunc
	cfg       Config
	collapser *collapse.Collapser[[]cache.Request, []BulkItem]
}

// NewBulkWrapper builds a BulkWrapper around c that falls back to
// producer for requests the cache can't satisfy.
func NewBulkWrapper(c *cache.Cache, producer BulkFunc, cfg Config) *BulkWrapper {
	if cfg.IsCacheable == nil {
		cfg.IsCacheable = alwaysCacheable
	}
	if cfg.CollapseWindow <= 0 {
		cfg.CollapseWindow = defaultCollapseWindow
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diag.Default()
	}

	w := &BulkWrapper{cache: c, producer: producer, cfg: cfg}
	w.collapser = collapse.New(w.produceAndStore, bulkCollapseKey, cfg.CollapseWindow)
	return w
}

func bulkCollapseKey(reqs []cache.Request) string {
	keys := make([]string, len(reqs))
	for i, r := range reqs {
		keys[i] = collapseKey(r)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x1f")
}

func (w *BulkWrapper) publish(outcome diag.Outcome, id string) {
	w.cfg.Diagnostics.Publish(diag.Event{CacheName: w.cfg.CacheName, Outcome: outcome, CacheKey: id})
}

// produceAndStore is the function shared across collapsed bulk callers:
// it calls the producer once for the whole subset and asynchronously
// stores every successful result's primary and supplemental resources as
// one batch, matching the single wrapper's fire-and-forget store timing.
func (w *BulkWrapper) produceAndStore(ctx context.Context, reqs []cache.Request) ([]BulkItem, error) {
	items := w.producer(ctx, reqs)

	var raws []cache.RawEntry
	for i, it := range items {
		if it.Err != nil {
			continue
		}
		raws = append(raws, toRawEntries(reqs[i], it.Result)...)
	}
	if len(raws) > 0 {
		go func() {
			if err := w.cache.Store(context.Background(), raws); err != nil {
				log.Warn().Err(err).Msg("failed to store bulk producer results")
			}
		}()
	}

	return items, nil
}

// Get resolves reqs as a batch. output[i] always corresponds to reqs[i],
// regardless of which internal subset it was satisfied from or the
// completion order of those subsets.
func (w *BulkWrapper) Get(ctx context.Context, reqs []cache.Request) ([]BulkOutput, error) {
	completed := make([]cache.Request, len(reqs))
	for i, r := range reqs {
		completed[i] = completeRequest(r)
	}

	var uncacheableIdx, cacheableIdx []int
	for i, r := range completed {
		if w.cfg.IsCacheable(r.ID, r.Params) {
			cacheableIdx = append(cacheableIdx, i)
		} else {
			uncacheableIdx = append(uncacheableIdx, i)
		}
	}

	out := make([]BulkOutput, len(reqs))

	var wg sync.WaitGroup

	if len(uncacheableIdx) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.fillUncacheable(ctx, completed, uncacheableIdx, out)
		}()
	}

	var lookups []cache.LookupResult
	var lookupErr error
	if len(cacheableIdx) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subset := selectRequests(completed, cacheableIdx)
			res, err := w.cache.GetMany(ctx, subset)
			if err != nil {
				if w.cfg.OnCacheReadFailure == ThrowOnReadFailure {
					lookupErr = err
					return
				}
				res = make([]cache.LookupResult, len(subset))
				for i := range res {
					res[i] = cache.LookupResult{Validatable: []cache.Entry{}}
				}
			}
			lookups = res
		}()
	}

	wg.Wait()
	if lookupErr != nil {
		return nil, lookupErr
	}

	needsPos, swrPos := w.bucketCacheable(completed, cacheableIdx, lookups, out)

	if len(needsPos) > 0 {
		w.resolveNeedsProducer(ctx, completed, cacheableIdx, lookups, needsPos, out)
	}
	if len(swrPos) > 0 {
		w.scheduleBackgroundRefresh(completed, cacheableIdx, swrPos)
	}

	return out, nil
}

func selectRequests(reqs []cache.Request, idx []int) []cache.Request {
	subset := make([]cache.Request, len(idx))
	for j, i := range idx {
		subset[j] = reqs[i]
	}
	return subset
}

func (w *BulkWrapper) fillUncacheable(ctx context.Context, completed []cache.Request, uncacheableIdx []int, out []BulkOutput) {
	subset := selectRequests(completed, uncacheableIdx)
	items := w.producer(ctx, subset)
	now := w.cache.Now()
	for j, idx := range uncacheableIdx {
		w.publish(diag.Uncacheable, completed[idx].ID)
		it := items[j]
		if it.Err != nil {
			out[idx] = BulkOutput{Err: it.Err}
			continue
		}
		out[idx] = BulkOutput{Entry: w.cache.Normalize(toPrimaryRawEntry(completed[idx], it.Result), now)}
	}
}

// bucketCacheable classifies every cacheable request's lookup result,
// fills out for hits and SWR candidates directly, and returns the
// cacheableIdx positions that still need a producer call (resolved
// synchronously) or a background refresh (SWR).
func (w *BulkWrapper) bucketCacheable(completed []cache.Request, cacheableIdx []int, lookups []cache.LookupResult, out []BulkOutput) (needsPos, swrPos []int) {
	for j, idx := range cacheableIdx {
		lr := lookups[j]
		req := completed[idx]
		switch {
		case lr.Usable != nil:
			w.publish(diag.Hit, req.ID)
			out[idx] = BulkOutput{Entry: *lr.Usable}
		case lr.UsableWhileRevalidate != nil:
			w.publish(diag.StaleWhileRevalidate, req.ID)
			out[idx] = BulkOutput{Entry: *lr.UsableWhileRevalidate}
			swrPos = append(swrPos, j)
		default:
			if req.Directives.MaxAge != nil && *req.Directives.MaxAge == 0 {
				w.publish(diag.Bypass, req.ID)
			} else {
				w.publish(diag.Miss, req.ID)
			}
			needsPos = append(needsPos, j)
		}
	}
	return needsPos, swrPos
}

func (w *BulkWrapper) resolveNeedsProducer(ctx context.Context, completed []cache.Request, cacheableIdx []int, lookups []cache.LookupResult, needsPos []int, out []BulkOutput) {
	subsetIdx := make([]int, len(needsPos))
	for k, j := range needsPos {
		subsetIdx[k] = cacheableIdx[j]
	}
	subset := selectRequests(completed, subsetIdx)

	items, err := w.collapser.Do(ctx, subset)
	now := w.cache.Now()
	if err != nil {
		for _, idx := range subsetIdx {
			out[idx] = BulkOutput{Err: err}
		}
		return
	}

	for k, j := range needsPos {
		idx := cacheableIdx[j]
		it := items[k]
		if it.Err != nil {
			if lookups[j].UsableIfError != nil {
				log.Warn().Err(it.Err).Str("id", completed[idx].ID).Msg("bulk producer failed, serving stale-if-error entry")
				out[idx] = BulkOutput{Entry: *lookups[j].UsableIfError}
			} else {
				out[idx] = BulkOutput{Err: it.Err}
			}
			continue
		}
		out[idx] = BulkOutput{Entry: w.cache.Normalize(toPrimaryRawEntry(completed[idx], it.Result), now)}
	}
}

func (w *BulkWrapper) scheduleBackgroundRefresh(completed []cache.Request, cacheableIdx []int, swrPos []int) {
	subsetIdx := make([]int, len(swrPos))
	for k, j := range swrPos {
		subsetIdx[k] = cacheableIdx[j]
	}
	subset := selectRequests(completed, subsetIdx)

	go func() {
		if _, err := w.collapser.Do(context.Background(), subset); err != nil {
			log.Warn().Err(err).Msg("bulk producer failed during stale-while-revalidate refresh")
		}
	}()
}
