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

// Package produce implements the producer-wrapping orchestrators that
// compose a cache.Cache with an origin producer: stale-while-revalidate,
// stale-if-error, request collapsing, supplemental-resource storage,
// uncacheable-request bypass, and cache-read-failure fallback. It plays
// the role the teacher's Transport.RoundTrip plays for HTTP, generalized
// to an arbitrary producer function.
package produce

import (
	"context"
	"time"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/kacheio/freshcache/pkg/collapse"
	"github.com/kacheio/freshcache/pkg/diag"
	"github.com/rs/zerolog/log"
)

// Supplemental is an additional resource a producer may return alongside
// its primary result. Supplementals are stored but never returned
// directly to a wrapper caller.
type Supplemental struct {
	ID         string
	Vary       cache.Vary
	Content    []byte
	Directives cache.ProducerDirectives
	Validators map[string]any
}

// Result is a producer's response to a single request.
type Result struct {
	Vary         cache.Vary
	Content      []byte
	Directives   cache.ProducerDirectives
	Validators   map[string]any
	Supplemental []Supplemental
}

// Func is a single-item producer: the origin of truth a wrapper falls
// back to on a cache miss. Returning an error indicates the origin is
// unavailable.
type Func func(ctx context.Context, req cache.Request) (Result, error)

// ReadFailurePolicy selects what a wrapper does when Cache.Get itself
// fails (as opposed to a cache miss).
type ReadFailurePolicy int

const (
	// CallProducer treats a cache read failure as if the cache had
	// returned no candidates at all.
	CallProducer ReadFailurePolicy = iota

	// ThrowOnReadFailure propagates the store error to the caller.
	ThrowOnReadFailure
)

// IsCacheableFunc decides whether a request is eligible for caching at
// all. Ineligible requests always go straight to the producer.
type IsCacheableFunc func(id string, params cache.Params) bool

func alwaysCacheable(string, cache.Params) bool { return true }

// defaultCollapseWindow is the fallback Config.CollapseWindow shared by
// Wrapper and BulkWrapper.
const defaultCollapseWindow = 3 * time.Second

// Config configures a Wrapper.
type Config struct {
	// CacheName is attached to diagnostics events for this wrapper.
	CacheName string

	// IsCacheable defaults to always-true.
	IsCacheable IsCacheableFunc

	// CollapseWindow is the TTL window within which concurrent producer
	// calls for the same request are shared. Defaults to 3 seconds.
	CollapseWindow time.Duration

	// OnCacheReadFailure defaults to CallProducer.
	OnCacheReadFailure ReadFailurePolicy

	// Diagnostics receives one event per handled request. Defaults to
	// diag.Default().
	Diagnostics *diag.Channel
}

// Wrapper is the single-producer orchestrator described in §4.6: a
// cache-lookup-then-producer-call-then-background-refresh pipeline for
// one request at a time.
type Wrapper struct {
	cache     *cache.Cache
	producer  Func
	cfg       Config
	collapser *collapse.Collapser[cache.Request, cache.Entry]
}

// NewWrapper builds a Wrapper around c that falls back to producer on
// cache misses.
func NewWrapper(c *cache.Cache, producer Func, cfg Config) *Wrapper {
	if cfg.IsCacheable == nil {
		cfg.IsCacheable = alwaysCacheable
	}
	if cfg.CollapseWindow <= 0 {
		cfg.CollapseWindow = defaultCollapseWindow
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diag.Default()
	}

	w := &Wrapper{cache: c, producer: producer, cfg: cfg}
	w.collapser = collapse.New(w.produceAndStore, collapseKey, cfg.CollapseWindow)
	return w
}

func collapseKey(req cache.Request) string {
	return cache.CanonicalKey(req.ID, req.Params)
}

func completeRequest(req cache.Request) cache.Request {
	if req.Params == nil {
		req.Params = cache.Params{}
	}
	return req
}

func (w *Wrapper) publish(outcome diag.Outcome, id string) {
	w.cfg.Diagnostics.Publish(diag.Event{CacheName: w.cfg.CacheName, Outcome: outcome, CacheKey: id})
}

// Get resolves req: a cache hit returns immediately; a miss calls the
// producer (collapsed with concurrent identical calls); a stale-while-
// revalidate candidate is returned immediately while the producer
// refreshes in the background; a stale-if-error candidate is a fallback
// if the producer fails.
func (w *Wrapper) Get(ctx context.Context, req cache.Request) (cache.Entry, error) {
	req = completeRequest(req)

	if !w.cfg.IsCacheable(req.ID, req.Params) {
		w.publish(diag.Uncacheable, req.ID)
		res, err := w.producer(ctx, req)
		if err != nil {
			return cache.Entry{}, err
		}
		return w.cache.Normalize(toPrimaryRawEntry(req, res), w.cache.Now()), nil
	}

	lookup, err := w.cache.Get(ctx, req)
	if err != nil {
		if w.cfg.OnCacheReadFailure == ThrowOnReadFailure {
			return cache.Entry{}, err
		}
		lookup = cache.LookupResult{Validatable: []cache.Entry{}}
	}

	if lookup.Usable != nil {
		w.publish(diag.Hit, req.ID)
		return *lookup.Usable, nil
	}

	fut := w.startProduce(req)

	if lookup.UsableWhileRevalidate != nil {
		w.publish(diag.StaleWhileRevalidate, req.ID)
		go fut.logFailure(req.ID)
		return *lookup.UsableWhileRevalidate, nil
	}

	if req.Directives.MaxAge != nil && *req.Directives.MaxAge == 0 {
		w.publish(diag.Bypass, req.ID)
	} else {
		w.publish(diag.Miss, req.ID)
	}

	if lookup.UsableIfError != nil {
		select {
		case <-fut.done:
		case <-ctx.Done():
			return cache.Entry{}, ctx.Err()
		}
		if fut.err != nil {
			log.Warn().Err(fut.err).Str("id", req.ID).Msg("producer failed, serving stale-if-error entry")
			return *lookup.UsableIfError, nil
		}
		return fut.entry, nil
	}

	select {
	case <-fut.done:
		return fut.entry, fut.err
	case <-ctx.Done():
		return cache.Entry{}, ctx.Err()
	}
}

// future represents a collapsed producer call started in the background.
type future struct {
	done  chan struct{}
	entry cache.Entry
	err   error
}

func (f *future) logFailure(id string) {
	<-f.done
	if f.err != nil {
		log.Warn().Err(f.err).Str("id", id).Msg("producer failed during stale-while-revalidate refresh")
	}
}

// startProduce kicks off (or joins) the collapsed producer call for req
// without blocking the caller. The collapsed call runs detached from any
// individual caller's context so a cancelled caller never cancels work
// shared by other joiners.
func (w *Wrapper) startProduce(req cache.Request) *future {
	fut := &future{done: make(chan struct{})}
	go func() {
		fut.entry, fut.err = w.collapser.Do(context.Background(), req)
		close(fut.done)
	}()
	return fut
}

// produceAndStore is the function shared across collapsed callers: it
// calls the producer once, asynchronously stores the primary and any
// supplemental resources (swallowing store errors to a warning so a slow
// or failing store never adds latency to a caller), and returns the
// normalized primary entry.
func (w *Wrapper) produceAndStore(ctx context.Context, req cache.Request) (cache.Entry, error) {
	res, err := w.producer(ctx, req)
	if err != nil {
		return cache.Entry{}, err
	}

	now := w.cache.Now()
	entry := w.cache.Normalize(toPrimaryRawEntry(req, res), now)
	raws := toRawEntries(req, res)

	go func() {
		if err := w.cache.Store(context.Background(), raws); err != nil {
			log.Warn().Err(err).Str("id", req.ID).Msg("failed to store producer result")
		}
	}()

	return entry, nil
}

func toPrimaryRawEntry(req cache.Request, res Result) cache.RawEntry {
	return cache.RawEntry{
		ID:         req.ID,
		Vary:       res.Vary,
		Content:    res.Content,
		Directives: res.Directives,
		Validators: res.Validators,
	}
}

func toRawEntries(req cache.Request, res Result) []cache.RawEntry {
	raws := make([]cache.RawEntry, 0, 1+len(res.Supplemental))
	raws = append(raws, toPrimaryRawEntry(req, res))
	for _, s := range res.Supplemental {
		raws = append(raws, cache.RawEntry{
			ID:         s.ID,
			Vary:       s.Vary,
			Content:    s.Content,
			Directives: s.Directives,
			Validators: s.Validators,
		})
	}
	return raws
}
