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

// Package cache implements the freshness/staleness decision engine: the
// directive normalizer, entry helpers, classifier, and the Cache façade
// that ties them to a backing Store.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned (or substituted with an empty result, depending on
// ClosePolicy) when an operation is attempted after Close.
var ErrClosed = errors.New("cache: closed")

// ClosePolicy selects the behavior of an operation invoked after Close.
type ClosePolicy int

const (
	// ReturnEmpty makes the operation behave as if nothing was found /
	// nothing needs to happen, instead of failing.
	ReturnEmpty ClosePolicy = iota

	// Throw propagates ErrClosed to the caller.
	Throw
)

// Request is a consumer's request for a cached value.
type Request struct {
	ID         string
	Params     Params
	Directives ConsumerDirectives
}

// LookupResult is the outcome of classifying a request's candidate
// entries. At most one of Usable, UsableWhileRevalidate, UsableIfError is
// set, following processEntries' precedence: Usable, if any, beats
// everything else; otherwise UsableWhileRevalidate, if any, beats
// UsableIfError.
type LookupResult struct {
	Usable                *Entry
	UsableWhileRevalidate *Entry
	UsableIfError         *Entry

	// Validatable holds every candidate entry that carries validators,
	// present whenever Usable is not set.
	Validatable []Entry
}

// Options configures a Cache.
type Options struct {
	// OnGetAfterClose selects Get/GetMany's behavior after Close.
	OnGetAfterClose ClosePolicy

	// OnStoreAfterClose selects Store's behavior after Close.
	OnStoreAfterClose ClosePolicy

	// NameNormalizer and ValueNormalizer canonicalize param/vary
	// names and values before they reach the Store. Both default to the
	// identity function.
	NameNormalizer  NameNormalizer
	ValueNormalizer ValueNormalizer

	// Now returns the current wall-clock instant. Defaults to time.Now;
	// overridable for deterministic tests.
	Now func() time.Time
}

// storeListener is invoked synchronously, once per entry, before the
// underlying store write begins.
type storeListener func(entry Entry, maxStoreFor time.Duration)

// invalidateListener is invoked synchronously whenever Invalidate is
// called, before the underlying store delete begins.
type invalidateListener func(id string)

// Cache is the façade in front of a Store: it normalizes requests,
// classifies candidate entries, and picks the best one for a consumer.
type Cache struct {
	store Store
	opts  Options

	mu     sync.RWMutex
	closed bool

	storeListeners      []storeListener
	invalidateListeners []invalidateListener
}

// New creates a Cache backed by store.
func New(store Store, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{store: store, opts: opts}
}

// OnStore registers a listener invoked for every entry offered to Store,
// before the underlying store write resolves.
func (c *Cache) OnStore(fn func(entry Entry, maxStoreFor time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeListeners = append(c.storeListeners, fn)
}

// OnInvalidate registers a listener invoked for every Invalidate call,
// before the underlying store delete resolves.
func (c *Cache) OnInvalidate(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateListeners = append(c.invalidateListeners, fn)
}

// Now returns the cache's configured clock, so wrappers can timestamp
// entries the same way the façade does.
func (c *Cache) Now() time.Time {
	return c.opts.Now()
}

func (c *Cache) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Get looks up the best candidate entries for req.
func (c *Cache) Get(ctx context.Context, req Request) (LookupResult, error) {
	if c.isClosed() {
		if c.opts.OnGetAfterClose == Throw {
			return LookupResult{}, ErrClosed
		}
		return LookupResult{Validatable: []Entry{}}, nil
	}

	params := NormalizeParams(req.Params, c.opts.NameNormalizer, c.opts.ValueNormalizer)
	entries, err := c.store.Get(ctx, req.ID, params)
	if err != nil {
		return LookupResult{}, err
	}
	now := c.opts.Now()
	return processEntries(entries, req.Directives, now), nil
}

// GetMany is the batched form of Get. Result order matches req order. A
// single `now` is captured before the store call so classification is
// consistent across the whole batch.
func (c *Cache) GetMany(ctx context.Context, reqs []Request) ([]LookupResult, error) {
	if c.isClosed() {
		if c.opts.OnGetAfterClose == Throw {
			return nil, ErrClosed
		}
		out := make([]LookupResult, len(reqs))
		for i := range out {
			out[i] = LookupResult{Validatable: []Entry{}}
		}
		return out, nil
	}

	keys := make([]LookupKey, len(reqs))
	for i, r := range reqs {
		keys[i] = LookupKey{
			ID:     r.ID,
			Params: NormalizeParams(r.Params, c.opts.NameNormalizer, c.opts.ValueNormalizer),
		}
	}

	now := c.opts.Now()
	results, err := c.store.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]LookupResult, len(reqs))
	for i, entries := range results {
		out[i] = processEntries(entries, reqs[i].Directives, now)
	}
	return out, nil
}

// processEntries groups entries by classification and selects the best
// candidate per bucket, following the precedence: Usable beats everything;
// otherwise UsableWhileRevalidate beats UsableIfError.
func processEntries(entries []Entry, directives ConsumerDirectives, now time.Time) LookupResult {
	var usable, swr, uie []Entry
	for _, e := range entries {
		switch Classify(e, directives, now) {
		case Usable:
			usable = append(usable, e)
		case UsableWhileRevalidate:
			swr = append(swr, e)
		case UsableIfError:
			uie = append(uie, e)
		}
	}

	if len(usable) > 0 {
		best := bestOf(usable)
		return LookupResult{Usable: &best}
	}

	var validatable []Entry
	for _, e := range entries {
		if IsValidatable(e) {
			validatable = append(validatable, e)
		}
	}
	if validatable == nil {
		validatable = []Entry{}
	}

	if len(swr) > 0 {
		best := bestOf(swr)
		return LookupResult{UsableWhileRevalidate: &best, Validatable: validatable}
	}
	if len(uie) > 0 {
		best := bestOf(uie)
		return LookupResult{UsableIfError: &best, Validatable: validatable}
	}
	return LookupResult{Validatable: validatable}
}

// bestOf returns the entry with the greatest BirthDate. Ties break toward
// the last entry in input order.
func bestOf(entries []Entry) Entry {
	best := entries[0]
	bestBirth := BirthDate(best)
	for _, e := range entries[1:] {
		b := BirthDate(e)
		if !b.Before(bestBirth) {
			best, bestBirth = e, b
		}
	}
	return best
}

// RawEntry is an un-normalized entry as handed to Store by a caller. Only
// ID and Content are required; everything else defaults sensibly.
type RawEntry struct {
	ID         string
	Vary       Vary
	Content    []byte
	InitialAge *time.Duration
	Date       *time.Time
	Directives ProducerDirectives
	Validators map[string]any
}

// Store normalizes each raw entry, computes its advisory max-store-for
// duration, fires the "store" listeners, and delegates to the underlying
// Store.
func (c *Cache) Store(ctx context.Context, raws []RawEntry) error {
	if c.isClosed() {
		if c.opts.OnStoreAfterClose == Throw {
			return ErrClosed
		}
		return nil
	}

	now := c.opts.Now()
	inputs := make([]StoreInput, len(raws))
	for i, raw := range raws {
		entry := c.Normalize(raw, now)
		maxStoreFor := CalculateStoreFor(entry, now)

		c.mu.RLock()
		for _, l := range c.storeListeners {
			l(entry, maxStoreFor)
		}
		c.mu.RUnlock()

		inputs[i] = StoreInput{Entry: entry, MaxStoreFor: maxStoreFor}
	}

	return c.store.StoreEntries(ctx, inputs)
}

// Normalize converts a raw entry into its canonical form using this
// Cache's configured normalizers, filling every default described in
// §4.4.4. It performs no I/O and is exposed so wrappers can normalize a
// producer result that bypasses storage (e.g. the uncacheable path).
func (c *Cache) Normalize(raw RawEntry, now time.Time) Entry {
	initialAge := time.Duration(0)
	if raw.InitialAge != nil {
		initialAge = clampNonNegative(*raw.InitialAge)
	}
	date := now
	if raw.Date != nil {
		date = *raw.Date
	}
	return Entry{
		ID:         raw.ID,
		Vary:       NormalizeVary(raw.Vary, c.opts.NameNormalizer, c.opts.ValueNormalizer),
		Content:    raw.Content,
		InitialAge: initialAge,
		Date:       date,
		Directives: NormalizeProducerDirectives(raw.Directives),
		Validators: raw.Validators,
	}
}

// Invalidate removes every entry for id from the store. It is not part of
// the core freshness engine described by the classifier/façade contract,
// but fills the gap left by the Store contract exposing Delete without any
// façade operation reaching it.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if c.isClosed() {
		if c.opts.OnStoreAfterClose == Throw {
			return ErrClosed
		}
		return nil
	}

	c.mu.RLock()
	for _, l := range c.invalidateListeners {
		l(id)
	}
	c.mu.RUnlock()

	return c.store.Delete(ctx, id)
}

// Close marks the cache closed and forwards to the store. Idempotent.
func (c *Cache) Close(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	if err := c.store.Close(ctx, timeout); err != nil {
		log.Warn().Err(err).Msg("cache: error closing store")
		return err
	}
	return nil
}

// CalculateStoreFor computes the maximum number of seconds a just-received
// entry may remain in a store, measured from the moment it was generated.
func CalculateStoreFor(e Entry, now time.Time) time.Duration {
	requestedStoreFor := infiniteStale
	if e.Directives.StoreFor != nil {
		requestedStoreFor = *e.Directives.StoreFor - e.InitialAge
	}
	useful := PotentiallyUsefulFor(e, now)
	result := requestedStoreFor
	if useful < result {
		result = useful
	}
	return clampNonNegative(result)
}
