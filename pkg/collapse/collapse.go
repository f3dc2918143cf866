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

// Package collapse implements request collapsing: concurrent or
// near-concurrent calls sharing the same key are coalesced into a single
// underlying invocation, the same way requestCoalescer in the teacher's
// HTTP transport shares one upstream round trip across waiting callers,
// generalized here to an arbitrary typed function.
//
// A pending call is joinable by new callers only while it is genuinely
// in-flight and younger than the configured TTL; it is removed from the
// pending map as soon as it resolves, matching requestCoalescer's own
// "remove before waking waiters" rule. The spec this is built from notes
// that a collapser may legitimately simplify down to "share while
// overlapping in time" rather than sharing with late joiners for the
// full TTL past resolution, and that is the choice made here: the TTL
// only bounds how long a caller will wait on a still-running call before
// giving up and starting its own, guarding against a wedged producer
// call holding every subsequent caller hostage.
package collapse

import (
	"context"
	"sync"
	"time"
)

// KeyFunc derives a canonical, deterministic collapsing key for an
// argument. It must be insensitive to any ordering that doesn't affect
// meaning (e.g. map key order).
type KeyFunc[T any] func(t T) string

// Func is the wrapped operation. It is invoked at most once per in-flight
// key; every collapsed caller observes its result.
type Func[T, U any] func(ctx context.Context, t T) (U, error)

// call is a single in-flight shared invocation.
type call[U any] struct {
	start  time.Time
	done   chan struct{}
	result U
	err    error
}

func (c *call[U]) resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Collapser deduplicates concurrent calls to f that share a collapsing
// key.
type Collapser[T, U any] struct {
	f       Func[T, U]
	keyOf   KeyFunc[T]
	ttl     time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	pending map[string]*call[U]
}

// Option configures a Collapser.
type Option[T, U any] func(*Collapser[T, U])

// WithClock overrides the time source, for deterministic tests.
func WithClock[T, U any](now func() time.Time) Option[T, U] {
	return func(c *Collapser[T, U]) { c.clock = now }
}

// New creates a Collapser wrapping f. ttl bounds how long a caller waits
// on an in-flight call before it gives up sharing and starts its own;
// keyOf must be canonical.
func New[T, U any](f Func[T, U], keyOf KeyFunc[T], ttl time.Duration, opts ...Option[T, U]) *Collapser[T, U] {
	c := &Collapser[T, U]{
		f:       f,
		keyOf:   keyOf,
		ttl:     ttl,
		clock:   time.Now,
		pending: make(map[string]*call[U]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs (or joins an in-flight run of) f(ctx, t). If ctx is cancelled
// while waiting on a shared call, Do returns ctx.Err() without affecting
// the shared call or any other joiner.
func (c *Collapser[T, U]) Do(ctx context.Context, t T) (U, error) {
	key := c.keyOf(t)

	c.mu.Lock()
	if existing, ok := c.pending[key]; ok && !existing.resolved() && c.clock().Sub(existing.start) < c.ttl {
		c.mu.Unlock()
		return c.join(ctx, existing)
	}

	shared := &call[U]{start: c.clock(), done: make(chan struct{})}
	c.pending[key] = shared
	c.mu.Unlock()

	// The underlying call is detached from this caller's cancellation:
	// other joiners may still be waiting on it even if this caller's own
	// context is cancelled later.
	go c.run(detach(ctx), key, shared, t)

	return c.join(ctx, shared)
}

func (c *Collapser[T, U]) run(ctx context.Context, key string, shared *call[U], t T) {
	shared.result, shared.err = c.f(ctx, t)

	c.mu.Lock()
	if c.pending[key] == shared {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	close(shared.done)
}

func (c *Collapser[T, U]) join(ctx context.Context, shared *call[U]) (U, error) {
	select {
	case <-shared.done:
		return shared.result, shared.err
	case <-ctx.Done():
		var zero U
		return zero, ctx.Err()
	}
}

// detachedContext carries the values of a parent context without
// inheriting its cancellation or deadline.
type detachedContext struct {
	parent context.Context
}

func (d detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d detachedContext) Done() <-chan struct{}       { return nil }
func (d detachedContext) Err() error                  { return nil }
func (d detachedContext) Value(key any) any           { return d.parent.Value(key) }

func detach(ctx context.Context) context.Context {
	return detachedContext{parent: ctx}
}
