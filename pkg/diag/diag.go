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

// Package diag implements the process-wide diagnostics channel: a single
// synchronous publish/subscribe bus that producer wrappers use to report
// one outcome per handled request. Subscribers run on the publisher's own
// goroutine, so they must be cheap; a Prometheus counter subscriber is
// provided for the common case.
package diag

import "sync"

// Outcome classifies how a wrapper resolved a single request.
type Outcome string

const (
	Hit                  Outcome = "hit"
	StaleWhileRevalidate Outcome = "stale_while_revalidate"
	Bypass               Outcome = "bypass"
	Miss                 Outcome = "miss"
	Uncacheable          Outcome = "uncacheable"
)

// Event is a single diagnostics message. CacheKey equals the request's id.
type Event struct {
	CacheName string
	Outcome   Outcome
	CacheKey  string
}

// Subscriber receives every published Event. It must not block or panic.
type Subscriber func(Event)

// Channel is a process-wide broadcast bus. The zero value is ready to use.
type Channel struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// global is the default process-wide channel, mirroring the teacher's
// use of a single package-level broadcaster for cluster invalidation.
var global = &Channel{}

// Default returns the process-wide diagnostics channel.
func Default() *Channel { return global }

// Subscribe registers fn to receive every future published Event.
func (c *Channel) Subscribe(fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Publish dispatches evt synchronously to every subscriber, in
// registration order, on the caller's own goroutine.
func (c *Channel) Publish(evt Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, sub := range c.subscribers {
		sub(evt)
	}
}
