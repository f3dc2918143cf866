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

package invalidate

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// message wraps an HTTP request that gets processed by the queue.
type message struct {
	request *http.Request
	attempt int
}

// requestQueueOpts holds the request queue settings.
type requestQueueOpts struct {
	// size is the size of the request queue.
	size int

	// maxWorkers is the maximum amount of workers accessing the queue concurrently.
	maxWorkers int

	// maxRetries indicates how often a failed request should be retried.
	maxRetries int

	// backoff is a simple fixed backoff duration; no exponential, no jitter.
	backoff time.Duration
}

// requestQueue is a simple request queue processing messages with retry,
// used to broadcast invalidation requests to cluster peers.
type requestQueue struct {
	opts requestQueueOpts

	queue chan message

	done chan struct{}
	wg   sync.WaitGroup
}

// newRequestQueue creates and starts a request queue.
func newRequestQueue(opts requestQueueOpts) *requestQueue {
	q := &requestQueue{
		opts:  opts,
		queue: make(chan message, opts.size),
		done:  make(chan struct{}),
	}

	q.wg.Add(opts.maxWorkers)
	for i := 0; i < opts.maxWorkers; i++ {
		go q.process()
	}

	return q
}

// stop stops the request queue, waiting for in-flight workers to return.
func (q *requestQueue) stop() {
	close(q.done)
	q.wg.Wait()
}

func (q *requestQueue) process() {
	defer q.wg.Done()

	client := &http.Client{Transport: http.DefaultTransport}

	for {
		select {
		case msg := <-q.queue:
			resp, err := client.Do(msg.request)
			if err != nil {
				log.Error().Err(err).
					Str("url", msg.request.URL.String()).
					Msg("invalidate: error broadcasting to peer")
				q.retry(msg)
				continue
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode >= 400 {
				log.Error().
					Str("url", msg.request.URL.String()).Int("status", resp.StatusCode).
					Msg("invalidate: peer rejected broadcast")
				q.retry(msg)
				continue
			}

			log.Debug().Str("url", msg.request.URL.String()).Int("status", resp.StatusCode).
				Msg("invalidate: broadcast delivered")

		case <-q.done:
			return
		}
	}
}

func (q *requestQueue) retry(msg message) {
	msg.attempt++
	if msg.attempt > q.opts.maxRetries {
		return
	}
	go func() {
		log.Debug().Str("url", msg.request.URL.String()).Int("attempt", msg.attempt).
			Msgf("invalidate: retrying broadcast in %v", q.opts.backoff)
		time.Sleep(q.opts.backoff)
		select {
		case q.queue <- msg:
		case <-q.done:
		}
	}()
}
