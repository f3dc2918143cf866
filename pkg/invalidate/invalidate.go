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

// Package invalidate broadcasts cache invalidations to the rest of a
// cluster: when one replica invalidates an id, every other replica
// discovered through the configured service registry is asked to
// invalidate it too, the way the teacher's cluster package broadcasts
// an HTTP request to every peer behind a Kubernetes Service.
package invalidate

import (
	"context"
	"fmt"
	"sync"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/rs/zerolog/log"
)

// Config configures cluster discovery.
type Config struct {
	// Discovery selects the peer discovery mechanism. Only "kubernetes"
	// is implemented; a zero value disables cluster invalidation.
	Discovery string `yaml:"discovery"`
	Namespace string `yaml:"namespace"`
	Service   string `yaml:"service"`

	// PortName is the named port on the Service's endpoints that serves
	// the invalidation HTTP handler.
	PortName string `yaml:"port_name"`
}

// Endpoint is one cluster peer.
type Endpoint struct {
	Name string
	Host string
	Port int
}

// Connection discovers peers and broadcasts invalidations to them.
type Connection interface {
	Endpoints(portName string) []Endpoint
	Broadcast(id string, portName string)
	Close()
}

var errUnknownDiscovery = fmt.Errorf("invalidate: unknown discovery provider")

// NewConnection creates a Connection for config.Discovery.
func NewConnection(config Config) (Connection, error) {
	if config.Discovery == "kubernetes" {
		return NewKubernetesConnection(config.Namespace, config.Service)
	}
	return nil, fmt.Errorf("%w: %v", errUnknownDiscovery, config.Discovery)
}

// Broadcaster wires a cache.Cache's invalidations to a cluster
// Connection: every local invalidation is broadcast to peers, and every
// invalidation received from a peer is applied locally without being
// re-broadcast, preventing an invalidation from echoing around the
// cluster forever.
type Broadcaster struct {
	cache    *cache.Cache
	conn     Connection
	portName string

	mu       sync.Mutex
	applying map[string]bool
}

// NewBroadcaster creates a Broadcaster and registers it as an invalidate
// listener on c.
func NewBroadcaster(c *cache.Cache, conn Connection, portName string) *Broadcaster {
	b := &Broadcaster{cache: c, conn: conn, portName: portName, applying: map[string]bool{}}
	c.OnInvalidate(b.onLocalInvalidate)
	return b
}

func (b *Broadcaster) onLocalInvalidate(id string) {
	b.mu.Lock()
	suppressed := b.applying[id]
	b.mu.Unlock()
	if suppressed {
		return
	}
	b.conn.Broadcast(id, b.portName)
}

// ApplyRemote invalidates id locally on behalf of a peer, without
// broadcasting it back out.
func (b *Broadcaster) ApplyRemote(ctx context.Context, id string) error {
	b.mu.Lock()
	b.applying[id] = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.applying, id)
		b.mu.Unlock()
	}()

	if err := b.cache.Invalidate(ctx, id); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("invalidate: failed to apply remote invalidation")
		return err
	}
	return nil
}
