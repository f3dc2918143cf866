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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/kacheio/freshcache/pkg/invalidate"
	"github.com/kacheio/freshcache/pkg/produce"
	"github.com/kacheio/freshcache/pkg/store"
)

var errInvalidStoreConfig = errors.New("invalid store config")

// Configuration is the root configuration for the demo cache server.
type Configuration struct {
	Store      store.BackendConfig `yaml:"store"`
	Cache      CacheConfig         `yaml:"cache"`
	Producer   ProducerConfig      `yaml:"producer"`
	Invalidate invalidate.Config   `yaml:"invalidate"`

	API *API `yaml:"api"`
	Log *Log `yaml:"logging"`
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	return errors.Join(
		validateStore(c.Store),
	)
}

// CacheConfig configures the Cache façade's own per-call policies, on
// top of whatever Store is selected.
type CacheConfig struct {
	// OnGetAfterClose and OnStoreAfterClose select a Cache's behavior
	// once Close has been called: "throw" or "return-empty". Both
	// default to "return-empty".
	OnGetAfterClose   string `yaml:"on_get_after_close,omitempty"`
	OnStoreAfterClose string `yaml:"on_store_after_close,omitempty"`
}

// GetPolicy returns the normalized cache.ClosePolicy for Get/GetMany.
func (c CacheConfig) GetPolicy() cache.ClosePolicy {
	return parseClosePolicy(c.OnGetAfterClose)
}

// StorePolicy returns the normalized cache.ClosePolicy for Store.
func (c CacheConfig) StorePolicy() cache.ClosePolicy {
	return parseClosePolicy(c.OnStoreAfterClose)
}

func parseClosePolicy(v string) cache.ClosePolicy {
	if v == "throw" {
		return cache.Throw
	}
	return cache.ReturnEmpty
}

// ProducerConfig configures the producer-wrapping orchestrators
// (produce.Wrapper / produce.BulkWrapper).
type ProducerConfig struct {
	// CacheName is attached to every diagnostics event the wrapper
	// publishes.
	CacheName string `yaml:"cache_name,omitempty"`

	// CollapseWindow is the TTL within which concurrent producer calls
	// for the same request are shared. Defaults to 3 seconds.
	CollapseWindow time.Duration `yaml:"collapse_window,omitempty"`

	// OnCacheReadFailure selects what happens when the Store itself
	// fails to answer a lookup: "call-producer" (default) or "throw".
	OnCacheReadFailure string `yaml:"on_cache_read_failure,omitempty"`
}

// ReadFailurePolicy returns the normalized produce.ReadFailurePolicy.
func (p ProducerConfig) ReadFailurePolicy() produce.ReadFailurePolicy {
	if p.OnCacheReadFailure == "throw" {
		return produce.ThrowOnReadFailure
	}
	return produce.CallProducer
}

// API holds the debug/diagnostics HTTP API configuration.
type API struct {
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix,omitempty"`
	ACL    string `yaml:"acl,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
}

// GetPrefix returns the API prefix as specified
// in the configuration. Default prefix is 'api'.
func (a *API) GetPrefix() string {
	prefix := "/api"
	if len(a.Prefix) > 0 {
		prefix = a.Prefix
	}
	return prefix
}

// Log holds the logger configuration.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Color  bool   `yaml:"color,omitempty"`

	FilePath   string `yaml:"file,omitempty"`
	MaxSize    int    `yaml:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// validateStore is a small extension point: store.BackendConfig itself
// carries no required fields (a zero value selects the in-memory
// backend), but an explicit, unsupported backend name should fail fast
// at load time rather than at the first Store call.
func validateStore(cfg store.BackendConfig) error {
	switch cfg.Backend {
	case "", store.BackendMemory, store.BackendRedis:
		return nil
	default:
		return fmt.Errorf("%w: %q", errInvalidStoreConfig, cfg.Backend)
	}
}
