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

package store

import (
	"errors"

	"github.com/kacheio/freshcache/pkg/cache"
)

// Backend selectors for BackendConfig.Backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var errUnsupportedStoreBackend = errors.New("store: unsupported backend")

// BackendConfig selects and configures the store.Store implementation a
// Cache is backed by.
type BackendConfig struct {
	Backend string       `yaml:"backend"`
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
}

// New creates the cache.Store selected by config.Backend.
func New(config BackendConfig) (cache.Store, error) {
	switch config.Backend {
	case BackendMemory, "":
		return NewMemory(config.Memory)
	case BackendRedis:
		return NewRedis(config.Redis)
	default:
		return nil, errUnsupportedStoreBackend
	}
}
