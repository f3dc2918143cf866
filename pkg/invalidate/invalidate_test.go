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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal cache.Store recording deletes.
type fakeStore struct {
	mu      sync.Mutex
	deleted []string
}

func (s *fakeStore) Get(context.Context, string, cache.Params) ([]cache.Entry, error) {
	return nil, nil
}
func (s *fakeStore) GetMany(context.Context, []cache.LookupKey) ([][]cache.Entry, error) {
	return nil, nil
}
func (s *fakeStore) StoreEntries(context.Context, []cache.StoreInput) error { return nil }
func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}
func (s *fakeStore) Close(context.Context, time.Duration) error { return nil }

// fakeConnection records broadcast calls instead of hitting the network.
type fakeConnection struct {
	mu         sync.Mutex
	broadcasts []string
}

func (c *fakeConnection) Endpoints(string) []Endpoint { return nil }
func (c *fakeConnection) Broadcast(id string, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, id)
}
func (c *fakeConnection) Close() {}

func TestBroadcasterForwardsLocalInvalidations(t *testing.T) {
	store := &fakeStore{}
	c := cache.New(store, cache.Options{})
	conn := &fakeConnection{}

	NewBroadcaster(c, conn, "api")

	require.NoError(t, c.Invalidate(context.Background(), "key-1"))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, []string{"key-1"}, conn.broadcasts)
}

func TestBroadcasterApplyRemoteDoesNotReBroadcast(t *testing.T) {
	store := &fakeStore{}
	c := cache.New(store, cache.Options{})
	conn := &fakeConnection{}

	b := NewBroadcaster(c, conn, "api")

	require.NoError(t, b.ApplyRemote(context.Background(), "key-2"))

	store.mu.Lock()
	assert.Equal(t, []string{"key-2"}, store.deleted)
	store.mu.Unlock()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Empty(t, conn.broadcasts)
}

func TestNewConnectionRejectsUnknownDiscovery(t *testing.T) {
	_, err := NewConnection(Config{Discovery: "consul"})
	require.ErrorIs(t, err, errUnknownDiscovery)
}
