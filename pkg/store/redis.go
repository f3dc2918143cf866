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
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kacheio/freshcache/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRedisConfigNoEndpoint is returned by NewRedis when no endpoint is
	// configured.
	ErrRedisConfigNoEndpoint = errors.New("store: no redis endpoint configured")

	// ErrRedisMaxItemSize describes an entry whose content exceeds
	// RedisConfig.MaxItemSize. StoreEntries does not return it: it drops
	// such an entry with a warning and stores the rest of the batch.
	ErrRedisMaxItemSize = errors.New("store: max item size exceeded")
)

// RedisConfig configures a Redis store. It mirrors the connection options
// the teacher's Redis client exposes.
type RedisConfig struct {
	// Endpoint is a single address or a comma-separated list of
	// host:port addresses of cluster/sentinel nodes.
	Endpoint string `yaml:"endpoint"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Namespace prefixes every key this store writes, so multiple caches
	// can share one Redis instance.
	Namespace string `yaml:"namespace"`

	// MaxItemSize, if non-zero, rejects entries whose content exceeds it.
	MaxItemSize int `yaml:"max_item_size"`
}

// Validate validates the RedisConfig.
func (c *RedisConfig) Validate() error {
	if len(c.Endpoint) == 0 {
		return ErrRedisConfigNoEndpoint
	}
	return nil
}

// Redis is a cache.Store backed by Redis. Each id maps to a Redis set of
// vary-variant keys (idempotent against concurrent writers via SADD) plus
// one string key per variant, so a single id can hold many Vary-distinct
// entries the way Memory does, instead of the teacher's single
// key-per-resource model.
type Redis struct {
	client redis.UniversalClient
	ns     string
	maxLen int
	now    func() time.Time
}

// NewRedis creates a Redis store and verifies connectivity with a Ping.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{
		Addrs:    strings.Split(cfg.Endpoint, ","),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	client := redis.NewUniversalClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client, ns: cfg.Namespace, maxLen: cfg.MaxItemSize, now: time.Now}, nil
}

func (r *Redis) varyKeyOf(v cache.Vary) string {
	return varyKey(v)
}

func (r *Redis) setKey(id string) string   { return r.ns + "vary:" + id }
func (r *Redis) entryKey(id, vk string) string { return r.ns + "entry:" + id + ":" + vk }

// wireEntry is Entry re-shaped for JSON transport: Vary's Absent sentinel
// doesn't round-trip through JSON as the unexported absentMarker type, so
// it is carried out-of-band as a list of key names.
type wireEntry struct {
	ID         string              `json:"id"`
	Vary       map[string]any      `json:"vary,omitempty"`
	AbsentVary []string            `json:"absent_vary,omitempty"`
	Content    []byte              `json:"content"`
	InitialAge time.Duration       `json:"initial_age"`
	Date       time.Time           `json:"date"`
	Directives cache.ProducerDirectives `json:"directives"`
	Validators map[string]any      `json:"validators,omitempty"`
}

func toWireEntry(e cache.Entry) wireEntry {
	w := wireEntry{
		ID:         e.ID,
		Content:    e.Content,
		InitialAge: e.InitialAge,
		Date:       e.Date,
		Directives: e.Directives,
		Validators: e.Validators,
	}
	for k, v := range e.Vary {
		if v == cache.Absent {
			w.AbsentVary = append(w.AbsentVary, k)
			continue
		}
		if w.Vary == nil {
			w.Vary = map[string]any{}
		}
		w.Vary[k] = v
	}
	return w
}

func (w wireEntry) toEntry() cache.Entry {
	var vary cache.Vary
	if len(w.Vary) > 0 || len(w.AbsentVary) > 0 {
		vary = make(cache.Vary, len(w.Vary)+len(w.AbsentVary))
		for k, v := range w.Vary {
			vary[k] = v
		}
		for _, k := range w.AbsentVary {
			vary[k] = cache.Absent
		}
	}
	return cache.Entry{
		ID:         w.ID,
		Vary:       vary,
		Content:    w.Content,
		InitialAge: w.InitialAge,
		Date:       w.Date,
		Directives: w.Directives,
		Validators: w.Validators,
	}
}

// Get implements cache.Store.
func (r *Redis) Get(ctx context.Context, id string, params cache.Params) ([]cache.Entry, error) {
	varyKeys, err := r.client.SMembers(ctx, r.setKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(varyKeys) == 0 {
		return nil, nil
	}

	entryKeys := make([]string, len(varyKeys))
	for i, vk := range varyKeys {
		entryKeys[i] = r.entryKey(id, vk)
	}

	raw, err := r.client.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, err
	}

	var out []cache.Entry
	var expired []string
	for i, v := range raw {
		if v == nil {
			expired = append(expired, varyKeys[i])
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var w wireEntry
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("store: dropping undecodable redis entry")
			continue
		}
		entry := w.toEntry()
		if cache.VaryMatches(entry.Vary, params) {
			out = append(out, entry)
		}
	}

	if len(expired) > 0 {
		r.client.SRem(ctx, r.setKey(id), toAnySlice(expired)...)
	}

	return out, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// GetMany implements cache.Store using the default bounded-concurrency
// fan-out over Get.
func (r *Redis) GetMany(ctx context.Context, keys []cache.LookupKey) ([][]cache.Entry, error) {
	return cache.DefaultGetMany(ctx, r, keys, 8)
}

// StoreEntries implements cache.Store. Within a batch, entries sharing an
// (id, vary) key keep the one with the latest birth date, matching
// Memory's merge semantics; the winner is written with the infinite
// max-store-for sentinel treated as "no TTL", finite values as a Redis
// EXPIRE.
func (r *Redis) StoreEntries(ctx context.Context, inputs []cache.StoreInput) error {
	byID := map[string][]cache.StoreInput{}
	for _, in := range inputs {
		byID[in.Entry.ID] = append(byID[in.Entry.ID], in)
	}

	for id, ins := range byID {
		winners := map[string]cache.StoreInput{}
		for _, in := range ins {
			vk := r.varyKeyOf(in.Entry.Vary)
			if prior, ok := winners[vk]; ok && !cache.BirthDate(in.Entry).After(cache.BirthDate(prior.Entry)) {
				continue
			}
			if r.maxLen > 0 && len(in.Entry.Content) > r.maxLen {
				log.Warn().Str("id", id).Int("size", len(in.Entry.Content)).Msg("store: entry exceeds max item size, dropping")
				continue
			}
			winners[vk] = in
		}
		if len(winners) == 0 {
			continue
		}

		pipe := r.client.Pipeline()
		setKey := r.setKey(id)
		for vk, in := range winners {
			ek := r.entryKey(id, vk)

			// MaxStoreFor <= 0 means the entry must not be retained at
			// all (spec.md's maxStoreForSeconds is clamped to max(0, ...),
			// so zero is a real, reachable value). go-redis treats
			// expiration=0 passed to Set as "no TTL", i.e. persist
			// forever - the opposite of what's needed here - so zero and
			// negative durations are special-cased to an immediate
			// delete instead of ever reaching Set.
			if in.MaxStoreFor <= 0 {
				pipe.Del(ctx, ek)
				pipe.SRem(ctx, setKey, vk)
				continue
			}

			payload, err := json.Marshal(toWireEntry(in.Entry))
			if err != nil {
				return err
			}

			ttl := time.Duration(0)
			if in.MaxStoreFor < time.Duration(1<<63-1) {
				ttl = in.MaxStoreFor
			}
			pipe.Set(ctx, ek, payload, ttl)
			pipe.SAdd(ctx, setKey, vk)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Delete implements cache.Store.
func (r *Redis) Delete(ctx context.Context, id string) error {
	varyKeys, err := r.client.SMembers(ctx, r.setKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := make([]string, 0, len(varyKeys)+1)
	for _, vk := range varyKeys {
		keys = append(keys, r.entryKey(id, vk))
	}
	keys = append(keys, r.setKey(id))

	return r.client.Del(ctx, keys...).Err()
}

// Close implements cache.Store.
func (r *Redis) Close(_ context.Context, _ time.Duration) error {
	return r.client.Close()
}
