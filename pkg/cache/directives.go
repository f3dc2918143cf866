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

package cache

import "time"

// ProducerMaxStale holds the staleness tolerance a producer is willing to
// permit, in increasing order of tolerance.
type ProducerMaxStale struct {
	// WithoutRevalidation is how stale an entry may be and still be served
	// as-is, no background revalidation implied.
	WithoutRevalidation time.Duration

	// WhileRevalidate is how stale an entry may be and still be served
	// while a background revalidation is triggered.
	WhileRevalidate time.Duration

	// IfError is how stale an entry may be and still be served when the
	// producer is unable to produce a fresh value.
	IfError time.Duration
}

// ProducerDirectives are the normalized freshness directives a producer
// attaches to a value it hands to the cache.
type ProducerDirectives struct {
	// FreshUntilAge is how many seconds after birth the entry is fresh.
	FreshUntilAge time.Duration

	// MaxStale is the producer's staleness tolerance, if any.
	MaxStale *ProducerMaxStale

	// StoreFor is the maximum time an entry may remain in a store,
	// measured from the moment the content was generated.
	StoreFor *time.Duration
}

// ConsumerMaxStale holds the staleness tolerance a consumer is willing to
// accept for a single request, in increasing order of tolerance.
type ConsumerMaxStale struct {
	// FreshUntilAge, if set, tightens (never loosens) the effective
	// freshness lifetime of the entry for this request only.
	FreshUntilAge *time.Duration

	WithoutRevalidation time.Duration
	WhileRevalidate     time.Duration
	IfError             time.Duration
}

// ConsumerDirectives are the normalized tolerance directives a consumer
// attaches to a single request.
type ConsumerDirectives struct {
	// MaxAge is a hard ceiling on entry age, regardless of freshness.
	MaxAge *time.Duration

	// MaxStale is the consumer's staleness tolerance, if any.
	MaxStale *ConsumerMaxStale
}

// clampNonNegative returns d, or zero if d is negative.
func clampNonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// NormalizeProducerDirectives coerces raw producer directives into
// canonical form: FreshUntilAge is never negative, and MaxStale thresholds
// are clamped to be non-negative and monotonically increasing -
// violators are replaced by their predecessor's value. StoreFor passes
// through unchanged.
func NormalizeProducerDirectives(raw ProducerDirectives) ProducerDirectives {
	out := ProducerDirectives{
		FreshUntilAge: clampNonNegative(raw.FreshUntilAge),
		StoreFor:      raw.StoreFor,
	}
	if raw.MaxStale != nil {
		ms := *raw.MaxStale
		ms.WithoutRevalidation = clampNonNegative(ms.WithoutRevalidation)
		ms.WhileRevalidate = clampNonNegative(ms.WhileRevalidate)
		if ms.WhileRevalidate < ms.WithoutRevalidation {
			ms.WhileRevalidate = ms.WithoutRevalidation
		}
		ms.IfError = clampNonNegative(ms.IfError)
		if ms.IfError < ms.WhileRevalidate {
			ms.IfError = ms.WhileRevalidate
		}
		out.MaxStale = &ms
	}
	return out
}

// NormalizeConsumerDirectives coerces raw consumer directives into
// canonical form, applying the same monotonic clamping as
// NormalizeProducerDirectives to MaxStale, plus clamping MaxAge and the
// optional FreshUntilAge override to be non-negative.
func NormalizeConsumerDirectives(raw ConsumerDirectives) ConsumerDirectives {
	out := ConsumerDirectives{}
	if raw.MaxAge != nil {
		a := clampNonNegative(*raw.MaxAge)
		out.MaxAge = &a
	}
	out.MaxStale = normalizeConsumerMaxStale(raw.MaxStale)
	return out
}

// normalizeConsumerMaxStale applies monotonic clamping to a consumer
// max-stale directive, same as the producer's.
func normalizeConsumerMaxStale(raw *ConsumerMaxStale) *ConsumerMaxStale {
	if raw == nil {
		return nil
	}
	ms := *raw
	if ms.FreshUntilAge != nil {
		f := clampNonNegative(*ms.FreshUntilAge)
		ms.FreshUntilAge = &f
	}
	ms.WithoutRevalidation = clampNonNegative(ms.WithoutRevalidation)
	ms.WhileRevalidate = clampNonNegative(ms.WhileRevalidate)
	if ms.WhileRevalidate < ms.WithoutRevalidation {
		ms.WhileRevalidate = ms.WithoutRevalidation
	}
	ms.IfError = clampNonNegative(ms.IfError)
	if ms.IfError < ms.WhileRevalidate {
		ms.IfError = ms.WhileRevalidate
	}
	return &ms
}

// NameNormalizer canonicalizes a param or vary key name.
type NameNormalizer func(name string) string

// ValueNormalizer canonicalizes a param or vary value.
type ValueNormalizer func(value any) any

// identityName is the default NameNormalizer.
func identityName(name string) string { return name }

// identityValue is the default ValueNormalizer.
func identityValue(value any) any { return value }

// NormalizeParams applies the given normalizers to a Params map, dropping
// any key whose value is missing (nil). A nil normalizer falls back to the
// identity function.
func NormalizeParams(raw Params, names NameNormalizer, values ValueNormalizer) Params {
	if names == nil {
		names = identityName
	}
	if values == nil {
		values = identityValue
	}
	out := make(Params, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[names(k)] = values(v)
	}
	return out
}

// NormalizeVary applies the given normalizers to a Vary map. Explicit
// Absent markers are preserved as-is; they are distinct from a missing
// key and must not be dropped.
func NormalizeVary(raw Vary, names NameNormalizer, values ValueNormalizer) Vary {
	if names == nil {
		names = identityName
	}
	if values == nil {
		values = identityValue
	}
	out := make(Vary, len(raw))
	for k, v := range raw {
		if v == Absent {
			out[names(k)] = Absent
			continue
		}
		out[names(k)] = values(v)
	}
	return out
}
