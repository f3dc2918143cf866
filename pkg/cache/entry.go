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

// Params is an unordered mapping from param name to a JSON-scalar value
// (string, number, bool). A missing key means the request did not supply
// that param at all.
type Params map[string]any

// absentMarker is the sentinel value of a Vary entry asserting "the
// producing call saw this param as missing", distinct from the key being
// entirely absent from the map.
type absentMarker struct{}

// Absent is the Vary sentinel for "param observed missing".
var Absent = absentMarker{}

// Vary has the same key universe as Params, but a value may also be the
// Absent marker.
type Vary map[string]any

// Entry is the unit stored and returned by a Store. It is the normalized
// form of a producer result.
type Entry struct {
	// ID is the opaque primary-key component shared by a request and its
	// cached results.
	ID string

	// Vary is the secondary key: the set of params this entry's content
	// depends on, as observed by the producer call that created it.
	Vary Vary

	// Content is the opaque payload.
	Content []byte

	// InitialAge is the age, in seconds, the entry already had at Date.
	InitialAge time.Duration

	// Date is the wall-clock instant this entry was received by the
	// current cache.
	Date time.Time

	// Directives are the normalized producer directives governing this
	// entry's freshness and staleness tolerance.
	Directives ProducerDirectives

	// Validators is opaque validation metadata (e.g. an etag); non-empty
	// means the entry can be cheaply confirmed against the origin.
	Validators map[string]any
}

// BirthDate is the wall-clock moment the origin produced e's content.
func BirthDate(e Entry) time.Time {
	return e.Date.Add(-e.InitialAge)
}

// Age is the number of seconds since e's origin generated its content, as
// observed at instant at. It may be negative if at precedes birth.
func Age(e Entry, at time.Time) time.Duration {
	return at.Sub(BirthDate(e))
}

// IsFresh reports whether e's age, at instant at, falls within its
// producer-declared freshness lifetime.
func IsFresh(e Entry, at time.Time) bool {
	age := Age(e, at)
	return age >= 0 && age <= e.Directives.FreshUntilAge
}

// IsValidatable reports whether e carries validation information.
func IsValidatable(e Entry) bool {
	return len(e.Validators) > 0
}

// PotentiallyUsefulFor computes the maximum number of seconds e could
// still be useful to a consumer, starting from instant now. An entry with
// a producer max-stale and no validators becomes useless once it passes
// freshUntilAge+ifError; everything else (validatable entries, or entries
// without a max-stale at all) has no defined ceiling here and is left to
// the store's own eviction policy.
func PotentiallyUsefulFor(e Entry, now time.Time) time.Duration {
	if e.Directives.MaxStale != nil && !IsValidatable(e) {
		return e.Directives.FreshUntilAge + e.Directives.MaxStale.IfError - Age(e, now)
	}
	return time.Duration(1<<63 - 1) // +Inf, in time.Duration terms.
}

// scalarEqual compares two JSON-scalar values for equality, treating the
// common numeric decode shapes (int, int64, float64) as interchangeable so
// that values round-tripped through different encodings still compare
// equal.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// VaryMatches reports whether params satisfies vary's predicate: for every
// key k in vary, params[k] must equal vary[k], treating Absent as matching
// iff k is missing from params. Keys present in params but not in vary
// place no constraint (the producer didn't depend on them).
func VaryMatches(vary Vary, params Params) bool {
	for k, want := range vary {
		got, present := params[k]
		if want == Absent {
			if present {
				return false
			}
			continue
		}
		if !present || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}
