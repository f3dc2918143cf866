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

// Classification is the usability category the classifier assigns a
// stored entry. The constants are ordered from most to least usable; for
// a fixed entry and directives, as time passes the classification can only
// move forward through this order, never backward.
type Classification int

const (
	// Usable means the entry may be served as-is.
	Usable Classification = iota

	// UsableWhileRevalidate means the entry may be served immediately
	// while a background refresh is triggered.
	UsableWhileRevalidate

	// UsableIfError means the entry may be served only if the producer
	// is unable to produce a fresh value.
	UsableIfError

	// Unusable means the entry may not be served at all.
	Unusable
)

// String returns a human-readable name for the classification.
func (c Classification) String() string {
	switch c {
	case Usable:
		return "Usable"
	case UsableWhileRevalidate:
		return "UsableWhileRevalidate"
	case UsableIfError:
		return "UsableIfError"
	case Unusable:
		return "Unusable"
	default:
		return "Unknown"
	}
}

// infiniteStale is used as the stand-in for "+Inf" when a side of the
// max-stale comparison is entirely absent.
const infiniteStale = time.Duration(1<<63 - 1)

// Classify maps a stored entry, consumer directives, and a wall-clock
// instant to a usability category. Classify is pure: it has no side
// effects and depends on nothing but its arguments.
func Classify(entry Entry, consumerDirs ConsumerDirectives, now time.Time) Classification {
	age := Age(entry, now)

	// Rule 1: maxAge is a hard ceiling; no other rule can override it.
	if consumerDirs.MaxAge != nil && age > *consumerDirs.MaxAge {
		return Unusable
	}

	// Rule 2-3: effective freshness lifetime.
	maxStale := normalizeConsumerMaxStale(consumerDirs.MaxStale)
	freshUntilAge := entry.Directives.FreshUntilAge
	if maxStale != nil && maxStale.FreshUntilAge != nil && *maxStale.FreshUntilAge < freshUntilAge {
		freshUntilAge = *maxStale.FreshUntilAge
	}

	// Rule 4.
	if age <= freshUntilAge {
		return Usable
	}

	// Rule 5.
	if entry.Directives.MaxStale == nil && maxStale == nil {
		return Unusable
	}

	// Rule 6: compute effective max-stale for each side.
	prod := entry.Directives.MaxStale
	prodWithout, prodWhile, prodIfErr := infiniteStale, infiniteStale, infiniteStale
	if prod != nil {
		prodWithout, prodWhile, prodIfErr = prod.WithoutRevalidation, prod.WhileRevalidate, prod.IfError
	}

	var consWithout, consWhile, consIfErr time.Duration
	switch {
	case maxStale != nil:
		consWithout, consWhile, consIfErr = maxStale.WithoutRevalidation, maxStale.WhileRevalidate, maxStale.IfError
	case prod != nil:
		consWithout, consWhile, consIfErr = 0, prod.WhileRevalidate, prod.IfError
	default:
		consWithout, consWhile, consIfErr = 0, 0, 0
	}

	// Rule 7: per-field minimums, then classify the excess staleness.
	s := age - freshUntilAge
	minWithout := minDuration(prodWithout, consWithout)
	minWhile := minDuration(prodWhile, consWhile)
	minIfErr := minDuration(prodIfErr, consIfErr)

	switch {
	case s <= minWithout:
		return Usable
	case s <= minWhile:
		return UsableWhileRevalidate
	case s <= minIfErr:
		return UsableIfError
	default:
		return Unusable
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
