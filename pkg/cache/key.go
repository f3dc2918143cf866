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

import (
	"fmt"
	"sort"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
)

// CanonicalKey renders (id, params) as a string that is stable under
// reordering of params - the same id/params pair always produces the same
// string, regardless of map iteration order. It is used both as the
// collapser's dedupe key and as input to StableHash.
func CanonicalKey(id string, params Params) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(id)
	for _, k := range names {
		fmt.Fprintf(&b, "\n%s=%v", k, params[k])
	}
	return b.String()
}

// StableHash produces a hash of key that is consistent across restarts,
// architectures, builds, and configurations. Stores that key persistent
// entries off a 64-bit hash should (but are not required to) use
// StableHash(CanonicalKey(id, params)).
func StableHash(key string) uint64 {
	return xxhash.Sum64([]byte(key))
}
