// Package cache provides an exact-match response cache for LLM completions.
// Entries are addressed by a content fingerprint over the prompt, model and
// generation parameters, so only byte-identical requests ever share a cached
// response. Backend failures degrade to cache misses rather than failing the
// request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the cache key for a completion request. The prompt,
// model and every generation parameter participate, with parameters folded
// in sorted key order so map iteration order never changes the key. The
// result is a fixed 64-character hex string.
func Fingerprint(prompt, model string, params map[string]any) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteByte(0)
	b.WriteString(model)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
