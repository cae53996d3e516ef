// Package signing implements the HMAC request-signing scheme that protects
// mutating API requests: canonical field encoding, signature creation and
// verification, nonce and timestamp validation, and per-principal secret
// derivation. Everything in this package is pure computation; no I/O.
package signing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CanonicalSeparator joins key=value pairs in the canonical string.
const CanonicalSeparator = "|"

// Canonicalize produces the deterministic signing input for a field set.
// Nil-valued entries are dropped entirely (treated as absent, never encoded
// as empty). Remaining keys are sorted ascending in byte order and rendered
// as key=value pairs joined by CanonicalSeparator. Strings render verbatim,
// other scalars via their natural textual form, and composite values via
// compact JSON.
//
// The encoding is referentially transparent: the same set of non-nil
// key/value pairs yields the same string regardless of insertion order.
// The only failure mode is a JSON encoding error on an unserializable value,
// which surfaces as a signing failure.
func Canonicalize(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		rendered, err := renderValue(fields[k])
		if err != nil {
			return "", fmt.Errorf("canonicalize field %q: %w", k, err)
		}
		if i > 0 {
			b.WriteString(CanonicalSeparator)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(rendered)
	}
	return b.String(), nil
}

// renderValue converts a single field value to its canonical textual form.
func renderValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		// Objects and arrays embed as their compact JSON serialization.
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
