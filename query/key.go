package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultKey is the canonical form shared by every nil or empty Key.
// It never collides with an encoded key, which always starts with '['.
const DefaultKey = "#default"

// Key identifies a logical query. Elements must be JSON-serializable.
// Two keys are equivalent iff their canonical encodings are equal.
type Key []any

// Canonical returns the deterministic encoding of key used as the index
// for the store, the fetcher registry and the subscriber registry.
//
// The encoding is a JSON array that preserves element order. Maps are
// written with sorted keys so that iteration order never leaks into it.
func Canonical(key Key) (string, error) {
	if len(key) == 0 {
		return DefaultKey, nil
	}

	var buf bytes.Buffer
	if err := encodeSlice(&buf, key); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return buf.String(), nil
}

// MustCanonical is like Canonical but panics on an unencodable key.
func MustCanonical(key Key) string {
	k, err := Canonical(key)
	if err != nil {
		panic(err)
	}
	return k
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case Key:
		return encodeSlice(buf, val)
	case []any:
		return encodeSlice(buf, val)
	case map[string]any:
		return encodeMap(buf, val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

func encodeSlice(buf *bytes.Buffer, s []any) error {
	buf.WriteByte('[')
	for i, v := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
