// Package props reads flat key-value property files in the Java properties
// format: `key=value`, `key: value` or `key value` pairs, `#` and `!`
// comments, backslash line continuations and `\uXXXX` escapes.
//
// `${...}` references are kept literally; values are never expanded.
package props

import (
	"fmt"
	"io"
	"os"

	"github.com/magiconair/properties"
)

// Entry is a single key-value pair in file order.
type Entry struct {
	Key   string
	Value string
}

var loader = properties.Loader{
	Encoding:         properties.UTF8,
	DisableExpansion: true,
}

// Parse reads all entries from r in first-seen key order. A key given twice
// keeps its last value. Entries with an empty key are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}

	p, err := loader.LoadBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("parse properties: %w", err)
	}

	keys := p.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		value, _ := p.Get(key)
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}

// Map parses r and returns the entries as a map.
func Map(r io.Reader) (map[string]string, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key] = e.Value
	}
	return m, nil
}

// LoadFile reads a property file from disk
func LoadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Map(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
