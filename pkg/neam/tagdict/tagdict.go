// Package tagdict maps raw annotation-engine labels to output tag names.
package tagdict

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cognicore/neam/pkg/neam/props"
)

// Dict is a raw label → tag name mapping. Labels missing from the mapping
// resolve to themselves.
//
// A Dict is not safe for concurrent Set calls; once loading is finished it
// can be shared read-only by any number of reconstructions.
type Dict struct {
	tags map[string]string
}

// defaultTags is the TEI mapping used when no tag file is configured.
var defaultTags = map[string]string{
	"PERSON":       "persName",
	"LOCATION":     "placeName",
	"ORGANIZATION": "orgName",
	"DATE":         "date",
	"MISC":         "miscName",
	"geo":          "placeName",
	"org":          "orgName",
	"per":          "persName",
	"gpe":          "orgName",
}

// New creates a dictionary holding a copy of tags
func New(tags map[string]string) *Dict {
	d := &Dict{tags: make(map[string]string, len(tags))}
	for label, tag := range tags {
		d.tags[label] = tag
	}
	return d
}

// Default returns a dictionary with the TEI tag names for the common
// CoreNLP and MUC label sets.
func Default() *Dict {
	return New(defaultTags)
}

// Resolve returns the tag name for label, or label itself when unmapped.
func (d *Dict) Resolve(label string) string {
	if d == nil {
		return label
	}
	if tag, ok := d.tags[label]; ok {
		return tag
	}
	return label
}

// Lookup reports the mapped tag name without the pass-through fallback.
func (d *Dict) Lookup(label string) (string, bool) {
	if d == nil {
		return "", false
	}
	tag, ok := d.tags[label]
	return tag, ok
}

// Set adds or replaces a mapping. The zero Dict is ready to use; a nil
// *Dict is not, since there is nowhere to store the mapping.
func (d *Dict) Set(label, tag string) {
	if d.tags == nil {
		d.tags = make(map[string]string)
	}
	d.tags[label] = tag
}

// Len returns the number of mapped labels
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.tags)
}

// Labels returns the mapped labels in sorted order
func (d *Dict) Labels() []string {
	if d == nil {
		return nil
	}
	labels := make([]string, 0, len(d.tags))
	for label := range d.tags {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Merge copies every mapping of other into d, overriding existing labels.
func (d *Dict) Merge(other *Dict) {
	if other == nil {
		return
	}
	for label, tag := range other.tags {
		d.Set(label, tag)
	}
}

// Load reads a `label=tag` property stream.
func Load(r io.Reader) (*Dict, error) {
	entries, err := props.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("load tag dictionary: %w", err)
	}

	d := New(nil)
	for _, e := range entries {
		d.tags[e.Key] = e.Value
	}
	return d, nil
}

// LoadFile reads a tag dictionary from a property file.
//
// The error is returned as-is so the caller can decide whether to abort or to
// continue with an empty dictionary (every label passes through).
func LoadFile(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tag dictionary: %w", err)
	}
	defer f.Close()

	d, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}
