// Package markup rebuilds a tagged document from annotation-engine output.
//
// Two reconstructions are provided. SpanReconstructor re-locates entity
// mentions in the original text and wraps them in place, so the output is
// the input with some substrings replaced by tagged copies of themselves.
// RunReconstructor turns a labelled token stream into one line per word,
// with open and close markers around runs of equally labelled tokens.
package markup

import (
	"fmt"
	"strings"

	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/tagdict"
)

// Locate finds the first occurrence of phrase in text at or after from.
// A negative from searches from the start. An empty phrase never matches.
func Locate(text, phrase string, from int) (int, bool) {
	if phrase == "" {
		return -1, false
	}
	if from < 0 {
		from = 0
	}
	if from > len(text) {
		return -1, false
	}
	idx := strings.Index(text[from:], phrase)
	if idx < 0 {
		return -1, false
	}
	return from + idx, true
}

// Wrap encloses content in an open/close tag pair.
func Wrap(content, tag string) string {
	return fmt.Sprintf("<%s>%s</%s>", tag, content, tag)
}

// Span is one mention that made it into the output.
type Span struct {
	Label  string `json:"label"`
	Tag    string `json:"tag"`
	Text   string `json:"text"`
	Offset int    `json:"offset"` // byte offset in the original text
}

// SpanResult is the outcome of one span reconstruction.
type SpanResult struct {
	Output  string
	Spans   []Span
	Dropped int // mentions that could not be placed
}

// SpanOption configures a SpanReconstructor
type SpanOption func(*SpanReconstructor)

// WithLeadingMatch lets a mention be placed at offset 0.
//
// Compatibility note: historically a mention found at the very start of the
// document was never tagged, because placement required an offset strictly
// greater than zero before anything had been emitted. That remains the
// default until the rule is confirmed either way.
func WithLeadingMatch() SpanOption {
	return func(r *SpanReconstructor) {
		r.leadingMatch = true
	}
}

// SpanReconstructor wraps located mentions in tags.
// It holds no per-call state and is safe for concurrent use.
type SpanReconstructor struct {
	dict         *tagdict.Dict
	leadingMatch bool
}

// NewSpanReconstructor creates a reconstructor that names tags through dict.
// A nil dict passes every label through.
func NewSpanReconstructor(dict *tagdict.Dict, opts ...SpanOption) *SpanReconstructor {
	r := &SpanReconstructor{dict: dict}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconstruct tags mentions in text, in order.
//
// The cursor is the offset of the last byte already emitted (-1 before the
// first placement) and never moves backwards. A mention is dropped without
// moving the cursor when its surface text does not occur at or after the
// cursor, when the occurrence would overlap text already emitted, or when it
// sits at offset 0 and leading matches are disabled.
func (r *SpanReconstructor) Reconstruct(text string, mentions []annotate.Mention) SpanResult {
	var (
		b      strings.Builder
		result SpanResult
		cursor = -1
	)
	b.Grow(len(text) + len(mentions)*16)

	for _, m := range mentions {
		tag := r.dict.Resolve(m.Label)

		pos, ok := Locate(text, m.Text, cursor)
		if !ok || !r.placeable(pos, cursor) {
			result.Dropped++
			continue
		}

		b.WriteString(text[cursor+1 : pos])
		b.WriteString(Wrap(m.Text, tag))

		result.Spans = append(result.Spans, Span{
			Label:  m.Label,
			Tag:    tag,
			Text:   m.Text,
			Offset: pos,
		})
		cursor = pos + len(m.Text) - 1
	}

	b.WriteString(text[cursor+1:])
	result.Output = b.String()
	return result
}

func (r *SpanReconstructor) placeable(pos, cursor int) bool {
	if pos <= cursor {
		return false
	}
	return pos > 0 || r.leadingMatch
}
