// Package annotate defines the boundary to the annotation engine: raw text
// goes in, entity mentions and labelled tokens come out.
//
// Mentions carry surface text only. Engines do not guarantee offsets that
// line up with the input, so reconstruction re-locates every mention itself.
package annotate

import (
	"context"
	"strings"
)

// Outside is the label for tokens that are not part of any entity.
const Outside = "O"

// Mention is an entity occurrence reported by the engine
type Mention struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Token is one word with its flat classification label
type Token struct {
	Word  string `json:"word"`
	Label string `json:"label"`
}

// Sentence groups tokens. Grouping only affects ordering.
type Sentence struct {
	Tokens []Token `json:"tokens"`
}

// Annotation is everything an engine reports for one document.
type Annotation struct {
	Mentions  []Mention  `json:"mentions"`
	Sentences []Sentence `json:"sentences"`
}

// Tokens flattens the sentence structure into one ordered token stream.
func (a Annotation) Tokens() []Token {
	n := 0
	for _, s := range a.Sentences {
		n += len(s.Tokens)
	}
	tokens := make([]Token, 0, n)
	for _, s := range a.Sentences {
		tokens = append(tokens, s.Tokens...)
	}
	return tokens
}

// Empty reports whether the engine found nothing at all.
func (a Annotation) Empty() bool {
	return len(a.Mentions) == 0 && len(a.Sentences) == 0
}

// Source produces annotations for raw text.
// Implementations must be safe for concurrent use.
type Source interface {
	Annotate(ctx context.Context, text string) (Annotation, error)
}

// Named is implemented by sources that identify themselves for metrics and
// cache keys.
type Named interface {
	Name() string
}

// SourceName returns the name of src, or "unknown".
func SourceName(src Source) string {
	if n, ok := src.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// Static replays a fixed annotation regardless of input text.
type Static struct {
	Annotation Annotation
}

// Annotate returns the stored annotation
func (s Static) Annotate(ctx context.Context, _ string) (Annotation, error) {
	if err := ctx.Err(); err != nil {
		return Annotation{}, err
	}
	return s.Annotation, nil
}

// Name implements Named
func (s Static) Name() string { return "static" }

// LabelWords assigns labels to a whitespace-split word stream using an
// ordered mention list. Each mention is matched, in order, against the next
// run of words equal to the mention's own words; unmatched mentions are
// skipped. Words outside every matched mention get the outside label.
func LabelWords(words []string, mentions []Mention, outside string) []Token {
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Word: w, Label: outside}
	}

	next := 0
	for _, m := range mentions {
		parts := strings.Fields(m.Text)
		if len(parts) == 0 {
			continue
		}
		at := findRun(words, parts, next)
		if at < 0 {
			continue
		}
		for i := range parts {
			tokens[at+i].Label = m.Label
		}
		next = at + len(parts)
	}
	return tokens
}

func findRun(words, parts []string, from int) int {
	for i := from; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			if !sameWord(words[i+j], p) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// wordPunct is stripped from whitespace-split words before comparing them
// with mention words ("Paris." matches "Paris").
const wordPunct = ".,;:!?\"'()[]"

func sameWord(word, part string) bool {
	return word == part || strings.Trim(word, wordPunct) == strings.Trim(part, wordPunct)
}
