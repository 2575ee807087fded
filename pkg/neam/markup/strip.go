package markup

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrUnbalanced is returned by CheckBalance for mismatched tags.
var ErrUnbalanced = errors.New("unbalanced tags")

// tagPattern matches the markup neam writes: <name>, </name>, and start or
// self-closing tags with double-quoted attributes. A '<' that does not open
// such a tag is document text.
var tagPattern = regexp.MustCompile(`</?[A-Za-z_][\w.:-]*(?:\s+[\w.:-]+="[^"<>]*")*\s*/?>`)

// tag is one markup token found in tagged text.
type tag struct {
	start, end int
	kind       html.TokenType
	name       string
}

// scanTags returns the markup tokens of tagged in order.
func scanTags(tagged string) []tag {
	locs := tagPattern.FindAllStringIndex(tagged, -1)
	tags := make([]tag, 0, len(locs))
	for _, loc := range locs {
		z := html.NewTokenizer(strings.NewReader(tagged[loc[0]:loc[1]]))
		kind := z.Next()
		name, _ := z.TagName()
		tags = append(tags, tag{start: loc[0], end: loc[1], kind: kind, name: string(name)})
	}
	return tags
}

// StripTags removes markup tags from tagged text and returns the remaining
// text byte for byte (entities are not decoded). Stripping a
// SpanReconstructor output yields its input, including any literal '<' the
// input contained.
func StripTags(tagged string) string {
	var b strings.Builder
	b.Grow(len(tagged))

	last := 0
	for _, t := range scanTags(tagged) {
		b.WriteString(tagged[last:t.start])
		last = t.end
	}
	b.WriteString(tagged[last:])
	return b.String()
}

// CheckBalance verifies that every open tag has a matching close tag in the
// right order. Self-closing tags are ignored. Tag names compare
// case-insensitively. Well-formedness beyond balancing is not checked.
func CheckBalance(tagged string) error {
	var stack []string

	for _, t := range scanTags(tagged) {
		switch t.kind {
		case html.StartTagToken:
			stack = append(stack, t.name)
		case html.EndTagToken:
			if len(stack) == 0 {
				return fmt.Errorf("%w: </%s> without open tag", ErrUnbalanced, t.name)
			}
			top := stack[len(stack)-1]
			if top != t.name {
				return fmt.Errorf("%w: </%s> closes <%s>", ErrUnbalanced, t.name, top)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		return fmt.Errorf("%w: <%s> never closed", ErrUnbalanced, stack[len(stack)-1])
	}
	return nil
}
