package process

import (
	"regexp"
	"strings"

	"github.com/cognicore/neam/pkg/neam/document"
)

var (
	pagePattern       = regexp.MustCompile(`(?i)page (\d+)`)
	sicPattern        = regexp.MustCompile(`\[sic; (\S+)\]`)
	datePattern       = regexp.MustCompile(`</date>([,.] +)<date>`)
	openTagSpaces     = regexp.MustCompile(`(<[^/>]*>) +`)
	spacesBeforeClose = regexp.MustCompile(` +</`)
	repeatedSpaces    = regexp.MustCompile(` {2,}`)
)

// ASCIIifier replaces curly quotes and strips byte order marks. It belongs
// in the pre-processing pipeline so the engine sees the normalized text.
func ASCIIifier() Processor {
	return Func(document.ASCIIfy)
}

// PageReplacer turns "page N" (any case) into a page break tag.
func PageReplacer() Processor {
	return Func(func(text string) string {
		return pagePattern.ReplaceAllString(text, `<pb n="$1"/>`)
	})
}

// SicReplacer turns "[sic; word]" into <sic>word</sic>.
func SicReplacer() Processor {
	return Func(func(text string) string {
		return sicPattern.ReplaceAllString(text, `<sic>$1</sic>`)
	})
}

// DateMerger joins adjacent date tags separated only by a comma or period
// and spaces, so "<date>May 3</date>, <date>1901</date>" becomes one tag.
func DateMerger() Processor {
	return Func(func(text string) string {
		return datePattern.ReplaceAllString(text, `$1`)
	})
}

// SpaceNormalizer folds newlines into spaces, trims spaces just inside tags
// and collapses runs of spaces.
func SpaceNormalizer() Processor {
	return Func(func(text string) string {
		text = strings.ReplaceAll(text, "\n", " ")
		text = openTagSpaces.ReplaceAllString(text, `$1`)
		text = spacesBeforeClose.ReplaceAllString(text, `</`)
		return repeatedSpaces.ReplaceAllString(text, " ")
	})
}

// DefaultRefTags are the tags RefAnnotator links when none are given.
var DefaultRefTags = []string{"persName", "placeName", "orgName"}

// RefAnnotator adds a ref attribute derived from the tagged text, e.g.
// <persName>Kofi Annan</persName> → <persName ref="#Kofi_Annan">Kofi Annan</persName>.
type RefAnnotator struct {
	pattern *regexp.Regexp
}

// NewRefAnnotator links the given tag names (DefaultRefTags when empty)
func NewRefAnnotator(tags []string) *RefAnnotator {
	if len(tags) == 0 {
		tags = DefaultRefTags
	}
	quoted := make([]string, len(tags))
	for i, t := range tags {
		quoted[i] = regexp.QuoteMeta(t)
	}
	alt := strings.Join(quoted, "|")
	return &RefAnnotator{
		pattern: regexp.MustCompile(`<(` + alt + `)>(.*?)</(` + alt + `)>`),
	}
}

// Run rewrites every matching tag pair
func (r *RefAnnotator) Run(text string) string {
	return r.pattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := r.pattern.FindStringSubmatch(m)
		tag, entity := sub[1], sub[2]
		ref := strings.ReplaceAll(entity, " ", "_")
		return `<` + tag + ` ref="#` + ref + `">` + entity + `</` + tag + `>`
	})
}
