// Package process post-processes tagged output with a chain of text
// rewriters.
package process

import (
	"fmt"
	"strings"

	"github.com/cognicore/neam/pkg/neam/internalerr"
)

// Processor rewrites text
type Processor interface {
	Run(text string) string
}

// Func adapts a plain function to Processor
type Func func(string) string

// Run calls f
func (f Func) Run(text string) string { return f(text) }

// Pipeline passes text through each processor in order:
// ascii → pages → sic → refs → dates → spaces
type Pipeline struct {
	processors []Processor
}

// NewPipeline creates a pipeline with the given processors
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Add appends a processor to the end of the pipeline
func (p *Pipeline) Add(proc Processor) {
	p.processors = append(p.processors, proc)
}

// Len reports the number of processors
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.processors)
}

// Run feeds the output of each processor into the next. A nil pipeline
// returns text unchanged.
func (p *Pipeline) Run(text string) string {
	if p == nil {
		return text
	}
	for _, proc := range p.processors {
		text = proc.Run(text)
	}
	return text
}

// Names of the built-in processors, in their default order.
var Names = []string{"ascii", "pages", "sic", "refs", "dates", "spaces"}

// FromNames builds a pipeline from processor names. Unknown names fail with
// internalerr.ErrInvalidConfig.
func FromNames(names []string) (*Pipeline, error) {
	p := NewPipeline()
	for _, name := range names {
		proc, err := byName(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		p.Add(proc)
	}
	return p, nil
}

func byName(name string) (Processor, error) {
	switch name {
	case "ascii":
		return ASCIIifier(), nil
	case "pages":
		return PageReplacer(), nil
	case "sic":
		return SicReplacer(), nil
	case "refs":
		return NewRefAnnotator(nil), nil
	case "dates":
		return DateMerger(), nil
	case "spaces":
		return SpaceNormalizer(), nil
	default:
		return nil, fmt.Errorf("%w: unknown processor %q", internalerr.ErrInvalidConfig, name)
	}
}
