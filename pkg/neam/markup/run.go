package markup

import (
	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/tagdict"
)

// RunOption configures a RunReconstructor
type RunOption func(*RunReconstructor)

// WithCloseTrailing closes a run that is still open when the stream ends.
// Without it the last run is left open, as it always has been.
func WithCloseTrailing() RunOption {
	return func(r *RunReconstructor) {
		r.closeTrailing = true
	}
}

// WithResolvedLabels names markers through dict instead of the raw label.
func WithResolvedLabels(dict *tagdict.Dict) RunOption {
	return func(r *RunReconstructor) {
		r.dict = dict
		r.resolve = true
	}
}

// WithOutsideLabel changes the "not an entity" sentinel (default "O").
func WithOutsideLabel(label string) RunOption {
	return func(r *RunReconstructor) {
		r.outside = label
	}
}

// RunReconstructor merges consecutive equally labelled tokens into one
// open/close marker pair.
type RunReconstructor struct {
	dict          *tagdict.Dict
	resolve       bool
	closeTrailing bool
	outside       string
}

// NewRunReconstructor creates a run reconstructor
func NewRunReconstructor(opts ...RunOption) *RunReconstructor {
	r := &RunReconstructor{outside: annotate.Outside}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lines returns the tagged stream, one marker or word per line.
func (r *RunReconstructor) Lines(tokens []annotate.Token) []string {
	lines := make([]string, 0, len(tokens))
	previous := r.outside

	for _, tok := range tokens {
		current := tok.Label
		if current != previous {
			if previous != r.outside {
				lines = append(lines, "</"+r.name(previous)+">")
			}
			if current != r.outside {
				lines = append(lines, "<"+r.name(current)+">")
			}
		}
		lines = append(lines, tok.Word)
		previous = current
	}

	if r.closeTrailing && previous != r.outside {
		lines = append(lines, "</"+r.name(previous)+">")
	}
	return lines
}

func (r *RunReconstructor) name(label string) string {
	if r.resolve {
		return r.dict.Resolve(label)
	}
	return label
}
