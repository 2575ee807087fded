// Package neam reconstructs entity markup for plain-text documents from the
// output of an annotation engine.
package neam

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/markup"
	"github.com/cognicore/neam/pkg/neam/process"
	"github.com/cognicore/neam/pkg/neam/store"
	"github.com/cognicore/neam/pkg/neam/tagdict"
)

// Annotation request outcomes reported to the Recorder
const (
	StatusOK          = "ok"
	StatusEmpty       = "empty"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// Recorder receives per-run measurements
type Recorder interface {
	RecordAnnotation(source, status string)
	RecordRun(mode string, placed, dropped int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAnnotation(string, string)           {}
func (nopRecorder) RecordRun(string, int, int, time.Duration) {}

// Classifier is the main facade: annotate, reconstruct, post-process,
// record.
type Classifier struct {
	source   annotate.Source
	dict     *tagdict.Dict
	store    store.Store
	prep     *process.Pipeline
	pipeline *process.Pipeline
	spans    *markup.SpanReconstructor
	runs     *markup.RunReconstructor
	recorder Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Options configures a Classifier
type Options struct {
	Source      annotate.Source
	Dict        *tagdict.Dict     // nil passes every label through
	Store       store.Store       // optional run history
	Preprocess  *process.Pipeline // optional, applied to the text before annotation
	Pipeline    *process.Pipeline // optional, applied to span output
	SpanOptions []markup.SpanOption
	RunOptions  []markup.RunOption
	Recorder    Recorder
	Logger      *zap.Logger
}

// New creates a Classifier with the given dependencies
func New(opts Options) *Classifier {
	source := opts.Source
	if source == nil {
		source = annotate.Static{}
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Classifier{
		source:   source,
		dict:     opts.Dict,
		store:    opts.Store,
		prep:     opts.Preprocess,
		pipeline: opts.Pipeline,
		spans:    markup.NewSpanReconstructor(opts.Dict, opts.SpanOptions...),
		runs:     markup.NewRunReconstructor(opts.RunOptions...),
		recorder: recorder,
		logger:   logger,
		entropy:  ulid.Monotonic(rand.Reader, 0),
		now:      time.Now,
	}
}

// Close cleanly shuts down the Classifier and its store
func (c *Classifier) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Classify tags the mentions found in text (span mode). name labels the run
// in the history. The returned error is non-nil only when ctx is done;
// every other failure degrades and is logged.
func (c *Classifier) Classify(ctx context.Context, name, text string) (store.Run, error) {
	start := time.Now()
	text = c.prep.Run(text)

	a, err := c.annotate(ctx, text)
	if err != nil {
		return store.Run{}, err
	}

	res := c.spans.Reconstruct(text, a.Mentions)
	output := c.pipeline.Run(res.Output)

	entities := make([]store.Entity, len(res.Spans))
	for i, s := range res.Spans {
		entities[i] = store.Entity{Label: s.Label, Tag: s.Tag, Text: s.Text, Offset: s.Offset}
	}

	if res.Dropped > 0 {
		c.logger.Debug("mentions not placed", zap.String("document", name), zap.Int("dropped", res.Dropped))
	}

	run := c.newRun(store.ModeSpan, name, output, entities, res.Dropped)
	c.finish(ctx, run, start)
	return run, nil
}

// ClassifyTokens produces the run-mode stream for text: one marker or word
// per line.
func (c *Classifier) ClassifyTokens(ctx context.Context, name, text string) (store.Run, error) {
	start := time.Now()
	text = c.prep.Run(text)

	a, err := c.annotate(ctx, text)
	if err != nil {
		return store.Run{}, err
	}

	tokens := a.Tokens()
	lines := c.runs.Lines(tokens)

	var output string
	if len(lines) > 0 {
		output = strings.Join(lines, "\n") + "\n"
	}

	run := c.newRun(store.ModeRun, name, output, c.runEntities(tokens), 0)
	c.finish(ctx, run, start)
	return run, nil
}

// annotate calls the source and degrades every failure except cancellation
// to an empty annotation.
func (c *Classifier) annotate(ctx context.Context, text string) (annotate.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return annotate.Annotation{}, err
	}

	sourceName := annotate.SourceName(c.source)
	a, err := c.source.Annotate(ctx, text)
	switch {
	case err == nil && a.Empty():
		c.recorder.RecordAnnotation(sourceName, StatusEmpty)
	case err == nil:
		c.recorder.RecordAnnotation(sourceName, StatusOK)
	case ctx.Err() != nil:
		return annotate.Annotation{}, ctx.Err()
	case errors.Is(err, internalerr.ErrSourceUnavailable):
		c.recorder.RecordAnnotation(sourceName, StatusUnavailable)
		c.logger.Warn("annotation engine unavailable, continuing without entities",
			zap.String("source", sourceName), zap.Error(err))
		a = annotate.Annotation{}
	default:
		c.recorder.RecordAnnotation(sourceName, StatusError)
		c.logger.Error("annotation failed, continuing without entities",
			zap.String("source", sourceName), zap.Error(err))
		a = annotate.Annotation{}
	}
	return a, nil
}

// runEntities groups consecutive equally labelled tokens, mirroring the
// markers the run reconstructor emits.
func (c *Classifier) runEntities(tokens []annotate.Token) []store.Entity {
	var (
		entities []store.Entity
		words    []string
		label    = annotate.Outside
	)
	flush := func() {
		if label != annotate.Outside && len(words) > 0 {
			entities = append(entities, store.Entity{
				Label:  label,
				Tag:    c.dict.Resolve(label),
				Text:   strings.Join(words, " "),
				Offset: -1,
			})
		}
		words = words[:0]
	}

	for _, tok := range tokens {
		if tok.Label != label {
			flush()
			label = tok.Label
		}
		words = append(words, tok.Word)
	}
	flush()
	return entities
}

func (c *Classifier) newRun(mode, name, output string, entities []store.Entity, dropped int) store.Run {
	now := c.now()

	c.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), c.entropy).String()
	c.mu.Unlock()

	return store.Run{
		ID:        id,
		Mode:      mode,
		Document:  name,
		Source:    annotate.SourceName(c.source),
		Output:    output,
		Entities:  entities,
		Dropped:   dropped,
		CreatedAt: now,
	}
}

func (c *Classifier) finish(ctx context.Context, run store.Run, start time.Time) {
	c.recorder.RecordRun(run.Mode, len(run.Entities), run.Dropped, time.Since(start))

	if c.store == nil {
		return
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		c.logger.Error("failed to save run", zap.String("id", run.ID), zap.Error(err))
	}
}

// Run returns a stored run by ID
func (c *Classifier) Run(ctx context.Context, id string) (store.Run, error) {
	if c.store == nil {
		return store.Run{}, internalerr.ErrNotFound
	}
	return c.store.GetRun(ctx, id)
}

// Runs lists recent runs, newest first
func (c *Classifier) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.ListRuns(ctx, limit)
}
