package neam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/neam/pkg/neam/annotate"
	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/markup"
	"github.com/cognicore/neam/pkg/neam/process"
	"github.com/cognicore/neam/pkg/neam/store"
	"github.com/cognicore/neam/pkg/neam/store/memstore"
	"github.com/cognicore/neam/pkg/neam/tagdict"
)

type fakeRecorder struct {
	mu          sync.Mutex
	annotations []string
	runs        []string
	placed      int
	dropped     int
}

func (r *fakeRecorder) RecordAnnotation(source, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.annotations = append(r.annotations, source+"/"+status)
}

func (r *fakeRecorder) RecordRun(mode string, placed, dropped int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, mode)
	r.placed += placed
	r.dropped += dropped
}

type failingSource struct{ err error }

func (f failingSource) Annotate(context.Context, string) (annotate.Annotation, error) {
	return annotate.Annotation{}, f.err
}

func obamaAnnotation() annotate.Annotation {
	return annotate.Annotation{
		Mentions: []annotate.Mention{
			{Label: "PERSON", Text: "Barack Obama"},
			{Label: "LOCATION", Text: "Paris"},
		},
		Sentences: []annotate.Sentence{{Tokens: []annotate.Token{
			{Word: "Barack", Label: "PERSON"},
			{Word: "Obama", Label: "PERSON"},
			{Word: "visited", Label: "O"},
			{Word: "Paris", Label: "LOCATION"},
			{Word: ".", Label: "O"},
		}}},
	}
}

func TestClassifySpanMode(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rec := &fakeRecorder{}

	c := New(Options{
		Source:      annotate.Static{Annotation: obamaAnnotation()},
		Dict:        tagdict.Default(),
		Store:       st,
		SpanOptions: []markup.SpanOption{markup.WithLeadingMatch()},
		Recorder:    rec,
	})

	run, err := c.Classify(ctx, "doc.txt", "Barack Obama visited Paris.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	want := "<persName>Barack Obama</persName> visited <placeName>Paris</placeName>."
	if run.Output != want {
		t.Errorf("got  %q\nwant %q", run.Output, want)
	}
	if run.Mode != store.ModeSpan || run.Document != "doc.txt" || run.Source != "static" {
		t.Errorf("unexpected run metadata %+v", run)
	}
	if len(run.Entities) != 2 || run.Entities[1].Offset != 21 {
		t.Errorf("unexpected entities %+v", run.Entities)
	}

	stored, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if stored.Output != want {
		t.Errorf("stored output mismatch: %q", stored.Output)
	}

	if len(rec.runs) != 1 || rec.runs[0] != "span" || rec.placed != 2 {
		t.Errorf("unexpected recorder state %+v", rec)
	}
	if rec.annotations[0] != "static/ok" {
		t.Errorf("unexpected annotation status %v", rec.annotations)
	}
}

func TestClassifyLegacyDefaultDropsLeadingMention(t *testing.T) {
	c := New(Options{
		Source: annotate.Static{Annotation: obamaAnnotation()},
		Dict:   tagdict.Default(),
	})

	run, err := c.Classify(context.Background(), "doc", "Barack Obama visited Paris.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if run.Output != "Barack Obama visited <placeName>Paris</placeName>." || run.Dropped != 1 {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestClassifyAppliesPipeline(t *testing.T) {
	c := New(Options{
		Source:      annotate.Static{Annotation: obamaAnnotation()},
		Dict:        tagdict.Default(),
		Pipeline:    process.NewPipeline(process.NewRefAnnotator(nil), process.PageReplacer()),
		SpanOptions: []markup.SpanOption{markup.WithLeadingMatch()},
	})

	run, err := c.Classify(context.Background(), "doc", "Barack Obama visited Paris.\npage 2\n")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	want := "<persName ref=\"#Barack_Obama\">Barack Obama</persName> visited <placeName ref=\"#Paris\">Paris</placeName>.\n<pb n=\"2\"/>\n"
	if run.Output != want {
		t.Errorf("got  %q\nwant %q", run.Output, want)
	}
}

type echoSource struct {
	mu   sync.Mutex
	seen []string
}

// Annotate tags the first word of text as a PERSON mention.
func (e *echoSource) Annotate(_ context.Context, text string) (annotate.Annotation, error) {
	e.mu.Lock()
	e.seen = append(e.seen, text)
	e.mu.Unlock()

	word, _, _ := strings.Cut(text, " ")
	return annotate.Annotation{
		Mentions:  []annotate.Mention{{Label: "PERSON", Text: word}},
		Sentences: []annotate.Sentence{{Tokens: []annotate.Token{{Word: word, Label: "PERSON"}}}},
	}, nil
}

func TestPreprocessRunsBeforeAnnotation(t *testing.T) {
	src := &echoSource{}
	c := New(Options{
		Source:      src,
		Dict:        tagdict.Default(),
		Preprocess:  process.NewPipeline(process.ASCIIifier()),
		SpanOptions: []markup.SpanOption{markup.WithLeadingMatch()},
	})

	run, err := c.Classify(context.Background(), "doc", "\uFEFFO\u2019Brien spoke.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got, want := src.seen[0], "O'Brien spoke."; got != want {
		t.Errorf("source saw %q, want %q", got, want)
	}
	if want := "<persName>O'Brien</persName> spoke."; run.Output != want {
		t.Errorf("got  %q\nwant %q", run.Output, want)
	}

	if _, err := c.ClassifyTokens(context.Background(), "doc", "It\u2019s"); err != nil {
		t.Fatalf("ClassifyTokens: %v", err)
	}
	if src.seen[1] != "It's" {
		t.Errorf("run mode source saw %q", src.seen[1])
	}
}

func TestClassifyTokensRunMode(t *testing.T) {
	st := memstore.New()
	c := New(Options{
		Source: annotate.Static{Annotation: obamaAnnotation()},
		Dict:   tagdict.Default(),
		Store:  st,
	})

	run, err := c.ClassifyTokens(context.Background(), "doc", "Barack Obama visited Paris.")
	if err != nil {
		t.Fatalf("ClassifyTokens: %v", err)
	}

	want := strings.Join([]string{
		"<PERSON>", "Barack", "Obama", "</PERSON>", "visited",
		"<LOCATION>", "Paris", "</LOCATION>", ".",
	}, "\n") + "\n"
	if run.Output != want {
		t.Errorf("got  %q\nwant %q", run.Output, want)
	}
	if run.Mode != store.ModeRun {
		t.Errorf("Expected run mode, got %s", run.Mode)
	}

	if len(run.Entities) != 2 {
		t.Fatalf("Expected 2 entities, got %+v", run.Entities)
	}
	if e := run.Entities[0]; e.Text != "Barack Obama" || e.Tag != "persName" || e.Offset != -1 {
		t.Errorf("unexpected entity %+v", e)
	}
}

func TestClassifyTokensEmptyAnnotation(t *testing.T) {
	c := New(Options{Source: annotate.Static{}})
	run, err := c.ClassifyTokens(context.Background(), "doc", "anything")
	if err != nil {
		t.Fatalf("ClassifyTokens: %v", err)
	}
	if run.Output != "" || len(run.Entities) != 0 {
		t.Errorf("empty annotation should produce empty output, got %+v", run)
	}
}

func TestClassifyDegradesWhenSourceUnavailable(t *testing.T) {
	rec := &fakeRecorder{}
	c := New(Options{
		Source:   failingSource{err: fmt.Errorf("%w: connection refused", internalerr.ErrSourceUnavailable)},
		Recorder: rec,
	})

	text := "Barack Obama visited Paris.\n"
	run, err := c.Classify(context.Background(), "doc", text)
	if err != nil {
		t.Fatalf("Classify should degrade, got %v", err)
	}
	if run.Output != text {
		t.Errorf("expected verbatim output, got %q", run.Output)
	}
	if rec.annotations[0] != "unknown/unavailable" {
		t.Errorf("unexpected status %v", rec.annotations)
	}
}

func TestClassifyDegradesOnSourceError(t *testing.T) {
	rec := &fakeRecorder{}
	c := New(Options{Source: failingSource{err: errors.New("decode: unexpected EOF")}, Recorder: rec})

	run, err := c.Classify(context.Background(), "doc", "text")
	if err != nil || run.Output != "text" {
		t.Errorf("expected degraded run, got %+v, %v", run, err)
	}
	if rec.annotations[0] != "unknown/error" {
		t.Errorf("unexpected status %v", rec.annotations)
	}
}

func TestClassifyCanceledContext(t *testing.T) {
	st := memstore.New()
	c := New(Options{Source: annotate.Static{Annotation: obamaAnnotation()}, Store: st})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Classify(ctx, "doc", "text"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if runs, _ := st.ListRuns(context.Background(), 10); len(runs) != 0 {
		t.Error("canceled runs must not be stored")
	}
}

func TestRunIDsAreUniqueAndSortable(t *testing.T) {
	c := New(Options{Source: annotate.Static{}})
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	var prev string
	for i := 0; i < 50; i++ {
		run, err := c.Classify(context.Background(), "doc", "x")
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if run.ID <= prev {
			t.Fatalf("IDs not increasing: %s after %s", run.ID, prev)
		}
		prev = run.ID
	}
}

func TestRunsWithoutStore(t *testing.T) {
	c := New(Options{})
	if _, err := c.Run(context.Background(), "x"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if runs, err := c.Runs(context.Background(), 5); err != nil || runs != nil {
		t.Errorf("unexpected %v, %v", runs, err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRunsListsStoredRuns(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Source: annotate.Static{}, Store: memstore.New()})

	first, _ := c.Classify(ctx, "a", "a")
	time.Sleep(2 * time.Millisecond)
	second, _ := c.ClassifyTokens(ctx, "b", "b")

	runs, err := c.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("unexpected runs %+v", runs)
	}

	got, err := c.Run(ctx, first.ID)
	if err != nil || got.Document != "a" {
		t.Errorf("Run: %+v, %v", got, err)
	}
}
