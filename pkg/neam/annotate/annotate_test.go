package annotate

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestAnnotationTokensFlatten(t *testing.T) {
	ann := Annotation{
		Sentences: []Sentence{
			{Tokens: []Token{{"Paris", "LOCATION"}, {"is", "O"}}},
			{},
			{Tokens: []Token{{"nice", "O"}}},
		},
	}

	expected := []Token{{"Paris", "LOCATION"}, {"is", "O"}, {"nice", "O"}}
	if got := ann.Tokens(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestAnnotationEmpty(t *testing.T) {
	if !(Annotation{}).Empty() {
		t.Error("zero annotation should be empty")
	}
	if (Annotation{Mentions: []Mention{{"PERSON", "Obama"}}}).Empty() {
		t.Error("annotation with mentions should not be empty")
	}
}

func TestStaticSource(t *testing.T) {
	want := Annotation{Mentions: []Mention{{"PERSON", "Obama"}}}
	src := Static{Annotation: want}

	got, err := src.Annotate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if SourceName(src) != "static" {
		t.Errorf("unexpected source name %q", SourceName(src))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Annotate(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLabelWords(t *testing.T) {
	words := strings.Fields("Barack Obama visited Paris.")
	mentions := []Mention{
		{Label: "PERSON", Text: "Barack Obama"},
		{Label: "LOCATION", Text: "Paris"},
	}

	expected := []Token{
		{"Barack", "PERSON"},
		{"Obama", "PERSON"},
		{"visited", Outside},
		{"Paris.", "LOCATION"},
	}
	if got := LabelWords(words, mentions, Outside); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %v, got %v", expected, got)
	}
}

func TestLabelWordsSkipsUnmatchedAndKeepsOrder(t *testing.T) {
	words := strings.Fields("Obama met Obama")
	mentions := []Mention{
		{Label: "PERSON", Text: "Obama"},
		{Label: "MISC", Text: "Ghostville"},
		{Label: "PERSON", Text: "Obama"},
		{Label: "PERSON", Text: "Obama"},
	}

	got := LabelWords(words, mentions, Outside)
	labels := []string{got[0].Label, got[1].Label, got[2].Label}
	if !reflect.DeepEqual(labels, []string{"PERSON", Outside, "PERSON"}) {
		t.Errorf("unexpected labels %v", labels)
	}
}

func TestLabelWordsEmpty(t *testing.T) {
	if got := LabelWords(nil, []Mention{{"PERSON", "x"}}, Outside); len(got) != 0 {
		t.Errorf("expected no tokens, got %v", got)
	}
}

type memCache struct {
	data map[string][]byte
	puts int
}

func (m *memCache) GetAnnotation(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) PutAnnotation(_ context.Context, key string, payload []byte) error {
	m.data[key] = payload
	m.puts++
	return nil
}

type countingSource struct {
	calls int
	ann   Annotation
	err   error
}

func (c *countingSource) Annotate(context.Context, string) (Annotation, error) {
	c.calls++
	return c.ann, c.err
}

func (c *countingSource) Name() string { return "counting" }

func TestCachedHitAndMiss(t *testing.T) {
	src := &countingSource{ann: Annotation{Mentions: []Mention{{"PERSON", "Obama"}}}}
	cache := &memCache{data: map[string][]byte{}}

	var results []string
	cached := NewCached(src, cache, nil).WithObserver(func(r string) { results = append(results, r) })
	ctx := context.Background()

	first, err := cached.Annotate(ctx, "Obama met Obama.")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	second, err := cached.Annotate(ctx, "Obama met Obama.")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	if src.calls != 1 {
		t.Errorf("expected one engine call, got %d", src.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached annotation differs: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(results, []string{"miss", "hit"}) {
		t.Errorf("unexpected observer results %v", results)
	}
	if cached.Name() != "counting" {
		t.Errorf("cached source should report wrapped name, got %q", cached.Name())
	}
}

func TestCachedDoesNotStoreEmptyOrErrors(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	ctx := context.Background()

	empty := NewCached(&countingSource{}, cache, nil)
	if _, err := empty.Annotate(ctx, "text"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	boom := errors.New("boom")
	failing := NewCached(&countingSource{err: boom}, cache, nil)
	if _, err := failing.Annotate(ctx, "text"); !errors.Is(err, boom) {
		t.Errorf("expected source error, got %v", err)
	}

	if cache.puts != 0 {
		t.Errorf("expected no cache writes, got %d", cache.puts)
	}
}

func TestCacheKeyDistinguishesSourceAndText(t *testing.T) {
	a := CacheKey("corenlp", "text")
	if a != CacheKey("corenlp", "text") {
		t.Error("cache key should be deterministic")
	}
	if a == CacheKey("llm", "text") {
		t.Error("cache key should depend on the source name")
	}
	if a == CacheKey("corenlp", "text!") {
		t.Error("cache key should depend on the text")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
