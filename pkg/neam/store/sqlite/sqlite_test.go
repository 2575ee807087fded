package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/neam/pkg/neam/internalerr"
	"github.com/cognicore/neam/pkg/neam/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "neam.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	created := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	run := store.Run{
		ID:       "01HZX",
		Mode:     store.ModeSpan,
		Document: "journal-1901.txt",
		Source:   "corenlp",
		Output:   "Barack Obama visited <placeName>Paris</placeName>.",
		Entities: []store.Entity{
			{Label: "LOCATION", Tag: "placeName", Text: "Paris", Offset: 21},
		},
		Dropped:   1,
		CreatedAt: created,
	}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Output != run.Output || got.Document != run.Document || got.Source != "corenlp" {
		t.Errorf("run mismatch: %+v", got)
	}
	if got.Dropped != 1 || got.Mode != store.ModeSpan {
		t.Errorf("run mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, created)
	}
	if len(got.Entities) != 1 || got.Entities[0] != run.Entities[0] {
		t.Errorf("entities mismatch: %+v", got.Entities)
	}
}

func TestSQLiteSaveRunReplacesEntities(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	run := store.Run{
		ID:        "r1",
		Mode:      store.ModeSpan,
		Output:    "x",
		Entities:  []store.Entity{{Label: "A", Tag: "a", Text: "one"}, {Label: "B", Tag: "b", Text: "two"}},
		CreatedAt: time.Now(),
	}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	run.Entities = []store.Entity{{Label: "C", Tag: "c", Text: "three", Offset: 4}}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun (replace): %v", err)
	}

	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got.Entities) != 1 || got.Entities[0].Text != "three" {
		t.Errorf("entities not replaced: %+v", got.Entities)
	}
}

func TestSQLiteGetRunNotFound(t *testing.T) {
	_, err := openTestStore(t).GetRun(context.Background(), "nope")
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteSaveRunRequiresID(t *testing.T) {
	err := openTestStore(t).SaveRun(context.Background(), store.Run{Mode: store.ModeSpan})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestSQLiteListRuns(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Sub-second differences must still order correctly
	offsets := []time.Duration{0, 500 * time.Millisecond, 2 * time.Second}
	for i, id := range []string{"a", "b", "c"} {
		err := st.SaveRun(ctx, store.Run{ID: id, Mode: store.ModeRun, Output: id, CreatedAt: base.Add(offsets[i])})
		if err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("unexpected order %+v", runs)
	}

	all, err := st.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 runs, got %d", len(all))
	}
}

func TestSQLiteAnnotationCache(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.GetAnnotation(ctx, "k"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	if err := st.PutAnnotation(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("PutAnnotation: %v", err)
	}
	if err := st.PutAnnotation(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("PutAnnotation (replace): %v", err)
	}

	got, ok, err := st.GetAnnotation(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetAnnotation: ok=%v err=%v", ok, err)
	}
	if string(got) != "v2" {
		t.Errorf("Expected v2, got %s", got)
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := st.SaveRun(ctx, store.Run{ID: "keep", Mode: store.ModeSpan, Output: "o", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	if _, err := st.GetRun(ctx, "keep"); err != nil {
		t.Errorf("run lost after reopen: %v", err)
	}
}

func TestSQLiteConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	const workers, perWorker = 16, 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("run-%02d-%02d", w, i)
				run := store.Run{
					ID:        id,
					Mode:      store.ModeSpan,
					Output:    "o",
					Entities:  []store.Entity{{Label: "PERSON", Tag: "persName", Text: "Ada", Offset: 0}},
					CreatedAt: time.Now(),
				}
				errs := []error{
					st.SaveRun(ctx, run),
					st.PutAnnotation(ctx, id, []byte("payload")),
				}
				mu.Lock()
				for _, err := range errs {
					if err != nil {
						failures = append(failures, err)
					}
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("%d concurrent writes failed, first: %v", len(failures), failures[0])
	}

	runs, err := st.ListRuns(ctx, workers*perWorker+1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != workers*perWorker {
		t.Errorf("Expected %d runs, got %d", workers*perWorker, len(runs))
	}
	if _, ok, err := st.GetAnnotation(ctx, "run-15-19"); !ok || err != nil {
		t.Errorf("cache entry missing: ok=%v err=%v", ok, err)
	}
}
