package indexengine

import (
	"context"
	"testing"

	"github.com/rdxlab/tgdb/internal/embedding"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/vectorindex"
)

func TestParseVectorKey(t *testing.T) {
	id, k, err := parseVectorKey("1048576:type-1")
	if err != nil {
		t.Fatalf("parseVectorKey: %v", err)
	}
	if id != 1048576 || k != 1 {
		t.Fatalf("parseVectorKey = (%d, %d), want (1048576, 1)", id, k)
	}

	if _, _, err := parseVectorKey("not-a-key"); err == nil {
		t.Fatal("expected malformed key to error")
	}
}

// searchFakeProvider returns a fixed vector for every content, tagging
// text vs image embeddings by Content.ImagePath so the engine's
// runEmbeddingBatch split can be exercised end to end.
type searchFakeProvider struct{}

func (searchFakeProvider) ID() string { return "search-fake" }

func (searchFakeProvider) MultimodalEmbedding(ctx context.Context, contents []embedding.Content) ([]embedding.Embedding, error) {
	out := make([]embedding.Embedding, len(contents))
	for i, c := range contents {
		kind := "text"
		if c.ImagePath != "" {
			kind = "image"
		}
		out[i] = embedding.Embedding{Index: i, Vector: []float32{1, 0}, Type: kind}
	}
	return out, nil
}

func newSearchTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, _ := newTestEngine(t, nil)
	e.Index = vectorindex.New(2, vectorindex.MetricInnerProduct)
	e.dispatcher = embedding.NewDispatcher(searchFakeProvider{})
	e.alignedImage = true
	return e
}

func TestToHitsDropsHitsWithNoMatchingRecord(t *testing.T) {
	e := newSearchTestEngine(t)

	if err := e.Store.Put(5, msgtypes.NewRecord(5, 1)); err != nil {
		t.Fatalf("put: %v", err)
	}

	hits := e.toHits([]vectorindex.Result{
		{Key: "5:type-0", Score: 0.9},
		{Key: "9:type-1", Score: 0.5}, // no record at id 9
		{Key: "malformed", Score: 0.1},
	})

	if len(hits) != 1 {
		t.Fatalf("expected 1 surviving hit, got %d: %+v", len(hits), hits)
	}
	if hits[0].Record.MessageID != 5 || hits[0].Kind != "text" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
}

func TestSearchResolvesRecordsFromStore(t *testing.T) {
	e := newSearchTestEngine(t)

	rec := msgtypes.NewRecord(1, 1)
	rec.TextifyedContents["text"] = "hello"
	if err := e.Store.Put(1, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Index.Add("1:type-0", []float32{1, 0}); err != nil {
		t.Fatalf("index add: %v", err)
	}

	hits, err := e.Search(context.Background(), "hello", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Record == nil || hits[0].Record.MessageID != 1 {
		t.Fatalf("expected resolved record for message 1, got %+v", hits[0].Record)
	}
	if hits[0].Kind != "text" {
		t.Fatalf("expected text kind, got %q", hits[0].Kind)
	}
}

func TestSearchRequiresConfiguredIndexAndDispatcher(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if _, err := e.Search(context.Background(), "hello", 5); err == nil {
		t.Fatal("expected Search to fail without an index/dispatcher configured")
	}
}

func TestSearchImageRequiresAlignedProvider(t *testing.T) {
	e := newSearchTestEngine(t)
	e.alignedImage = false

	if _, err := e.SearchImage(context.Background(), "/tmp/a.jpg", 5); err == nil {
		t.Fatal("expected SearchImage to fail for an unaligned provider")
	}
}

func TestSearchImageResolvesImageKindRecords(t *testing.T) {
	e := newSearchTestEngine(t)

	rec := msgtypes.NewRecord(2, 1)
	rec.ImageFile = "/media/a.jpg"
	if err := e.Store.Put(2, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Index.Add("2:type-1", []float32{1, 0}); err != nil {
		t.Fatalf("index add: %v", err)
	}

	hits, err := e.SearchImage(context.Background(), "/tmp/query.jpg", 5)
	if err != nil {
		t.Fatalf("search image: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.MessageID != 2 || hits[0].Kind != "image" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestSearchMultimodalQueriesTextSpace(t *testing.T) {
	e := newSearchTestEngine(t)

	rec := msgtypes.NewRecord(3, 1)
	rec.TextifyedContents["text"] = "a cat photo"
	if err := e.Store.Put(3, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := e.Index.Add("3:type-0", []float32{1, 0}); err != nil {
		t.Fatalf("index add text: %v", err)
	}
	if err := e.Index.Add("3:type-1", []float32{0, 1}); err != nil {
		t.Fatalf("index add image: %v", err)
	}

	hits, err := e.SearchMultimodal(context.Background(), "a cat photo", "/tmp/cat.jpg", 5)
	if err != nil {
		t.Fatalf("search multimodal: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both vectors for message 3 to be candidates, got %d", len(hits))
	}
	if hits[0].Kind != "text" || hits[0].Score < hits[1].Score {
		t.Fatalf("expected the text-kind vector (aligned with the query) to rank first, got %+v", hits)
	}
}
