package indexengine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rdxlab/tgdb/internal/embedding"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/vectorindex"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// SearchHit is one ranked search result, resolved back to the record it
// came from (§4.E E3: "map each hit key to a record via the Record Store;
// return {record, score}").
type SearchHit struct {
	Record *msgtypes.Record
	Score  float32
	Kind   string // "text" or "image"
}

// parseVectorKey splits a vector-index key of the form "{message_id}:type-{k}".
func parseVectorKey(key string) (int64, int, error) {
	parts := strings.SplitN(key, ":type-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("indexengine: malformed vector key %q", key)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("indexengine: malformed vector key %q: %w", key, err)
	}
	k, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("indexengine: malformed vector key %q: %w", key, err)
	}
	return id, k, nil
}

// toHits maps each raw vector-index result back to the record it came
// from via the Record Store (§4.E E3), dropping hits whose record no
// longer exists there (e.g. removed after the vector was indexed).
func (e *Engine) toHits(results []vectorindex.Result) []SearchHit {
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		id, k, err := parseVectorKey(r.Key)
		if err != nil {
			continue
		}

		rec, ok := e.Store.Get(id)
		if !ok {
			L_warn("indexengine: search hit has no matching record, dropping", "messageID", id)
			continue
		}

		kind := "text"
		if k == 1 {
			kind = "image"
		}
		hits = append(hits, SearchHit{Record: rec, Score: r.Score, Kind: kind})
	}
	return hits
}

// Search queries the text-kind vector space for the k nearest messages to
// the given text (E3: search).
func (e *Engine) Search(ctx context.Context, text string, k int) ([]SearchHit, error) {
	if e.Index == nil || e.dispatcher == nil {
		return nil, fmt.Errorf("indexengine: search requires vector index and embedding to be configured")
	}

	results, err := runEmbeddingBatch(ctx, e.dispatcher, []embedding.Content{{Text: text}})
	if err != nil {
		return nil, fmt.Errorf("indexengine: embed query: %w", err)
	}
	if len(results) == 0 || len(results[0].Text) == 0 {
		return nil, fmt.Errorf("indexengine: embedding service returned no vector for query")
	}

	return e.toHits(e.Index.Search(results[0].Text, k)), nil
}

// SearchImage queries the image-kind vector space for the k nearest
// messages to the image at path (E3: search_image). Fails fast if the
// embedding provider doesn't produce aligned image/text vectors, since an
// unaligned image vector cannot be meaningfully compared to stored
// vectors in the same space (§9 design note ii).
func (e *Engine) SearchImage(ctx context.Context, path string, k int) ([]SearchHit, error) {
	if e.Index == nil || e.dispatcher == nil {
		return nil, fmt.Errorf("indexengine: search_image requires vector index and embedding to be configured")
	}
	if !e.alignedImage {
		return nil, fmt.Errorf("indexengine: configured embedding provider does not support aligned image search")
	}

	results, err := runEmbeddingBatch(ctx, e.dispatcher, []embedding.Content{{ImagePath: path}})
	if err != nil {
		return nil, fmt.Errorf("indexengine: embed query image: %w", err)
	}
	if len(results) == 0 || len(results[0].Image) == 0 {
		return nil, fmt.Errorf("indexengine: embedding service returned no vector for query image")
	}

	return e.toHits(e.Index.Search(results[0].Image, k)), nil
}

// SearchMultimodal asks the dispatcher for both the text and (if the
// provider supports aligned image embeddings) image vectors of a combined
// query, but queries the vector index with the Text-kind vector only —
// text is treated as the primary channel (§4.E E3, §9 design note ii).
func (e *Engine) SearchMultimodal(ctx context.Context, text, imagePath string, k int) ([]SearchHit, error) {
	if e.Index == nil || e.dispatcher == nil {
		return nil, fmt.Errorf("indexengine: search_multimodal requires vector index and embedding to be configured")
	}

	content := embedding.Content{Text: text}
	if e.alignedImage {
		content.ImagePath = imagePath
	}

	results, err := runEmbeddingBatch(ctx, e.dispatcher, []embedding.Content{content})
	if err != nil {
		return nil, fmt.Errorf("indexengine: embed multimodal query: %w", err)
	}
	if len(results) == 0 || len(results[0].Text) == 0 {
		return nil, fmt.Errorf("indexengine: embedding service returned no vector for query")
	}

	return e.toHits(e.Index.Search(results[0].Text, k)), nil
}
