package embedding

import "context"

// Provider computes multimodal embeddings for a batch of contents. By
// the time a Provider sees a batch, the text/image separation described
// in §4.D has already happened in the indexing engine's
// runEmbeddingBatch (the Dispatcher passes contents through unchanged),
// so each Content here carries at most one modality and yields exactly
// one Embedding, tagged with that modality's Type.
type Provider interface {
	ID() string
	MultimodalEmbedding(ctx context.Context, contents []Content) ([]Embedding, error)
}
