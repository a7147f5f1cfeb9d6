package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider embeds text content via an OpenAI-compatible embeddings
// endpoint (embedding_config.provider = "openai", §4.D). The OpenAI
// embeddings API is text-only: a Content carrying an image or video path
// is rejected rather than silently dropped, so a misconfigured provider
// choice surfaces immediately instead of as missing search results.
type OpenAIProvider struct {
	client  *openai.Client
	modelID string
}

// NewOpenAIProvider builds an OpenAIProvider. modelID defaults to
// openai.AdaEmbeddingV2 when empty.
func NewOpenAIProvider(apiKey, modelID string) *OpenAIProvider {
	model := modelID
	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		modelID: model,
	}
}

// ID identifies this provider instance for logging.
func (p *OpenAIProvider) ID() string {
	return "openai-" + p.modelID
}

// MultimodalEmbedding embeds the text half of each content; it errors on
// any content carrying an image or video path.
func (p *OpenAIProvider) MultimodalEmbedding(ctx context.Context, contents []Content) ([]Embedding, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	texts := make([]string, len(contents))
	for i, c := range contents {
		if c.ImagePath != "" || c.VideoPath != "" {
			return nil, fmt.Errorf("embedding: openai provider does not support image/video content (content %d)", i)
		}
		texts[i] = c.Text
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai request: %w", err)
	}

	out := make([]Embedding, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, Embedding{Index: d.Index, Vector: d.Embedding, Type: "text"})
	}
	return out, nil
}
