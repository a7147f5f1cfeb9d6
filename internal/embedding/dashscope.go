package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	. "github.com/rdxlab/tgdb/internal/logging"
)

const dashscopeEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/embeddings/multimodal-embedding/multimodal-embedding"

// DashScopeProvider calls Alibaba's DashScope multimodal embedding API
// directly over HTTP, grounded on the source DashScopeEmbeddingService.
type DashScopeProvider struct {
	apiKey     string
	modelID    string
	endpoint   string
	httpClient *http.Client
}

// NewDashScopeProvider builds a DashScopeProvider. modelID defaults to
// "multimodal-embedding-v1" when empty, matching the source's default.
func NewDashScopeProvider(apiKey, modelID string) *DashScopeProvider {
	if modelID == "" {
		modelID = "multimodal-embedding-v1"
	}
	return &DashScopeProvider{
		apiKey:   apiKey,
		modelID:  modelID,
		endpoint: dashscopeEndpoint,
		httpClient: &http.Client{
			Timeout: 50 * time.Second,
		},
	}
}

// ID identifies this provider instance for logging.
func (p *DashScopeProvider) ID() string {
	return "dashscope-" + p.modelID
}

type dashscopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Contents []map[string]string `json:"contents"`
	} `json:"input"`
	Parameters struct{} `json:"parameters"`
}

type dashscopeResponse struct {
	Output struct {
		Embeddings []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
			Type      string    `json:"type"`
		} `json:"embeddings"`
	} `json:"output"`
	RequestID string `json:"request_id"`
}

// MultimodalEmbedding sends contents as a single DashScope request and
// returns one Embedding per text/image sub-content found, retrying up to
// 3 times on transport error or non-200 status (§4.D).
func (p *DashScopeProvider) MultimodalEmbedding(ctx context.Context, contents []Content) ([]Embedding, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	req, err := buildDashScopeRequest(p.modelID, contents)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal dashscope request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			L_warn("embedding: retrying dashscope request", "attempt", attempt)
		}
		resp, err := p.once(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		L_error("embedding: dashscope request failed", "err", err)
	}
	return nil, fmt.Errorf("embedding: dashscope: %w", lastErr)
}

func (p *DashScopeProvider) once(ctx context.Context, body []byte) ([]Embedding, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashscope status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed dashscopeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]Embedding, 0, len(parsed.Output.Embeddings))
	for _, e := range parsed.Output.Embeddings {
		if e.Type != "text" && e.Type != "image" {
			return nil, fmt.Errorf("unsupported embedding type %q", e.Type)
		}
		out = append(out, Embedding{Index: e.Index, Vector: e.Embedding, Type: e.Type})
	}
	return out, nil
}

func buildDashScopeRequest(modelID string, contents []Content) (*dashscopeRequest, error) {
	req := &dashscopeRequest{Model: modelID}
	for _, c := range contents {
		entry := map[string]string{}

		if c.Text != "" {
			entry["text"] = c.Text
		}
		if c.ImagePath != "" {
			img, err := normalizeImage(c.ImagePath)
			if err != nil {
				return nil, err
			}
			entry["image"] = img
		}
		if c.VideoPath != "" {
			vid, err := normalizeVideo(c.VideoPath)
			if err != nil {
				return nil, err
			}
			entry["video"] = vid
		}

		if len(entry) == 0 {
			return nil, fmt.Errorf("embedding: empty content at index %d", len(req.Input.Contents))
		}
		req.Input.Contents = append(req.Input.Contents, entry)
	}
	return req, nil
}
