package embedding

import (
	"context"
	"fmt"
	"time"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// MaxBatch is the largest number of contents sent to a provider in a
// single request (§4.D).
const MaxBatch = 20

// interBatchSleep is how long the dispatcher pauses between successive
// batches within the same Embed call, to stay under provider rate limits.
const interBatchSleep = 1 * time.Second

// Dispatcher sends content batches to a Provider, splitting oversized
// batches and retrying transient failures. It is the synchronous core
// that the batch-debounce pool (§4.C) feeds from coalesced AddTask calls.
type Dispatcher struct {
	provider Provider
}

// NewDispatcher wraps provider in a Dispatcher.
func NewDispatcher(provider Provider) *Dispatcher {
	return &Dispatcher{provider: provider}
}

// Embed computes embeddings for every content, transparently paging
// through MaxBatch-sized sub-batches with an inter-batch sleep and up to
// 3 retries (4 attempts in all) per sub-batch (§4.D).
func (d *Dispatcher) Embed(ctx context.Context, contents []Content) ([]Embedding, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	var all []Embedding
	for start := 0; start < len(contents); start += MaxBatch {
		end := start + MaxBatch
		if end > len(contents) {
			end = len(contents)
		}
		batch := contents[start:end]

		embeddings, err := d.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch [%d:%d]: %w", start, end, err)
		}
		for i := range embeddings {
			embeddings[i].Index += start
		}
		all = append(all, embeddings...)

		if end < len(contents) {
			select {
			case <-time.After(interBatchSleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return all, nil
}

func (d *Dispatcher) embedBatchWithRetry(ctx context.Context, batch []Content) ([]Embedding, error) {
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		if attempt > 0 {
			L_warn("embedding: retrying batch", "provider", d.provider.ID(), "attempt", attempt)
		}
		embeddings, err := d.provider.MultimodalEmbedding(ctx, batch)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err
		L_error("embedding: batch failed", "provider", d.provider.ID(), "err", err)
	}
	return nil, lastErr
}
