// Package indexengine implements the Indexing Engine (§4.E): the
// per-message extractor and chat-range re-indexer that orchestrates the
// record store, vector index, embedding dispatcher, and the external
// messaging/OCR collaborators.
package indexengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rdxlab/tgdb/internal/batchpool"
	"github.com/rdxlab/tgdb/internal/embedding"
	"github.com/rdxlab/tgdb/internal/messaging"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/ocr"
	"github.com/rdxlab/tgdb/internal/record"
	"github.com/rdxlab/tgdb/internal/vectorindex"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// errSkipMessage marks a message that should be silently dropped: logged,
// no record written, not surfaced to the caller as a hard failure.
var errSkipMessage = errors.New("indexengine: message skipped")

// combinedEmbedding holds the text and/or image vector produced for one
// Content submitted to the dispatcher.
type combinedEmbedding struct {
	Text  []float32
	Image []float32
}

// textifyedCategoryOrder fixes the iteration order over a record's
// textifyed_contents when building the embedding's input text. §3 calls
// textifyed_contents an ordered mapping; ranging the underlying Go map
// directly would make the embed input's word order nondeterministic
// across runs even though the record itself was written deterministically.
var textifyedCategoryOrder = []string{
	"text", "image", "document", "audio", "voice",
	"location", "contact", "venue", "functional_message",
}

// Engine ties the record store, vector index, and external collaborators
// together. The embedding/vector-index fields are nil when their
// subsystem is disabled per configuration (§6, §7).
type Engine struct {
	Store     *record.Store
	Index     *vectorindex.Index
	OCR       *ocr.Client
	Messaging messaging.Client
	MediaDir  string

	alignedImage bool
	dispatcher   *embedding.Dispatcher
	embedPool    *batchpool.Pool[embedding.Content, combinedEmbedding]
}

// Option configures optional Engine subsystems.
type Option func(*Engine)

// WithEmbedding enables the embedding pipeline: a batch-debounce pool of
// window debounce feeding the given provider through a Dispatcher.
// alignedImage must be true only if provider's text/image vectors share
// one space (§9 design note ii).
func WithEmbedding(provider embedding.Provider, debounce time.Duration, alignedImage bool) Option {
	return func(e *Engine) {
		dispatcher := embedding.NewDispatcher(provider)
		e.alignedImage = alignedImage
		e.dispatcher = dispatcher
		e.embedPool = batchpool.New[embedding.Content, combinedEmbedding](debounce, func(ctx context.Context, batch []embedding.Content) ([]combinedEmbedding, error) {
			return runEmbeddingBatch(ctx, dispatcher, batch)
		})
	}
}

// New builds an Engine. store and messaging client are required; index,
// ocrClient, and the embedding pipeline are optional per configuration.
func New(store *record.Store, index *vectorindex.Index, ocrClient *ocr.Client, msgClient messaging.Client, mediaDir string, opts ...Option) *Engine {
	e := &Engine{
		Store:     store,
		Index:     index,
		OCR:       ocrClient,
		Messaging: msgClient,
		MediaDir:  mediaDir,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runEmbeddingBatch expands each Content carrying both text and an image
// into two sub-requests (text-only, image-only) before calling the
// dispatcher, then regroups the per-modality results back onto the
// original batch index (§4.D text/image separation). A dispatcher
// failure delivers an empty combinedEmbedding to every slot rather than
// propagating an error, per §9 design note (iii).
func runEmbeddingBatch(ctx context.Context, dispatcher *embedding.Dispatcher, batch []embedding.Content) ([]combinedEmbedding, error) {
	var subContents []embedding.Content
	var origin []int
	var kinds []string

	for i, c := range batch {
		if c.Text != "" {
			subContents = append(subContents, embedding.Content{Text: c.Text})
			origin = append(origin, i)
			kinds = append(kinds, "text")
		}
		if c.ImagePath != "" {
			subContents = append(subContents, embedding.Content{ImagePath: c.ImagePath})
			origin = append(origin, i)
			kinds = append(kinds, "image")
		}
	}

	results := make([]combinedEmbedding, len(batch))
	if len(subContents) == 0 {
		return results, nil
	}

	embeddings, err := dispatcher.Embed(ctx, subContents)
	if err != nil {
		L_error("indexengine: embedding batch failed, delivering empty vectors", "err", err)
		return results, nil
	}

	for j, emb := range embeddings {
		if j >= len(origin) {
			break
		}
		i := origin[j]
		switch kinds[j] {
		case "text":
			results[i].Text = emb.Vector
		case "image":
			results[i].Image = emb.Vector
		}
	}
	return results, nil
}

// IndexMessage ingests a single message (§4.E, E1). If id is -1 it is
// derived from msg.ID. A nil msg with valid id/chatID writes an empty
// placeholder record; a nil msg with no ids is a caller error.
func (e *Engine) IndexMessage(ctx context.Context, msg *msgtypes.InboundMessage, id, chatID int64) error {
	if msg == nil {
		if id == -1 || chatID == 0 {
			return fmt.Errorf("indexengine: index_message called with nil message and no ids")
		}
		placeholder := msgtypes.NewRecord(id, chatID)
		return e.Store.Put(id, placeholder)
	}

	if id == -1 {
		id = msg.ID
	}
	if chatID == 0 {
		chatID = msg.ChatID
	}

	sender, err := e.Messaging.GetUser(ctx, msg.Sender.UserID)
	if err != nil {
		L_warn("indexengine: sender lookup failed, skipping message", "messageID", id, "err", err)
		return nil
	}

	rec := msgtypes.NewRecord(id, chatID)
	rec.SendTime = msg.SendTime
	rec.Sender = *sender
	rec.ReplyToMessageID = msg.ReplyToMessageID

	imageFile, err := e.extractContent(ctx, msg, rec)
	if err != nil {
		if errors.Is(err, errSkipMessage) {
			L_info("indexengine: skipping message", "messageID", id, "reason", err)
			return nil
		}
		return fmt.Errorf("indexengine: extract content for message %d: %w", id, err)
	}
	rec.ImageFile = imageFile

	key := id
	if err := e.Store.Put(key, rec); err != nil {
		return fmt.Errorf("indexengine: commit record %d: %w", id, err)
	}

	e.embedRecord(ctx, id, rec)
	return nil
}

// embedRecord runs the embedding pipeline for a just-committed record.
// Failures are logged and never revert the record commit (§4.E step 7).
func (e *Engine) embedRecord(ctx context.Context, id int64, rec *msgtypes.Record) {
	if e.embedPool == nil || e.Index == nil {
		return
	}

	var parts []string
	for _, category := range textifyedCategoryOrder {
		if v := rec.TextifyedContents[category]; v != "" {
			parts = append(parts, v)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" && rec.ImageFile == "" {
		return
	}

	content := embedding.Content{Text: text}
	if e.alignedImage && rec.ImageFile != "" {
		content.ImagePath = rec.ImageFile
	}

	result, err := e.embedPool.AddTask(ctx, content)
	if err != nil {
		L_error("indexengine: embedding failed", "messageID", id, "err", err)
		return
	}

	if len(result.Text) > 0 {
		key := fmt.Sprintf("%d:type-0", id)
		if err := e.Index.Add(key, result.Text); err != nil {
			L_error("indexengine: vector add failed", "key", key, "err", err)
		}
	}
	if len(result.Image) > 0 {
		key := fmt.Sprintf("%d:type-1", id)
		if err := e.Index.Add(key, result.Image); err != nil {
			L_error("indexengine: vector add failed", "key", key, "err", err)
		}
	}
}

// resolveFile implements step 4: prefer an already-downloaded local
// path, else fetch the remote file into MediaDir, else fail.
func (e *Engine) resolveFile(ctx context.Context, ref msgtypes.FileRef, ext string) (string, error) {
	if ref.LocalPath != "" {
		return ref.LocalPath, nil
	}
	if !ref.HasRemote {
		return "", fmt.Errorf("indexengine: unknown file")
	}

	dest := fmt.Sprintf("%s/%s.%s", e.MediaDir, fileBaseName(ref.RemoteID), ext)
	if err := e.Messaging.DownloadFile(ctx, ref.RemoteID, dest); err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	return dest, nil
}

func fileBaseName(remoteID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, remoteID)
	return sanitized
}

// runOCR runs OCR on localPath unless OCR is disabled or the file is a
// webm (§4.E step 3: webm payloads are never OCR'd).
func (e *Engine) runOCR(ctx context.Context, localPath string) string {
	if e.OCR == nil || strings.HasSuffix(localPath, ".webm") {
		return ""
	}
	text, err := e.OCR.Recognize(ctx, localPath)
	if err != nil {
		L_warn("indexengine: ocr failed, leaving image text unset", "file", localPath, "err", err)
		return ""
	}
	return text
}
