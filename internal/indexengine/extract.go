package indexengine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rdxlab/tgdb/internal/media"
	"github.com/rdxlab/tgdb/internal/msgtypes"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// extractContent fills rec.TextifyedContents per msg's variant (§4.E step
// 2-3) and returns the resolved local image path, if any, for callers
// that want to embed it (step 7). Returns errSkipMessage for variants
// that should not produce a record at all.
func (e *Engine) extractContent(ctx context.Context, msg *msgtypes.InboundMessage, rec *msgtypes.Record) (string, error) {
	switch msg.Variant {
	case msgtypes.VariantText:
		text, _ := msg.Text()
		rec.TextifyedContents["text"] = text
		return "", nil

	case msgtypes.VariantPhoto:
		payload, _ := msg.Photo()
		if payload.Caption != "" {
			rec.TextifyedContents["text"] = payload.Caption
		}
		return e.extractImageLike(ctx, payload.File, payload.Ext, rec)

	case msgtypes.VariantSticker:
		payload, _ := msg.Sticker()
		if payload.Caption != "" {
			rec.TextifyedContents["text"] = payload.Caption
		}
		return e.extractImageLike(ctx, payload.File, payload.Ext, rec)

	case msgtypes.VariantVideoNote:
		payload, _ := msg.VideoNote()
		return e.extractImageLike(ctx, payload.File, payload.Ext, rec)

	case msgtypes.VariantDocument:
		payload, _ := msg.Document()
		if payload.Caption != "" {
			rec.TextifyedContents["text"] = payload.Caption
		}
		localPath, err := e.resolveFile(ctx, payload.File, payload.Ext)
		if err != nil {
			L_warn("indexengine: could not resolve document file", "err", err)
			return "", nil
		}
		rec.TextifyedContents["document"] = localPath
		return "", nil

	case msgtypes.VariantAudio:
		payload, _ := msg.Audio()
		if payload.Caption != "" {
			rec.TextifyedContents["text"] = payload.Caption
		}
		localPath, err := e.resolveFile(ctx, payload.File, payload.Ext)
		if err != nil {
			L_warn("indexengine: could not resolve audio file", "err", err)
			return "", nil
		}
		rec.TextifyedContents["audio"] = localPath
		return "", nil

	case msgtypes.VariantVoice:
		payload, _ := msg.Voice()
		if payload.Caption != "" {
			rec.TextifyedContents["text"] = payload.Caption
		}
		rec.TextifyedContents["voice"] = fmt.Sprintf("MIME type: %s, duration: %ds", payload.MimeType, payload.Duration)
		return "", nil

	case msgtypes.VariantLocation:
		loc, _ := msg.Location()
		rec.TextifyedContents["location"] = fmt.Sprintf("Latitude: %f, Longitude: %f", loc.Latitude, loc.Longitude)
		return "", nil

	case msgtypes.VariantContact:
		contact, _ := msg.Contact()
		rec.TextifyedContents["contact"] = fmt.Sprintf("Name: %s, Phone: %s", contact.FirstName, contact.Phone)
		return "", nil

	case msgtypes.VariantVenue:
		venue, _ := msg.Venue()
		rec.TextifyedContents["venue"] = fmt.Sprintf("Title: %s, Address: %s", venue.Title, venue.Address)
		return "", nil

	case msgtypes.VariantFunctional:
		name, _ := msg.FunctionalName()
		rec.TextifyedContents["functional_message"] = name
		return "", nil

	case msgtypes.VariantVideo:
		return "", fmt.Errorf("%w: full video messages are not indexed", errSkipMessage)

	default:
		return "", fmt.Errorf("%w: unrecognized message variant", errSkipMessage)
	}
}

// UpgradeImage implements the `/upgradedatabase` command's per-record
// work (§6): for a record missing image_file, refetch the message it
// came from and extract the largest photo's or sticker's local path.
// Returns ok=false if the message can no longer be resolved (e.g. the
// bot never observed it live) or isn't a photo/sticker.
func (e *Engine) UpgradeImage(ctx context.Context, chatID, messageID int64) (path string, ok bool, err error) {
	msg, found, err := e.Messaging.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return "", false, fmt.Errorf("indexengine: upgrade image: refetch message %d: %w", messageID, err)
	}
	if !found {
		return "", false, nil
	}

	switch msg.Variant {
	case msgtypes.VariantPhoto:
		payload, _ := msg.Photo()
		localPath, err := e.resolveFile(ctx, payload.File, payload.Ext)
		if err != nil {
			return "", false, nil
		}
		return localPath, true, nil
	case msgtypes.VariantSticker:
		payload, _ := msg.Sticker()
		localPath, err := e.resolveFile(ctx, payload.File, payload.Ext)
		if err != nil {
			return "", false, nil
		}
		return localPath, true, nil
	default:
		return "", false, nil
	}
}

// extractImageLike resolves a photo/sticker/video-note's file, runs OCR
// on it unless it's a webm or OCR is disabled, and stores the result
// under the "image" key. Webm payloads are never OCR'd and leave
// image_file unset (§4.E step 3).
func (e *Engine) extractImageLike(ctx context.Context, ref msgtypes.FileRef, ext string, rec *msgtypes.Record) (string, error) {
	localPath, err := e.resolveFile(ctx, ref, ext)
	if err != nil {
		L_warn("indexengine: could not resolve file, leaving image content unset", "err", err)
		return "", nil
	}

	if strings.HasSuffix(localPath, ".webm") {
		rec.TextifyedContents["image"] = ""
		return "", nil
	}

	localPath = e.optimizeImage(localPath)

	if text := e.runOCR(ctx, localPath); text != "" {
		rec.TextifyedContents["image"] = text
	}
	return localPath, nil
}

// optimizeImage MIME-sniffs localPath's bytes and, for a supported raster
// type that exceeds media.MaxDimension/media.MaxBytes, re-encodes it via
// media.Optimize and re-stores it under MediaDir before OCR/embedding see
// it (§4.E step 4, mirrors the source's image_file size handling). Any
// failure, or a file media doesn't recognize as a raster image (mp4 video
// notes, for instance), passes the original path through unchanged.
func (e *Engine) optimizeImage(localPath string) string {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return localPath
	}

	mimeType := media.DetectMIME(data)
	if !media.IsSupported(mimeType) {
		return localPath
	}

	img, err := media.Optimize(data)
	if err != nil {
		L_warn("indexengine: image optimize failed, using original", "file", localPath, "err", err)
		return localPath
	}
	if img.Size() == len(data) {
		return localPath
	}

	optimizedPath, err := media.Store(e.MediaDir, img)
	if err != nil {
		L_warn("indexengine: storing optimized image failed, using original", "file", localPath, "err", err)
		return localPath
	}
	return optimizedPath
}
