package indexengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rdxlab/tgdb/internal/messaging"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/ocr"
	"github.com/rdxlab/tgdb/internal/record"
)

// fakeMessaging is a minimal messaging.Client stub for engine tests: it
// never needs to serve real Telegram traffic, only satisfy the calls
// IndexMessage/extractContent make.
type fakeMessaging struct {
	sender      *msgtypes.Sender
	downloadErr error
	downloaded  []string
}

func (f *fakeMessaging) GetUser(ctx context.Context, userID int64) (*msgtypes.Sender, error) {
	if f.sender == nil {
		return &msgtypes.Sender{Nickname: "tester", UserID: userID}, nil
	}
	return f.sender, nil
}

func (f *fakeMessaging) GetMessage(ctx context.Context, chatID, messageID int64) (*msgtypes.InboundMessage, bool, error) {
	return nil, false, nil
}

func (f *fakeMessaging) GetMessages(ctx context.Context, chatID, fromID, toID int64) ([]*msgtypes.InboundMessage, error) {
	return nil, nil
}

func (f *fakeMessaging) GetChat(ctx context.Context, chatID int64) (*messaging.ChatInfo, error) {
	return &messaging.ChatInfo{ID: chatID}, nil
}

func (f *fakeMessaging) DownloadFile(ctx context.Context, remoteID, destPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloaded = append(f.downloaded, remoteID)
	return os.WriteFile(destPath, []byte("downloaded-bytes"), 0640)
}

func (f *fakeMessaging) Listen(ctx context.Context, onMessage func(*msgtypes.InboundMessage)) error {
	return nil
}

func newTestEngine(t *testing.T, ocrClient *ocr.Client) (*Engine, *fakeMessaging) {
	t.Helper()
	store, err := record.Open(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fm := &fakeMessaging{}
	e := New(store, nil, ocrClient, fm, t.TempDir())
	return e, fm
}

func TestIndexMessageTextVariant(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	msg := msgtypes.NewTextMessage(msgtypes.ExternalID(1), 42, "hello world")
	msg.Sender = msgtypes.Sender{Nickname: "Ada", UserID: 7}

	if err := e.IndexMessage(context.Background(), msg, -1, 0); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}

	rec, ok := e.Store.Get(msgtypes.ExternalID(1))
	if !ok {
		t.Fatal("expected a record to be committed")
	}
	if rec.TextifyedContents["text"] != "hello world" {
		t.Fatalf("expected text content 'hello world', got %q", rec.TextifyedContents["text"])
	}
	if rec.ChatID != 42 {
		t.Fatalf("expected chatID 42, got %d", rec.ChatID)
	}
}

func TestIndexMessageIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	msg := msgtypes.NewTextMessage(msgtypes.ExternalID(1), 42, "hello")

	if err := e.IndexMessage(context.Background(), msg, -1, 0); err != nil {
		t.Fatalf("first index: %v", err)
	}
	if err := e.IndexMessage(context.Background(), msg, -1, 0); err != nil {
		t.Fatalf("second index: %v", err)
	}

	if e.Store.Len() != 1 {
		t.Fatalf("expected re-indexing the same message to overwrite, not duplicate: len=%d", e.Store.Len())
	}
}

func TestIndexMessageSkipsVideo(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	msg := &msgtypes.InboundMessage{Variant: msgtypes.VariantVideo, ID: msgtypes.ExternalID(1), ChatID: 1}

	if err := e.IndexMessage(context.Background(), msg, -1, 0); err != nil {
		t.Fatalf("expected video messages to be silently skipped, got error: %v", err)
	}
	if e.Store.Has(msgtypes.ExternalID(1)) {
		t.Fatal("expected no record to be committed for a skipped video message")
	}
}

func TestIndexMessageNilPlaceholder(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	id := msgtypes.ExternalID(5)

	if err := e.IndexMessage(context.Background(), nil, id, 9); err != nil {
		t.Fatalf("placeholder index: %v", err)
	}

	rec, ok := e.Store.Get(id)
	if !ok {
		t.Fatal("expected placeholder record to be committed")
	}
	if !rec.IsEmptyPlaceholder() {
		t.Fatal("expected placeholder record to be empty")
	}
}

func TestIndexMessageNilWithoutIDsIsCallerError(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if err := e.IndexMessage(context.Background(), nil, -1, 0); err == nil {
		t.Fatal("expected an error when neither a message nor ids are given")
	}
}

func TestExtractDocumentDownloadsAndRecordsPath(t *testing.T) {
	e, fm := newTestEngine(t, nil)

	msg := (&msgtypes.InboundMessage{}).WithDocument(&msgtypes.FilePayload{
		Caption: "a report",
		File:    msgtypes.FileRef{RemoteID: "doc-1", HasRemote: true},
		Ext:     "pdf",
	})
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	imageFile, err := e.extractContent(context.Background(), msg, rec)
	if err != nil {
		t.Fatalf("extractContent: %v", err)
	}
	if imageFile != "" {
		t.Fatalf("expected no image_file for a document, got %q", imageFile)
	}
	if rec.TextifyedContents["text"] != "a report" {
		t.Fatalf("expected caption under 'text', got %q", rec.TextifyedContents["text"])
	}
	if rec.TextifyedContents["document"] == "" {
		t.Fatal("expected document's local path to be recorded")
	}
	if len(fm.downloaded) != 1 || fm.downloaded[0] != "doc-1" {
		t.Fatalf("expected the document to be downloaded via remote id 'doc-1', got %v", fm.downloaded)
	}
}

func TestExtractVoiceRecordsMetadataOnly(t *testing.T) {
	e, fm := newTestEngine(t, nil)

	msg := (&msgtypes.InboundMessage{}).WithVoice(&msgtypes.VoicePayload{
		Caption:  "note",
		MimeType: "audio/ogg",
		Duration: 12,
	})
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	if _, err := e.extractContent(context.Background(), msg, rec); err != nil {
		t.Fatalf("extractContent: %v", err)
	}

	want := "MIME type: audio/ogg, duration: 12s"
	if rec.TextifyedContents["voice"] != want {
		t.Fatalf("voice metadata = %q, want %q", rec.TextifyedContents["voice"], want)
	}
	if rec.TextifyedContents["text"] != "note" {
		t.Fatalf("expected caption under 'text', got %q", rec.TextifyedContents["text"])
	}
	if len(fm.downloaded) != 0 {
		t.Fatal("expected voice messages never to be downloaded")
	}
}

func TestExtractLocationContactVenue(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	locMsg := (&msgtypes.InboundMessage{}).WithLocation(&msgtypes.LocationPayload{Latitude: 1.5, Longitude: -2.5})
	locRec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)
	if _, err := e.extractContent(context.Background(), locMsg, locRec); err != nil {
		t.Fatalf("location: %v", err)
	}
	if want := "Latitude: 1.500000, Longitude: -2.500000"; locRec.TextifyedContents["location"] != want {
		t.Fatalf("location = %q, want %q", locRec.TextifyedContents["location"], want)
	}

	contactMsg := (&msgtypes.InboundMessage{}).WithContact(&msgtypes.ContactPayload{FirstName: "Ada", Phone: "555"})
	contactRec := msgtypes.NewRecord(msgtypes.ExternalID(2), 1)
	if _, err := e.extractContent(context.Background(), contactMsg, contactRec); err != nil {
		t.Fatalf("contact: %v", err)
	}
	if want := "Name: Ada, Phone: 555"; contactRec.TextifyedContents["contact"] != want {
		t.Fatalf("contact = %q, want %q", contactRec.TextifyedContents["contact"], want)
	}

	venueMsg := (&msgtypes.InboundMessage{}).WithVenue(&msgtypes.VenuePayload{Title: "Cafe", Address: "Main St"})
	venueRec := msgtypes.NewRecord(msgtypes.ExternalID(3), 1)
	if _, err := e.extractContent(context.Background(), venueMsg, venueRec); err != nil {
		t.Fatalf("venue: %v", err)
	}
	if want := "Title: Cafe, Address: Main St"; venueRec.TextifyedContents["venue"] != want {
		t.Fatalf("venue = %q, want %q", venueRec.TextifyedContents["venue"], want)
	}
}

func TestExtractFunctionalMessage(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	msg := (&msgtypes.InboundMessage{}).WithFunctional("new_chat_title extra words")
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	if _, err := e.extractContent(context.Background(), msg, rec); err != nil {
		t.Fatalf("functional: %v", err)
	}
	if rec.TextifyedContents["functional_message"] != "new_chat_title" {
		t.Fatalf("functional_message = %q, want 'new_chat_title'", rec.TextifyedContents["functional_message"])
	}
}

func TestExtractUnknownVariantSkips(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	msg := &msgtypes.InboundMessage{Variant: msgtypes.VariantUnknown}
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	_, err := e.extractContent(context.Background(), msg, rec)
	if err == nil {
		t.Fatal("expected an error for an unrecognized variant")
	}
}

func TestExtractImageLikeSkipsOCRForWebm(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	localPath := filepath.Join(t.TempDir(), "note.webm")
	if err := os.WriteFile(localPath, []byte("not-a-real-video"), 0640); err != nil {
		t.Fatalf("write: %v", err)
	}

	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)
	imageFile, err := e.extractImageLike(context.Background(), msgtypes.FileRef{LocalPath: localPath}, "webm", rec)
	if err != nil {
		t.Fatalf("extractImageLike: %v", err)
	}
	if imageFile != "" {
		t.Fatalf("expected webm payloads to leave image_file unset, got %q", imageFile)
	}
	text, ok := rec.TextifyedContents["image"]
	if !ok || text != "" {
		t.Fatalf("expected an empty 'image' entry for a webm payload, got (%q, present=%v)", text, ok)
	}
}

// fakeOCRServer builds an *ocr.Client backed by an httptest server that
// always returns a single recognized text region.
func fakeOCRServer(t *testing.T, text string) *ocr.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]map[string]string{
			"0": {"rec_txt": text},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return ocr.New(srv.URL)
}

func TestExtractPhotoCaptionAndOCR(t *testing.T) {
	ocrClient := fakeOCRServer(t, "recognized text")
	e, _ := newTestEngine(t, ocrClient)

	localPath := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(localPath, []byte{0xFF, 0xD8, 0xFF, 0xE0}, 0640); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := (&msgtypes.InboundMessage{}).WithPhoto(&msgtypes.PhotoPayload{
		Caption: "look at this",
		File:    msgtypes.FileRef{LocalPath: localPath},
		Ext:     "jpg",
	})
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	imageFile, err := e.extractContent(context.Background(), msg, rec)
	if err != nil {
		t.Fatalf("extractContent: %v", err)
	}
	if imageFile == "" {
		t.Fatal("expected a resolved image_file path for a photo")
	}
	if rec.TextifyedContents["text"] != "look at this" {
		t.Fatalf("expected caption under 'text', got %q", rec.TextifyedContents["text"])
	}
	if rec.TextifyedContents["image"] != "recognized text" {
		t.Fatalf("expected OCR text under 'image', got %q", rec.TextifyedContents["image"])
	}
}

func TestExtractImageLikeDownloadFailureLeavesContentUnset(t *testing.T) {
	e, fm := newTestEngine(t, nil)
	fm.downloadErr = fmt.Errorf("network error")

	msg := (&msgtypes.InboundMessage{}).WithPhoto(&msgtypes.PhotoPayload{
		File: msgtypes.FileRef{RemoteID: "missing", HasRemote: true},
		Ext:  "jpg",
	})
	rec := msgtypes.NewRecord(msgtypes.ExternalID(1), 1)

	imageFile, err := e.extractContent(context.Background(), msg, rec)
	if err != nil {
		t.Fatalf("expected a download failure to degrade gracefully, not error: %v", err)
	}
	if imageFile != "" {
		t.Fatalf("expected empty image_file on download failure, got %q", imageFile)
	}
	if _, ok := rec.TextifyedContents["image"]; ok {
		t.Fatal("expected no image content when the file could not be resolved")
	}
}
