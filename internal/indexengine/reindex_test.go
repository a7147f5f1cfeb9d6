package indexengine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rdxlab/tgdb/internal/messaging"
	"github.com/rdxlab/tgdb/internal/msgtypes"
	"github.com/rdxlab/tgdb/internal/record"
)

// fakeReindexMessaging serves GetMessages from a fixed in-memory chat
// history, optionally bouncing the first N calls with a rate-limit error
// before succeeding (§8 scenario 7).
type fakeReindexMessaging struct {
	mu        sync.Mutex
	byID      map[int64]*msgtypes.InboundMessage
	rateLimit int // number of calls to fail with "retry after 2" before succeeding
	calls     int
}

func (f *fakeReindexMessaging) GetUser(ctx context.Context, userID int64) (*msgtypes.Sender, error) {
	return &msgtypes.Sender{Nickname: "tester", UserID: userID}, nil
}

func (f *fakeReindexMessaging) GetMessage(ctx context.Context, chatID, messageID int64) (*msgtypes.InboundMessage, bool, error) {
	return nil, false, nil
}

func (f *fakeReindexMessaging) GetMessages(ctx context.Context, chatID, fromID, toID int64) ([]*msgtypes.InboundMessage, error) {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls <= f.rateLimit
	f.mu.Unlock()

	if shouldFail {
		return nil, fmt.Errorf("retry after 2")
	}

	var out []*msgtypes.InboundMessage
	for id, m := range f.byID {
		if id >= fromID && id <= toID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeReindexMessaging) GetChat(ctx context.Context, chatID int64) (*messaging.ChatInfo, error) {
	return &messaging.ChatInfo{ID: chatID}, nil
}

func (f *fakeReindexMessaging) DownloadFile(ctx context.Context, remoteID, destPath string) error {
	return fmt.Errorf("reindex test: no downloads expected")
}

func (f *fakeReindexMessaging) Listen(ctx context.Context, onMessage func(*msgtypes.InboundMessage)) error {
	return nil
}

func newReindexTestEngine(t *testing.T, fm *fakeReindexMessaging) *Engine {
	t.Helper()
	store, err := record.Open(filepath.Join(t.TempDir(), "badger"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil, nil, fm, t.TempDir())
}

func TestIndexMessagesInChatFillsHoles(t *testing.T) {
	fm := &fakeReindexMessaging{byID: make(map[int64]*msgtypes.InboundMessage)}
	for _, n := range []int64{1, 2, 3} {
		id := msgtypes.ExternalID(n)
		fm.byID[id] = msgtypes.NewTextMessage(id, 9, fmt.Sprintf("message %d", n))
	}

	e := newReindexTestEngine(t, fm)

	var progressCalls []int64
	err := e.IndexMessagesInChat(context.Background(), 9, 3, func(chatID, current int64) {
		progressCalls = append(progressCalls, current)
	})
	if err != nil {
		t.Fatalf("IndexMessagesInChat: %v", err)
	}

	for _, n := range []int64{1, 2, 3} {
		id := msgtypes.ExternalID(n)
		rec, ok := e.Store.Get(id)
		if !ok {
			t.Fatalf("expected message %d to be indexed", n)
		}
		want := fmt.Sprintf("message %d", n)
		if rec.TextifyedContents["text"] != want {
			t.Fatalf("message %d: text = %q, want %q", n, rec.TextifyedContents["text"], want)
		}
	}
	if len(progressCalls) != 1 || progressCalls[0] != 3 {
		t.Fatalf("expected exactly one progress callback reporting current=3, got %v", progressCalls)
	}
}

func TestIndexMessagesInChatWritesPlaceholderForMissingMessage(t *testing.T) {
	fm := &fakeReindexMessaging{byID: make(map[int64]*msgtypes.InboundMessage)}
	// Sequence number 2's message no longer exists upstream.
	fm.byID[msgtypes.ExternalID(1)] = msgtypes.NewTextMessage(msgtypes.ExternalID(1), 9, "hi")

	e := newReindexTestEngine(t, fm)

	if err := e.IndexMessagesInChat(context.Background(), 9, 2, nil); err != nil {
		t.Fatalf("IndexMessagesInChat: %v", err)
	}

	rec, ok := e.Store.Get(msgtypes.ExternalID(2))
	if !ok {
		t.Fatal("expected a placeholder record for the missing message")
	}
	if !rec.IsEmptyPlaceholder() {
		t.Fatal("expected an empty placeholder record")
	}
}

func TestIndexMessagesInChatIsIdempotent(t *testing.T) {
	fm := &fakeReindexMessaging{byID: make(map[int64]*msgtypes.InboundMessage)}
	fm.byID[msgtypes.ExternalID(1)] = msgtypes.NewTextMessage(msgtypes.ExternalID(1), 9, "hi")

	e := newReindexTestEngine(t, fm)

	if err := e.IndexMessagesInChat(context.Background(), 9, 1, nil); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	firstLen := e.Store.Len()

	if err := e.IndexMessagesInChat(context.Background(), 9, 1, nil); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if e.Store.Len() != firstLen {
		t.Fatalf("expected re-running reindex to leave the store unchanged, got len %d vs %d", e.Store.Len(), firstLen)
	}
}

func TestFetchMessagesWithRetryWaitsOnRateLimit(t *testing.T) {
	fm := &fakeReindexMessaging{byID: make(map[int64]*msgtypes.InboundMessage), rateLimit: 1}
	fm.byID[msgtypes.ExternalID(1)] = msgtypes.NewTextMessage(msgtypes.ExternalID(1), 9, "hi")

	e := newReindexTestEngine(t, fm)

	// fetchMessagesWithRetry's real wait (N+5s) is too slow for a unit
	// test to sit through. A context that is already cancelled proves the
	// "retry after N" branch is taken (the call is rate-limited) without
	// requiring the test to block on the real wait: the retry loop must
	// observe ctx.Done() rather than returning the rate-limit error
	// straight through.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.fetchMessagesWithRetry(ctx, 9, msgtypes.ExternalID(1), msgtypes.ExternalID(1))
	if err == nil {
		t.Fatal("expected a cancelled context to abort the retry wait")
	}
	if fm.calls != 1 {
		t.Fatalf("expected exactly one rate-limited call before the cancelled context aborted the wait, got %d", fm.calls)
	}
}
