// Package messaging defines the external messaging client interface
// (§6: getUser, getMessage, getMessages, getChat, downloadFile) and a
// gopkg.in/telebot.v4-backed Telegram adapter implementing it.
package messaging

import (
	"context"

	"github.com/rdxlab/tgdb/internal/msgtypes"
)

// ChatInfo is the subset of chat metadata the indexing engine needs.
type ChatInfo struct {
	ID    int64
	Title string
	Type  string
}

// Client is the external interface the indexing engine drives to read
// platform messages and media (§6). A bot-API-backed implementation can
// only observe messages as they arrive or were previously cached — it
// has no general "fetch any historical message by id" call, unlike the
// original MTProto client — so GetMessage/GetMessages here are served
// from whatever the adapter has cached locally (§9 Open Question,
// resolved in DESIGN.md).
type Client interface {
	// GetUser resolves a user id to its current display identity.
	GetUser(ctx context.Context, userID int64) (*msgtypes.Sender, error)

	// GetMessage returns a single message from chatID, if known.
	GetMessage(ctx context.Context, chatID, messageID int64) (*msgtypes.InboundMessage, bool, error)

	// GetMessages returns every known message in chatID with id in
	// [fromID, toID], ascending.
	GetMessages(ctx context.Context, chatID, fromID, toID int64) ([]*msgtypes.InboundMessage, error)

	// GetChat resolves chat metadata by id.
	GetChat(ctx context.Context, chatID int64) (*ChatInfo, error)

	// DownloadFile fetches remoteID's bytes into destPath.
	DownloadFile(ctx context.Context, remoteID, destPath string) error

	// Listen registers onMessage to be invoked for every inbound message
	// the adapter observes from this point on, and starts polling/serving
	// updates. It blocks until ctx is canceled.
	Listen(ctx context.Context, onMessage func(*msgtypes.InboundMessage)) error
}
