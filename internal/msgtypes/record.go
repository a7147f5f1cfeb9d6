// Package msgtypes holds the message record and the tagged-variant inbound
// message model shared by the record store, the indexing engine, and the
// messaging client adapter.
package msgtypes

import (
	"encoding/json"
	"fmt"
)

// NoReply is the sentinel value for Record.ReplyToMessageID when the
// message is not a reply.
const NoReply int64 = -1

// Sender identifies who sent a message.
type Sender struct {
	Nickname string  `json:"nickname"`
	UserID   int64   `json:"user_id"`
	Username *string `json:"username,omitempty"`
}

// Record is a structured summary of a single chat message (§3).
//
// Forward compatibility: unknown top-level JSON fields encountered on
// decode are captured in extra and re-emitted verbatim on encode, so a
// record written by a newer version round-trips through an older one
// without losing data.
type Record struct {
	MessageID          int64             `json:"message_id"`
	ChatID             int64             `json:"chat_id"`
	SendTime           int64             `json:"send_time"`
	Sender             Sender            `json:"sender"`
	ReplyToMessageID   int64             `json:"reply_to_message_id"`
	ImageFile          string            `json:"image_file,omitempty"`
	TextifyedContents  map[string]string `json:"textifyed_contents"`

	extra map[string]json.RawMessage
}

// recordAlias mirrors Record's declared fields; used to get a plain struct
// for the known-field half of MarshalJSON/UnmarshalJSON.
type recordAlias struct {
	MessageID         int64             `json:"message_id"`
	ChatID            int64             `json:"chat_id"`
	SendTime          int64             `json:"send_time"`
	Sender            Sender            `json:"sender"`
	ReplyToMessageID  int64             `json:"reply_to_message_id"`
	ImageFile         string            `json:"image_file,omitempty"`
	TextifyedContents map[string]string `json:"textifyed_contents"`
}

var knownRecordFields = map[string]bool{
	"message_id": true, "chat_id": true, "send_time": true, "sender": true,
	"reply_to_message_id": true, "image_file": true, "textifyed_contents": true,
}

// NewRecord constructs a Record with an initialized content map.
func NewRecord(messageID, chatID int64) *Record {
	return &Record{
		MessageID:         messageID,
		ChatID:            chatID,
		ReplyToMessageID:  NoReply,
		TextifyedContents: make(map[string]string),
	}
}

// IsEmptyPlaceholder reports whether this is a placeholder record created
// when a chat hole is filled but the message no longer exists.
func (r *Record) IsEmptyPlaceholder() bool {
	return len(r.TextifyedContents) == 0 && r.ImageFile == ""
}

// MarshalJSON implements forward-compatible encode: known fields plus any
// captured unknown fields from a prior decode.
func (r Record) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(recordAlias{
		MessageID:         r.MessageID,
		ChatID:            r.ChatID,
		SendTime:          r.SendTime,
		Sender:            r.Sender,
		ReplyToMessageID:  r.ReplyToMessageID,
		ImageFile:         r.ImageFile,
		TextifyedContents: r.TextifyedContents,
	})
	if err != nil {
		return nil, err
	}
	if len(r.extra) == 0 {
		return known, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.extra {
		if !knownRecordFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON implements forward-compatible decode: unrecognized fields
// are preserved in extra instead of being silently dropped.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record fields: %w", err)
	}

	r.MessageID = alias.MessageID
	r.ChatID = alias.ChatID
	r.SendTime = alias.SendTime
	r.Sender = alias.Sender
	r.ReplyToMessageID = alias.ReplyToMessageID
	r.ImageFile = alias.ImageFile
	r.TextifyedContents = alias.TextifyedContents
	if r.TextifyedContents == nil {
		r.TextifyedContents = make(map[string]string)
	}

	r.extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownRecordFields[k] {
			r.extra[k] = v
		}
	}
	return nil
}

// ExternalID derives the storage/RPC key for chat sequence number n.
// The shift-by-20 mirrors the source platform's packing of internal
// version bits; the core treats it as an opaque derivation.
func ExternalID(n int64) int64 {
	return n << 20
}

// SequenceNumber is the inverse of ExternalID.
func SequenceNumber(id int64) int64 {
	return id >> 20
}
