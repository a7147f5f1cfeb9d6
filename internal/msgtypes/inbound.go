package msgtypes

import "strings"

// Variant is the closed set of message kinds the indexing engine
// understands (§4.E). Replacing source-style downcasting on a typed-union
// tree, the accessor methods below return the variant's payload or a
// no-match sentinel (§9).
type Variant int

const (
	VariantUnknown Variant = iota
	VariantText
	VariantPhoto
	VariantVideo
	VariantSticker
	VariantDocument
	VariantAudio
	VariantVoice
	VariantVideoNote
	VariantLocation
	VariantContact
	VariantVenue
	VariantFunctional
)

func (v Variant) String() string {
	switch v {
	case VariantText:
		return "text"
	case VariantPhoto:
		return "photo"
	case VariantVideo:
		return "video"
	case VariantSticker:
		return "sticker"
	case VariantDocument:
		return "document"
	case VariantAudio:
		return "audio"
	case VariantVoice:
		return "voice"
	case VariantVideoNote:
		return "video_note"
	case VariantLocation:
		return "location"
	case VariantContact:
		return "contact"
	case VariantVenue:
		return "venue"
	case VariantFunctional:
		return "functional"
	default:
		return "unknown"
	}
}

// FileRef describes a downloadable file attached to a message (§4.E step 4).
type FileRef struct {
	LocalPath             string // non-empty iff local.is_downloading_completed
	RemoteID              string // remote file id, usable if LocalPath is empty
	HasRemote             bool
}

// PhotoPayload is the largest available photo size plus its caption.
type PhotoPayload struct {
	Caption string
	File    FileRef
	Ext     string // file extension, lower-cased, without the dot
}

// FilePayload is a generic downloadable-file payload (sticker, document,
// audio, video_note).
type FilePayload struct {
	Caption string
	File    FileRef
	Ext     string
}

// VoicePayload never downloads audio; it only reports metadata.
type VoicePayload struct {
	Caption  string
	MimeType string
	Duration int
}

// LocationPayload carries latitude/longitude.
type LocationPayload struct {
	Latitude  float64
	Longitude float64
}

// ContactPayload carries a shared contact card.
type ContactPayload struct {
	FirstName string
	Phone     string
}

// VenuePayload carries a shared venue/place.
type VenuePayload struct {
	Title   string
	Address string
}

// InboundMessage is the normalized, variant-tagged view of a platform
// message the indexing engine consumes.
type InboundMessage struct {
	Variant Variant

	ID       int64
	ChatID   int64
	SendTime int64
	Sender   Sender

	// ReplyToMessageID is NoReply (-1) when the message is not a reply.
	ReplyToMessageID int64

	text           string
	photo          *PhotoPayload
	sticker        *FilePayload
	document       *FilePayload
	audio          *FilePayload
	voice          *VoicePayload
	videoNote      *FilePayload
	location       *LocationPayload
	contact        *ContactPayload
	venue          *VenuePayload
	functionalName string
}

// NewTextMessage builds a VariantText InboundMessage.
func NewTextMessage(id, chatID int64, text string) *InboundMessage {
	return &InboundMessage{Variant: VariantText, ID: id, ChatID: chatID, ReplyToMessageID: NoReply, text: text}
}

// Text returns the message text and whether this message is the text
// variant.
func (m *InboundMessage) Text() (string, bool) {
	if m.Variant != VariantText {
		return "", false
	}
	return m.text, true
}

// WithText sets this message's text and variant.
func (m *InboundMessage) WithText(text string) *InboundMessage {
	m.Variant = VariantText
	m.text = text
	return m
}

// Photo returns the photo payload, or false if this is not a photo message.
func (m *InboundMessage) Photo() (*PhotoPayload, bool) {
	if m.Variant != VariantPhoto || m.photo == nil {
		return nil, false
	}
	return m.photo, true
}

// WithPhoto sets this message's photo payload and variant.
func (m *InboundMessage) WithPhoto(p *PhotoPayload) *InboundMessage {
	m.Variant = VariantPhoto
	m.photo = p
	return m
}

// Sticker returns the sticker payload, or false otherwise.
func (m *InboundMessage) Sticker() (*FilePayload, bool) {
	if m.Variant != VariantSticker || m.sticker == nil {
		return nil, false
	}
	return m.sticker, true
}

// WithSticker sets this message's sticker payload and variant.
func (m *InboundMessage) WithSticker(p *FilePayload) *InboundMessage {
	m.Variant = VariantSticker
	m.sticker = p
	return m
}

// Document returns the document payload, or false otherwise.
func (m *InboundMessage) Document() (*FilePayload, bool) {
	if m.Variant != VariantDocument || m.document == nil {
		return nil, false
	}
	return m.document, true
}

// WithDocument sets this message's document payload and variant.
func (m *InboundMessage) WithDocument(p *FilePayload) *InboundMessage {
	m.Variant = VariantDocument
	m.document = p
	return m
}

// Audio returns the audio payload, or false otherwise.
func (m *InboundMessage) Audio() (*FilePayload, bool) {
	if m.Variant != VariantAudio || m.audio == nil {
		return nil, false
	}
	return m.audio, true
}

// WithAudio sets this message's audio payload and variant.
func (m *InboundMessage) WithAudio(p *FilePayload) *InboundMessage {
	m.Variant = VariantAudio
	m.audio = p
	return m
}

// Voice returns the voice payload, or false otherwise.
func (m *InboundMessage) Voice() (*VoicePayload, bool) {
	if m.Variant != VariantVoice || m.voice == nil {
		return nil, false
	}
	return m.voice, true
}

// WithVoice sets this message's voice payload and variant.
func (m *InboundMessage) WithVoice(p *VoicePayload) *InboundMessage {
	m.Variant = VariantVoice
	m.voice = p
	return m
}

// VideoNote returns the video-note payload, or false otherwise.
func (m *InboundMessage) VideoNote() (*FilePayload, bool) {
	if m.Variant != VariantVideoNote || m.videoNote == nil {
		return nil, false
	}
	return m.videoNote, true
}

// WithVideoNote sets this message's video-note payload and variant.
func (m *InboundMessage) WithVideoNote(p *FilePayload) *InboundMessage {
	m.Variant = VariantVideoNote
	m.videoNote = p
	return m
}

// Location returns the location payload, or false otherwise.
func (m *InboundMessage) Location() (*LocationPayload, bool) {
	if m.Variant != VariantLocation || m.location == nil {
		return nil, false
	}
	return m.location, true
}

// WithLocation sets this message's location payload and variant.
func (m *InboundMessage) WithLocation(p *LocationPayload) *InboundMessage {
	m.Variant = VariantLocation
	m.location = p
	return m
}

// Contact returns the contact payload, or false otherwise.
func (m *InboundMessage) Contact() (*ContactPayload, bool) {
	if m.Variant != VariantContact || m.contact == nil {
		return nil, false
	}
	return m.contact, true
}

// WithContact sets this message's contact payload and variant.
func (m *InboundMessage) WithContact(p *ContactPayload) *InboundMessage {
	m.Variant = VariantContact
	m.contact = p
	return m
}

// Venue returns the venue payload, or false otherwise.
func (m *InboundMessage) Venue() (*VenuePayload, bool) {
	if m.Variant != VariantVenue || m.venue == nil {
		return nil, false
	}
	return m.venue, true
}

// WithVenue sets this message's venue payload and variant.
func (m *InboundMessage) WithVenue(p *VenuePayload) *InboundMessage {
	m.Variant = VariantVenue
	m.venue = p
	return m
}

// FunctionalName returns the first whitespace-delimited token of the
// functional-message variant name, or false if this isn't one.
func (m *InboundMessage) FunctionalName() (string, bool) {
	if m.Variant != VariantFunctional {
		return "", false
	}
	return m.functionalName, true
}

// WithFunctional sets this message as a functional chat-lifecycle event.
// Only the first whitespace-delimited token of name is kept (§4.E: a
// functional message's textifyed value is the first token of the variant
// name, e.g. "new_chat_title some extra detail" becomes "new_chat_title").
func (m *InboundMessage) WithFunctional(name string) *InboundMessage {
	m.Variant = VariantFunctional
	if fields := strings.Fields(name); len(fields) > 0 {
		name = fields[0]
	}
	m.functionalName = name
	return m
}

// IsVideo reports whether this message is the (unsupported, skip-extraction)
// video variant.
func (m *InboundMessage) IsVideo() bool {
	return m.Variant == VariantVideo
}
