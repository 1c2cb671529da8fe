package domain

import (
	"encoding/json"
	"time"
)

// Turn is one inbound chat message as delivered by the channel adapter.
// It mirrors the activity shape of the messaging platform so the fallback
// webhook can receive it unchanged. Treat it as immutable once received.
type Turn struct {
	ID           string          `json:"id,omitempty"`
	Type         string          `json:"type,omitempty"`
	ChannelID    string          `json:"channelId,omitempty"`
	ServiceURL   string          `json:"serviceUrl,omitempty"`
	Locale       string          `json:"locale,omitempty"`
	Timestamp    time.Time       `json:"timestamp,omitzero"`
	From         Account         `json:"from"`
	Recipient    *Account        `json:"recipient,omitempty"`
	Conversation Conversation    `json:"conversation"`
	Text         string          `json:"text"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	Entities     []Entity        `json:"entities,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	ChannelData  json.RawMessage `json:"channelData,omitempty"`

	// Raw is the activity JSON as received, including fields not modeled
	// above. It is forwarded to the webhook and never stored.
	Raw json.RawMessage `json:"-"`
}

// ConversationID returns the key used by the session store.
func (t Turn) ConversationID() string { return t.Conversation.ID }

// TenantID returns the organization identifier carried by the turn, if any.
func (t Turn) TenantID() string { return t.Conversation.TenantID }

type Account struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	AADObjectID string `json:"aadObjectId,omitempty"`
}

type Conversation struct {
	ID               string `json:"id" validate:"required"`
	TenantID         string `json:"tenantId,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// Attachment is a file or card attached to a turn or a reply.
type Attachment struct {
	ContentType  string          `json:"contentType"`
	ContentURL   string          `json:"contentUrl,omitempty"`
	Name         string          `json:"name,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
}

// Entity is a platform entity (mention, client info, ...) attached to a turn.
type Entity struct {
	Type      string   `json:"type"`
	Text      string   `json:"text,omitempty"`
	Mentioned *Account `json:"mentioned,omitempty"`
	Locale    string   `json:"locale,omitempty"`
	Platform  string   `json:"platform,omitempty"`
}

// FileDetection holds the annotations the detector derives from a turn.
// JSON names are what the fallback webhook expects under "_fileDetection".
type FileDetection struct {
	HasNonTextAttachment    bool         `json:"hasNonHtmlAttachments"`
	DetectedFileURLs        []string     `json:"detectedFileUrls"`
	AttachmentTypes         []string     `json:"attachmentTypes"`
	EntityTypes             []string     `json:"entityTypes"`
	ProbableFileAttachments []Attachment `json:"possibleFileAttachments"`
}

// EnrichedRequest is a turn plus its derived annotations. It is built once
// per dispatch and never mutated afterwards.
type EnrichedRequest struct {
	Turn           Turn
	Detection      FileDetection
	OrganizationID string
}

// ReplyAttachment is an attachment forwarded to the channel adapter.
type ReplyAttachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Name        string          `json:"name,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Card        bool            `json:"card,omitempty"` // renderable adaptive card
}

// NormalizedReply is the single canonical reply handed back to the channel.
// Text is never empty.
type NormalizedReply struct {
	Text        string            `json:"text"`
	Attachments []ReplyAttachment `json:"attachments,omitempty"`
}

// Attachment returns the first attachment of the reply, or nil.
func (r NormalizedReply) Attachment() *ReplyAttachment {
	if len(r.Attachments) == 0 {
		return nil
	}
	return &r.Attachments[0]
}

// LinkResult is the outcome of issuing a deep link for a turn. A missing link
// is a normal result, not a failure of the turn.
type LinkResult struct {
	URL string `json:"url,omitempty"`
	Err error  `json:"-"`
}

// Available reports whether a link was issued.
func (l LinkResult) Available() bool { return l.Err == nil && l.URL != "" }
