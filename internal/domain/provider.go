package domain

import "context"

// Backend is an AI service a turn can be dispatched to.
type Backend interface {
	Name() string
	Send(ctx context.Context, req EnrichedRequest) (BackendResponse, error)
	Healthy(ctx context.Context) error
}

// BackendResponse is either a *StructuredResponse or a *WebhookResponse.
// Clients parse the wire body into one of them once, at the client boundary.
type BackendResponse interface {
	backendResponse()
}

type ReplyKind string

const (
	ReplyText        ReplyKind = "text"
	ReplyAttachments ReplyKind = "attachments"
)

// StructuredResponse is the reply of the primary orchestrator API.
type StructuredResponse struct {
	Kind        ReplyKind
	Text        string
	Attachments []Attachment
}

// WebhookResponse is the reply of the fallback webhook.
type WebhookResponse struct {
	Output []WebhookOutput
}

type WebhookOutput struct {
	Text          string
	AttachmentURL string
}

func (*StructuredResponse) backendResponse() {}
func (*WebhookResponse) backendResponse()    {}
