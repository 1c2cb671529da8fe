package agent

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"relaybot/internal/domain"
)

const (
	// SoftFallbackText is used when a backend answered without usable text.
	SoftFallbackText = "Sorry, I could not get a response from the agent."
	// FailureText is used when no backend answered at all.
	FailureText = "There was an error communicating with the AI agent."

	adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"
	defaultAttachmentType   = "application/octet-stream"
)

// Normalize converts a backend response into the single reply shape. soft
// reports that the backend gave no usable text and SoftFallbackText was used.
func Normalize(backend string, resp domain.BackendResponse) (reply domain.NormalizedReply, soft bool, err error) {
	switch r := resp.(type) {
	case *domain.StructuredResponse:
		if r == nil {
			break
		}
		return normalizeStructured(r)
	case *domain.WebhookResponse:
		if r == nil {
			break
		}
		reply, soft := normalizeWebhook(r)
		return reply, soft, nil
	}
	return domain.NormalizedReply{}, false, &domain.NormalizationError{
		Backend: backend,
		Err:     fmt.Errorf("unsupported response type %T", resp),
	}
}

// normalizeStructured passes attachments through natively.
func normalizeStructured(r *domain.StructuredResponse) (domain.NormalizedReply, bool, error) {
	text := strings.TrimSpace(r.Text)

	if r.Kind == domain.ReplyAttachments && len(r.Attachments) > 0 {
		atts := make([]domain.ReplyAttachment, 0, len(r.Attachments))
		for _, a := range r.Attachments {
			atts = append(atts, replyAttachment(a))
		}
		if text == "" {
			text = attachmentCaption(len(atts))
		}
		return domain.NormalizedReply{Text: text, Attachments: atts}, false, nil
	}

	if text == "" {
		return domain.NormalizedReply{Text: SoftFallbackText}, true, nil
	}
	return domain.NormalizedReply{Text: text}, false, nil
}

// normalizeWebhook uses the first output only and renders its attachment as
// a markdown link in the text instead of a native attachment.
func normalizeWebhook(r *domain.WebhookResponse) (domain.NormalizedReply, bool) {
	if len(r.Output) == 0 {
		return domain.NormalizedReply{Text: SoftFallbackText}, true
	}
	first := r.Output[0]

	// Only a missing or empty output counts as no answer; whitespace is the
	// workflow's reply and is sent as is.
	text, soft := first.Text, false
	if text == "" {
		text, soft = SoftFallbackText, true
	}
	if first.AttachmentURL != "" {
		text += "\n\n📎 [Download attachment](" + first.AttachmentURL + ")"
	}
	return domain.NormalizedReply{Text: text}, soft
}

func replyAttachment(a domain.Attachment) domain.ReplyAttachment {
	ra := domain.ReplyAttachment{
		ContentType: a.ContentType,
		ContentURL:  a.ContentURL,
		Name:        a.Name,
		Content:     a.Content,
	}
	if ra.ContentType == "" {
		ra.ContentType = inferContentType(a.ContentURL)
	}
	if ra.Name == "" {
		ra.Name = nameFromURL(a.ContentURL)
	}
	ra.Card = strings.EqualFold(ra.ContentType, adaptiveCardContentType)
	return ra
}

// inferContentType guesses from the URL path extension.
func inferContentType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return defaultAttachmentType
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return defaultAttachmentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		// drop parameters such as "; charset=utf-8"
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	return defaultAttachmentType
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(u.Path)
}

func attachmentCaption(n int) string {
	if n == 1 {
		return "Here is the requested attachment."
	}
	return fmt.Sprintf("Here are the %d requested attachments.", n)
}
