// Package detect derives file-reference annotations from an inbound turn.
package detect

import (
	"regexp"

	"relaybot/internal/domain"
)

var (
	// hostedFilePattern matches links into the document hosting domains.
	hostedFilePattern = regexp.MustCompile(`(?i)https://[^\s]*\.(sharepoint\.com|microsoft\.com|office\.com)[^\s]*`)
	// chatLinkPattern matches chat-client deep links, which also carry files.
	chatLinkPattern = regexp.MustCompile(`(?i)https://teams\.microsoft\.com[^\s]*`)
)

// Detect scans the turn's text and attachments. It is pure: the same turn
// always yields the same annotations, and no slice in the result is nil.
func Detect(turn domain.Turn) domain.FileDetection {
	d := domain.FileDetection{
		DetectedFileURLs:        ScanText(turn.Text),
		AttachmentTypes:         make([]string, 0, len(turn.Attachments)),
		EntityTypes:             make([]string, 0, len(turn.Entities)),
		ProbableFileAttachments: []domain.Attachment{},
	}

	for _, att := range turn.Attachments {
		d.AttachmentTypes = append(d.AttachmentTypes, att.ContentType)
		if !IsTextContentType(att.ContentType) {
			d.HasNonTextAttachment = true
			if att.ContentURL != "" {
				d.ProbableFileAttachments = append(d.ProbableFileAttachments, att)
			}
		}
	}
	for _, ent := range turn.Entities {
		d.EntityTypes = append(d.EntityTypes, ent.Type)
	}
	return d
}

// ScanText returns every hosted-file match followed by every chat-link match,
// in order of appearance. A chat link matches both patterns and is reported
// twice; consumers see exactly what each pattern found.
func ScanText(text string) []string {
	urls := []string{}
	if text == "" {
		return urls
	}
	urls = append(urls, hostedFilePattern.FindAllString(text, -1)...)
	urls = append(urls, chatLinkPattern.FindAllString(text, -1)...)
	return urls
}

// IsTextContentType reports whether ct is one of the inline text types.
func IsTextContentType(ct string) bool {
	return ct == "text/plain" || ct == "text/html"
}
