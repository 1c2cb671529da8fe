package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// Orchestrator is the primary backend: a structured chat API authenticated
// with a static x-api-key header.
type Orchestrator struct {
	apiBase string
	apiKey  string
	channel string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type OrchestratorConfig struct {
	APIBase string
	APIKey  string
	Channel string // platform tag, also used as the userId prefix
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Channel == "" {
		cfg.Channel = "msteams"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *Orchestrator) Name() string { return "orchestrator" }

// URL returns the API base, for health reporting.
func (o *Orchestrator) URL() string { return o.apiBase }

// Healthy probes GET {base}/health with a short timeout.
func (o *Orchestrator) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return transportError(o.Name(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("orchestrator: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orchestrator returned %d", resp.StatusCode)
	}
	return nil
}

type chatRequest struct {
	Message        string       `json:"message"`
	UserID         string       `json:"userId"`
	Channel        string       `json:"channel"`
	ConversationID string       `json:"conversationId"`
	OrganizationID string       `json:"organizationId"`
	Metadata       chatMetadata `json:"metadata"`
}

type chatMetadata struct {
	UserName      string               `json:"userName,omitempty"`
	TenantID      string               `json:"tenantId,omitempty"`
	ChannelID     string               `json:"channelId,omitempty"`
	ServiceURL    string               `json:"serviceUrl,omitempty"`
	Locale        string               `json:"locale,omitempty"`
	Attachments   []attachmentSummary  `json:"attachments"`
	FileDetection domain.FileDetection `json:"fileDetection"`
}

type attachmentSummary struct {
	ContentType string `json:"contentType"`
	Name        string `json:"name,omitempty"`
	ContentURL  string `json:"contentUrl,omitempty"`
}

// chatResponse is either {attachments: [...]} or {type, message|content}.
type chatResponse struct {
	Type        string              `json:"type"`
	Message     string              `json:"message"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
}

func (o *Orchestrator) buildRequest(req domain.EnrichedRequest) chatRequest {
	turn := req.Turn
	summaries := make([]attachmentSummary, 0, len(turn.Attachments))
	for _, a := range turn.Attachments {
		summaries = append(summaries, attachmentSummary{ContentType: a.ContentType, Name: a.Name, ContentURL: a.ContentURL})
	}
	return chatRequest{
		Message:        turn.Text,
		UserID:         o.channel + ":" + turn.From.ID,
		Channel:        o.channel,
		ConversationID: turn.ConversationID(),
		OrganizationID: req.OrganizationID,
		Metadata: chatMetadata{
			UserName:      turn.From.Name,
			TenantID:      turn.TenantID(),
			ChannelID:     turn.ChannelID,
			ServiceURL:    turn.ServiceURL,
			Locale:        turn.Locale,
			Attachments:   summaries,
			FileDetection: req.Detection,
		},
	}
}

func (o *Orchestrator) Send(ctx context.Context, req domain.EnrichedRequest) (domain.BackendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	data, err := postJSON(ctx, o.client, o.Name(), o.apiBase+"/api/chat/", o.buildRequest(req), func(r *http.Request) {
		r.Header.Set("x-api-key", o.apiKey)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("orchestrator replied", "conversation", req.Turn.ConversationID(), "latency", time.Since(start))

	return parseChatResponse(o.Name(), data)
}

// parseChatResponse decides the reply kind once, at the client boundary.
func parseChatResponse(backend string, data []byte) (*domain.StructuredResponse, error) {
	var raw chatResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &domain.NormalizationError{Backend: backend, Err: err}
	}

	text := raw.Message
	if text == "" {
		text = raw.Content
	}
	if len(raw.Attachments) > 0 {
		return &domain.StructuredResponse{Kind: domain.ReplyAttachments, Text: text, Attachments: raw.Attachments}, nil
	}
	return &domain.StructuredResponse{Kind: domain.ReplyText, Text: text}, nil
}
