package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/domain"
)

// Webhook is the fallback backend: a workflow webhook that receives the raw
// turn plus the detector annotations.
type Webhook struct {
	url      string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

type WebhookConfig struct {
	URL      string
	Username string // basic auth is sent only when both are set
	Password string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// URL returns the configured endpoint, for health reporting.
func (w *Webhook) URL() string { return w.url }

// Healthy reports configuration only; the webhook has no probe endpoint and
// a test POST would trigger the workflow.
func (w *Webhook) Healthy(context.Context) error { return nil }

const fileDetectionKey = "_fileDetection"

// webhookPayload is the turn with the annotations merged in under
// "_fileDetection". Used when the inbound activity JSON is not available.
type webhookPayload struct {
	domain.Turn
	FileDetection domain.FileDetection `json:"_fileDetection"`
}

type webhookOutput struct {
	Output     string `json:"output"`
	Attachment *struct {
		URL string `json:"url"`
	} `json:"attachment"`
}

// buildPayload forwards the inbound activity as received, so fields Turn
// does not model still reach the workflow, with the annotations added.
func buildPayload(req domain.EnrichedRequest) (any, error) {
	if len(req.Turn.Raw) > 0 {
		var activity map[string]json.RawMessage
		if err := json.Unmarshal(req.Turn.Raw, &activity); err == nil && activity != nil {
			detection, err := json.Marshal(req.Detection)
			if err != nil {
				return nil, err
			}
			activity[fileDetectionKey] = detection
			return activity, nil
		}
	}
	return webhookPayload{Turn: req.Turn, FileDetection: req.Detection}, nil
}

func (w *Webhook) Send(ctx context.Context, req domain.EnrichedRequest) (domain.BackendResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	payload, err := buildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("%s: encode payload: %w", w.Name(), err)
	}
	data, err := postJSON(ctx, w.client, w.Name(), w.url, payload, func(r *http.Request) {
		if w.username != "" && w.password != "" {
			r.SetBasicAuth(w.username, w.password)
		}
	})
	if err != nil {
		return nil, err
	}
	w.logger.Debug("webhook replied", "conversation", req.Turn.ConversationID(), "bytes", len(data))

	return parseWebhookReply(w.Name(), data)
}

// parseWebhookReply accepts any JSON body. Only an object whose "output" is
// an array of items yields outputs; every other shape (empty body, bare
// array, string output) is an empty response and ends in the soft reply.
// Bytes that are not JSON at all are a NormalizationError.
func parseWebhookReply(backend string, data []byte) (*domain.WebhookResponse, error) {
	resp := &domain.WebhookResponse{Output: []domain.WebhookOutput{}}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return resp, nil
	}
	if !json.Valid(data) {
		return nil, &domain.NormalizationError{Backend: backend, Err: errors.New("webhook reply is not JSON")}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return resp, nil
	}
	var items []webhookOutput
	if err := json.Unmarshal(obj["output"], &items); err != nil {
		return resp, nil
	}
	for _, item := range items {
		out := domain.WebhookOutput{Text: item.Output}
		if item.Attachment != nil {
			out.AttachmentURL = item.Attachment.URL
		}
		resp.Output = append(resp.Output, out)
	}
	return resp, nil
}
