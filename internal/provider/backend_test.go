package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/detect"
	"relaybot/internal/domain"
)

func sampleRequest() domain.EnrichedRequest {
	turn := domain.Turn{
		ID:           "act-1",
		Type:         "message",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/",
		Locale:       "en-US",
		From:         domain.Account{ID: "29:abc", Name: "alice@example.com"},
		Conversation: domain.Conversation{ID: "conv-1", TenantID: "tenant-9"},
		Text:         "summarize https://contoso.sharepoint.com/doc.pdf",
		Attachments: []domain.Attachment{
			{ContentType: "application/pdf", ContentURL: "https://files.example.com/a.pdf", Name: "a.pdf"},
		},
	}
	return domain.EnrichedRequest{Turn: turn, Detection: detect.Detect(turn), OrganizationID: "tenant-9"}
}

// --- Orchestrator ---

func TestOrchestrator_SendsStructuredRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key-1" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"type":"message","message":"hello back"}`))
	}))
	defer srv.Close()

	o := NewOrchestrator(OrchestratorConfig{APIBase: srv.URL + "/", APIKey: "key-1", Logger: testLogger()})
	resp, err := o.Send(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sr, ok := resp.(*domain.StructuredResponse)
	if !ok || sr.Kind != domain.ReplyText || sr.Text != "hello back" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["userId"] != "msteams:29:abc" || got["channel"] != "msteams" {
		t.Fatalf("unexpected identity fields: %v", got)
	}
	if got["conversationId"] != "conv-1" || got["organizationId"] != "tenant-9" {
		t.Fatalf("unexpected ids: %v", got)
	}
	meta := got["metadata"].(map[string]any)
	if meta["userName"] != "alice@example.com" || meta["tenantId"] != "tenant-9" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	atts := meta["attachments"].([]any)
	if len(atts) != 1 || atts[0].(map[string]any)["name"] != "a.pdf" {
		t.Fatalf("unexpected attachment summary: %v", atts)
	}
	fd := meta["fileDetection"].(map[string]any)
	if fd["hasNonHtmlAttachments"] != true {
		t.Fatalf("detection not forwarded: %v", fd)
	}
}

func TestParseChatResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind domain.ReplyKind
		wantText string
		wantAtts int
	}{
		{"message", `{"type":"message","message":"a"}`, domain.ReplyText, "a", 0},
		{"content", `{"type":"message","content":"b"}`, domain.ReplyText, "b", 0},
		{"empty", `{}`, domain.ReplyText, "", 0},
		{"attachments", `{"attachments":[{"contentType":"application/vnd.microsoft.card.adaptive","content":{"type":"AdaptiveCard"}}]}`, domain.ReplyAttachments, "", 1},
		{"empty attachment list is text", `{"attachments":[],"message":"c"}`, domain.ReplyText, "c", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, err := parseChatResponse("orchestrator", []byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sr.Kind != tt.wantKind || sr.Text != tt.wantText || len(sr.Attachments) != tt.wantAtts {
				t.Fatalf("got %+v", sr)
			}
		})
	}

	_, err := parseChatResponse("orchestrator", []byte(`<html>oops</html>`))
	var normErr *domain.NormalizationError
	if !errors.As(err, &normErr) {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
}

func TestOrchestrator_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	o := NewOrchestrator(OrchestratorConfig{APIBase: srv.URL, APIKey: "k", Logger: testLogger()})
	_, err := o.Send(context.Background(), sampleRequest())

	var be *domain.BackendError
	if !errors.As(err, &be) || be.Kind != domain.BackendHTTP || be.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected http BackendError, got %v", err)
	}
	if !strings.Contains(be.Body, "upstream exploded") {
		t.Fatalf("expected body excerpt, got %q", be.Body)
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	o := NewOrchestrator(OrchestratorConfig{APIBase: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond, Logger: testLogger()})
	_, err := o.Send(context.Background(), sampleRequest())

	var be *domain.BackendError
	if !errors.As(err, &be) || be.Kind != domain.BackendTimeout {
		t.Fatalf("expected timeout BackendError, got %v", err)
	}
}

func TestOrchestrator_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := NewOrchestrator(OrchestratorConfig{APIBase: url, APIKey: "k", Logger: testLogger()})
	_, err := o.Send(context.Background(), sampleRequest())

	var be *domain.BackendError
	if !errors.As(err, &be) || be.Kind != domain.BackendNetwork {
		t.Fatalf("expected network BackendError, got %v", err)
	}
}

func TestOrchestrator_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("x-api-key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	if err := NewOrchestrator(OrchestratorConfig{APIBase: srv.URL, APIKey: "good"}).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if err := NewOrchestrator(OrchestratorConfig{APIBase: srv.URL, APIKey: "bad"}).Healthy(context.Background()); err == nil {
		t.Fatal("expected error for bad key")
	}
}

// --- Webhook ---

func TestWebhook_SendsTurnWithDetection(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "n8n" || pass != "pw" {
			t.Errorf("expected basic auth, got %q/%q", user, pass)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Write([]byte(`{"output":[{"output":"hi there","attachment":{"url":"http://x/doc.pdf"}},{"output":"ignored"}]}`))
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Username: "n8n", Password: "pw", Logger: testLogger()})
	resp, err := wh.Send(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wr, ok := resp.(*domain.WebhookResponse)
	if !ok || len(wr.Output) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if wr.Output[0].Text != "hi there" || wr.Output[0].AttachmentURL != "http://x/doc.pdf" {
		t.Fatalf("unexpected first output %+v", wr.Output[0])
	}

	// turn fields sit at the top level next to _fileDetection
	if body["text"] != sampleRequest().Turn.Text {
		t.Fatalf("turn text not at top level: %v", body)
	}
	if body["conversation"].(map[string]any)["id"] != "conv-1" {
		t.Fatalf("conversation missing: %v", body["conversation"])
	}
	fd, ok := body["_fileDetection"].(map[string]any)
	if !ok {
		t.Fatalf("_fileDetection missing: %v", body)
	}
	if urls := fd["detectedFileUrls"].([]any); len(urls) != 1 {
		t.Fatalf("unexpected detected urls %v", urls)
	}
}

func TestWebhook_NoAuthWhenIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("basic auth must not be sent without a password")
		}
		w.Write([]byte(`{"output":[]}`))
	}))
	defer srv.Close()

	wh := NewWebhook(WebhookConfig{URL: srv.URL, Username: "only-user", Logger: testLogger()})
	resp, err := wh.Send(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.(*domain.WebhookResponse).Output) != 0 {
		t.Fatal("expected empty output")
	}
}

func TestWebhook_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewWebhook(WebhookConfig{URL: srv.URL, Logger: testLogger()}).Send(context.Background(), sampleRequest())
	var normErr *domain.NormalizationError
	if !errors.As(err, &normErr) || normErr.Backend != "webhook" {
		t.Fatalf("expected NormalizationError, got %v", err)
	}
}

func TestParseWebhookReply_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		outputs int
		wantErr bool
	}{
		{"output array", `{"output":[{"output":"a"},{"output":"b"}]}`, 2, false},
		{"empty body", ``, 0, false},
		{"whitespace body", " \n", 0, false},
		{"null", `null`, 0, false},
		{"no output key", `{"result":"x"}`, 0, false},
		{"string output", `{"output":"hi"}`, 0, false},
		{"bare array", `[{"output":"hi"}]`, 0, false},
		{"not json", `not json`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseWebhookReply("webhook", []byte(tt.body))
			if tt.wantErr {
				var normErr *domain.NormalizationError
				if !errors.As(err, &normErr) {
					t.Fatalf("expected NormalizationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(resp.Output) != tt.outputs {
				t.Fatalf("got %d outputs, want %d", len(resp.Output), tt.outputs)
			}
		})
	}
}

func TestWebhook_ForwardsRawActivity(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"output":[]}`))
	}))
	defer srv.Close()

	req := sampleRequest()
	req.Turn.Raw = json.RawMessage(`{"type":"message","text":"hi","textFormat":"plain","localTimestamp":"2026-01-01T10:00:00+01:00","_fileDetection":"stale"}`)

	if _, err := NewWebhook(WebhookConfig{URL: srv.URL, Logger: testLogger()}).Send(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["textFormat"] != "plain" || body["localTimestamp"] != "2026-01-01T10:00:00+01:00" {
		t.Fatalf("unmodeled fields not forwarded: %v", body)
	}
	fd, ok := body["_fileDetection"].(map[string]any)
	if !ok {
		t.Fatalf("_fileDetection not replaced by the annotations: %v", body["_fileDetection"])
	}
	if urls := fd["detectedFileUrls"].([]any); len(urls) != 1 {
		t.Fatalf("unexpected detected urls %v", urls)
	}
}

// --- Factory ---

func TestNewChain_Composition(t *testing.T) {
	cfg := config.Defaults()
	if n := NewChain(cfg, testLogger()).Len(); n != 0 {
		t.Fatalf("expected empty chain, got %d", n)
	}

	cfg.Fallback.WebhookURL = "https://n8n.example.com/hook"
	fc := NewChain(cfg, testLogger())
	if fc.Len() != 1 || fc.Backends()[0].Name() != "webhook" {
		t.Fatalf("expected webhook only, got %s", fc.Name())
	}

	cfg.Primary.APIBase = "https://orch.example.com"
	cfg.Primary.APIKey = "key"
	fc = NewChain(cfg, testLogger())
	if fc.Name() != "failover(orchestrator→webhook)" {
		t.Fatalf("unexpected chain %s", fc.Name())
	}

	// a URL without a key leaves the primary disabled
	cfg.Primary.APIKey = ""
	if NewChain(cfg, testLogger()).Len() != 1 {
		t.Fatal("primary must require both URL and key")
	}
}

func TestNewChain_SkipsUnusableBackends(t *testing.T) {
	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := config.Defaults()
	cfg.Primary.APIBase = "orchestrator.local"
	cfg.Primary.APIKey = "key"
	cfg.Fallback.WebhookURL = "n8n.local/hook"

	if n := NewChain(cfg, logger).Len(); n != 0 {
		t.Fatalf("expected no usable backend, got %d", n)
	}
	if !strings.Contains(logs.String(), "primary dispatch disabled") || !strings.Contains(logs.String(), "fallback dispatch disabled") {
		t.Fatalf("expected a warning per disabled backend, got:\n%s", logs.String())
	}
}

func TestNewChain_HalfSetBasicAuthIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); ok {
			t.Error("basic auth must not be sent with only a username")
		}
		w.Write([]byte(`{"output":[{"output":"ok"}]}`))
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Fallback.WebhookURL = srv.URL
	cfg.Fallback.Username = "user"

	fc := NewChain(cfg, testLogger())
	if fc.Len() != 1 {
		t.Fatalf("webhook should stay enabled, got %d backends", fc.Len())
	}
	if _, err := fc.Send(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
