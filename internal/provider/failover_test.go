package provider

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"relaybot/internal/domain"
)

// mockBackend implements domain.Backend for testing.
type mockBackend struct {
	name    string
	healthy bool
	sendErr error
	resp    domain.BackendResponse
	calls   int
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockBackend) Send(ctx context.Context, req domain.EnrichedRequest) (domain.BackendResponse, error) {
	m.calls++
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return m.resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func textReply(s string) *domain.StructuredResponse {
	return &domain.StructuredResponse{Kind: domain.ReplyText, Text: s}
}

func TestFailoverChain_UsesFirstBackend(t *testing.T) {
	p1 := &mockBackend{name: "primary", resp: textReply("from-primary")}
	p2 := &mockBackend{name: "secondary", resp: textReply("from-secondary")}
	fc := NewFailoverChain([]domain.Backend{p1, p2}, testLogger())

	out, err := fc.Send(context.Background(), domain.EnrichedRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Backend != "primary" || out.Index != 0 {
		t.Fatalf("expected primary at index 0, got %s/%d", out.Backend, out.Index)
	}
	if p2.calls != 0 {
		t.Fatalf("secondary must not be called, got %d calls", p2.calls)
	}
}

func TestFailoverChain_FallsBackOnError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))

	p1 := &mockBackend{name: "primary", sendErr: &domain.BackendError{Backend: "primary", Kind: domain.BackendHTTP, StatusCode: 502}}
	p2 := &mockBackend{name: "secondary", resp: textReply("from-secondary")}
	fc := NewFailoverChain([]domain.Backend{p1, p2}, logger)

	out, err := fc.Send(context.Background(), domain.EnrichedRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Backend != "secondary" || out.Index != 1 {
		t.Fatalf("expected secondary at index 1, got %s/%d", out.Backend, out.Index)
	}
	if len(out.Failures) != 1 || out.Failures[0].Backend != "primary" {
		t.Fatalf("expected primary failure recorded, got %+v", out.Failures)
	}
	if !strings.Contains(logs.String(), "backend=primary") || !strings.Contains(logs.String(), "level=WARN") {
		t.Fatalf("expected WARN record for primary, got:\n%s", logs.String())
	}
}

func TestFailoverChain_AllBackendsFail(t *testing.T) {
	last := &domain.BackendError{Backend: "p2", Kind: domain.BackendTimeout, Err: context.DeadlineExceeded}
	p1 := &mockBackend{name: "p1", sendErr: errors.New("fail 1")}
	p2 := &mockBackend{name: "p2", sendErr: last}
	fc := NewFailoverChain([]domain.Backend{p1, p2}, testLogger())

	_, err := fc.Send(context.Background(), domain.EnrichedRequest{})
	if err == nil {
		t.Fatal("expected error when all backends fail")
	}
	var chainErr *ChainError
	if !errors.As(err, &chainErr) || len(chainErr.Failures) != 2 {
		t.Fatalf("expected ChainError with 2 failures, got %v", err)
	}
	var backendErr *domain.BackendError
	if !errors.As(err, &backendErr) || backendErr.Kind != domain.BackendTimeout {
		t.Fatalf("expected to unwrap to the last failure, got %v", err)
	}
	if p1.calls != 1 || p2.calls != 1 {
		t.Fatalf("each backend must be tried exactly once, got %d/%d", p1.calls, p2.calls)
	}
}

func TestFailoverChain_Empty(t *testing.T) {
	fc := NewFailoverChain(nil, testLogger())
	_, err := fc.Send(context.Background(), domain.EnrichedRequest{})
	if !errors.Is(err, domain.ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestFailoverChain_NilResponseCountsAsFailure(t *testing.T) {
	p1 := &mockBackend{name: "p1"}
	p2 := &mockBackend{name: "p2", resp: textReply("ok")}
	fc := NewFailoverChain([]domain.Backend{p1, p2}, testLogger())

	out, err := fc.Send(context.Background(), domain.EnrichedRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Backend != "p2" {
		t.Fatalf("expected p2, got %s", out.Backend)
	}
}

func TestFailoverChain_Health(t *testing.T) {
	p1 := &mockBackend{name: "sick", healthy: false}
	p2 := &mockBackend{name: "well", healthy: true}
	fc := NewFailoverChain([]domain.Backend{p1, p2}, testLogger())

	h := fc.Health(context.Background())
	if h["sick"] == nil || h["well"] != nil {
		t.Fatalf("unexpected health map: %v", h)
	}
}

func TestFailoverChain_Name(t *testing.T) {
	fc := NewFailoverChain([]domain.Backend{&mockBackend{name: "orchestrator"}, &mockBackend{name: "webhook"}}, testLogger())
	if name := fc.Name(); name != "failover(orchestrator→webhook)" {
		t.Fatalf("unexpected name %q", name)
	}
}
