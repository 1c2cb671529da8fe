package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// FailoverChain tries backends strictly in order and stops at the first
// success. Backends are never raced and failed calls are not retried.
type FailoverChain struct {
	backends []domain.Backend
	logger   *slog.Logger
}

func NewFailoverChain(backends []domain.Backend, logger *slog.Logger) *FailoverChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverChain{backends: backends, logger: logger}
}

func (fc *FailoverChain) Name() string {
	names := make([]string, len(fc.backends))
	for i, b := range fc.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Backends returns the chain members in dispatch order.
func (fc *FailoverChain) Backends() []domain.Backend { return fc.backends }

func (fc *FailoverChain) Len() int { return len(fc.backends) }

// Failure is one backend that did not answer.
type Failure struct {
	Backend string
	Err     error
}

// Outcome is a successful chain run.
type Outcome struct {
	Response domain.BackendResponse
	Backend  string
	Index    int
	Failures []Failure // backends tried before the one that answered
}

// ChainError reports that every backend failed. It unwraps to the last failure.
type ChainError struct {
	Failures []Failure
}

func (e *ChainError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Err.Error()
	}
	return "all backends failed: " + strings.Join(parts, "; ")
}

func (e *ChainError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Err
}

// Send runs the chain for one request.
func (fc *FailoverChain) Send(ctx context.Context, req domain.EnrichedRequest) (Outcome, error) {
	if len(fc.backends) == 0 {
		return Outcome{}, domain.ErrNoBackend
	}

	var failures []Failure
	for i, b := range fc.backends {
		resp, err := b.Send(ctx, req)
		if err == nil && resp == nil {
			err = &domain.NormalizationError{Backend: b.Name(), Err: fmt.Errorf("empty response")}
		}
		if err == nil {
			if i > 0 {
				fc.logger.Info("failover: used fallback backend",
					"backend", b.Name(),
					"attempt", i+1,
					"conversation", req.Turn.ConversationID(),
				)
			}
			return Outcome{Response: resp, Backend: b.Name(), Index: i, Failures: failures}, nil
		}
		failures = append(failures, Failure{Backend: b.Name(), Err: err})
		fc.logger.Warn("failover: backend failed",
			"backend", b.Name(),
			"attempt", i+1,
			"conversation", req.Turn.ConversationID(),
			"err", err,
		)
	}
	return Outcome{Failures: failures}, &ChainError{Failures: failures}
}

// Health probes every backend and returns the error per backend name.
func (fc *FailoverChain) Health(ctx context.Context) map[string]error {
	out := make(map[string]error, len(fc.backends))
	for _, b := range fc.backends {
		out[b.Name()] = b.Healthy(ctx)
	}
	return out
}
