// Package agent turns one inbound turn into exactly one reply: it annotates
// the turn, remembers it, issues the integrations link, runs the backend
// chain and normalizes whatever came back.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/detect"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
)

// State is the terminal state of a dispatch.
type State string

const (
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// PlaceholderOrganizationID is used when neither the turn nor config carry one.
const PlaceholderOrganizationID = "a83e229a-7bda-4b7c-8969-4201c1382068"

// Chain runs the backends for one request. *provider.FailoverChain implements it.
type Chain interface {
	Send(ctx context.Context, req domain.EnrichedRequest) (provider.Outcome, error)
}

// LinkResolver issues the integrations link. *magiclink.Issuer implements it.
type LinkResolver interface {
	Resolve(identity, orgID string) domain.LinkResult
}

// Result is everything the channel needs to answer a turn.
type Result struct {
	ID        string                 `json:"id"`
	Reply     domain.NormalizedReply `json:"reply"`
	Prompt    string                 `json:"prompt"`
	Link      domain.LinkResult      `json:"link"`
	Backend   string                 `json:"backend,omitempty"`
	State     State                  `json:"state"`
	Soft      bool                   `json:"soft,omitempty"`
	Detection domain.FileDetection   `json:"detection"`
}

type DispatcherConfig struct {
	Chain    Chain
	Sessions domain.SessionStore // optional
	Links    LinkResolver        // optional; nil means links are never issued
	Prompt   *PromptBuilder      // optional
	Metrics  *metrics.Relay      // optional
	Logger   *slog.Logger

	// DefaultOrganizationID is used when a turn has no tenant id.
	DefaultOrganizationID string
	// TurnTimeout bounds the whole dispatch, backend calls included. Zero
	// means only the per-backend timeouts apply.
	TurnTimeout time.Duration
}

// Dispatcher is safe for concurrent use; each call owns its own request.
type Dispatcher struct {
	chain       Chain
	sessions    domain.SessionStore
	links       LinkResolver
	prompt      *PromptBuilder
	metrics     *metrics.Relay
	logger      *slog.Logger
	defaultOrg  string
	turnTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(nil, nil)
	}
	if cfg.DefaultOrganizationID == "" {
		cfg.DefaultOrganizationID = PlaceholderOrganizationID
	}
	return &Dispatcher{
		chain:       cfg.Chain,
		sessions:    cfg.Sessions,
		links:       cfg.Links,
		prompt:      cfg.Prompt,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		defaultOrg:  cfg.DefaultOrganizationID,
		turnTimeout: cfg.TurnTimeout,
	}
}

// Dispatch answers one turn. It never fails: every error ends in a reply
// with non-empty text.
func (d *Dispatcher) Dispatch(ctx context.Context, turn domain.Turn) Result {
	return d.DispatchNotify(ctx, turn, nil)
}

// DispatchNotify is Dispatch with a hook that receives the interim prompt
// before any backend is called.
func (d *Dispatcher) DispatchNotify(ctx context.Context, turn domain.Turn, onPrompt func(prompt string)) Result {
	start := time.Now()
	res := Result{ID: uuid.NewString()}
	logger := d.logger.With("dispatch", res.ID, "conversation", turn.ConversationID())

	if d.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.turnTimeout)
		defer cancel()
	}

	res.Detection = detect.Detect(turn)
	if n := len(res.Detection.DetectedFileURLs); n > 0 || res.Detection.HasNonTextAttachment {
		logger.Debug("file references detected", "urls", n, "probable_files", len(res.Detection.ProbableFileAttachments))
	}

	d.remember(ctx, logger, turn)

	orgID := d.organizationID(turn)
	res.Link = d.issueLink(logger, turn, orgID)
	res.Prompt = d.prompt.Build(res.Link)
	if onPrompt != nil {
		onPrompt(res.Prompt)
	}

	req := domain.EnrichedRequest{Turn: turn, Detection: res.Detection, OrganizationID: orgID}
	d.run(ctx, logger, req, &res)

	d.metrics.ObserveTurn(time.Since(start), res.State == StateFailed, res.Soft)
	logger.Info("turn dispatched",
		"state", res.State,
		"backend", res.Backend,
		"link", res.Link.Available(),
		"latency", time.Since(start),
	)
	return res
}

func (d *Dispatcher) run(ctx context.Context, logger *slog.Logger, req domain.EnrichedRequest, res *Result) {
	if d.chain == nil {
		d.fail(logger, res, domain.ErrNoBackend)
		return
	}

	out, err := d.chain.Send(ctx, req)
	for _, f := range out.Failures {
		d.metrics.BackendAttempt(f.Backend)
		d.metrics.BackendFailure(f.Backend)
	}
	if err != nil {
		d.fail(logger, res, err)
		return
	}
	d.metrics.BackendAttempt(out.Backend)

	reply, soft, err := Normalize(out.Backend, out.Response)
	if err != nil {
		d.fail(logger, res, err)
		return
	}
	res.Reply = reply
	res.Soft = soft
	res.Backend = out.Backend
	res.State = StateSuccess
	if soft {
		logger.Warn("backend reply had no usable text", "backend", out.Backend)
	}
}

func (d *Dispatcher) fail(logger *slog.Logger, res *Result, err error) {
	res.Reply = domain.NormalizedReply{Text: FailureText}
	res.State = StateFailed
	if errors.Is(err, domain.ErrNoBackend) {
		logger.Error("no backend configured")
		return
	}
	logger.Error("dispatch failed", "err", err)
}

// remember records the turn; a store failure never fails the turn.
func (d *Dispatcher) remember(ctx context.Context, logger *slog.Logger, turn domain.Turn) {
	if d.sessions == nil || turn.ConversationID() == "" {
		return
	}
	if err := d.sessions.Put(ctx, turn.ConversationID(), turn); err != nil {
		d.metrics.SessionError()
		logger.Warn("session store write failed", "err", err)
	}
}

func (d *Dispatcher) organizationID(turn domain.Turn) string {
	if id := strings.TrimSpace(turn.TenantID()); id != "" {
		return id
	}
	return d.defaultOrg
}

// issueLink is best effort: any failure yields a LinkResult without URL.
func (d *Dispatcher) issueLink(logger *slog.Logger, turn domain.Turn, orgID string) domain.LinkResult {
	if d.links == nil {
		d.metrics.ObserveLink(false)
		return domain.LinkResult{Err: &domain.ConfigurationError{Field: "link", Reason: "link issuance disabled"}}
	}
	link := d.links.Resolve(LinkIdentity(turn), orgID)
	d.metrics.ObserveLink(link.Available())
	if link.Err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(link.Err, &cfgErr) {
			logger.Debug("link omitted", "reason", link.Err)
		} else {
			logger.Warn("link issuance failed, continuing without link", "err", link.Err)
		}
	}
	return link
}

// LinkIdentity picks the subject for the integrations link: the display
// name (an email on most tenants), then the directory object id, then the
// platform user id.
func LinkIdentity(turn domain.Turn) string {
	for _, s := range []string{turn.From.Name, turn.From.AADObjectID, turn.From.ID} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
