// Package magiclink issues signed, time-bound deep links used to finish
// account linking outside the chat channel. Tokens are HS256 JWTs; they are
// never stored and this package does not verify them.
package magiclink

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"relaybot/internal/domain"
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = 15 * time.Minute
	// MinSecretLen is the secret length below which tokens are still issued
	// but a warning is logged.
	MinSecretLen = 32

	// PlaceholderOrganizationID stands in for a missing tenant id.
	PlaceholderOrganizationID = "a83e229a-7bda-4b7c-8969-4201c1382068"

	claimSubject      = "sub"
	claimOrganization = "org"
)

// Issue builds {baseDomain}?token=<signed token> for identity and orgID with
// the default TTL.
func Issue(identity, orgID, baseDomain, secret string) (string, error) {
	return issue(identity, orgID, baseDomain, secret, DefaultTTL, time.Now())
}

func issue(identity, orgID, baseDomain, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", &domain.ConfigurationError{Field: "link.secret", Reason: "signing secret is not set"}
	}
	baseDomain = strings.TrimSpace(baseDomain)
	if baseDomain == "" {
		return "", &domain.ConfigurationError{Field: "link.domain", Reason: "base domain is not set"}
	}
	if u, err := url.Parse(baseDomain); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &domain.ConfigurationError{Field: "link.domain", Reason: "base domain is not an http(s) URL"}
	}
	if strings.TrimSpace(identity) == "" {
		return "", fmt.Errorf("identity is required")
	}
	if strings.TrimSpace(orgID) == "" {
		orgID = PlaceholderOrganizationID
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now = now.UTC()
	claims := jwt.MapClaims{
		claimSubject:      identity,
		claimOrganization: orgID,
		"iat":             now.Unix(),
		"exp":             now.Add(ttl).Unix(),
		"jti":             uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign link token: %w", err)
	}

	sep := "?"
	if strings.Contains(baseDomain, "?") {
		sep = "&"
	}
	return baseDomain + sep + "token=" + signed, nil
}

// Config configures an Issuer.
type Config struct {
	Domain string
	Secret string
	TTL    time.Duration
	Logger *slog.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Issuer issues links against a fixed domain and secret.
type Issuer struct {
	domain string
	secret string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	warnOnce sync.Once
}

func NewIssuer(cfg Config) *Issuer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		domain: cfg.Domain,
		secret: cfg.Secret,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Issue returns a deep link for identity in orgID. Errors mean the link is
// unavailable; callers omit it and carry on.
func (i *Issuer) Issue(identity, orgID string) (string, error) {
	if i.secret != "" && len(i.secret) < MinSecretLen {
		i.warnOnce.Do(func() {
			i.logger.Warn("link secret is shorter than recommended, tokens are weakly protected",
				"length", len(i.secret), "min", MinSecretLen)
		})
	}
	return issue(identity, orgID, i.domain, i.secret, i.ttl, i.now())
}

// Resolve issues a link for identity and wraps the outcome as a LinkResult.
func (i *Issuer) Resolve(identity, orgID string) domain.LinkResult {
	link, err := i.Issue(identity, orgID)
	if err != nil {
		return domain.LinkResult{Err: err}
	}
	return domain.LinkResult{URL: link}
}
