package token

import (
	"context"
	"sync"
	"time"
)

// Token is a bearer credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Provider supplies a credential for gateway calls. Callers fetch a token
// immediately before each authenticated request and never hold on to it
// past the returned expiry.
type Provider interface {
	GetToken(ctx context.Context) (Token, error)
}

// Source mints a fresh credential; typically backed by a cloud metadata
// endpoint or a service-account exchange.
type Source func(ctx context.Context) (Token, error)

// CachingProvider caches the most recent token and refreshes it through
// the source once it is within the expiry skew. The clock is injected so
// tests can drive expiry without sleeping.
type CachingProvider struct {
	source Source
	skew   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached Token
}

// NewCachingProvider wraps source with caching. A refresh is triggered
// when the cached token expires within skew.
func NewCachingProvider(source Source, skew time.Duration) *CachingProvider {
	return &CachingProvider{source: source, skew: skew, now: time.Now}
}

// WithClock overrides the time source; used by tests.
func (p *CachingProvider) WithClock(now func() time.Time) *CachingProvider {
	p.now = now
	return p
}

func (p *CachingProvider) GetToken(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached.Value != "" && p.now().Add(p.skew).Before(p.cached.ExpiresAt) {
		return p.cached, nil
	}

	fresh, err := p.source(ctx)
	if err != nil {
		return Token{}, err
	}
	p.cached = fresh
	return fresh, nil
}

// Static returns a provider that always yields the same value with no
// expiry; used for API-key style auth and in tests.
func Static(value string) Provider {
	return staticProvider(value)
}

type staticProvider string

func (s staticProvider) GetToken(ctx context.Context) (Token, error) {
	return Token{Value: string(s), ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}
