package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-leadrelay/core"
)

const (
	DefaultSafetyMargin = 10 * time.Minute
	DefaultTokenTTL     = 50 * time.Minute
)

// Grant is the outcome of a single upstream token exchange. A zero ExpiresIn
// means the upstream did not report a lifetime.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
	TokenType   string
}

type Exchanger interface {
	Exchange(ctx context.Context) (Grant, error)
}

type ExchangerFunc func(ctx context.Context) (Grant, error)

func (f ExchangerFunc) Exchange(ctx context.Context) (Grant, error) {
	return f(ctx)
}

type BrokerConfig struct {
	SafetyMargin time.Duration
	DefaultTTL   time.Duration
	Now          func() time.Time
	Logger       core.Logger
}

// Broker caches one access token per upstream. Concurrent callers that miss
// the cache may each run an exchange; the last writer wins.
type Broker struct {
	config     BrokerConfig
	mu         sync.Mutex
	exchangers map[core.Upstream]Exchanger
	cache      map[core.Upstream]core.AccessToken
}

func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Broker{
		config:     cfg,
		exchangers: map[core.Upstream]Exchanger{},
		cache:      map[core.Upstream]core.AccessToken{},
	}
}

func (b *Broker) Register(upstream core.Upstream, exchanger Exchanger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchangers[upstream] = exchanger
	delete(b.cache, upstream)
}

func (b *Broker) Token(ctx context.Context, upstream core.Upstream) (string, error) {
	if b == nil {
		return "", core.NewAuthError(upstream, "auth: broker is not configured", nil, nil)
	}
	if cached, ok := b.lookup(upstream); ok {
		return cached.Value, nil
	}

	exchanger := b.exchanger(upstream)
	if exchanger == nil {
		return "", core.NewAuthError(upstream, fmt.Sprintf("auth: no token exchanger registered for %s", upstream), nil, nil)
	}

	issuedAt := b.config.Now().UTC()
	grant, err := exchanger.Exchange(ctx)
	if err != nil {
		if core.IsAuthError(err) {
			return "", err
		}
		return "", core.NewAuthError(upstream, fmt.Sprintf("auth: %s token exchange failed", upstream), err, nil)
	}
	value := strings.TrimSpace(grant.AccessToken)
	if value == "" {
		return "", core.NewAuthError(upstream, fmt.Sprintf("auth: %s token exchange returned no access token", upstream), nil, nil)
	}

	token := core.AccessToken{
		Value:     value,
		ExpiresAt: b.expiresAt(issuedAt, grant.ExpiresIn),
	}
	b.store(upstream, token)

	if b.config.Logger != nil {
		b.config.Logger.Debug("access token refreshed",
			"upstream", string(upstream),
			"expires_at", token.ExpiresAt.Format(time.RFC3339),
		)
	}
	return token.Value, nil
}

// Invalidate drops the cached token for upstream so the next Token call
// exchanges again.
func (b *Broker) Invalidate(upstream core.Upstream) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, upstream)
}

// Cached reports the token currently held for upstream, valid or not.
func (b *Broker) Cached(upstream core.Upstream) (core.AccessToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token, ok := b.cache[upstream]
	return token, ok
}

func (b *Broker) expiresAt(issuedAt time.Time, ttl time.Duration) time.Time {
	switch {
	case ttl <= 0:
		return issuedAt.Add(b.config.DefaultTTL)
	case ttl > b.config.SafetyMargin:
		return issuedAt.Add(ttl - b.config.SafetyMargin)
	default:
		return issuedAt.Add(ttl / 2)
	}
}

func (b *Broker) lookup(upstream core.Upstream) (core.AccessToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cached, ok := b.cache[upstream]
	if !ok {
		return core.AccessToken{}, false
	}
	if !cached.Valid(b.config.Now().UTC()) {
		delete(b.cache, upstream)
		return core.AccessToken{}, false
	}
	return cached, true
}

func (b *Broker) store(upstream core.Upstream, token core.AccessToken) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[upstream] = token
}

func (b *Broker) exchanger(upstream core.Upstream) Exchanger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchangers[upstream]
}
