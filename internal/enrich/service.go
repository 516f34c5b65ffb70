// Package enrich finds contact emails for affiliate domains by trying
// lookup providers in a configured fallback order.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/enrich/provider"
	"github.com/sells-group/affiliate-outreach/internal/metrics"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
)

var (
	// ErrNoProviders means no lookup provider is configured.
	ErrNoProviders = eris.New("enrich: no providers configured")
	// ErrProviderUnavailable means an explicitly requested provider is not configured.
	ErrProviderUnavailable = eris.New("enrich: provider unavailable")
	// ErrInvalidDomain means the domain is empty after normalization.
	ErrInvalidDomain = eris.New("enrich: invalid domain")
)

// Request is a lookup request as received from callers.
type Request struct {
	Domain      string
	PersonName  string
	FirstName   string
	LastName    string
	LinkedInURL string
}

// Service runs lookups across providers with fallback.
type Service struct {
	registry *provider.Registry
	order    []string
	retry    resilience.RetryConfig
	breakers *resilience.Breakers
}

// Option configures a Service.
type Option func(*Service)

// WithOrder sets the fallback order by provider name.
func WithOrder(names []string) Option {
	return func(s *Service) { s.order = names }
}

// WithRetry sets the per-provider retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithBreakers sets the per-provider circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(s *Service) { s.breakers = b }
}

// NewService creates a Service over the providers in reg.
func NewService(reg *provider.Registry, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AvailableProviders returns configured provider names in fallback order.
func (s *Service) AvailableProviders() []string {
	ps := s.registry.Ordered(s.order)
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}
	return names
}

// EstimatedCost is the pre-flight cost shown before a lookup: the highest
// unit cost among configured providers, since any of them may end up serving.
func (s *Service) EstimatedCost() float64 {
	var highest float64
	for _, p := range s.registry.Ordered(s.order) {
		if c := p.UnitCost(); c > highest {
			highest = c
		}
	}
	return highest
}

// FindEmail tries each provider in order with the same normalized request and
// stops at the first hit. When every provider misses or fails, the last
// provider's result is returned; lookup failures are reported in
// Result.Error, never as a Go error.
func (s *Service) FindEmail(ctx context.Context, req Request) (*provider.Result, error) {
	preq, err := prepare(req)
	if err != nil {
		return nil, err
	}
	providers := s.registry.Ordered(s.order)
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	var last *provider.Result
	for _, p := range providers {
		res := s.lookup(ctx, p, preq)
		if res.Found {
			return res, nil
		}
		zap.L().Debug("enrich: provider missed, trying next",
			zap.String("provider", p.Name()),
			zap.String("domain", preq.Domain),
			zap.String("error", res.Error),
		)
		last = res
	}
	return last, nil
}

// FindEmailWithProvider runs a single named provider without fallback.
func (s *Service) FindEmailWithProvider(ctx context.Context, name string, req Request) (*provider.Result, error) {
	p := s.registry.Get(name)
	if p == nil {
		return nil, eris.Wrapf(ErrProviderUnavailable, "enrich: provider %q", name)
	}
	preq, err := prepare(req)
	if err != nil {
		return nil, err
	}
	return s.lookup(ctx, p, preq), nil
}

// lookup calls p through its breaker and retry policy and folds failures
// into a not-found Result.
func (s *Service) lookup(ctx context.Context, p provider.Provider, req provider.Request) *provider.Result {
	start := time.Now()
	retry := s.retry
	retry.Label = p.Name() + ".lookup"

	res, err := resilience.Call(ctx, s.breakers.Get(p.Name()), func(ctx context.Context) (*provider.Result, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*provider.Result, error) {
			return p.Lookup(ctx, req)
		})
	})
	if err != nil {
		metrics.RecordLookup(p.Name(), metrics.OutcomeError, time.Since(start))
		zap.L().Warn("enrich: provider lookup failed",
			zap.String("provider", p.Name()),
			zap.String("domain", req.Domain),
			zap.Error(err),
		)
		return &provider.Result{Provider: p.Name(), CostEstimate: p.UnitCost(), Error: err.Error()}
	}
	if res == nil {
		res = &provider.Result{}
	}
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	if res.Email == "" {
		res.Found = false
	}

	outcome := metrics.OutcomeNotFound
	if res.Found {
		outcome = metrics.OutcomeFound
	}
	metrics.RecordLookup(p.Name(), outcome, time.Since(start))
	return res
}

// prepare normalizes the domain once and splits PersonName when first and
// last names are absent.
func prepare(req Request) (provider.Request, error) {
	domain := NormalizeDomain(req.Domain)
	if domain == "" {
		return provider.Request{}, eris.Wrapf(ErrInvalidDomain, "enrich: domain %q", req.Domain)
	}
	out := provider.Request{
		Domain:      domain,
		PersonName:  strings.TrimSpace(req.PersonName),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		LinkedInURL: strings.TrimSpace(req.LinkedInURL),
	}
	if out.PersonName != "" && out.FirstName == "" && out.LastName == "" {
		parts := strings.Fields(out.PersonName)
		out.FirstName = parts[0]
		out.LastName = strings.Join(parts[1:], " ")
	}
	return out, nil
}
