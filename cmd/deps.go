package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/cost"
	"github.com/sells-group/affiliate-outreach/internal/credit"
	"github.com/sells-group/affiliate-outreach/internal/enrich"
	"github.com/sells-group/affiliate-outreach/internal/enrich/provider"
	"github.com/sells-group/affiliate-outreach/internal/lock"
	"github.com/sells-group/affiliate-outreach/internal/outreach"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/internal/store"
	anthropicpkg "github.com/sells-group/affiliate-outreach/pkg/anthropic"
	"github.com/sells-group/affiliate-outreach/pkg/apollo"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
	"github.com/sells-group/affiliate-outreach/pkg/lusha"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func costRates() cost.Rates {
	rates := cost.DefaultRates()
	rates.Lookups["apollo"] = cfg.Pricing.ApolloPerLookup
	rates.Lookups["lusha"] = cfg.Pricing.LushaPerLookup
	rates.Lookups["website"] = cfg.Pricing.WebsitePerLookup
	return rates
}

// initEnrich registers every provider that has credentials. It returns nil
// when none is configured.
func initEnrich() *enrich.Service {
	calc := cost.NewCalculator(costRates())
	reg := provider.NewRegistry()

	if cfg.Providers.Apollo.Key != "" {
		client := apollo.NewClient(cfg.Providers.Apollo.Key, apollo.WithBaseURL(cfg.Providers.Apollo.BaseURL))
		reg.Register(provider.NewApolloProvider(client, calc.Lookup("apollo")))
	} else {
		zap.L().Debug("OUTREACH_PROVIDERS_APOLLO_KEY not set, apollo lookups disabled")
	}
	if cfg.Providers.Lusha.Key != "" {
		client := lusha.NewClient(cfg.Providers.Lusha.Key, lusha.WithBaseURL(cfg.Providers.Lusha.BaseURL))
		reg.Register(provider.NewLushaProvider(client, calc.Lookup("lusha")))
	} else {
		zap.L().Debug("OUTREACH_PROVIDERS_LUSHA_KEY not set, lusha lookups disabled")
	}
	if cfg.Providers.Website.Enabled {
		reg.Register(provider.NewWebsiteProvider(time.Duration(cfg.Providers.Website.TimeoutSecs) * time.Second))
	}

	if len(reg.List()) == 0 {
		zap.L().Warn("no email providers configured")
		return nil
	}

	retry, breaker := resilience.FromSettings(
		cfg.Resilience.MaxAttempts,
		cfg.Resilience.InitialBackoffMs,
		cfg.Resilience.FailureThreshold,
		cfg.Resilience.ResetTimeoutSecs,
	)
	svc := enrich.NewService(reg,
		enrich.WithOrder(cfg.Providers.Order),
		enrich.WithRetry(retry),
		enrich.WithBreakers(resilience.NewBreakers(breaker)),
	)
	zap.L().Info("email providers ready",
		zap.Strings("order", svc.AvailableProviders()),
		zap.Float64("estimated_cost_usd", svc.EstimatedCost()),
	)
	return svc
}

// initWriter returns nil when no Anthropic key is configured.
func initWriter() *outreach.Writer {
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("OUTREACH_ANTHROPIC_KEY not set, message generation disabled")
		return nil
	}
	retry, _ := resilience.FromSettings(cfg.Resilience.MaxAttempts, cfg.Resilience.InitialBackoffMs, 0, 0)
	// The writer retries transient statuses itself.
	opts := []anthropicpkg.Option{anthropicpkg.WithMaxRetries(0)}
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)
	return outreach.NewWriter(client,
		outreach.WithModel(cfg.Anthropic.Model),
		outreach.WithMaxTokens(cfg.Anthropic.MaxTokens),
		outreach.WithRetry(retry),
	)
}

// initCredits uses the Postgres ledger when the store is Postgres and an
// in-process ledger otherwise.
func initCredits(st store.Store) *credit.Guard {
	if ps, ok := st.(*store.PostgresStore); ok {
		return credit.NewGuard(credit.NewPostgresLedger(ps.Pool()), cfg.Credits.Enforce)
	}
	if cfg.Credits.Enforce {
		zap.L().Warn("credit enforcement with a non-postgres store uses an in-memory ledger")
	}
	return credit.NewGuard(credit.NewMemoryLedger(), cfg.Credits.Enforce)
}

// initLocker returns a redis-backed lock when redis is configured and an
// in-process one otherwise. The cleanup func closes the redis client.
func initLocker(ctx context.Context) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(), func() {}
	}
	rdb := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := rdb.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis unreachable, generation locks will fail open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	return lock.NewRedisLocker(rdb, "outreach:"), func() { _ = rdb.Close() }
}

func newAPIClient() (dashapi.Client, error) {
	if err := cfg.Validate("client"); err != nil {
		return nil, err
	}
	return dashapi.NewClient(cfg.API.BaseURL, dashapi.WithUserID(cfg.API.UserID)), nil
}
