package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/archive"
	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/ingest"
	"github.com/sells-group/enforcement-sync/internal/matcher"
	"github.com/sells-group/enforcement-sync/internal/monitoring"
	"github.com/sells-group/enforcement-sync/internal/reconcile"
	"github.com/sells-group/enforcement-sync/internal/store"
	"github.com/sells-group/enforcement-sync/pkg/anthropic"
	"github.com/sells-group/enforcement-sync/pkg/geocode"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// syncEnv holds the store, clients and pipeline stages shared by the
// ingest, watch and serve commands.
type syncEnv struct {
	Store    store.Store
	Tickets  ticketing.Client
	Matcher  *matcher.Matcher
	Driver   *reconcile.Driver
	Ingestor *ingest.Ingestor
}

// Close releases the store.
func (e *syncEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// startMonitoring runs the health checker in the background when enabled.
func startMonitoring(ctx context.Context, st store.Store) {
	if !cfg.Monitoring.Enabled {
		return
	}
	checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
	go checker.Run(ctx)
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enforcement-sync.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initTicketing(c *config.Config) ticketing.Client {
	t := c.Ticketing
	return ticketing.NewClient(t.BaseURL, t.Token, t.OrgID,
		ticketing.WithTimeout(t.Timeout()),
		ticketing.WithMinInterval(time.Duration(t.MinIntervalMs)*time.Millisecond),
		ticketing.WithRateLimitRetries(t.RateLimitRetries),
		ticketing.WithServerErrorRetries(t.ServerErrorRetries),
		ticketing.WithMaxRateLimitWait(time.Duration(t.MaxRateLimitWaitSecs)*time.Second),
	)
}

func initMatcher(c *config.Config, st store.Store, tickets ticketing.Client) (*matcher.Matcher, error) {
	var opts []matcher.Option
	if c.HeuristicEnabled() {
		geo := geocode.NewClient(
			geocode.WithBaseURL(c.Geocode.BaseURL),
			geocode.WithRateLimit(c.Geocode.RateLimit),
		)
		opts = append(opts, matcher.WithHeuristic(geo, anthropic.NewClient(c.Matching.APIKey)))
		zap.L().Info("heuristic matching enabled", zap.String("model", c.Matching.Model))
	} else {
		zap.L().Debug("heuristic matching disabled")
	}
	return matcher.New(st, tickets, c.Matching, opts...)
}

func initArchive(ctx context.Context, c *config.Config) (archive.Archiver, error) {
	if c.Archive.Bucket == "" {
		return nil, nil
	}
	return archive.New(ctx, archive.Config{
		Bucket:   c.Archive.Bucket,
		Prefix:   c.Archive.Prefix,
		Region:   c.Archive.Region,
		Endpoint: c.Archive.Endpoint,
	})
}

// initSync validates config and wires the full pipeline. Callers should
// defer env.Close().
func initSync(ctx context.Context, mode string) (*syncEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.Policy.Path)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &syncEnv{Store: st, Tickets: initTicketing(cfg)}

	env.Matcher, err = initMatcher(cfg, st, env.Tickets)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Driver = reconcile.NewDriver(st, env.Tickets, env.Matcher, reconcile.Config{
		DryRun:      cfg.DryRun,
		CloseStepID: cfg.Workflow.CloseStepID,
		Bulk:        cfg.Bulk,
		Policy:      policy,
	})

	ingestOpts := []ingest.Option{ingest.WithCharset(cfg.Ingest.Charset)}
	arc, err := initArchive(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	if arc != nil {
		ingestOpts = append(ingestOpts, ingest.WithArchive(arc))
	}
	env.Ingestor = ingest.New(env.Driver, ingestOpts...)

	if cfg.DryRun.Tickets || cfg.DryRun.Permits {
		zap.L().Warn("dry run enabled",
			zap.Bool("tickets", cfg.DryRun.Tickets),
			zap.Bool("permits", cfg.DryRun.Permits),
		)
	}
	return env, nil
}
