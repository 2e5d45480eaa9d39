package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command needs. Modes: "sync" (ingest,
// watch, serve), "serve", "review", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required (sqlite file path)")
			}
		default:
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}
	requireTicketing := func() {
		if c.Ticketing.BaseURL == "" {
			errs = append(errs, "ticketing.base_url is required")
		}
		if c.Ticketing.Token == "" {
			errs = append(errs, "ticketing.token is required")
		}
		if c.Ticketing.OrgID == "" {
			errs = append(errs, "ticketing.org_id is required")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "review":
		requireStore()
		requireTicketing()
	case "sync", "serve":
		requireStore()
		requireTicketing()
		if c.Bulk.BatchSize < 1 || c.Bulk.BatchSize > 1000 {
			errs = append(errs, "bulk.batch_size must be between 1 and 1000")
		}
		if c.Bulk.CallSize < 1 || c.Bulk.CallSize > c.Bulk.BatchSize {
			errs = append(errs, "bulk.call_size must be between 1 and bulk.batch_size")
		}
		if c.Matching.MaxCandidates < 1 {
			errs = append(errs, "matching.max_candidates must be > 0")
		}
		if !c.DryRun.Tickets && c.Workflow.CloseStepID == 0 {
			errs = append(errs, "workflow.close_step_id is required unless dry_run.tickets is set")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HeuristicEnabled reports whether LLM matching can run.
func (c *Config) HeuristicEnabled() bool {
	return c.Matching.Enabled && c.Matching.APIKey != ""
}
