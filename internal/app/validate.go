package app

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adhocore/gronx"

	"missionlog/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, MISSIONLOG_DB_PATH env, or server.db_path in config")
	}

	if ep := strings.TrimSpace(eff.Config.Search.Endpoint); ep != "" {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("search.endpoint must be an absolute URL, got %q", ep)
		}
	}

	rl := eff.Config.Security.RateLimit
	if rl.RPS < 0 || rl.Burst < 0 {
		return fmt.Errorf("security.rate_limit values must not be negative")
	}

	ix := eff.Config.Indexer
	if ix.BatchSize < 0 || ix.Workers < 0 || ix.MaxAttempts < 0 {
		return fmt.Errorf("indexer values must not be negative")
	}

	rc := eff.Config.Reconcile
	if rc.Enabled && rc.Cron != "" && !gronx.IsValid(rc.Cron) {
		return fmt.Errorf("invalid reconcile.cron expression: %s", rc.Cron)
	}

	return nil
}
