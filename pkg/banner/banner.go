package banner

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"missionlog/pkg/config"
	"missionlog/pkg/store"
)

const banner = `
███╗   ███╗██╗███████╗███████╗██╗ ██████╗ ███╗   ██╗    ██╗      ██████╗  ██████╗
████╗ ████║██║██╔════╝██╔════╝██║██╔═══██╗████╗  ██║    ██║     ██╔═══██╗██╔════╝
██╔████╔██║██║███████╗███████╗██║██║   ██║██╔██╗ ██║    ██║     ██║   ██║██║  ███╗
██║╚██╔╝██║██║╚════██║╚════██║██║██║   ██║██║╚██╗██║    ██║     ██║   ██║██║   ██║
██║ ╚═╝ ██║██║███████║███████║██║╚██████╔╝██║ ╚████║    ███████╗╚██████╔╝╚██████╔╝
╚═╝     ╚═╝╚═╝╚══════╝╚══════╝╚═╝ ╚═════╝ ╚═╝  ╚═══╝    ╚══════╝ ╚═════╝  ╚═════╝
`

// Print renders the startup banner from the effective config. It runs
// after the store is open so it can report on-disk size.
func Print(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "default"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("State:    %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if n := store.DiskSize(); n > 0 {
		fmt.Printf("Store:    %s on disk\n", humanize.Bytes(n))
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/records            - Submit a record (JSON: title, description, tags)")
	fmt.Println("GET  /v1/records?limit=<n>  - List newest records")
	fmt.Println("GET  /v1/search?q=<text>    - Full-text search; degraded=true means store fallback")
	fmt.Println("GET  /v1/admin/stats        - Record, outbox and index counters")

	fmt.Println("\n== Examples ===================================================")
	base := exampleBase(addr)
	fmt.Printf("curl -X POST '%s/v1/records' -d '{\"title\":\"Night Patrol\",\"tags\":[\"patrol\"]}'\n", base)
	fmt.Printf("curl '%s/v1/search?q=patrol&limit=10'\n", base)

	fmt.Println("\n== Production? ================================================")
	var cfg *config.Config
	if eff.Config != nil {
		cfg = eff.Config
	} else {
		cfg = &config.Config{}
	}
	if ep := strings.TrimSpace(cfg.Search.Endpoint); ep != "" {
		fmt.Printf("- Search: external (%s)\n", ep)
	} else {
		fmt.Println("- Search: embedded (per-process index, rebuilt from the store at boot)")
	}
	if cfg.Security.RateLimit.RPS > 0 {
		fmt.Printf("- Rate limit: %.0f req/s, burst %d\n", cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst)
	} else {
		fmt.Println("- Rate limit: built-in defaults (set security.rate_limit to tune)")
	}
	if cfg.Reconcile.Enabled {
		cron := cfg.Reconcile.Cron
		if cron == "" {
			cron = "0 3 * * *"
		}
		fmt.Printf("- Reconcile: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Reconcile: disabled (acknowledged outbox entries are never purged)")
	}
	if dbPath == "" || strings.HasPrefix(dbPath, "./") {
		fmt.Println("- Set a durable state path (--db) before trusting this with data")
	}
}

func exampleBase(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
