package app

import (
	"net/http"
	"time"

	"missionlog/pkg/api"
	"missionlog/pkg/banner"
	"missionlog/pkg/ingest"
	"missionlog/pkg/logger"
	"missionlog/pkg/query"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr)
}

// startHTTP builds the handler, starts the listener in a goroutine and
// returns a channel carrying any fatal server error.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config

	h := api.Handler(api.Deps{
		Ingest:          ingest.New(a.engine, a.ix, cfg.Ingest.PushTimeout.Duration()),
		Query:           query.New(a.engine, cfg.Query.Timeout.Duration(), cfg.Query.ScanLimit),
		Engine:          a.engine,
		Indexer:         a.ix,
		Sec:             cfg.Security,
		MaxRequestBytes: cfg.Server.MaxRequestBytes.Int64(),
		Version:         a.version,
	})

	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.eff.Addr)
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
