package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"

	"missionlog/internal/app"
	"missionlog/pkg/config"
	"missionlog/pkg/logger"
	"missionlog/pkg/shutdown"
	"missionlog/pkg/state"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present, before env overlay runs
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "missionlog: %v\n", err)
		os.Exit(2)
	}
	if !flags.Set["db"] {
		if root := state.ArtifactRoot(); root != "" {
			flags.DB = filepath.Join(root, "database")
		}
	}

	eff, err := config.LoadEffectiveConfig(flags)
	if err != nil {
		shutdown.Abort("failed to build effective config", err, flags.DB)
	}

	// initialize logger after config is fully loaded
	logger.InitWithLevel(eff.Config.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)

	numCPU := runtime.NumCPU()
	runtime.GOMAXPROCS(numCPU)

	// cap indexer workers at 2 x logical cores
	ic := &eff.Config.Indexer
	if max := numCPU * 2; ic.Workers > max {
		logger.Warn("indexer_workers_capped", "requested", ic.Workers, "capped_to", max)
		ic.Workers = max
	}

	a, err := app.New(*eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("failed to initialize app", err, eff.DBPath)
	}

	// set up context and signal handling for graceful shutdown
	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("app run failed", err, eff.DBPath)
	}
}
