package search

import (
	"missionlog/pkg/config"
	"missionlog/pkg/logger"
)

// Provider picks the engine for the configured backend: the embedded
// BM25 index when no endpoint is set, otherwise the remote client.
func Provider(cfg config.SearchConfig) Engine {
	if cfg.Endpoint == "" {
		logger.Info("search_engine_selected", "engine", "embedded")
		return NewMemory()
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	logger.Info("search_engine_selected", "engine", "remote", "endpoint", cfg.Endpoint, "index", index)
	return NewRemote(cfg.Endpoint, index, cfg.RequestTimeout.Or(defaultRemoteTimeout))
}
