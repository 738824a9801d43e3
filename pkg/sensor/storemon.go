package sensor

import (
	"context"
	"time"

	"missionlog/pkg/indexer"
	"missionlog/pkg/logger"
	"missionlog/pkg/store"
)

// MonitorConfig controls thresholds and cadence for the store monitor.
type MonitorConfig struct {
	PollInterval time.Duration

	WALHighBytes uint64
	WALLowBytes  uint64

	DiskHighPct int
	DiskLowPct  int

	// hysteresis window before leaving the paused state
	RecoveryWindow time.Duration
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:   500 * time.Millisecond,
		WALHighBytes:   1 << 30, // 1 GiB
		WALLowBytes:    700 << 20,
		DiskHighPct:    80,
		DiskLowPct:     60,
		RecoveryWindow: 5 * time.Second,
	}
}

// StartStoreMonitor watches pebble metrics plus host disk and throttles
// the indexer before the store does it the hard way: halve the drain
// batch under sustained WAL growth, pause outright past the high
// watermark, restore after a quiet recovery window. Returns a stop
// function.
func StartStoreMonitor(ctx context.Context, ix *indexer.Indexer, s *Sensor, cfg MonitorConfig) context.CancelFunc {
	if cfg.PollInterval <= 0 {
		cfg = DefaultMonitorConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		state := "normal"
		var lastCritical time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := store.GetPebbleMetrics()
				hw := s.Snapshot()
				diskUtil := 0
				if hw.DiskTotal > 0 {
					used := hw.DiskTotal - hw.DiskFree
					diskUtil = int((used * 100) / hw.DiskTotal)
				}

				if m.WALBytes >= cfg.WALHighBytes || diskUtil >= cfg.DiskHighPct {
					if state != "paused" {
						logger.Warn("store_monitor_paused", "wal_bytes", m.WALBytes, "disk_util", diskUtil)
						ix.Pause()
						s.SendThrottle(ThrottleRequest{Source: "store_monitor", Reason: "wal_or_disk_high", Severity: 1.0})
						state = "paused"
					}
					lastCritical = time.Now()
					continue
				}

				if state == "paused" {
					if time.Since(lastCritical) > cfg.RecoveryWindow && m.WALBytes <= cfg.WALLowBytes && diskUtil <= cfg.DiskLowPct {
						logger.Info("store_monitor_recovered")
						ix.Resume()
						ix.SetBatchParams(0, 0)
						s.SendThrottle(ThrottleRequest{Source: "store_monitor", Reason: "recovered", Severity: 0})
						state = "normal"
					}
					continue
				}

				if m.WALBytes >= cfg.WALLowBytes || diskUtil >= cfg.DiskLowPct {
					curBatch, curWorkers := ix.BatchParams()
					if curBatch > 1 {
						curBatch /= 2
					}
					if curWorkers > 1 {
						curWorkers /= 2
					}
					logger.Warn("store_monitor_degraded", "wal_bytes", m.WALBytes, "disk_util", diskUtil,
						"batch_size", curBatch, "workers", curWorkers)
					ix.SetBatchParams(curBatch, curWorkers)
					s.SendThrottle(ThrottleRequest{Source: "store_monitor", Reason: "wal_high", Severity: 0.6})
					state = "degraded"
					continue
				}

				if state == "degraded" {
					if m.WALBytes < cfg.WALLowBytes && diskUtil < cfg.DiskLowPct {
						logger.Info("store_monitor_restored")
						ix.SetBatchParams(0, 0)
						state = "normal"
					}
				}
			}
		}
	}()
	return cancel
}
