// Package shutdown owns process exit: signal handling for graceful stops
// and crash diagnostics for fatal startup errors.
package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"missionlog/pkg/logger"
	"missionlog/pkg/state"
)

type exitRequest struct {
	Time      string            `json:"time"`
	Reason    string            `json:"reason"`
	Cmd       string            `json:"cmd"`
	CrashPath string            `json:"crash_path,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Abort logs a fatal error, writes crash diagnostics and exits. The delay
// keeps the process around long enough for dumps and logs to flush.
func Abort(contextMsg string, err error, dbPath string, delaySeconds ...int) {
	delay := 10
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, reqPath, derr := AbortWithDiagnostics(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("abort_diagnostics_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath, "request", reqPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	for i := delay; i > 0; i-- {
		logger.Info("exiting_in_seconds", "seconds", i)
		time.Sleep(1 * time.Second)
	}
	os.Exit(2)
}

// AbortWithDiagnostics writes a crash dump plus a machine-readable abort
// request referencing it, both under the state tree.
func AbortWithDiagnostics(dbPath, reason string, err error) (string, string, error) {
	crashDir := "./crash"
	abortDir := "./abort"
	if dbPath != "" {
		crashDir = state.CrashPath(dbPath)
		abortDir = filepath.Join(state.StatePath(dbPath), "abort")
	}
	if e := os.MkdirAll(abortDir, 0o700); e != nil {
		return "", "", fmt.Errorf("failed to create abort dir: %w", e)
	}

	ts := time.Now().UnixNano()
	dumpPath, derr := state.WriteCrashDump(crashDir, reason, err)
	if derr != nil {
		return "", "", derr
	}

	req := exitRequest{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Cmd:       "crash",
		CrashPath: dumpPath,
		Meta:      map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	}
	rtmp, rerr := os.CreateTemp(abortDir, ".req-*.tmp")
	if rerr != nil {
		return dumpPath, "", fmt.Errorf("failed to create temp req file: %w", rerr)
	}
	rname := rtmp.Name()
	enc := json.NewEncoder(rtmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(req); err != nil {
		rtmp.Close()
		_ = os.Remove(rname)
		return dumpPath, "", fmt.Errorf("failed to encode abort request: %w", err)
	}
	rtmp.Sync()
	rtmp.Close()

	reqPath := filepath.Join(abortDir, fmt.Sprintf("req-%d.json", ts))
	if err := os.Rename(rname, reqPath); err != nil {
		_ = os.Remove(rname)
		return dumpPath, "", fmt.Errorf("failed to move abort request into place: %w", err)
	}
	_ = os.Chmod(reqPath, 0o600)

	return dumpPath, reqPath, nil
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a cancellable context. The context is cancelled when any watched
// signal arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		cancel()
	}()

	// SIGPIPE usually means a broken downstream; dump stacks to aid
	// diagnostics before winding down.
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		s := <-sigpipe
		logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE, dumping goroutine stacks")
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
		cancel()
	}()

	return ctx, cancel
}
