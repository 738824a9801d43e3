package state

import "path/filepath"

// Paths is the canonical runtime folder layout under the DB path.
type Paths struct {
	DB    string
	Store string
	State string
	// state subdirs
	Audit     string
	Reconcile string
	Tmp       string
	Tel       string
	Logs      string
	Crash     string // crash dumps written on abnormal shutdown
}

func PathsFor(dbPath string) Paths {
	statePath := filepath.Join(dbPath, "state")
	return Paths{
		// base
		DB: dbPath,

		// mains
		Store: filepath.Join(dbPath, "store"),

		// state
		State:     statePath,
		Audit:     filepath.Join(statePath, "audit"),
		Reconcile: filepath.Join(statePath, "reconcile"),
		Tmp:       filepath.Join(statePath, "tmp"),
		Tel:       filepath.Join(statePath, "telemetry"),
		Logs:      filepath.Join(statePath, "logs"),
		Crash:     filepath.Join(statePath, "crash"),
	}
}

// Convenience helpers
func StorePath(dbPath string) string     { return PathsFor(dbPath).Store }
func StatePath(dbPath string) string     { return PathsFor(dbPath).State }
func AuditPath(dbPath string) string     { return PathsFor(dbPath).Audit }
func ReconcilePath(dbPath string) string { return PathsFor(dbPath).Reconcile }
func TmpPath(dbPath string) string       { return PathsFor(dbPath).Tmp }
func TelPath(dbPath string) string       { return PathsFor(dbPath).Tel }
func LogsPath(dbPath string) string      { return PathsFor(dbPath).Logs }
func CrashPath(dbPath string) string     { return PathsFor(dbPath).Crash }
