package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyRunSeq     = "run_seq"
	KeyStage      = "stage"
	KeyStatus     = "status"
	KeyReason     = "reason"
	KeyBinding    = "binding"
	KeyPath       = "path"
	KeyTargets    = "targets"
	KeyChanged    = "changed"
	KeyOutputs    = "outputs"
	KeyDurationMS = "duration_ms"
	KeyWorkers    = "workers"
	KeyClients    = "clients"
	KeyAddr       = "addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func RunSeq(seq uint64) slog.Attr     { return slog.Uint64(KeyRunSeq, seq) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Binding(name string) slog.Attr   { return slog.String(KeyBinding, name) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Targets(t []string) slog.Attr    { return slog.Any(KeyTargets, t) }
func Changed(n int) slog.Attr         { return slog.Int(KeyChanged, n) }
func Outputs(n int) slog.Attr         { return slog.Int(KeyOutputs, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Workers(n int) slog.Attr         { return slog.Int(KeyWorkers, n) }
func Clients(n int) slog.Attr         { return slog.Int(KeyClients, n) }
func Addr(a string) slog.Attr         { return slog.String(KeyAddr, a) }

// Elapsed reports the time since start in milliseconds.
func Elapsed(start time.Time) slog.Attr {
	return DurationMS(float64(time.Since(start).Microseconds()) / 1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
