package dawn

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with command replay on any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for dawn and every open backend.
// By default dawn produces no log output. Pass nil to restore the
// silent default.
//
// Log levels used by dawn:
//   - [slog.LevelDebug]: stream replay diagnostics (command counts, barrier
//     batches, debug markers, records swept at release)
//   - [slog.LevelInfo]: device and backend lifecycle
//   - [slog.LevelWarn]: device loss
//
// Example:
//
//	dawn.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveMu.Lock()
	devices := make([]*Device, 0, len(liveDevices))
	for d := range liveDevices {
		devices = append(devices, d)
	}
	liveMu.Unlock()
	for _, d := range devices {
		propagateLogger(d.backend, d.logger())
	}
}

// Logger returns the current logger used by dawn.
// Backend packages call this to share the same configuration without
// introducing import cycles.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(b Backend, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// liveDevices tracks devices that have not been destroyed so that
// SetLogger reaches their backends.
var (
	liveMu      sync.Mutex
	liveDevices = make(map[*Device]struct{})
)

func trackDevice(d *Device) {
	liveMu.Lock()
	liveDevices[d] = struct{}{}
	liveMu.Unlock()
}

func untrackDevice(d *Device) {
	liveMu.Lock()
	delete(liveDevices, d)
	liveMu.Unlock()
}
