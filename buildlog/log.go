// Package buildlog provides the small logging-backend plumbing that the
// rest of the module builds subsystem loggers on top of. It plays the role
// that the teacher's internal "build" package plays for daemon/log.go:
// a Writer that fans bytes out to whatever sink is configured, and a
// constructor for per-subsystem btclog.Logger values sharing one backend.
package buildlog

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// LogWriter is an io.Writer that can be pointed at a rotating file pipe
// after start-of-day, but defaults to stderr so that a plugin whose stdout
// is reserved for JSON-RPC never mixes log lines into the wire protocol.
type LogWriter struct {
	RotatorPipe io.Writer
}

// Write implements io.Writer.
func (w *LogWriter) Write(b []byte) (int, error) {
	if w.RotatorPipe != nil {
		return w.RotatorPipe.Write(b)
	}
	return os.Stderr.Write(b)
}

// NewSubLogger creates a new logger for a subsystem, taking the backend's
// bound Logger method (e.g. `backend.Logger`) the way the teacher's
// daemon/log.go does with its own build package.
func NewSubLogger(subsystem string, loggerFn func(string) btclog.Logger) btclog.Logger {
	return loggerFn(subsystem)
}

// NewBackendLogger spins up a fresh btclog.Backend writing through a
// LogWriter, returning both so callers can register subsystem loggers.
func NewBackendLogger() (*btclog.Backend, *LogWriter) {
	w := &LogWriter{}
	return btclog.NewBackend(w), w
}
