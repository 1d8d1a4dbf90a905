package engine

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, wired up by the plugin package's
// log.go at process start. It is a no-op until then, matching the teacher's
// daemon/log.go UseLogger convention.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the Hold Loop and Hook
// Handler.
func UseLogger(logger btclog.Logger) {
	log = logger
}
