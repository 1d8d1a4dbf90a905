package command

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the Command Surface.
func UseLogger(logger btclog.Logger) {
	log = logger
}
