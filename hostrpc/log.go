package hostrpc

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the host RPC client.
func UseLogger(logger btclog.Logger) {
	log = logger
}
