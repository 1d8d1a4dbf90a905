package rpcserver

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the gRPC pass-through.
func UseLogger(logger btclog.Logger) {
	log = logger
}
