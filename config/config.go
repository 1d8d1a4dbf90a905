// Package config centralizes the hold-invoice plugin's configuration
// (spec §6), validating values the way lncfg validates addresses: at
// construction time, never lazily at the point of use.
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// Defaults mirror spec §4.6/§5/§6.
const (
	DefaultCancelBeforeHtlcBlocks     uint32 = 6
	DefaultCancelBeforeInvoiceSeconds uint64 = 1800
	DefaultStartupLockSeconds         uint64 = 10
)

// Config is the single source of truth for the options in spec §6. All
// fields are optional at parse time but validated before use.
type Config struct {
	// CancelBeforeHtlcBlocks is the soft-expiry cushion, in blocks:
	// cancel/auto-settle fires when cltv_expiry <= height + this. Must
	// be >= 1.
	CancelBeforeHtlcBlocks uint32

	// CancelBeforeInvoiceSeconds, if non-nil, enables the invoice-time
	// expiry policy: cancel when invoice.expires_at <= now + this. Must
	// be >= 1 when enabled.
	CancelBeforeInvoiceSeconds *uint64

	// GRPCHoldPort, if non-zero, is the port the operator-facing gRPC
	// pass-through listens on. Out of scope per spec §1; passed through
	// verbatim to the rpcserver package.
	GRPCHoldPort uint16

	// StartupLockSeconds is the grace period after process start during
	// which the Hold Loop must not auto-cancel an OPEN invoice solely
	// because its BOLT-11 has time-expired (spec §5).
	StartupLockSeconds uint64
}

// Default returns a Config populated with the spec's documented defaults.
func Default() *Config {
	return &Config{
		CancelBeforeHtlcBlocks: DefaultCancelBeforeHtlcBlocks,
		StartupLockSeconds:     DefaultStartupLockSeconds,
	}
}

// Validate enforces the constraints spec §6 places on each option.
// Called once, immediately after the values are sourced from the host's
// `init` RPC options block.
func (c *Config) Validate() error {
	if c.CancelBeforeHtlcBlocks == 0 {
		return fmt.Errorf("holdinvoice-cancel-before-htlc-expiry must be > 0, got %d",
			c.CancelBeforeHtlcBlocks)
	}
	if c.CancelBeforeInvoiceSeconds != nil && *c.CancelBeforeInvoiceSeconds == 0 {
		return fmt.Errorf("holdinvoice-cancel-before-invoice-expiry must be > 0 when set, got %d",
			*c.CancelBeforeInvoiceSeconds)
	}
	return nil
}

// InvoiceTimePolicyEnabled reports whether the optional invoice-time
// expiry policy (spec §4.6) is active.
func (c *Config) InvoiceTimePolicyEnabled() bool {
	return c.CancelBeforeInvoiceSeconds != nil
}

// ProcessFlags are the small number of options this binary still accepts
// on its own command line when exercised standalone (outside a live CLN
// process), grounded on cmd/lnd/main.go's jessevdk/go-flags bootstrap.
type ProcessFlags struct {
	LightningDir string `long:"lightning-dir" description:"path to the lightning node's home directory" default:"~/.lightning"`
	RPCFile      string `long:"rpc-file" description:"name of the host's JSON-RPC socket" default:"lightning-rpc"`
	Network      string `long:"network" description:"bitcoin network to operate on" default:"bitcoin"`
	LogFile      string `long:"logfile" description:"path to a log file; defaults to stderr-only"`
	LogLevel     string `long:"loglevel" description:"logging level for all subsystems" default:"info"`
}

// ParseProcessFlags parses the process-level flags from argv, in the
// style of cmd/lnd/main.go's flags.Parse call.
func ParseProcessFlags(argv []string) (*ProcessFlags, error) {
	pf := &ProcessFlags{}
	parser := flags.NewParser(pf, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}
	return pf, nil
}
