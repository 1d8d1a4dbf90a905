package config

import "testing"

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.CancelBeforeHtlcBlocks != DefaultCancelBeforeHtlcBlocks {
		t.Errorf("CancelBeforeHtlcBlocks = %d, want %d", cfg.CancelBeforeHtlcBlocks, DefaultCancelBeforeHtlcBlocks)
	}
	if cfg.StartupLockSeconds != DefaultStartupLockSeconds {
		t.Errorf("StartupLockSeconds = %d, want %d", cfg.StartupLockSeconds, DefaultStartupLockSeconds)
	}
	if cfg.CancelBeforeInvoiceSeconds != nil {
		t.Error("CancelBeforeInvoiceSeconds should be disabled by default")
	}
	if cfg.InvoiceTimePolicyEnabled() {
		t.Error("InvoiceTimePolicyEnabled() true on default config")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.CancelBeforeHtlcBlocks = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for CancelBeforeHtlcBlocks = 0")
	}

	cfg = Default()
	zero := uint64(0)
	cfg.CancelBeforeInvoiceSeconds = &zero
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for CancelBeforeInvoiceSeconds = 0 when set")
	}

	nonzero := uint64(1800)
	cfg.CancelBeforeInvoiceSeconds = &nonzero
	if err := cfg.Validate(); err != nil {
		t.Errorf("nonzero CancelBeforeInvoiceSeconds should validate: %v", err)
	}
	if !cfg.InvoiceTimePolicyEnabled() {
		t.Error("InvoiceTimePolicyEnabled() false with CancelBeforeInvoiceSeconds set")
	}
}

func TestParseProcessFlagsDefaults(t *testing.T) {
	pf, err := ParseProcessFlags(nil)
	if err != nil {
		t.Fatalf("ParseProcessFlags(nil): %v", err)
	}
	if pf.RPCFile != "lightning-rpc" {
		t.Errorf("RPCFile = %q, want %q", pf.RPCFile, "lightning-rpc")
	}
	if pf.Network != "bitcoin" {
		t.Errorf("Network = %q, want %q", pf.Network, "bitcoin")
	}
	if pf.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", pf.LogLevel, "info")
	}
}

func TestParseProcessFlagsOverride(t *testing.T) {
	pf, err := ParseProcessFlags([]string{"--network", "testnet", "--logfile", "/tmp/hold.log"})
	if err != nil {
		t.Fatalf("ParseProcessFlags: %v", err)
	}
	if pf.Network != "testnet" {
		t.Errorf("Network = %q, want testnet", pf.Network)
	}
	if pf.LogFile != "/tmp/hold.log" {
		t.Errorf("LogFile = %q, want /tmp/hold.log", pf.LogFile)
	}
}

func TestParseProcessFlagsUnknownRejected(t *testing.T) {
	if _, err := ParseProcessFlags([]string{"--not-a-real-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
