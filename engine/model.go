// Package engine implements the invoice/HTLC state engine described in
// spec §3–§4.6: the Hold Registry (HR), Block Height Tracker (BHT), HTLC
// Hook Handler (HH) and Hold Loop (HL). It is grounded on the teacher's
// invoices/invoiceregistry.go — a single mutex-guarded map plus
// per-subscriber wake channels generalized here into a per-HTLC wake
// signal instead of a per-subscription notification channel, because
// spec §4.3 requires fine-grained per-HTLC wakes rather than whole-invoice
// fan-out.
package engine

import (
	"encoding/hex"
	"fmt"
)

// HoldState is the closed state enumeration of spec §3.
type HoldState int

const (
	Open HoldState = iota
	Accepted
	Settled
	Canceled
)

func (s HoldState) String() string {
	switch s {
	case Open:
		return "open"
	case Accepted:
		return "accepted"
	case Settled:
		return "settled"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseHoldState parses the lowercase wire representation of a HoldState.
func ParseHoldState(s string) (HoldState, error) {
	switch s {
	case "open":
		return Open, nil
	case "accepted":
		return Accepted, nil
	case "settled":
		return Settled, nil
	case "canceled":
		return Canceled, nil
	default:
		return 0, fmt.Errorf("unknown hold state %q", s)
	}
}

// Terminal reports whether s is an absorbing state (spec §3).
func (s HoldState) Terminal() bool {
	return s == Settled || s == Canceled
}

// transitions is the permitted-destination table of spec §3. OPEN<->ACCEPTED
// is reversible; SETTLED and CANCELED are absorbing.
var transitions = map[HoldState]map[HoldState]bool{
	Open:     {Accepted: true, Canceled: true},
	Accepted: {Open: true, Settled: true, Canceled: true},
	Settled:  {},
	Canceled: {},
}

// IsValidTransition reports whether moving from -> to is permitted by the
// spec §3 transition table.
func IsValidTransition(from, to HoldState) bool {
	return transitions[from][to]
}

// HtlcIdentifier uniquely identifies an HTLC across the whole node (spec
// §3): a (short_channel_id, htlc_id) pair.
type HtlcIdentifier struct {
	Scid   uint64
	HtlcID uint64
}

func (id HtlcIdentifier) String() string {
	return fmt.Sprintf("%d/%d", id.Scid, id.HtlcID)
}

// HoldHtlc is the in-memory-only record of one live HTLC parked against a
// hold invoice (spec §3). WakeSignal is its independently-lockable
// condition; a wake MUST cause the owning Hold Loop to re-enter its
// evaluation within 2s (spec §9).
type HoldHtlc struct {
	AmountMsat uint64
	CltvExpiry uint32
	WakeSignal *WakeSignal
}

// HoldInvoice is the in-memory mirror of a persisted hold-invoice record
// (spec §3), carrying the HR-local bookkeeping (generation, htlc set) on
// top of the durable fields.
type HoldInvoice struct {
	Bolt11            string
	PaymentHash       [32]byte
	PaymentSecret     [32]byte
	Preimage          *[32]byte
	Description       string
	DescriptionHash   *[32]byte
	AmountMsat        uint64
	ExpiresAt         int64
	State             HoldState
	PaidAt            int64
	HtlcExpiry        uint32
	Generation        uint64

	HtlcData map[HtlcIdentifier]*HoldHtlc
}

// SumHtlcAmounts returns the aggregate amount_msat across every live HTLC
// of the invoice (spec invariant I3).
func (inv *HoldInvoice) SumHtlcAmounts() uint64 {
	var sum uint64
	for _, h := range inv.HtlcData {
		sum += h.AmountMsat
	}
	return sum
}

// MinCltvExpiry returns the smallest cltv_expiry among live HTLCs. Only
// meaningful when HtlcData is non-empty.
func (inv *HoldInvoice) MinCltvExpiry() uint32 {
	var min uint32
	first := true
	for _, h := range inv.HtlcData {
		if first || h.CltvExpiry < min {
			min = h.CltvExpiry
			first = false
		}
	}
	return min
}

// PaymentHashHex is a convenience hex accessor used at the JSON/RPC
// boundary.
func (inv *HoldInvoice) PaymentHashHex() string { return hex.EncodeToString(inv.PaymentHash[:]) }
