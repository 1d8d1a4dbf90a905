package engine

import (
	"encoding/hex"
	"fmt"

	"github.com/elementsproject/holdinvoice/hostrpc"
)

func DecodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// FromRecord converts a durable DSB record into the in-memory
// HoldInvoice used by the Hold Registry, initializing an empty htlc set
// (the caller populates it).
func FromRecord(rec hostrpc.Record, generation uint64) (*HoldInvoice, error) {
	state, err := ParseHoldState(rec.State)
	if err != nil {
		return nil, err
	}
	paymentHash, err := DecodeHex32(rec.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("payment_hash: %w", err)
	}
	paymentSecret, err := DecodeHex32(rec.PaymentSecret)
	if err != nil {
		return nil, fmt.Errorf("payment_secret: %w", err)
	}

	inv := &HoldInvoice{
		Bolt11:        rec.Bolt11,
		PaymentHash:   paymentHash,
		PaymentSecret: paymentSecret,
		Description:   rec.Description,
		AmountMsat:    rec.AmountMsat,
		ExpiresAt:     rec.ExpiresAt,
		State:         state,
		PaidAt:        rec.PaidAt,
		HtlcExpiry:    rec.HtlcExpiry,
		Generation:    generation,
		HtlcData:      make(map[HtlcIdentifier]*HoldHtlc),
	}

	if rec.Preimage != nil {
		pre, err := DecodeHex32(*rec.Preimage)
		if err != nil {
			return nil, fmt.Errorf("preimage: %w", err)
		}
		inv.Preimage = &pre
	}
	if rec.DescriptionHash != nil {
		dh, err := DecodeHex32(*rec.DescriptionHash)
		if err != nil {
			return nil, fmt.Errorf("description_hash: %w", err)
		}
		inv.DescriptionHash = &dh
	}

	return inv, nil
}

// ToRecord serializes the durable fields of a HoldInvoice back into a DSB
// record for ReplaceForce/Create calls.
func ToRecord(inv *HoldInvoice) hostrpc.Record {
	rec := hostrpc.Record{
		Bolt11:        inv.Bolt11,
		PaymentHash:   hex.EncodeToString(inv.PaymentHash[:]),
		PaymentSecret: hex.EncodeToString(inv.PaymentSecret[:]),
		Description:   inv.Description,
		AmountMsat:    inv.AmountMsat,
		ExpiresAt:     inv.ExpiresAt,
		State:         inv.State.String(),
		PaidAt:        inv.PaidAt,
		HtlcExpiry:    inv.HtlcExpiry,
	}
	if inv.Preimage != nil {
		s := hex.EncodeToString(inv.Preimage[:])
		rec.Preimage = &s
	}
	if inv.DescriptionHash != nil {
		s := hex.EncodeToString(inv.DescriptionHash[:])
		rec.DescriptionHash = &s
	}
	return rec
}
