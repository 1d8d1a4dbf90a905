package engine

import (
	"encoding/hex"
	"testing"

	"github.com/elementsproject/holdinvoice/hostrpc"
)

func TestDecodeHex32(t *testing.T) {
	var want [32]byte
	want[0] = 0xde
	want[31] = 0xad

	got, err := DecodeHex32(hex.EncodeToString(want[:]))
	if err != nil {
		t.Fatalf("DecodeHex32: %v", err)
	}
	if got != want {
		t.Fatalf("DecodeHex32() = %x, want %x", got, want)
	}

	if _, err := DecodeHex32("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := DecodeHex32("abcd"); err == nil {
		t.Fatal("expected error for short hex")
	}
}

func TestToRecordFromRecordRoundTrip(t *testing.T) {
	preimage := [32]byte{1, 2, 3}
	descHash := [32]byte{4, 5, 6}

	inv := &HoldInvoice{
		Bolt11:          "lnbc1...",
		PaymentSecret:   [32]byte{9, 9, 9},
		Preimage:        &preimage,
		Description:     "a coffee",
		DescriptionHash: &descHash,
		AmountMsat:      150000,
		ExpiresAt:       1234567890,
		State:           Accepted,
		PaidAt:          0,
		HtlcExpiry:      800000,
	}
	inv.PaymentHash[0] = 0xaa

	rec := ToRecord(inv)
	if rec.State != "accepted" {
		t.Fatalf("ToRecord().State = %q, want %q", rec.State, "accepted")
	}
	if rec.Preimage == nil || *rec.Preimage != hex.EncodeToString(preimage[:]) {
		t.Fatalf("ToRecord().Preimage = %v, want %x", rec.Preimage, preimage)
	}

	back, err := FromRecord(rec, 7)
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if back.PaymentHash != inv.PaymentHash {
		t.Fatalf("FromRecord().PaymentHash = %x, want %x", back.PaymentHash, inv.PaymentHash)
	}
	if back.State != Accepted {
		t.Fatalf("FromRecord().State = %v, want Accepted", back.State)
	}
	if back.Generation != 7 {
		t.Fatalf("FromRecord().Generation = %d, want 7", back.Generation)
	}
	if back.Preimage == nil || *back.Preimage != preimage {
		t.Fatalf("FromRecord().Preimage = %v, want %x", back.Preimage, preimage)
	}
	if back.DescriptionHash == nil || *back.DescriptionHash != descHash {
		t.Fatalf("FromRecord().DescriptionHash = %v, want %x", back.DescriptionHash, descHash)
	}
	if back.HtlcData == nil || len(back.HtlcData) != 0 {
		t.Fatalf("FromRecord().HtlcData = %v, want empty non-nil map", back.HtlcData)
	}
}

func TestFromRecordBadState(t *testing.T) {
	rec := hostrpc.Record{
		PaymentHash:   hex.EncodeToString(make([]byte, 32)),
		PaymentSecret: hex.EncodeToString(make([]byte, 32)),
		State:         "bogus",
	}
	if _, err := FromRecord(rec, 0); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
