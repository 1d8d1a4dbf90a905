// Package wireerr encodes and parses the BOLT-04
// incorrect_or_unknown_payment_details failure message this engine
// returns when it fails an HTLC (spec §4.5, §6): the four-hex-digit
// failure code 400F, followed by big-endian amount_msat (8 bytes) and
// block height (4 bytes). The big-endian, length-implicit-by-field
// framing mirrors the convention lightning-onion (sphinx) uses for wire
// messages elsewhere in the teacher's stack; no pack dependency owns this
// exact legacy (non-TLV) failure payload, so the codec itself is a dozen
// lines of encoding/binary rather than a borrowed marshaler.
package wireerr

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// FailureCode is the BOLT-04 code for incorrect_or_unknown_payment_details.
const FailureCode uint16 = 0x400f

// Build returns the hex-encoded wire failure message for an HTLC failed
// with incorrect_or_unknown_payment_details, carrying the HTLC's
// amount_msat and the current block height (spec §4.5).
func Build(amountMsat uint64, blockHeight uint32) string {
	buf := make([]byte, 2+8+4)
	binary.BigEndian.PutUint16(buf[0:2], FailureCode)
	binary.BigEndian.PutUint64(buf[2:10], amountMsat)
	binary.BigEndian.PutUint32(buf[10:14], blockHeight)
	return hex.EncodeToString(buf)
}

// Parse reverses Build, used by tests asserting the round-trip property
// of spec §8.
func Parse(msg string) (amountMsat uint64, blockHeight uint32, err error) {
	buf, err := hex.DecodeString(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hex failure message: %w", err)
	}
	if len(buf) != 14 {
		return 0, 0, fmt.Errorf("failure message has wrong length %d, want 14", len(buf))
	}
	code := binary.BigEndian.Uint16(buf[0:2])
	if code != FailureCode {
		return 0, 0, fmt.Errorf("unexpected failure code %#x, want %#x", code, FailureCode)
	}
	amountMsat = binary.BigEndian.Uint64(buf[2:10])
	blockHeight = binary.BigEndian.Uint32(buf[10:14])
	return amountMsat, blockHeight, nil
}
