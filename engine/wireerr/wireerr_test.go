package wireerr

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	msg := Build(123456789, 800000)

	amountMsat, height, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if amountMsat != 123456789 {
		t.Errorf("amountMsat = %d, want 123456789", amountMsat)
	}
	if height != 800000 {
		t.Errorf("height = %d, want 800000", height)
	}
}

func TestBuildStartsWithFailureCode(t *testing.T) {
	msg := Build(1, 1)
	if len(msg) != 28 { // 14 bytes hex-encoded
		t.Fatalf("Build() length = %d, want 28", len(msg))
	}
	if msg[:4] != "400f" {
		t.Fatalf("Build() = %q, want to start with 400f", msg)
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	if _, _, err := Parse("400f"); err == nil {
		t.Fatal("expected error for too-short message")
	}
}

func TestParseRejectsWrongCode(t *testing.T) {
	// 14 zero bytes hex-encoded: valid length, wrong code.
	if _, _, err := Parse("0000000000000000000000000000"); err == nil {
		t.Fatal("expected error for wrong failure code")
	}
}
