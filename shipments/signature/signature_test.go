package signature

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

	encoded := EncodePNG(raw)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("round trip changed the bytes: %v != %v", decoded, raw)
	}
}

func TestNormalize(t *testing.T) {
	withPrefix := "data:image/png;base64,aGVsbG8="
	without := "aGVsbG8="

	if got := Normalize(withPrefix); got != withPrefix {
		t.Errorf("Normalize(with prefix) = %q", got)
	}
	if got := Normalize(without); got != withPrefix {
		t.Errorf("Normalize(without prefix) = %q", got)
	}
	// Normalizing twice must not stack prefixes.
	if got := Normalize(Normalize(without)); got != withPrefix {
		t.Errorf("Normalize is not idempotent: %q", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("data:image/png;base64,???"); err == nil {
		t.Fatal("expected an error for invalid base64")
	}
}
