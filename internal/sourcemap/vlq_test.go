package sourcemap

import "testing"

func TestVLQRoundTrip(t *testing.T) {
	values := []int{0, 1, -1, 15, -15, 16, -16, 1000, -1000, 1 << 20, -(1 << 20)}
	for _, v := range values {
		encoded := encodeVLQ(v)
		decoded, n, err := decodeVLQ(encoded)
		if err != nil {
			t.Fatalf("decodeVLQ(%q) error: %v", encoded, err)
		}
		if n != len(encoded) {
			t.Errorf("decodeVLQ(%q) consumed %d bytes, want %d", encoded, n, len(encoded))
		}
		if decoded != v {
			t.Errorf("decode(encode(%d)) = %d, want %d", v, decoded, v)
		}
	}
}

func TestDecodeVLQSegment(t *testing.T) {
	// "AAAA" decodes to four zeros.
	values, err := decodeVLQSegment("AAAA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range values {
		if v != 0 {
			t.Errorf("values[%d] = %d, want 0", i, v)
		}
	}
}

func TestDecodeVLQInvalidDigit(t *testing.T) {
	if _, _, err := decodeVLQ("!!!"); err == nil {
		t.Fatal("expected error for invalid VLQ digit")
	}
}

func TestEncodeVLQSegmentRoundTrip(t *testing.T) {
	original := []int{5, -3, 0, 128, -128}
	encoded := encodeVLQSegment(original)
	decoded, err := decodeVLQSegment(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("got %d values, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("values[%d] = %d, want %d", i, decoded[i], original[i])
		}
	}
}
