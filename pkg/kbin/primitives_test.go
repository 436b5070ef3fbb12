package kbin

import (
	"math"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	vals := []int64{0, 1, -1, 2, -2, 63, -64, 64, -65, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64, 1 << 40, -(1 << 40)}
	for _, v := range vals {
		enc := AppendVarlong(nil, v)
		r := Reader{Src: enc}
		got := r.Varlong()
		if err := r.Complete(); err != nil {
			t.Fatalf("varlong(%d): unexpected read error: %v", v, err)
		}
		if got != v {
			t.Fatalf("varlong(%d): round trip gave %d", v, got)
		}
	}
}

func TestUvarintRoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 300, math.MaxUint32, math.MaxUint64}
	for _, v := range vals {
		enc := AppendUvarint(nil, v)
		r := Reader{Src: enc}
		got := r.Uvarint()
		if err := r.Complete(); err != nil {
			t.Fatalf("uvarint(%d): unexpected read error: %v", v, err)
		}
		if got != v {
			t.Fatalf("uvarint(%d): round trip gave %d", v, got)
		}
	}
}

func TestUvarintNoTerminator(t *testing.T) {
	// 10 continuation bytes with no terminating byte must not loop forever
	// and must report an error rather than succeed.
	src := make([]byte, 11)
	for i := range src {
		src[i] = 0x80
	}
	r := Reader{Src: src}
	r.Uvarint()
	if r.err == nil {
		t.Fatal("expected an error reading an unterminated varint")
	}
}

func TestUvarintOverflow(t *testing.T) {
	// A 10th byte with bits beyond 64 total overflows.
	src := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}
	r := Reader{Src: src}
	r.Uvarint()
	if r.err != ErrVarintOverflow {
		t.Fatalf("expected overflow error, got %v", r.err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "hello world", string(make([]byte, 1000))} {
		enc := AppendString(nil, s)
		r := Reader{Src: enc}
		got := r.String()
		if err := r.Complete(); err != nil {
			t.Fatalf("string(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("string round trip: got %q want %q", got, s)
		}
	}
}

func TestNullableStringRoundTrip(t *testing.T) {
	enc := AppendNullableString(nil, nil)
	r := Reader{Src: enc}
	if got := r.NullableString(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	s := "x"
	enc = AppendNullableString(nil, &s)
	r = Reader{Src: enc}
	got := r.NullableString()
	if got == nil || *got != "x" {
		t.Fatalf("expected x, got %v", got)
	}
}

func TestCompactStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "compact string test"} {
		enc := AppendCompactString(nil, s)
		r := Reader{Src: enc}
		got := r.CompactString()
		if err := r.Complete(); err != nil {
			t.Fatalf("compact string(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("compact string round trip: got %q want %q", got, s)
		}
	}
}

func TestCompactNullableBytesRoundTrip(t *testing.T) {
	enc := AppendCompactNullableBytes(nil, nil)
	r := Reader{Src: enc}
	if got := r.CompactNullableBytes(); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	b := []byte{1, 2, 3}
	enc = AppendCompactNullableBytes(nil, b)
	r = Reader{Src: enc}
	got := r.CompactNullableBytes()
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

func TestTaggedFieldsEmptyIsOneZeroByte(t *testing.T) {
	enc := AppendEmptyTags(nil)
	if len(enc) != 1 || enc[0] != 0 {
		t.Fatalf("expected single zero byte, got %v", enc)
	}
	r := Reader{Src: enc}
	r.SkipTags()
	if err := r.Complete(); err != nil {
		t.Fatalf("unexpected error skipping empty tags: %v", err)
	}
}

// TestDecoderBoundedOnHugeLengthPrefix ensures a length prefix that claims
// far more data than is actually present fails cleanly without attempting
// to allocate the claimed size.
func TestDecoderBoundedOnHugeLengthPrefix(t *testing.T) {
	var dst []byte
	dst = AppendInt32(dst, math.MaxInt32) // claim ~2GiB of bytes
	r := Reader{Src: dst}                 // but no bytes follow
	got := r.Bytes()
	if got != nil {
		t.Fatalf("expected nil on truncated huge-length read, got %d bytes", len(got))
	}
	if r.err != ErrNotEnoughData {
		t.Fatalf("expected ErrNotEnoughData, got %v", r.err)
	}
}

func TestArrayLenRejectsImpossibleLength(t *testing.T) {
	var dst []byte
	dst = AppendInt32(dst, 1<<20) // claim a million elements
	r := Reader{Src: dst}         // with zero bytes of element data
	r.ArrayLen()
	if r.err != ErrNotEnoughData {
		t.Fatalf("expected bounded-length rejection, got %v", r.err)
	}
}
