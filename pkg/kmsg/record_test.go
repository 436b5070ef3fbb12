package kmsg

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func testBatch(records ...Record) RecordBatch {
	return RecordBatch{
		BaseOffset:     0,
		FirstTimestamp: 1700000000000,
		MaxTimestamp:   1700000000200,
		ProducerID:     -1,
		ProducerEpoch:  -1,
		BaseSequence:   -1,
		Records:        records,
	}
}

func TestRecordBatchRoundTrip(t *testing.T) {
	codecs := []Compression{
		CompressionNone,
		CompressionGzip,
		CompressionSnappy,
		CompressionLz4,
		CompressionZstd,
	}
	records := []Record{
		{OffsetDelta: 0, Key: []byte("k0"), Value: []byte("v0")},
		{OffsetDelta: 1, TimestampDelta: 100, Value: []byte("v1"), Headers: []RecordHeader{{Key: "h", Value: []byte("hv")}}},
		{OffsetDelta: 2, TimestampDelta: 200, Key: []byte("k2")},
	}

	for _, codec := range codecs {
		batch := testBatch(records...)
		batch.SetCompression(codec)

		wire, err := batch.AppendTo(nil, Codec{})
		if err != nil {
			t.Fatalf("compression %d: append: %v", codec, err)
		}

		var got RecordBatch
		if err := got.ReadBatch(wire, Codec{}); err != nil {
			t.Fatalf("compression %d: read: %v", codec, err)
		}

		want := batch
		want.LastOffsetDelta = 2 // assigned on write from the record count
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("compression %d: round trip mismatch (-want +got):\n%s\ngot: %s", codec, diff, spew.Sdump(got))
		}
	}
}

func TestRecordBatchCRCDetectsCorruption(t *testing.T) {
	batch := testBatch(Record{Value: []byte("x")})
	wire, err := batch.AppendTo(nil, Codec{})
	if err != nil {
		t.Fatal(err)
	}
	wire[len(wire)-1] ^= 0xff

	var got RecordBatch
	if err := got.ReadBatch(wire, Codec{}); err == nil {
		t.Fatal("expected CRC mismatch on corrupted batch")
	}
}

// TestReadBatchesToleratesTruncatedTrailer mirrors the broker's max_bytes
// behavior of shipping a partial final batch: decoding stops silently at
// the truncation point and returns every whole batch before it.
func TestReadBatchesToleratesTruncatedTrailer(t *testing.T) {
	b1 := testBatch(Record{Value: []byte("a")})
	b2 := testBatch(Record{Value: []byte("b")})
	b2.BaseOffset = 1

	var wire []byte
	var err error
	if wire, err = b1.AppendTo(wire, Codec{}); err != nil {
		t.Fatal(err)
	}
	full, err := b2.AppendTo(wire, Codec{})
	if err != nil {
		t.Fatal(err)
	}
	truncated := full[:len(full)-5]

	batches, err := ReadBatches(truncated, Codec{})
	if err != nil {
		t.Fatalf("unexpected error on truncated trailer: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 whole batch, got %d", len(batches))
	}
	if batches[0].BaseOffset != 0 || string(batches[0].Records[0].Value) != "a" {
		t.Fatalf("decoded wrong batch: %s", spew.Sdump(batches[0]))
	}
}

func TestReadBatchesMultiple(t *testing.T) {
	var wire []byte
	for i := int64(0); i < 3; i++ {
		b := testBatch(Record{Value: []byte{byte('a' + i)}})
		b.BaseOffset = i
		var err error
		if wire, err = b.AppendTo(wire, Codec{}); err != nil {
			t.Fatal(err)
		}
	}
	batches, err := ReadBatches(wire, Codec{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, b := range batches {
		if b.BaseOffset != int64(i) {
			t.Errorf("batch %d has base offset %d", i, b.BaseOffset)
		}
	}
}

func TestRecordBatchAttributeBits(t *testing.T) {
	var b RecordBatch
	b.SetCompression(CompressionZstd)
	if b.Compression() != CompressionZstd {
		t.Fatalf("compression bits: got %d", b.Compression())
	}
	b.Attributes |= attrsControl | attrsTransactional | attrsTimestampType
	if !b.IsControl() || !b.IsTransactional() || !b.TimestampLogAppendTime() {
		t.Fatal("attribute flag bits not independent of compression bits")
	}
	if b.Compression() != CompressionZstd {
		t.Fatalf("compression bits clobbered by flags: got %d", b.Compression())
	}
}

func TestRecordNullVsEmptyKeyValue(t *testing.T) {
	r := Record{Key: nil, Value: []byte{}}
	wire := r.AppendTo(nil)
	var got Record
	if err := got.ReadFrom(wire); err != nil {
		t.Fatal(err)
	}
	if got.Key != nil {
		t.Fatal("nil key did not survive the round trip")
	}
	if got.Value == nil || len(got.Value) != 0 {
		t.Fatal("empty value did not survive the round trip")
	}
}
