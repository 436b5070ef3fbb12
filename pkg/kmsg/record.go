package kmsg

import (
	"errors"
	"hash/crc32"

	"github.com/twmb/kgocore/pkg/kbin"
)

// Compression identifies a record-batch compression codec, the low 3 bits
// of a batch's attributes field, per spec.md §4.1.
type Compression int8

const (
	CompressionNone   Compression = 0
	CompressionGzip   Compression = 1
	CompressionSnappy Compression = 2
	CompressionLz4    Compression = 3
	CompressionZstd   Compression = 4
)

const (
	attrsCompressionMask = 0x07
	attrsTimestampType   = 0x08
	attrsTransactional   = 0x10
	attrsControl         = 0x20
)

// RecordHeader is a single key/value header carried alongside a record.
type RecordHeader struct {
	Key   string
	Value []byte
}

// Record is one inner record of a magic-v2 record batch.
type Record struct {
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int32
	Key            []byte
	Value          []byte
	Headers        []RecordHeader
}

// AppendTo appends this record's varint-framed encoding (length prefix
// included) to dst.
func (r *Record) AppendTo(dst []byte) []byte {
	var body []byte
	body = kbin.AppendInt8(body, r.Attributes)
	body = kbin.AppendVarlong(body, r.TimestampDelta)
	body = kbin.AppendVarint(body, r.OffsetDelta)
	body = appendVarintBytes(body, r.Key)
	body = appendVarintBytes(body, r.Value)
	body = kbin.AppendVarint(body, int32(len(r.Headers)))
	for _, h := range r.Headers {
		body = kbin.AppendVarint(body, int32(len(h.Key)))
		body = append(body, h.Key...)
		body = appendVarintBytes(body, h.Value)
	}
	dst = kbin.AppendVarint(dst, int32(len(body)))
	return append(dst, body...)
}

func appendVarintBytes(dst, b []byte) []byte {
	if b == nil {
		return kbin.AppendVarint(dst, -1)
	}
	dst = kbin.AppendVarint(dst, int32(len(b)))
	return append(dst, b...)
}

// ReadFrom decodes one varint-length-prefixed record from src, which must
// contain exactly one record (no trailing bytes).
func (r *Record) ReadFrom(src []byte) error {
	b := kbin.Reader{Src: src}
	length := b.Varint()
	if int(length) != len(b.Src) {
		return errors.New("kmsg: record length does not match remaining bytes")
	}
	r.Attributes = b.Int8()
	r.TimestampDelta = b.Varlong()
	r.OffsetDelta = b.Varint()
	r.Key = readVarintBytes(&b)
	r.Value = readVarintBytes(&b)
	numHeaders := b.Varint()
	if numHeaders < 0 {
		numHeaders = 0
	}
	r.Headers = make([]RecordHeader, numHeaders)
	for i := range r.Headers {
		keyLen := b.Varint()
		key := string(b.Span(int(keyLen)))
		val := readVarintBytes(&b)
		r.Headers[i] = RecordHeader{Key: key, Value: val}
	}
	return b.Complete()
}

func readVarintBytes(b *kbin.Reader) []byte {
	l := b.Varint()
	if l < 0 {
		return nil
	}
	return b.Span(int(l))
}

// RecordBatch is the magic-v2 record-batch layout described in spec.md
// §3/§4.1.
type RecordBatch struct {
	BaseOffset           int64
	PartitionLeaderEpoch int32
	Attributes           int16
	LastOffsetDelta      int32
	FirstTimestamp       int64
	MaxTimestamp         int64
	ProducerID           int64
	ProducerEpoch        int16
	BaseSequence         int32
	Records              []Record
}

// Compression returns the batch's compression codec.
func (b *RecordBatch) Compression() Compression {
	return Compression(b.Attributes & attrsCompressionMask)
}

// SetCompression sets the batch's compression codec bits, preserving the
// other attribute bits.
func (b *RecordBatch) SetCompression(c Compression) {
	b.Attributes = b.Attributes&^attrsCompressionMask | int16(c)
}

// IsTransactional reports the transactional attribute bit.
func (b *RecordBatch) IsTransactional() bool { return b.Attributes&attrsTransactional != 0 }

// IsControl reports the control-batch attribute bit.
func (b *RecordBatch) IsControl() bool { return b.Attributes&attrsControl != 0 }

// TimestampLogAppendTime reports whether the timestamp type bit marks
// broker-assigned (log append) timestamps rather than client create time.
func (b *RecordBatch) TimestampLogAppendTime() bool { return b.Attributes&attrsTimestampType != 0 }

// crcTab is the Castagnoli (CRC32-C) table used for record-batch CRCs, per
// spec.md §4.1.
var crcTab = crc32.MakeTable(crc32.Castagnoli)

// AppendTo serializes the batch (preamble, CRC, and records, compressed per
// codec) to dst and returns the extended slice. Exactly one batch is
// written, with BaseOffset as given. Records are written with their
// OffsetDelta and TimestampDelta unchanged, and the batch's last offset
// delta is written as len(Records)-1; the LastOffsetDelta field is not
// used.
func (b *RecordBatch) AppendTo(dst []byte, codec Compress) ([]byte, error) {
	var recordBytes []byte
	for i := range b.Records {
		recordBytes = b.Records[i].AppendTo(recordBytes)
	}

	compressed, err := codec.Compress(recordBytes, b.Compression())
	if err != nil {
		return nil, err
	}

	start := len(dst)
	dst = kbin.AppendInt64(dst, b.BaseOffset)
	dst = kbin.AppendInt32(dst, 0) // batch length, patched below
	dst = kbin.AppendInt32(dst, b.PartitionLeaderEpoch)
	dst = kbin.AppendInt8(dst, 2) // magic
	crcAt := len(dst)
	dst = kbin.AppendInt32(dst, 0) // crc placeholder, patched below

	attrsAt := len(dst)
	dst = kbin.AppendInt16(dst, b.Attributes)
	dst = kbin.AppendInt32(dst, int32(len(b.Records))-1) // last offset delta
	dst = kbin.AppendInt64(dst, b.FirstTimestamp)
	dst = kbin.AppendInt64(dst, b.MaxTimestamp)
	dst = kbin.AppendInt64(dst, b.ProducerID)
	dst = kbin.AppendInt16(dst, b.ProducerEpoch)
	dst = kbin.AppendInt32(dst, b.BaseSequence)
	dst = kbin.AppendInt32(dst, int32(len(b.Records)))
	dst = append(dst, compressed...)

	batchLen := int32(len(dst) - start - 12) // everything after base offset + length field itself
	patchInt32(dst[start+8:start+12], batchLen)

	crc := crc32.Checksum(dst[attrsAt:], crcTab)
	patchInt32(dst[crcAt:crcAt+4], int32(crc))

	return dst, nil
}

// ErrTruncatedBatch is returned when a batch preamble is readable but the
// record area is shorter than the declared batch length. Per spec.md's
// open question on partial fetch responses, callers that hit this on a
// non-final batch should treat it as corruption; on the final batch in a
// Fetch response it is the expected broker truncation behavior and
// ReadBatches silently stops there (strict-mode callers can use
// ReadBatch directly to detect it themselves).
var ErrTruncatedBatch = errors.New("kmsg: truncated record batch")

// ReadBatch decodes exactly one record batch from src, which must contain
// no trailing bytes after the batch.
func (b *RecordBatch) ReadBatch(src []byte, codec Decompress) error {
	r := kbin.Reader{Src: src}
	b.BaseOffset = r.Int64()
	batchLength := r.Int32()
	b.PartitionLeaderEpoch = r.Int32()
	magic := r.Int8()
	if err := r.Err(); err != nil {
		return err
	}
	if magic != 2 {
		return errors.New("kmsg: unsupported record batch magic byte")
	}
	if int(batchLength)+12 != len(src) {
		return ErrTruncatedBatch
	}
	wantCRC := uint32(r.Int32())
	attrsOn := r.Src
	b.Attributes = r.Int16()
	b.LastOffsetDelta = r.Int32()
	b.FirstTimestamp = r.Int64()
	b.MaxTimestamp = r.Int64()
	b.ProducerID = r.Int64()
	b.ProducerEpoch = r.Int16()
	b.BaseSequence = r.Int32()
	numRecords := r.Int32()
	if err := r.Err(); err != nil {
		return err
	}

	if gotCRC := crc32.Checksum(attrsOn, crcTab); gotCRC != wantCRC {
		return errors.New("kmsg: record batch CRC mismatch")
	}

	raw, err := codec.Decompress(r.Src, Compression(b.Attributes&attrsCompressionMask))
	if err != nil {
		return err
	}

	if numRecords < 0 {
		numRecords = 0
	}
	b.Records = make([]Record, 0, numRecords)
	rest := raw
	for i := int32(0); i < numRecords; i++ {
		rr := kbin.Reader{Src: rest}
		length := rr.Varint()
		if !rr.Ok() || length < 0 || int(length) > len(rr.Src) {
			return ErrTruncatedBatch
		}
		total := lenOfVarint(length) + int(length)
		if total > len(rest) {
			return ErrTruncatedBatch
		}
		var rec Record
		if err := rec.ReadFrom(rest[:total]); err != nil {
			return err
		}
		b.Records = append(b.Records, rec)
		rest = rest[total:]
	}
	return nil
}

func lenOfVarint(v int32) int {
	u := uint64((int64(v) << 1) ^ (int64(v) >> 63))
	n := 1
	for u >= 0x80 {
		n++
		u >>= 7
	}
	return n
}

// ReadBatches decodes as many whole record batches as possible from src,
// silently stopping at the first batch whose declared length exceeds the
// remaining bytes. This matches the broker's own internal optimization of
// shipping a partial trailing batch in a Fetch response truncated by
// max_bytes (spec.md §4.7, §9 open question).
func ReadBatches(src []byte, codec Decompress) ([]RecordBatch, error) {
	var batches []RecordBatch
	for len(src) >= 12 {
		r := kbin.Reader{Src: src[8:12]}
		batchLength := r.Int32()
		total := int(batchLength) + 12
		if total < 12 || total > len(src) {
			break // partial trailing batch: stop, per spec.md's documented quirk
		}
		var batch RecordBatch
		if err := batch.ReadBatch(src[:total], codec); err != nil {
			if errors.Is(err, ErrTruncatedBatch) {
				break
			}
			return batches, err
		}
		batches = append(batches, batch)
		src = src[total:]
	}
	return batches, nil
}
