package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Field widths shared by the daemon's structs.
const (
	AddressSize = 128
	HashSize    = 64
	u64Size     = 8
	u32Size     = 4
)

// field is one fixed-width slot in a record layout.
type field struct {
	name   string
	offset int
	width  int
	// terminated text fields must contain at least one zero byte. The
	// daemon's hash fields are declared nonstring and may fill all 64 bytes.
	terminated bool
}

// layout declares the byte offsets of every field of a record once. Decoders
// and encoders address fields through it, never through raw offsets.
type layout struct {
	kind   Kind
	size   int
	fields []field
}

// newLayout builds a layout from consecutive fields and panics if the widths
// do not add up to size. Layouts are package-level values, so a mistake here
// fails at init rather than on the first record.
func newLayout(kind Kind, size int, fields ...field) *layout {
	off := 0
	for i := range fields {
		fields[i].offset = off
		off += fields[i].width
	}
	if off != size {
		panic(fmt.Sprintf("record: %s layout covers %d bytes, want %d", kind, off, size))
	}
	return &layout{kind: kind, size: size, fields: fields}
}

func u64(name string) field { return field{name: name, width: u64Size} }
func u32(name string) field { return field{name: name, width: u32Size} }
func pad(width int) field { return field{name: "_", width: width} }
func text(name string, width int, terminated bool) field {
	return field{name: name, width: width, terminated: terminated}
}

// check validates the buffer length against the layout.
func (l *layout) check(buf []byte) error {
	if len(buf) != l.size {
		return &DecodeError{Kind: l.kind, Size: len(buf), Want: l.size, Reason: "unexpected length"}
	}
	return nil
}

func (l *layout) uint64(buf []byte, i int) uint64 {
	f := l.fields[i]
	return binary.LittleEndian.Uint64(buf[f.offset : f.offset+f.width])
}

func (l *layout) int64(buf []byte, i int) int64 {
	return int64(l.uint64(buf, i))
}

func (l *layout) uint32(buf []byte, i int) uint32 {
	f := l.fields[i]
	return binary.LittleEndian.Uint32(buf[f.offset : f.offset+f.width])
}

// text returns the field up to its first zero byte.
func (l *layout) text(buf []byte, i int) (string, error) {
	f := l.fields[i]
	raw := buf[f.offset : f.offset+f.width]
	n := bytes.IndexByte(raw, 0)
	if n < 0 {
		if f.terminated {
			return "", &DecodeError{Kind: l.kind, Size: len(buf), Want: l.size, Field: f.name, Reason: "missing terminator"}
		}
		n = len(raw)
	}
	return string(raw[:n]), nil
}

func (l *layout) putUint64(buf []byte, i int, v uint64) {
	f := l.fields[i]
	binary.LittleEndian.PutUint64(buf[f.offset:f.offset+f.width], v)
}

func (l *layout) putUint32(buf []byte, i int, v uint32) {
	f := l.fields[i]
	binary.LittleEndian.PutUint32(buf[f.offset:f.offset+f.width], v)
}

// putText copies s into the field and leaves the remainder zeroed. buf must
// be freshly allocated.
func (l *layout) putText(buf []byte, i int, s string) error {
	f := l.fields[i]
	limit := f.width
	if f.terminated {
		limit--
	}
	if len(s) > limit {
		return fmt.Errorf("record: %s %s is %d bytes, at most %d fit", l.kind, f.name, len(s), limit)
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("record: %s %s contains a zero byte", l.kind, f.name)
	}
	copy(buf[f.offset:f.offset+f.width], s)
	return nil
}

// Field indices per layout.
const (
	shareHeight = iota
	shareDifficulty
	shareAddress
	shareTimestamp
)

const (
	paymentAmount = iota
	paymentTimestamp
	paymentAddress
)

const (
	blockHeight = iota
	blockHash
	blockPrevHash
	blockDifficulty
	blockStatus
	blockPad
	blockReward
	blockTimestamp
)

var (
	shareLayout = newLayout(KindShare, ShareSize,
		u64("height"),
		u64("difficulty"),
		text("address", AddressSize, true),
		u64("timestamp"),
	)

	paymentLayout = newLayout(KindPayment, PaymentSize,
		u64("amount"),
		u64("timestamp"),
		text("address", AddressSize, true),
	)

	// status is a uint32 in the daemon; the following uint64 aligns it to 8.
	blockLayout = newLayout(KindBlock, BlockSize,
		u64("height"),
		text("hash", HashSize, false),
		text("prev_hash", HashSize, false),
		u64("difficulty"),
		u32("status"),
		pad(u32Size),
		u64("reward"),
		u64("timestamp"),
	)

	balanceLayout = newLayout(KindBalance, BalanceSize,
		u64("amount"),
	)

	addressKeyLayout = newLayout(KindBalance, AddressSize,
		text("address", AddressSize, true),
	)

	heightKeyLayout = newLayout(KindBlock, HeightKeySize,
		u64("height"),
	)
)
