package wire

import (
	"encoding/binary"
	"fmt"
)

// Reader provides cursor-style reads over one encoded frame.
// All multi-byte values are little-endian.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadByte reads 1 byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadByte: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ReadUint16: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return val, nil
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadShortString reads a u8 length followed by that many raw bytes.
func (r *Reader) ReadShortString() (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("ReadShortString: %w", err)
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("ReadShortString: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// ReadLongBytes reads a u32 length followed by that many bytes.
// The length is validated against the remaining data before any
// allocation, so a corrupt length cannot trigger a huge make.
func (r *Reader) ReadLongBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("ReadLongBytes: %w", err)
	}
	if int(n) < 0 || r.pos+int(n) > len(r.data) {
		return nil, fmt.Errorf("ReadLongBytes: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	bytes := make([]byte, n)
	copy(bytes, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return bytes, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}
