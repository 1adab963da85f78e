package zen

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errStreamEOF = errors.New("unexpected end of data")

// stream is a bounds-checked little-endian reader over a byte slice.
type stream struct {
	data []byte
	pos  int
}

func newStream(data []byte) *stream { return &stream{data: data} }

func (s *stream) remaining() int { return len(s.data) - s.pos }

func (s *stream) take(n int) ([]byte, error) {
	if n < 0 || n > s.remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", errStreamEOF, n, s.pos, s.remaining())
	}
	out := s.data[s.pos : s.pos+n]
	s.pos += n
	return out, nil
}

func (s *stream) skip(n int) error {
	_, err := s.take(n)
	return err
}

func (s *stream) readUint8() (uint8, error) {
	b, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *stream) readUint16() (uint16, error) {
	b, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *stream) readUint32() (uint32, error) {
	b, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *stream) readInt32() (int32, error) {
	v, err := s.readUint32()
	return int32(v), err
}

func (s *stream) readUint64() (uint64, error) {
	b, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readCount reads an i32 element count and rejects negative values and
// counts that cannot fit in the remaining data at elemSize bytes each.
func (s *stream) readCount(elemSize int) (int, error) {
	n, err := s.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	if elemSize > 0 && int(n) > s.remaining()/elemSize {
		return 0, fmt.Errorf("%w: count %d of %d-byte elements exceeds %d remaining bytes", errStreamEOF, n, elemSize, s.remaining())
	}
	return int(n), nil
}

// builder accumulates little-endian encoded data.
type builder struct {
	buf []byte
}

func (b *builder) len() int { return len(b.buf) }

func (b *builder) bytes() []byte { return b.buf }

func (b *builder) putBytes(p []byte) { b.buf = append(b.buf, p...) }

func (b *builder) putUint8(v uint8) { b.buf = append(b.buf, v) }

func (b *builder) putUint16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }

func (b *builder) putUint32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }

func (b *builder) putInt32(v int32) { b.putUint32(uint32(v)) }

func (b *builder) putUint64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }

// align pads with zeros to a multiple of n.
func (b *builder) align(n int) {
	for len(b.buf)%n != 0 {
		b.buf = append(b.buf, 0)
	}
}
