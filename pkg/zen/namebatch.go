package zen

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf16"
)

const (
	nameBatchHashVersion = 0xC1640000
	nameHeaderSize       = 2
	maxNameLength        = 1<<15 - 1
)

// readNameBatch decodes a name batch. Names carry no instance numbers; the
// numbers live in the MappedName references.
func readNameBatch(s *stream) ([]string, error) {
	num, err := s.readUint32()
	if err != nil {
		return nil, err
	}
	if num == 0 {
		return nil, nil
	}
	stringBytes, err := s.readUint32()
	if err != nil {
		return nil, err
	}
	if _, err := s.readUint64(); err != nil { // hash version
		return nil, err
	}
	if uint64(num) > uint64(s.remaining())/(8+nameHeaderSize) {
		return nil, fmt.Errorf("%w: %d names exceed remaining data", errStreamEOF, num)
	}
	if err := s.skip(int(num) * 8); err != nil {
		return nil, err
	}
	headers, err := s.take(int(num) * nameHeaderSize)
	if err != nil {
		return nil, err
	}
	data, err := s.take(int(stringBytes))
	if err != nil {
		return nil, err
	}

	names := make([]string, num)
	pos := 0
	for i := range names {
		h0, h1 := headers[i*2], headers[i*2+1]
		isUTF16 := h0&0x80 != 0
		length := int(h0&0x7f)<<8 | int(h1)
		if isUTF16 {
			pos += pos & 1
			if pos+length*2 > len(data) {
				return nil, fmt.Errorf("%w: name %d overruns string data", errStreamEOF, i)
			}
			units := make([]uint16, length)
			for j := range units {
				units[j] = uint16(data[pos+j*2]) | uint16(data[pos+j*2+1])<<8
			}
			names[i] = string(utf16.Decode(units))
			pos += length * 2
			continue
		}
		if pos+length > len(data) {
			return nil, fmt.Errorf("%w: name %d overruns string data", errStreamEOF, i)
		}
		names[i] = string(data[pos : pos+length])
		pos += length
	}
	return names, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// putNameBatch encodes names as a name batch.
func putNameBatch(b *builder, names []string) error {
	b.putUint32(uint32(len(names)))
	if len(names) == 0 {
		return nil
	}

	var headers, data []byte
	for _, name := range names {
		if isASCII(name) {
			if len(name) > maxNameLength {
				return fmt.Errorf("name %q too long", name)
			}
			headers = append(headers, byte(len(name)>>8), byte(len(name)))
			data = append(data, name...)
			continue
		}
		units := utf16.Encode([]rune(name))
		if len(units) > maxNameLength {
			return fmt.Errorf("name %q too long", name)
		}
		headers = append(headers, 0x80|byte(len(units)>>8), byte(len(units)))
		if len(data)%2 != 0 {
			data = append(data, 0)
		}
		for _, u := range units {
			data = append(data, byte(u), byte(u>>8))
		}
	}

	b.putUint32(uint32(len(data)))
	b.putUint64(nameBatchHashVersion)
	for _, name := range names {
		h := fnv.New64a()
		h.Write([]byte(strings.ToLower(name)))
		b.putUint64(h.Sum64())
	}
	b.putBytes(headers)
	b.putBytes(data)
	return nil
}
