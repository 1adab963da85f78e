package asset

import (
	"fmt"
	"hash/crc32"
	"unicode"

	"github.com/odvcencio/zentools/pkg/zen"
)

// NameTable is the ordered, de-duplicated name map of a legacy package.
// Entries carry no instance numbers. Once frozen, registering a name that is
// not already present is an invariant violation.
type NameTable struct {
	names  []string
	index  map[string]int
	frozen bool
}

// NewNameTable returns a table seeded with names in order.
func NewNameTable(names []string) *NameTable {
	t := &NameTable{index: make(map[string]int, len(names))}
	for _, n := range names {
		if _, ok := t.index[n]; !ok {
			t.index[n] = len(t.names)
			t.names = append(t.names, n)
		}
	}
	return t
}

// Add returns the index of name, registering it when absent.
func (t *NameTable) Add(name zen.Name) (int, error) {
	if i, ok := t.index[name.Value]; ok {
		return i, nil
	}
	if t.frozen {
		return 0, fmt.Errorf("%w: name %q registered after the name map was written", zen.ErrInvariant, name.Value)
	}
	i := len(t.names)
	t.index[name.Value] = i
	t.names = append(t.names, name.Value)
	return i, nil
}

// Freeze forbids further registrations.
func (t *NameTable) Freeze() { t.frozen = true }

// Frozen reports whether the table is frozen.
func (t *NameTable) Frozen() bool { return t.frozen }

// Len returns the number of names.
func (t *NameTable) Len() int { return len(t.names) }

// Names returns the names in table order.
func (t *NameTable) Names() []string { return t.names }

var strihashTable = func() (table [256]uint32) {
	for i := range table {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// nonCasePreservingHash is the legacy case-insensitive name hash. Wide
// names hash both bytes of every UTF-16 unit.
func nonCasePreservingHash(s string, wide bool) uint16 {
	var hash uint32
	mix := func(b uint8) {
		hash = hash>>8&0x00ffffff ^ strihashTable[(hash^uint32(b))&0xff]
	}
	for _, r := range s {
		if !wide {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			mix(uint8(r))
			continue
		}
		for _, u := range utf16Units(unicode.ToUpper(r)) {
			mix(uint8(u))
			mix(uint8(u >> 8))
		}
	}
	return uint16(hash)
}

// casePreservingHash is the CRC-32 of the name with every character widened
// to four bytes.
func casePreservingHash(s string, wide bool) uint16 {
	var buf [4]byte
	crc := uint32(0)
	add := func(c uint32) {
		buf[0], buf[1], buf[2], buf[3] = byte(c), byte(c>>8), byte(c>>16), byte(c>>24)
		crc = crc32.Update(crc, crc32.IEEETable, buf[:])
	}
	for _, r := range s {
		if !wide {
			add(uint32(r) & 0xff)
			continue
		}
		for _, u := range utf16Units(r) {
			add(uint32(u))
		}
	}
	return uint16(crc)
}
