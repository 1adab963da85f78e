package asset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode"
	"unicode/utf16"

	"github.com/odvcencio/zentools/pkg/zen"
)

// archive writes little-endian values to an output stream. The first error
// is kept and later writes become no-ops.
type archive struct {
	w   io.Writer
	ws  io.WriteSeeker
	pos int64
	err error
	// names resolves FName references; nil for streams without names.
	names *NameTable
}

func newArchive(w io.Writer) *archive {
	a := &archive{w: w}
	a.ws, _ = w.(io.WriteSeeker)
	return a
}

func (a *archive) write(p []byte) {
	if a.err != nil {
		return
	}
	n, err := a.w.Write(p)
	a.pos += int64(n)
	if err != nil {
		a.err = fmt.Errorf("%w: %v", zen.ErrIO, err)
	}
}

func (a *archive) u16(v uint16) { a.write(binary.LittleEndian.AppendUint16(nil, v)) }
func (a *archive) u32(v uint32) { a.write(binary.LittleEndian.AppendUint32(nil, v)) }
func (a *archive) i32(v int32)  { a.u32(uint32(v)) }
func (a *archive) i64(v int64)  { a.write(binary.LittleEndian.AppendUint64(nil, uint64(v))) }

func (a *archive) boolean(v bool) {
	if v {
		a.i32(1)
	} else {
		a.i32(0)
	}
}

func (a *archive) index(p PackageIndex) { a.i32(int32(p)) }

// tell returns the current stream position.
func (a *archive) tell() int64 { return a.pos }

// seek moves to an absolute position. It requires a seekable stream.
func (a *archive) seek(off int64) {
	if a.err != nil {
		return
	}
	if a.ws == nil {
		a.err = errors.New("seek on a stream without seek support")
		return
	}
	if _, err := a.ws.Seek(off, io.SeekStart); err != nil {
		a.err = fmt.Errorf("%w: %v", zen.ErrIO, err)
		return
	}
	a.pos = off
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func utf16Units(r rune) []uint16 {
	if r1, r2 := utf16.EncodeRune(r); r1 != unicode.ReplacementChar || r2 != unicode.ReplacementChar {
		return []uint16{uint16(r1), uint16(r2)}
	}
	return []uint16{uint16(r)}
}

// fstring writes a length-prefixed, NUL-terminated string. Non-ASCII text
// is stored as UTF-16 with a negative length.
func (a *archive) fstring(s string) {
	if s == "" {
		a.i32(0)
		return
	}
	if isASCII(s) {
		a.i32(int32(len(s) + 1))
		a.write(append([]byte(s), 0))
		return
	}
	units := utf16.Encode([]rune(s))
	a.i32(-int32(len(units) + 1))
	buf := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	a.write(append(buf, 0, 0))
}

// nameEntry writes a name map entry: the string and its two hashes.
func (a *archive) nameEntry(s string) {
	wide := !isASCII(s)
	a.fstring(s)
	a.u16(nonCasePreservingHash(s, wide))
	a.u16(casePreservingHash(s, wide))
}

// name writes an FName reference, registering the name when the table is
// still open.
func (a *archive) name(n zen.Name) {
	if a.err != nil {
		return
	}
	i, err := a.names.Add(n)
	if err != nil {
		a.err = err
		return
	}
	a.i32(int32(i))
	a.u32(n.Number)
}
