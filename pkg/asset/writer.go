package asset

import (
	"errors"
	"fmt"
	"io"

	"github.com/odvcencio/zentools/pkg/zen"
)

// WriteExports streams the export payloads to w in export table order,
// followed by the package file tag. Each export's serial offset is recorded
// relative to the start of w until WriteHeader rebases it.
func (c *Context) WriteExports(w io.Writer) error {
	if !c.processed {
		return fmt.Errorf("%w: exports written before the package was processed", zen.ErrInvariant)
	}
	if c.exportsWritten {
		return fmt.Errorf("%w: exports written twice", zen.ErrInvariant)
	}
	a := newArchive(w)
	for i := range c.Exports {
		data := c.pkg.Exports[i].Data
		c.Exports[i].SerialOffset = a.tell()
		c.Exports[i].SerialSize = int64(len(data))
		a.write(data)
	}
	c.Summary.BulkDataStartOffset = a.tell()
	a.u32(packageFileTag)
	if a.err != nil {
		return c.fail("exports", a.err)
	}
	c.exportsWritten = true
	return nil
}

// WriteHeader writes the summary and every table to w, then seeks back to
// patch the export table and the summary with the final offsets. w must be
// positioned at its start. WriteExports must have run first.
func (c *Context) WriteHeader(w io.WriteSeeker) error {
	if !c.exportsWritten {
		return fmt.Errorf("%w: header written before exports", zen.ErrInvariant)
	}
	if c.Names.Frozen() {
		return fmt.Errorf("%w: header written twice", zen.ErrInvariant)
	}
	if n := len(c.fixups); n > 0 {
		return c.fail("fixups", fmt.Errorf("%w: %d class fix-ups unresolved at finalize", zen.ErrInvariant, n))
	}

	// Register every name the tables reference before the name map is
	// committed.
	dry := newArchive(io.Discard)
	dry.names = c.Names
	for i := range c.Imports {
		c.Imports[i].write(dry)
	}
	for i := range c.Exports {
		c.Exports[i].write(dry)
	}
	if dry.err != nil {
		return c.fail("name_map", dry.err)
	}

	s := &c.Summary
	s.Generations = []Generation{{ExportCount: int32(len(c.Exports)), NameCount: int32(c.Names.Len())}}

	a := newArchive(w)
	a.names = c.Names
	s.write(a)

	s.NameCount = int32(c.Names.Len())
	s.NameOffset = int32(a.tell())
	for _, name := range c.Names.Names() {
		a.nameEntry(name)
	}
	c.Names.Freeze()

	s.ImportCount = int32(len(c.Imports))
	s.ImportOffset = int32(a.tell())
	for i := range c.Imports {
		c.Imports[i].write(a)
	}

	s.ExportCount = int32(len(c.Exports))
	s.ExportOffset = int32(a.tell())
	exportMapStart := a.tell()
	for i := range c.Exports {
		c.Exports[i].write(a)
	}

	s.DependsOffset = int32(a.tell())
	for range c.Exports {
		a.i32(0)
	}

	s.SoftPackageReferencesCount = 0
	s.SoftPackageReferencesOffset = 0
	s.SearchableNamesOffset = 0
	s.ThumbnailTableOffset = 0

	s.AssetRegistryDataOffset = int32(a.tell())
	a.i32(0)
	s.WorldTileInfoDataOffset = 0

	s.PreloadDependencyOffset = int32(a.tell())
	s.PreloadDependencyCount = 0
	for i := range c.Exports {
		e, d := &c.Exports[i], &c.Preload[i]
		e.FirstExportDependency = s.PreloadDependencyCount
		e.SerializeBeforeSerializeDependencies = int32(len(d.SerializeBeforeSerialize))
		e.CreateBeforeSerializeDependencies = int32(len(d.CreateBeforeSerialize))
		e.SerializeBeforeCreateDependencies = int32(len(d.SerializeBeforeCreate))
		e.CreateBeforeCreateDependencies = int32(len(d.CreateBeforeCreate))
		s.PreloadDependencyCount += int32(d.Len())
		for _, dep := range d.All() {
			a.index(dep)
		}
	}

	s.DataResourceOffset = int32(a.tell())
	a.u32(dataResourceVersion)
	a.i32(0)

	s.PayloadTocOffset = -1
	s.TotalHeaderSize = int32(a.tell())
	s.BulkDataStartOffset += int64(s.TotalHeaderSize)

	end := a.tell()
	a.seek(exportMapStart)
	for i := range c.Exports {
		c.Exports[i].SerialOffset += int64(s.TotalHeaderSize)
		c.Exports[i].write(a)
	}
	a.seek(0)
	s.write(a)
	a.seek(end)
	if a.err != nil {
		return c.fail("header", a.err)
	}
	c.logger.Debug("wrote package header", "total_header_size", s.TotalHeaderSize, "names", s.NameCount, "preload_dependencies", s.PreloadDependencyCount)
	return nil
}

// Buffer is an in-memory io.WriteSeeker.
type Buffer struct {
	buf []byte
	pos int
}

func (b *Buffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("buffer: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("buffer: negative position")
	}
	b.pos = int(pos)
	return pos, nil
}

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the length of the buffer contents.
func (b *Buffer) Len() int { return len(b.buf) }
