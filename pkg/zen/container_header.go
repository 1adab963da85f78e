package zen

import (
	"encoding/binary"
	"fmt"
)

const (
	containerHeaderSignature = 0x496f436e
	containerHeaderVersion   = 1
	storeEntrySize           = 24
	shaderMapHashSize        = 20
)

// StoreEntry is the per-package record of a container header.
type StoreEntry struct {
	ExportCount       int32
	ExportBundleCount int32
	ImportedPackages  []PackageID
	ShaderMapHashes   [][shaderMapHashSize]byte
}

// ContainerHeader lists the packages stored in one container. Packages and
// Entries are parallel, as are OptionalPackages and OptionalEntries.
type ContainerHeader struct {
	ContainerID      uint64
	Packages         []PackageID
	Entries          []StoreEntry
	OptionalPackages []PackageID
	OptionalEntries  []StoreEntry
}

// UnmarshalContainerHeader decodes a container header chunk.
func UnmarshalContainerHeader(data []byte) (*ContainerHeader, error) {
	s := newStream(data)
	sig, err := s.readUint32()
	if err != nil {
		return nil, fmt.Errorf("container header: %w", err)
	}
	if sig != containerHeaderSignature {
		return nil, malformed("container_header.signature", "bad signature %#x", sig)
	}
	version, err := s.readUint32()
	if err != nil {
		return nil, fmt.Errorf("container header: %w", err)
	}
	if version != containerHeaderVersion {
		return nil, malformed("container_header.version", "unsupported version %d", version)
	}
	var h ContainerHeader
	if h.ContainerID, err = s.readUint64(); err != nil {
		return nil, fmt.Errorf("container header: %w", err)
	}
	if h.Packages, h.Entries, err = readStoreSegment(s, "container_header.packages"); err != nil {
		return nil, err
	}
	if h.OptionalPackages, h.OptionalEntries, err = readStoreSegment(s, "container_header.optional_packages"); err != nil {
		return nil, err
	}
	return &h, nil
}

func readStoreSegment(s *stream, field string) ([]PackageID, []StoreEntry, error) {
	n, err := s.readCount(8)
	if err != nil {
		return nil, nil, malformed(field, "%v", err)
	}
	ids := make([]PackageID, n)
	for i := range ids {
		v, _ := s.readUint64()
		ids[i] = PackageID(v)
	}
	blobSize, err := s.readCount(1)
	if err != nil {
		return nil, nil, malformed(field, "store entries: %v", err)
	}
	blob, _ := s.take(blobSize)
	if n > len(blob)/storeEntrySize {
		return nil, nil, malformed(field, "%d store entries do not fit in %d bytes", n, len(blob))
	}
	entries := make([]StoreEntry, n)
	for i := range entries {
		if entries[i], err = readStoreEntry(blob, i*storeEntrySize); err != nil {
			return nil, nil, malformed(fmt.Sprintf("%s[%d]", field, i), "%v", err)
		}
	}
	return ids, entries, nil
}

// readStoreEntry decodes the entry at off. Array views hold an element
// count and an offset relative to the start of the view itself.
func readStoreEntry(blob []byte, off int) (StoreEntry, error) {
	s := newStream(blob)
	s.pos = off
	var e StoreEntry
	e.ExportCount, _ = s.readInt32()
	e.ExportBundleCount, _ = s.readInt32()
	if e.ExportCount < 0 || e.ExportBundleCount < 0 {
		return e, fmt.Errorf("negative export or bundle count")
	}

	importView := s.pos
	importNum, _ := s.readUint32()
	importOff, _ := s.readUint32()
	shaderView := s.pos
	shaderNum, _ := s.readUint32()
	shaderOff, _ := s.readUint32()

	imports, err := arrayView(blob, importView, importOff, importNum, 8)
	if err != nil {
		return e, fmt.Errorf("imported packages: %w", err)
	}
	e.ImportedPackages = make([]PackageID, importNum)
	for i := range e.ImportedPackages {
		e.ImportedPackages[i] = PackageID(binary.LittleEndian.Uint64(imports[i*8:]))
	}
	shaders, err := arrayView(blob, shaderView, shaderOff, shaderNum, shaderMapHashSize)
	if err != nil {
		return e, fmt.Errorf("shader map hashes: %w", err)
	}
	e.ShaderMapHashes = make([][shaderMapHashSize]byte, shaderNum)
	for i := range e.ShaderMapHashes {
		copy(e.ShaderMapHashes[i][:], shaders[i*shaderMapHashSize:])
	}
	return e, nil
}

func arrayView(blob []byte, viewPos int, off, num uint32, elemSize int) ([]byte, error) {
	if num == 0 {
		return nil, nil
	}
	start := int64(viewPos) + int64(off)
	end := start + int64(num)*int64(elemSize)
	if end > int64(len(blob)) {
		return nil, fmt.Errorf("%w: array [%d, %d) outside %d-byte blob", errStreamEOF, start, end, len(blob))
	}
	return blob[start:end], nil
}

// Marshal encodes the container header.
func (h *ContainerHeader) Marshal() ([]byte, error) {
	if len(h.Packages) != len(h.Entries) || len(h.OptionalPackages) != len(h.OptionalEntries) {
		return nil, fmt.Errorf("container header: package ids and store entries differ in length")
	}
	var b builder
	b.putUint32(containerHeaderSignature)
	b.putUint32(containerHeaderVersion)
	b.putUint64(h.ContainerID)
	putStoreSegment(&b, h.Packages, h.Entries)
	putStoreSegment(&b, h.OptionalPackages, h.OptionalEntries)
	return b.bytes(), nil
}

func putStoreSegment(b *builder, ids []PackageID, entries []StoreEntry) {
	b.putInt32(int32(len(ids)))
	for _, id := range ids {
		b.putUint64(uint64(id))
	}

	var fixed, tail builder
	tailBase := len(entries) * storeEntrySize
	for _, e := range entries {
		fixed.putInt32(e.ExportCount)
		fixed.putInt32(e.ExportBundleCount)

		view := fixed.len()
		fixed.putUint32(uint32(len(e.ImportedPackages)))
		fixed.putUint32(uint32(tailBase + tail.len() - view))
		for _, id := range e.ImportedPackages {
			tail.putUint64(uint64(id))
		}

		view = fixed.len()
		fixed.putUint32(uint32(len(e.ShaderMapHashes)))
		fixed.putUint32(uint32(tailBase + tail.len() - view))
		for _, hash := range e.ShaderMapHashes {
			tail.putBytes(hash[:])
		}
	}
	b.putInt32(int32(fixed.len() + tail.len()))
	b.putBytes(fixed.bytes())
	b.putBytes(tail.bytes())
}
