package zen

import "fmt"

// SummarySize is the fixed size of the package summary at the start of
// every package chunk.
const SummarySize = 44

// PackageSummary is the fixed-layout header of a package chunk. All offsets
// are measured from the start of the chunk.
type PackageSummary struct {
	HasVersioningInfo                bool
	HeaderSize                       uint32
	Name                             MappedName
	PackageFlags                     uint32
	CookedHeaderSize                 uint32
	ImportedPublicExportHashesOffset int32
	ImportMapOffset                  int32
	ExportMapOffset                  int32
	ExportBundleEntriesOffset        int32
	GraphDataOffset                  int32
}

// Guid is a 16-byte custom version key.
type Guid [16]byte

func (g Guid) String() string {
	return fmt.Sprintf("%08X-%08X-%08X-%08X",
		uint32(g[0])|uint32(g[1])<<8|uint32(g[2])<<16|uint32(g[3])<<24,
		uint32(g[4])|uint32(g[5])<<8|uint32(g[6])<<16|uint32(g[7])<<24,
		uint32(g[8])|uint32(g[9])<<8|uint32(g[10])<<16|uint32(g[11])<<24,
		uint32(g[12])|uint32(g[13])<<8|uint32(g[14])<<16|uint32(g[15])<<24)
}

// CustomVersion is one entry of a custom version container.
type CustomVersion struct {
	Key     Guid
	Version int32
}

// VersioningInfo is present in versioned packages only.
type VersioningInfo struct {
	ZenVersion      uint32
	FileVersionUE4  int32
	FileVersionUE5  int32
	LicenseeVersion int32
	CustomVersions  []CustomVersion
}

func unmarshalSummary(data []byte) (*PackageSummary, error) {
	if len(data) < SummarySize {
		return nil, malformed("summary", "chunk too short for summary: %d bytes", len(data))
	}
	s := newStream(data[:SummarySize])
	var sum PackageSummary
	// The reads below cannot fail: the slice is exactly SummarySize long.
	hasVersioning, _ := s.readUint32()
	sum.HasVersioningInfo = hasVersioning != 0
	sum.HeaderSize, _ = s.readUint32()
	sum.Name, _ = s.readMappedName()
	sum.PackageFlags, _ = s.readUint32()
	sum.CookedHeaderSize, _ = s.readUint32()
	sum.ImportedPublicExportHashesOffset, _ = s.readInt32()
	sum.ImportMapOffset, _ = s.readInt32()
	sum.ExportMapOffset, _ = s.readInt32()
	sum.ExportBundleEntriesOffset, _ = s.readInt32()
	sum.GraphDataOffset, _ = s.readInt32()
	if hasVersioning > 1 {
		return nil, malformed("summary.has_versioning_info", "invalid boolean %d", hasVersioning)
	}
	return &sum, nil
}

// validate checks section ordering and bounds against the chunk length.
func (sum *PackageSummary) validate(chunkLen int) error {
	if int64(sum.HeaderSize) > int64(chunkLen) {
		return malformed("summary.header_size", "header size %d exceeds chunk size %d", sum.HeaderSize, chunkLen)
	}
	sections := []struct {
		field  string
		offset int32
	}{
		{"summary.imported_public_export_hashes_offset", sum.ImportedPublicExportHashesOffset},
		{"summary.import_map_offset", sum.ImportMapOffset},
		{"summary.export_map_offset", sum.ExportMapOffset},
		{"summary.export_bundle_entries_offset", sum.ExportBundleEntriesOffset},
		{"summary.graph_data_offset", sum.GraphDataOffset},
	}
	prev := int64(SummarySize)
	for _, sec := range sections {
		if int64(sec.offset) < prev || int64(sec.offset) > int64(sum.HeaderSize) {
			return malformed(sec.field, "offset %d outside [%d, %d]", sec.offset, prev, sum.HeaderSize)
		}
		prev = int64(sec.offset)
	}
	return nil
}

func (sum *PackageSummary) put(b *builder) {
	var hasVersioning uint32
	if sum.HasVersioningInfo {
		hasVersioning = 1
	}
	b.putUint32(hasVersioning)
	b.putUint32(sum.HeaderSize)
	b.putMappedName(sum.Name)
	b.putUint32(sum.PackageFlags)
	b.putUint32(sum.CookedHeaderSize)
	b.putInt32(sum.ImportedPublicExportHashesOffset)
	b.putInt32(sum.ImportMapOffset)
	b.putInt32(sum.ExportMapOffset)
	b.putInt32(sum.ExportBundleEntriesOffset)
	b.putInt32(sum.GraphDataOffset)
}

func readVersioningInfo(s *stream) (*VersioningInfo, error) {
	var v VersioningInfo
	var err error
	if v.ZenVersion, err = s.readUint32(); err != nil {
		return nil, err
	}
	if v.FileVersionUE4, err = s.readInt32(); err != nil {
		return nil, err
	}
	if v.FileVersionUE5, err = s.readInt32(); err != nil {
		return nil, err
	}
	if v.LicenseeVersion, err = s.readInt32(); err != nil {
		return nil, err
	}
	n, err := s.readCount(20)
	if err != nil {
		return nil, err
	}
	v.CustomVersions = make([]CustomVersion, n)
	for i := range v.CustomVersions {
		key, err := s.take(16)
		if err != nil {
			return nil, err
		}
		copy(v.CustomVersions[i].Key[:], key)
		if v.CustomVersions[i].Version, err = s.readInt32(); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (v *VersioningInfo) put(b *builder) {
	b.putUint32(v.ZenVersion)
	b.putInt32(v.FileVersionUE4)
	b.putInt32(v.FileVersionUE5)
	b.putInt32(v.LicenseeVersion)
	b.putInt32(int32(len(v.CustomVersions)))
	for _, cv := range v.CustomVersions {
		b.putBytes(cv.Key[:])
		b.putInt32(cv.Version)
	}
}
