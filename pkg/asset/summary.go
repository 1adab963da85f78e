package asset

import "github.com/odvcencio/zentools/pkg/zen"

const (
	packageFileTag      uint32 = 0x9E2A83C1
	legacyFileVersion   int32  = -8
	legacyUE3Version    int32  = 864
	dataResourceVersion uint32 = 1
)

// Generation records the table sizes of one save generation.
type Generation struct {
	ExportCount int32
	NameCount   int32
}

// EngineVersion identifies the engine build that saved a package.
type EngineVersion struct {
	Major      uint16
	Minor      uint16
	Patch      uint16
	Changelist uint32
	Branch     string
}

// Summary is the legacy package file summary at the start of the header
// stream. Its encoded size does not depend on the offsets it carries.
type Summary struct {
	FileVersionUE4  int32
	FileVersionUE5  int32
	LicenseeVersion int32
	CustomVersions  []zen.CustomVersion
	Unversioned     bool

	TotalHeaderSize int32
	PackageName     string
	PackageFlags    uint32

	NameCount                   int32
	NameOffset                  int32
	SoftObjectPathsCount        int32
	SoftObjectPathsOffset       int32
	GatherableTextCount         int32
	GatherableTextOffset        int32
	ExportCount                 int32
	ExportOffset                int32
	ImportCount                 int32
	ImportOffset                int32
	DependsOffset               int32
	SoftPackageReferencesCount  int32
	SoftPackageReferencesOffset int32
	SearchableNamesOffset       int32
	ThumbnailTableOffset        int32
	Guid                        zen.Guid
	Generations                 []Generation

	SavedByEngineVersion        EngineVersion
	CompatibleWithEngineVersion EngineVersion
	CompressionFlags            uint32
	PackageSource               uint32

	AssetRegistryDataOffset            int32
	BulkDataStartOffset                int64
	WorldTileInfoDataOffset            int32
	PreloadDependencyCount             int32
	PreloadDependencyOffset            int32
	NamesReferencedFromExportDataCount int32
	PayloadTocOffset                   int64
	DataResourceOffset                 int32
}

func newSummary(pkg *zen.Package) Summary {
	s := Summary{
		PackageName:                        pkg.Name.String(),
		PackageFlags:                       pkg.Flags,
		NamesReferencedFromExportDataCount: int32(len(pkg.NameMap)),
		PayloadTocOffset:                   -1,
	}
	if v := pkg.Versioning; v != nil {
		s.FileVersionUE4 = v.FileVersionUE4
		s.FileVersionUE5 = v.FileVersionUE5
		s.LicenseeVersion = v.LicenseeVersion
		s.CustomVersions = v.CustomVersions
	} else {
		s.Unversioned = true
	}
	return s
}

func (v *EngineVersion) write(a *archive) {
	a.u16(v.Major)
	a.u16(v.Minor)
	a.u16(v.Patch)
	a.u32(v.Changelist)
	a.fstring(v.Branch)
}

func (s *Summary) write(a *archive) {
	a.u32(packageFileTag)
	a.i32(legacyFileVersion)
	a.i32(legacyUE3Version)
	if s.Unversioned {
		a.i32(0)
		a.i32(0)
		a.i32(0)
		a.i32(0)
	} else {
		a.i32(s.FileVersionUE4)
		a.i32(s.FileVersionUE5)
		a.i32(s.LicenseeVersion)
		a.i32(int32(len(s.CustomVersions)))
		for _, cv := range s.CustomVersions {
			a.write(cv.Key[:])
			a.i32(cv.Version)
		}
	}
	a.i32(s.TotalHeaderSize)
	a.fstring(s.PackageName)
	a.u32(s.PackageFlags)
	a.i32(s.NameCount)
	a.i32(s.NameOffset)
	a.i32(s.SoftObjectPathsCount)
	a.i32(s.SoftObjectPathsOffset)
	a.i32(s.GatherableTextCount)
	a.i32(s.GatherableTextOffset)
	a.i32(s.ExportCount)
	a.i32(s.ExportOffset)
	a.i32(s.ImportCount)
	a.i32(s.ImportOffset)
	a.i32(s.DependsOffset)
	a.i32(s.SoftPackageReferencesCount)
	a.i32(s.SoftPackageReferencesOffset)
	a.i32(s.SearchableNamesOffset)
	a.i32(s.ThumbnailTableOffset)
	a.write(s.Guid[:])
	a.i32(int32(len(s.Generations)))
	for _, g := range s.Generations {
		a.i32(g.ExportCount)
		a.i32(g.NameCount)
	}
	s.SavedByEngineVersion.write(a)
	s.CompatibleWithEngineVersion.write(a)
	a.u32(s.CompressionFlags)
	a.i32(0) // compressed chunks
	a.u32(s.PackageSource)
	a.i32(0) // additional packages to cook
	a.i32(s.AssetRegistryDataOffset)
	a.i64(s.BulkDataStartOffset)
	a.i32(s.WorldTileInfoDataOffset)
	a.i32(0) // chunk ids
	a.i32(s.PreloadDependencyCount)
	a.i32(s.PreloadDependencyOffset)
	a.i32(s.NamesReferencedFromExportDataCount)
	a.i64(s.PayloadTocOffset)
	a.i32(s.DataResourceOffset)
}
