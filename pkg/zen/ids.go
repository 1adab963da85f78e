package zen

import "fmt"

// PackageID is the stable 64-bit identifier of a package, independent of
// its name.
type PackageID uint64

func (id PackageID) String() string {
	return fmt.Sprintf("0x%016x", uint64(id))
}

// ObjectIndexKind is the tag stored in the top two bits of an ObjectIndex.
type ObjectIndexKind uint8

const (
	KindExport        ObjectIndexKind = 0
	KindScriptImport  ObjectIndexKind = 1
	KindPackageImport ObjectIndexKind = 2
	KindNull          ObjectIndexKind = 3
)

const (
	objectIndexKindShift = 62
	objectIndexMask      = uint64(1)<<objectIndexKindShift - 1
)

// ObjectIndex is the packed 64-bit object reference used throughout the
// chunked format.
type ObjectIndex uint64

// NullIndex is the all-ones null reference.
const NullIndex = ObjectIndex(^uint64(0))

// ExportIndex builds a reference to a local export.
func ExportIndex(i uint32) ObjectIndex {
	return ObjectIndex(uint64(KindExport)<<objectIndexKindShift | uint64(i))
}

// ScriptImportIndex builds a reference to a global script object.
func ScriptImportIndex(value uint64) ObjectIndex {
	return ObjectIndex(uint64(KindScriptImport)<<objectIndexKindShift | value&objectIndexMask)
}

// PackageImportIndex builds a reference to a public export of an imported
// package, addressed by the imported package slot and the public export
// hash slot.
func PackageImportIndex(packageSlot, hashSlot uint32) ObjectIndex {
	return ObjectIndex(uint64(KindPackageImport)<<objectIndexKindShift | uint64(packageSlot)<<32 | uint64(hashSlot))
}

// Kind returns the tag of the index.
func (i ObjectIndex) Kind() ObjectIndexKind {
	return ObjectIndexKind(uint64(i) >> objectIndexKindShift)
}

// IsNull reports whether i is the null reference.
func (i ObjectIndex) IsNull() bool { return i == NullIndex }

// Value returns the index without its tag.
func (i ObjectIndex) Value() uint64 { return uint64(i) & objectIndexMask }

// importedPackageSlot returns the imported package slot of a package import.
func (i ObjectIndex) importedPackageSlot() uint32 { return uint32(i.Value() >> 32) }

// publicExportHashSlot returns the public export hash slot of a package import.
func (i ObjectIndex) publicExportHashSlot() uint32 { return uint32(i.Value()) }

func (i ObjectIndex) String() string {
	switch {
	case i.IsNull():
		return "null"
	case i.Kind() == KindExport:
		return fmt.Sprintf("export(%d)", i.Value())
	case i.Kind() == KindScriptImport:
		return fmt.Sprintf("script(0x%x)", i.Value())
	case i.Kind() == KindPackageImport:
		return fmt.Sprintf("package(%d,%d)", i.importedPackageSlot(), i.publicExportHashSlot())
	default:
		return fmt.Sprintf("invalid(0x%x)", uint64(i))
	}
}

// PublicExportKey identifies an exported object of another package.
type PublicExportKey struct {
	PackageID  PackageID
	ExportHash uint64
}

// ObjectRef is a decoded object reference. It is exactly one of NullRef,
// ExportRef, ScriptRef or PackageRef.
type ObjectRef interface {
	isObjectRef()
	String() string
}

// NullRef is the empty reference. In an export's outer it marks a top-level
// export of the package.
type NullRef struct{}

// ExportRef references an export of the package the reference belongs to.
type ExportRef struct{ Index int }

// ScriptRef references a global script object.
type ScriptRef struct{ Index ObjectIndex }

// PackageRef references a public export of another (or, degenerately, the
// same) package.
type PackageRef struct{ Key PublicExportKey }

func (NullRef) isObjectRef()    {}
func (ExportRef) isObjectRef()  {}
func (ScriptRef) isObjectRef()  {}
func (PackageRef) isObjectRef() {}

func (NullRef) String() string      { return "null" }
func (r ExportRef) String() string  { return fmt.Sprintf("export(%d)", r.Index) }
func (r ScriptRef) String() string  { return r.Index.String() }
func (r PackageRef) String() string { return fmt.Sprintf("package(%s,0x%016x)", r.Key.PackageID, r.Key.ExportHash) }

// resolveRef turns a packed index into an ObjectRef using the package's
// imported package list and imported public export hashes.
func resolveRef(field string, idx ObjectIndex, importedPackages []PackageID, hashes []uint64) (ObjectRef, error) {
	if idx.IsNull() {
		return NullRef{}, nil
	}
	switch idx.Kind() {
	case KindExport:
		return ExportRef{Index: int(idx.Value())}, nil
	case KindScriptImport:
		return ScriptRef{Index: idx}, nil
	case KindPackageImport:
		pkgSlot, hashSlot := idx.importedPackageSlot(), idx.publicExportHashSlot()
		if int(pkgSlot) >= len(importedPackages) {
			return nil, malformed(field, "imported package slot %d out of range (%d imported packages)", pkgSlot, len(importedPackages))
		}
		if int(hashSlot) >= len(hashes) {
			return nil, malformed(field, "public export hash slot %d out of range (%d hashes)", hashSlot, len(hashes))
		}
		return PackageRef{Key: PublicExportKey{PackageID: importedPackages[pkgSlot], ExportHash: hashes[hashSlot]}}, nil
	default:
		return nil, malformed(field, "invalid object index %#x", uint64(idx))
	}
}
