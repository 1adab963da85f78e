package asset

import "fmt"

// PackageIndex is a reference into the legacy import or export table:
// import i is -(i+1), export i is i+1 and zero is null.
type PackageIndex int32

// NullIndex is the empty reference.
const NullIndex PackageIndex = 0

// FromImport returns the reference to import i.
func FromImport(i int) PackageIndex { return PackageIndex(-i - 1) }

// FromExport returns the reference to export i.
func FromExport(i int) PackageIndex { return PackageIndex(i + 1) }

func (p PackageIndex) IsNull() bool   { return p == 0 }
func (p PackageIndex) IsImport() bool { return p < 0 }
func (p PackageIndex) IsExport() bool { return p > 0 }

// ToImport returns the import table index. p must be an import.
func (p PackageIndex) ToImport() int { return int(-p) - 1 }

// ToExport returns the export table index. p must be an export.
func (p PackageIndex) ToExport() int { return int(p) - 1 }

func (p PackageIndex) String() string {
	switch {
	case p.IsImport():
		return fmt.Sprintf("import(%d)", p.ToImport())
	case p.IsExport():
		return fmt.Sprintf("export(%d)", p.ToExport())
	default:
		return "null"
	}
}
