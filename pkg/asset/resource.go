package asset

import "github.com/odvcencio/zentools/pkg/zen"

// Object flags consulted when deriving export attributes.
const (
	ObjectFlagPublic             uint32 = 0x00000001
	ObjectFlagClassDefaultObject uint32 = 0x00000010
	ObjectFlagArchetypeObject    uint32 = 0x00000020
)

// strippedPackageFlags are cleared from the per-export copy of the package
// flags.
const strippedPackageFlags = zen.PackageFlagContainsMap | zen.PackageFlagContainsMapData |
	zen.PackageFlagContainsNoAsset | zen.PackageFlagDynamicImports

const (
	importRecordSize = 32
	exportRecordSize = 96
)

// ObjectImport is a row of the legacy import table.
type ObjectImport struct {
	ClassPackage zen.Name
	ClassName    zen.Name
	Outer        PackageIndex
	ObjectName   zen.Name
	Optional     bool
}

// ObjectExport is a row of the legacy export table. The four dependency
// counts and FirstExportDependency are filled when the preload table is
// written.
type ObjectExport struct {
	Class    PackageIndex
	Super    PackageIndex
	Template PackageIndex
	Outer    PackageIndex

	ObjectName   zen.Name
	ObjectFlags  uint32
	SerialSize   int64
	SerialOffset int64

	ForcedExport                 bool
	NotForClient                 bool
	NotForServer                 bool
	IsInheritedInstance          bool
	PackageFlags                 uint32
	NotAlwaysLoadedForEditorGame bool
	IsAsset                      bool
	GeneratePublicHash           bool

	FirstExportDependency                int32
	SerializeBeforeSerializeDependencies int32
	CreateBeforeSerializeDependencies    int32
	SerializeBeforeCreateDependencies    int32
	CreateBeforeCreateDependencies       int32
}

func (imp *ObjectImport) write(a *archive) {
	a.name(imp.ClassPackage)
	a.name(imp.ClassName)
	a.index(imp.Outer)
	a.name(imp.ObjectName)
	a.boolean(imp.Optional)
}

func (exp *ObjectExport) write(a *archive) {
	a.index(exp.Class)
	a.index(exp.Super)
	a.index(exp.Template)
	a.index(exp.Outer)
	a.name(exp.ObjectName)
	a.u32(exp.ObjectFlags)
	a.i64(exp.SerialSize)
	a.i64(exp.SerialOffset)
	a.boolean(exp.ForcedExport)
	a.boolean(exp.NotForClient)
	a.boolean(exp.NotForServer)
	a.boolean(exp.IsInheritedInstance)
	a.u32(exp.PackageFlags)
	a.boolean(exp.NotAlwaysLoadedForEditorGame)
	a.boolean(exp.IsAsset)
	a.boolean(exp.GeneratePublicHash)
	a.i32(exp.FirstExportDependency)
	a.i32(exp.SerializeBeforeSerializeDependencies)
	a.i32(exp.CreateBeforeSerializeDependencies)
	a.i32(exp.SerializeBeforeCreateDependencies)
	a.i32(exp.CreateBeforeCreateDependencies)
}
