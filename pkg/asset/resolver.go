package asset

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/odvcencio/zentools/pkg/zen"
)

var coreUObject = zen.NewName("/Script/CoreUObject")

// Classes assigned to imports whose class is not recorded in the store.
var (
	packageClass = ObjectPath{Package: coreUObject, Asset: zen.NewName("Package")}
	objectClass  = ObjectPath{Package: coreUObject, Asset: zen.NewName("Object")}
)

// ObjectPath is the path of an object split at its top-level asset.
type ObjectPath struct {
	Package zen.Name
	Asset   zen.Name
	// SubPath joins the names below the asset with ':'.
	SubPath string
}

func (p ObjectPath) String() string {
	if p.Package == zen.NoneName {
		return ""
	}
	s := p.Package.String()
	if p.Asset != zen.NoneName {
		s += "." + p.Asset.String()
	}
	if p.SubPath != "" {
		s += ":" + p.SubPath
	}
	return s
}

// ResolveLocalRef maps ref into the legacy tables, creating imports as
// needed. ext is the package whose tables ref belongs to, or nil for the
// package being transcoded.
func (c *Context) ResolveLocalRef(ext *zen.Package, ref zen.ObjectRef) (PackageIndex, error) {
	switch r := ref.(type) {
	case zen.ScriptRef:
		return c.createScriptImport(r.Index)
	case zen.PackageRef:
		return c.createExternalObjectReference(r.Key)
	case zen.ExportRef:
		return c.createExportReference(ext, r.Index)
	case zen.NullRef, nil:
		// A null reference inside another package's tables means that
		// package itself.
		if ext != nil {
			return c.CreatePackageImport(ext.Name), nil
		}
		return NullIndex, nil
	default:
		return NullIndex, fmt.Errorf("%w: unexpected reference type %T", zen.ErrInvariant, ref)
	}
}

// CreatePackageImport returns the top-level import of the named package.
// The package being transcoded never imports itself.
func (c *Context) CreatePackageImport(name zen.Name) PackageIndex {
	if name == c.pkg.Name {
		return NullIndex
	}
	if i, ok := c.memo[importKey{NullIndex, name}]; ok {
		return FromImport(i)
	}
	return FromImport(c.addImport(ObjectImport{
		ClassPackage: packageClass.Package,
		ClassName:    packageClass.Asset,
		Outer:        NullIndex,
		ObjectName:   name,
	}))
}

func (c *Context) addImport(imp ObjectImport) int {
	i := len(c.Imports)
	c.Imports = append(c.Imports, imp)
	c.memo[importKey{imp.Outer, imp.ObjectName}] = i
	return i
}

func (c *Context) createScriptImport(idx zen.ObjectIndex) (PackageIndex, error) {
	obj, err := c.reg.FindScriptObject(idx)
	if err != nil {
		return NullIndex, err
	}
	if obj.OuterIndex.IsNull() {
		return c.CreatePackageImport(obj.Name), nil
	}

	key := pendingKey{script: idx, export: -1}
	if c.pending[key] {
		return NullIndex, fmt.Errorf("%w: reference cycle through script object %s", zen.ErrMalformed, idx)
	}
	c.pending[key] = true
	outer, err := c.createScriptImport(obj.OuterIndex)
	delete(c.pending, key)
	if err != nil {
		return NullIndex, err
	}
	if i, ok := c.memo[importKey{outer, obj.Name}]; ok {
		return FromImport(i), nil
	}

	i := c.addImport(ObjectImport{Outer: outer, ObjectName: obj.Name})
	class := objectClass
	if !obj.CDOClassIndex.IsNull() {
		cdoClass, err := c.createScriptImport(obj.CDOClassIndex)
		if err != nil {
			return NullIndex, fmt.Errorf("class of %s: %w", obj.Name, err)
		}
		if class, err = c.ResolveObjectPath(cdoClass); err != nil {
			return NullIndex, err
		}
	}
	c.Imports[i].ClassPackage, c.Imports[i].ClassName = class.Package, class.Asset
	return FromImport(i), nil
}

func (c *Context) createExternalObjectReference(key zen.PublicExportKey) (PackageIndex, error) {
	if key.PackageID == c.pkg.ID {
		i, ok := c.pkg.ExportByHash(key.ExportHash)
		if !ok {
			return NullIndex, fmt.Errorf("%w: no export with public hash 0x%016x", zen.ErrNotFound, key.ExportHash)
		}
		return FromExport(i), nil
	}
	ext, err := c.reg.LookupPackage(key.PackageID)
	if err != nil {
		return NullIndex, err
	}
	i, ok := ext.ExportByHash(key.ExportHash)
	if !ok {
		return NullIndex, fmt.Errorf("%w: package %s has no export with public hash 0x%016x", zen.ErrNotFound, ext.Name, key.ExportHash)
	}
	return c.createExportReference(ext, i)
}

// createExportReference resolves export i of ext. Exports of another
// package become imports whose class is settled by a fix-up once every
// export of the package being transcoded exists.
func (c *Context) createExportReference(ext *zen.Package, i int) (PackageIndex, error) {
	if ext == nil || ext.ID == c.pkg.ID {
		if i < 0 || i >= len(c.pkg.Exports) {
			return NullIndex, fmt.Errorf("%w: export %d out of range (%d exports)", zen.ErrMalformed, i, len(c.pkg.Exports))
		}
		return FromExport(i), nil
	}
	if i < 0 || i >= len(ext.Exports) {
		return NullIndex, fmt.Errorf("%w: export %d of %s out of range (%d exports)", zen.ErrMalformed, i, ext.Name, len(ext.Exports))
	}
	src := &ext.Exports[i]

	key := pendingKey{pkg: ext.ID, export: i}
	if c.pending[key] {
		return NullIndex, fmt.Errorf("%w: reference cycle through export %s of %s", zen.ErrMalformed, src.Name, ext.Name)
	}
	c.pending[key] = true
	outer, err := c.ResolveLocalRef(ext, src.Outer)
	delete(c.pending, key)
	if err != nil {
		return NullIndex, err
	}
	if j, ok := c.memo[importKey{outer, src.Name}]; ok {
		return FromImport(j), nil
	}

	j := c.addImport(ObjectImport{Outer: outer, ObjectName: src.Name})
	class, err := c.ResolveLocalRef(ext, src.Class)
	if err != nil {
		return NullIndex, fmt.Errorf("class of %s: %w", src.Name, err)
	}
	c.fixups[j] = class
	return FromImport(j), nil
}

func (c *Context) createExternalPackageReference(id zen.PackageID) (PackageIndex, error) {
	if id == c.pkg.ID {
		return NullIndex, nil
	}
	ext, err := c.reg.LookupPackage(id)
	if err != nil {
		return NullIndex, err
	}
	return c.CreatePackageImport(ext.Name), nil
}

// ResolveObjectPath walks the outer chain of idx. An export without an
// outer belongs to the package being transcoded.
func (c *Context) ResolveObjectPath(idx PackageIndex) (ObjectPath, error) {
	var names []zen.Name
	limit := len(c.Imports) + len(c.Exports) + 1
	for cur := idx; !cur.IsNull(); {
		if len(names) > limit {
			return ObjectPath{}, fmt.Errorf("%w: outer chain of %s does not terminate", zen.ErrMalformed, idx)
		}
		if cur.IsImport() {
			i := cur.ToImport()
			if i >= len(c.Imports) {
				return ObjectPath{}, fmt.Errorf("%w: %s out of range (%d imports)", zen.ErrInvariant, cur, len(c.Imports))
			}
			names = append(names, c.Imports[i].ObjectName)
			cur = c.Imports[i].Outer
			continue
		}
		i := cur.ToExport()
		if i >= len(c.Exports) {
			return ObjectPath{}, fmt.Errorf("%w: %s out of range (%d exports)", zen.ErrInvariant, cur, len(c.Exports))
		}
		names = append(names, c.Exports[i].ObjectName)
		cur = c.Exports[i].Outer
		if cur.IsNull() {
			names = append(names, c.pkg.Name)
		}
	}
	slices.Reverse(names)

	path := ObjectPath{Package: zen.NoneName, Asset: zen.NoneName}
	if len(names) > 0 {
		path.Package = names[0]
	}
	if len(names) > 1 {
		path.Asset = names[1]
	}
	if len(names) > 2 {
		sub := make([]string, 0, len(names)-2)
		for _, n := range names[2:] {
			sub = append(sub, n.String())
		}
		path.SubPath = strings.Join(sub, ":")
	}
	return path, nil
}

// ApplyFixups sets the class of every import created from another
// package's export to the path of its resolved class.
func (c *Context) ApplyFixups() error {
	keys := make([]int, 0, len(c.fixups))
	for i := range c.fixups {
		keys = append(keys, i)
	}
	sort.Ints(keys)
	for _, i := range keys {
		class, err := c.ResolveObjectPath(c.fixups[i])
		if err != nil {
			return fmt.Errorf("class of import %d: %w", i, err)
		}
		c.Imports[i].ClassPackage, c.Imports[i].ClassName = class.Package, class.Asset
	}
	clear(c.fixups)
	return nil
}
