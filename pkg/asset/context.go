// Package asset rebuilds the legacy self-describing asset layout of one
// decoded package: its name, import, export and preload tables, and the
// header and exports streams that carry them.
package asset

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/odvcencio/zentools/pkg/zen"
)

// Registry is the read-only view of the decoded package store that
// resolution consults for other packages and script objects.
type Registry interface {
	LookupPackage(id zen.PackageID) (*zen.Package, error)
	FindScriptObject(idx zen.ObjectIndex) (zen.ScriptObject, error)
}

type importKey struct {
	outer PackageIndex
	name  zen.Name
}

// pendingKey names an object whose outer chain is being resolved: a script
// object, or an export of some package.
type pendingKey struct {
	script zen.ObjectIndex
	pkg    zen.PackageID
	export int
}

// Context holds the tables of one package while it is transcoded. It is
// owned by a single goroutine and discarded once the package is written.
type Context struct {
	pkg    *zen.Package
	reg    Registry
	logger *slog.Logger

	Summary Summary
	Names   *NameTable
	Imports []ObjectImport
	Exports []ObjectExport
	// Preload holds the dependency lists of each export, by export index.
	Preload []PreloadDependencies

	memo    map[importKey]int
	pending map[pendingKey]bool
	// fixups maps an import to the reference whose path becomes its class.
	fixups map[int]PackageIndex
	// zenImports maps each import map entry of the package to its resolved
	// reference.
	zenImports []PackageIndex

	processed      bool
	exportsWritten bool
}

// NewContext returns a fresh context for pkg. A nil logger discards output.
func NewContext(pkg *zen.Package, reg Registry, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Context{
		pkg:     pkg,
		reg:     reg,
		logger:  logger.With("package", pkg.Name.String(), "package_id", pkg.ID.String()),
		Names:   NewNameTable(pkg.NameMap),
		memo:    make(map[importKey]int),
		pending: make(map[pendingKey]bool),
		fixups:  make(map[int]PackageIndex),
	}
}

// Package returns the package being transcoded.
func (c *Context) Package() *zen.Package { return c.pkg }

// PendingFixups returns the number of class fix-ups not yet applied.
func (c *Context) PendingFixups() int { return len(c.fixups) }

// Process resolves the import and export tables, applies class fix-ups and
// builds the preload dependencies. It runs once per context.
func (c *Context) Process() error {
	if c.processed {
		return fmt.Errorf("%w: package %s processed twice", zen.ErrInvariant, c.pkg.ID)
	}
	c.processed = true

	if c.pkg.Flags&zen.PackageFlagFilterEditorOnly == 0 {
		return c.fail("summary.package_flags", fmt.Errorf("%w: package is not editor-filtered (flags 0x%08x)", zen.ErrMalformed, c.pkg.Flags))
	}
	c.Summary = newSummary(c.pkg)

	order, err := c.resolveImportMap()
	if err != nil {
		return err
	}
	if _, err := c.Reorder(order); err != nil {
		return c.fail("import_map", err)
	}

	c.Exports = make([]ObjectExport, 0, len(c.pkg.Exports))
	for i := range c.pkg.Exports {
		if err := c.createExport(i); err != nil {
			return err
		}
	}
	if err := c.ApplyFixups(); err != nil {
		return c.fail("fixups", err)
	}
	c.Summary.ExportCount = int32(len(c.Exports))
	c.Summary.ImportCount = int32(len(c.Imports))

	if err := c.BuildPreloadDependencies(); err != nil {
		return c.fail("graph_data", err)
	}
	c.logger.Debug("processed package", "imports", len(c.Imports), "exports", len(c.Exports))
	return nil
}

// resolveImportMap resolves every import map entry in order and returns the
// import table positions they landed on, first occurrence only.
func (c *Context) resolveImportMap() ([]int, error) {
	var order []int
	seen := make(map[int]bool)
	nextPackage := 0
	c.zenImports = make([]PackageIndex, len(c.pkg.Imports))
	for i, ref := range c.pkg.Imports {
		field := fmt.Sprintf("import_map[%d]", i)
		var (
			idx PackageIndex
			err error
		)
		if _, ok := ref.(zen.NullRef); ok {
			if nextPackage >= len(c.pkg.ImportedPackages) {
				return nil, c.fail(field, fmt.Errorf("%w: null import without an imported package (%d imported)", zen.ErrMalformed, len(c.pkg.ImportedPackages)))
			}
			idx, err = c.createExternalPackageReference(c.pkg.ImportedPackages[nextPackage])
			nextPackage++
		} else {
			idx, err = c.ResolveLocalRef(nil, ref)
		}
		if err != nil {
			return nil, c.fail(field, err)
		}
		c.zenImports[i] = idx
		if idx.IsImport() && !seen[idx.ToImport()] {
			seen[idx.ToImport()] = true
			order = append(order, idx.ToImport())
		}
	}
	return order, nil
}

func (c *Context) createExport(i int) error {
	src := &c.pkg.Exports[i]
	exp := ObjectExport{
		ObjectName:            src.Name,
		ObjectFlags:           src.ObjectFlags,
		SerialSize:            -1,
		SerialOffset:          -1,
		NotForClient:          src.FilterFlags&zen.FilterNotForClient != 0,
		NotForServer:          src.FilterFlags&zen.FilterNotForServer != 0,
		PackageFlags:          c.pkg.Flags &^ strippedPackageFlags,
		GeneratePublicHash:    src.PublicExportHash != 0,
		FirstExportDependency: -1,
	}
	refs := []struct {
		field string
		ref   zen.ObjectRef
		dst   *PackageIndex
	}{
		{"class_index", src.Class, &exp.Class},
		{"super_index", src.Super, &exp.Super},
		{"template_index", src.Template, &exp.Template},
		{"outer_index", src.Outer, &exp.Outer},
	}
	for _, r := range refs {
		idx, err := c.ResolveLocalRef(nil, r.ref)
		if err != nil {
			return c.fail(fmt.Sprintf("export_map[%d].%s", i, r.field), err)
		}
		*r.dst = idx
	}
	exp.IsAsset = exp.ObjectFlags&(ObjectFlagClassDefaultObject|ObjectFlagArchetypeObject) == 0 &&
		exp.ObjectFlags&ObjectFlagPublic != 0 && exp.Outer.IsNull()
	c.Exports = append(c.Exports, exp)
	return nil
}

// fail scopes err to the package. Errors already scoped pass through.
func (c *Context) fail(field string, err error) error {
	var pe *zen.PackageError
	if errors.As(err, &pe) {
		return err
	}
	return &zen.PackageError{PackageID: c.pkg.ID, Field: field, Err: err}
}
