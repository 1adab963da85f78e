package asset

import (
	"fmt"
	"slices"

	"github.com/odvcencio/zentools/pkg/zen"
)

// PreloadDependencies are the four ordered dependency lists of one export,
// named by the command of the dependency followed by the command of the
// export that waits on it.
type PreloadDependencies struct {
	owner PackageIndex

	SerializeBeforeSerialize []PackageIndex
	CreateBeforeSerialize    []PackageIndex
	SerializeBeforeCreate    []PackageIndex
	CreateBeforeCreate       []PackageIndex
}

// Add records that the current command of the owning export waits for the
// given command of from. References to the owner and null are dropped.
func (d *PreloadDependencies) Add(current zen.BundleCommand, from PackageIndex, fromCommand zen.BundleCommand) {
	if from.IsNull() || from == d.owner {
		return
	}
	var list *[]PackageIndex
	switch {
	case current == zen.CommandCreate && fromCommand == zen.CommandCreate:
		list = &d.CreateBeforeCreate
	case current == zen.CommandCreate:
		list = &d.SerializeBeforeCreate
	case fromCommand == zen.CommandCreate:
		list = &d.CreateBeforeSerialize
	default:
		list = &d.SerializeBeforeSerialize
	}
	if !slices.Contains(*list, from) {
		*list = append(*list, from)
	}
}

// Len returns the total number of dependencies.
func (d *PreloadDependencies) Len() int {
	return len(d.SerializeBeforeSerialize) + len(d.CreateBeforeSerialize) +
		len(d.SerializeBeforeCreate) + len(d.CreateBeforeCreate)
}

// All returns the dependencies in table order.
func (d *PreloadDependencies) All() []PackageIndex {
	all := make([]PackageIndex, 0, d.Len())
	all = append(all, d.SerializeBeforeSerialize...)
	all = append(all, d.CreateBeforeSerialize...)
	all = append(all, d.SerializeBeforeCreate...)
	return append(all, d.CreateBeforeCreate...)
}

// BuildPreloadDependencies derives the dependency lists of every export
// from bundle order, the package's arcs and the structural references of
// each export.
func (c *Context) BuildPreloadDependencies() error {
	if len(c.Exports) != len(c.pkg.Exports) {
		return fmt.Errorf("%w: %d of %d exports created", zen.ErrInvariant, len(c.Exports), len(c.pkg.Exports))
	}
	c.Preload = make([]PreloadDependencies, len(c.Exports))
	for i := range c.Preload {
		c.Preload[i].owner = FromExport(i)
	}

	processed := make([]bool, len(c.pkg.Bundles))
	for b := range c.pkg.Bundles {
		if _, _, err := c.buildBundle(b, processed); err != nil {
			return err
		}
	}

	for i := range c.Exports {
		e, d := &c.Exports[i], &c.Preload[i]
		d.Add(zen.CommandCreate, e.Class, zen.CommandSerialize)
		d.Add(zen.CommandCreate, e.Template, zen.CommandSerialize)
		d.Add(zen.CommandCreate, e.Outer, zen.CommandCreate)
		d.Add(zen.CommandCreate, e.Super, zen.CommandCreate)
	}
	return nil
}

// buildBundle adds the dependencies of bundle b, first building every
// bundle an internal arc orders before it. It returns the last entry of
// the bundle; ok is false for an empty bundle.
func (c *Context) buildBundle(b int, processed []bool) (last zen.BundleEntry, ok bool, err error) {
	bundle := c.pkg.Bundles[b]
	if len(bundle) == 0 {
		return zen.BundleEntry{}, false, nil
	}
	last = bundle[len(bundle)-1]
	if processed[b] {
		return last, true, nil
	}
	processed[b] = true

	first := bundle[0]
	deps := &c.Preload[first.ExportIndex]
	for _, arc := range c.pkg.InternalArcs {
		if int(arc.ToBundle) != b {
			continue
		}
		prev, ok, err := c.buildBundle(int(arc.FromBundle), processed)
		if err != nil {
			return last, false, err
		}
		if ok {
			deps.Add(first.Command, FromExport(int(prev.ExportIndex)), prev.Command)
		}
	}
	for _, arc := range c.pkg.ExternalArcs {
		if int(arc.ToBundle) != b {
			continue
		}
		if int(arc.FromImport) >= len(c.zenImports) {
			return last, false, fmt.Errorf("%w: external arc from unresolved import %d", zen.ErrInvariant, arc.FromImport)
		}
		deps.Add(first.Command, c.zenImports[arc.FromImport], arc.FromCommand)
	}
	for i := 1; i < len(bundle); i++ {
		prev, cur := bundle[i-1], bundle[i]
		c.Preload[cur.ExportIndex].Add(cur.Command, FromExport(int(prev.ExportIndex)), prev.Command)
	}
	return last, true, nil
}
