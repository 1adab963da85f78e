package asset

import (
	"fmt"

	"github.com/odvcencio/zentools/pkg/zen"
)

// Reorder permutes the import table so that the imports listed in order
// come first, in that order, followed by the rest in their current relative
// order. Every import reference held by the context is rewritten through
// the permutation, which is returned as an old-to-new index table.
func (c *Context) Reorder(order []int) ([]int, error) {
	if len(c.Preload) > 0 {
		return nil, fmt.Errorf("%w: imports reordered after preload dependencies were built", zen.ErrInvariant)
	}
	n := len(c.Imports)
	oldToNew := make([]int, n)
	for i := range oldToNew {
		oldToNew[i] = -1
	}
	for pos, old := range order {
		if old < 0 || old >= n {
			return nil, fmt.Errorf("%w: import %d out of range (%d imports)", zen.ErrInvariant, old, n)
		}
		if oldToNew[old] >= 0 {
			return nil, fmt.Errorf("%w: import %d listed twice", zen.ErrInvariant, old)
		}
		oldToNew[old] = pos
	}
	next := len(order)
	for old := range oldToNew {
		if oldToNew[old] < 0 {
			oldToNew[old] = next
			next++
		}
	}

	remap := func(p PackageIndex) PackageIndex {
		if p.IsImport() {
			return FromImport(oldToNew[p.ToImport()])
		}
		return p
	}
	imports := make([]ObjectImport, n)
	for old, imp := range c.Imports {
		imp.Outer = remap(imp.Outer)
		imports[oldToNew[old]] = imp
	}
	c.Imports = imports

	fixups := make(map[int]PackageIndex, len(c.fixups))
	for old, class := range c.fixups {
		fixups[oldToNew[old]] = remap(class)
	}
	c.fixups = fixups

	memo := make(map[importKey]int, len(c.memo))
	for k, old := range c.memo {
		memo[importKey{remap(k.outer), k.name}] = oldToNew[old]
	}
	c.memo = memo

	for i, p := range c.zenImports {
		c.zenImports[i] = remap(p)
	}
	for i := range c.Exports {
		e := &c.Exports[i]
		e.Class, e.Super, e.Template, e.Outer = remap(e.Class), remap(e.Super), remap(e.Template), remap(e.Outer)
	}
	return oldToNew, nil
}
