// Package zentest builds chunked package stores for tests.
package zentest

import (
	"fmt"
	"strings"

	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/zen"
)

// Export describes an export of a fixture package. Reference fields are raw
// object indices; use NewExport to start from null references.
type Export struct {
	Name     string
	Number   uint32
	Outer    zen.ObjectIndex
	Class    zen.ObjectIndex
	Super    zen.ObjectIndex
	Template zen.ObjectIndex
	Hash     uint64
	Flags    uint32
	Filter   uint8
	Data     []byte
}

// NewExport returns an export with all references null.
func NewExport(name string, data []byte) Export {
	return Export{
		Name:     name,
		Outer:    zen.NullIndex,
		Class:    zen.NullIndex,
		Super:    zen.NullIndex,
		Template: zen.NullIndex,
		Data:     data,
	}
}

// Package describes a fixture package.
type Package struct {
	ID   zen.PackageID
	Name string
	// Flags are package flags; FilterEditorOnly is always added.
	Flags    uint32
	Imported []zen.PackageID
	Hashes   []uint64
	Imports  []zen.ObjectIndex
	Exports  []Export
	// Bundles defaults to one create+serialize bundle per export when nil.
	Bundles      [][]zen.BundleEntry
	InternalArcs []zen.InternalArc
	// ExternalArcs defaults to empty groups, one per imported package.
	ExternalArcs [][]zen.ExternalArc
	Versioning   *zen.VersioningInfo
	// Filename defaults to the package name under the mount prefix.
	Filename string
	Optional bool
}

// FileName returns the chunk file name of the package.
func (p *Package) FileName() string {
	if p.Filename != "" {
		return p.Filename
	}
	return "../../../" + strings.TrimPrefix(p.Name, "/") + ".uasset"
}

// Chunk builds the raw package chunk.
func (p *Package) Chunk() *zen.PackageChunk {
	var names []string
	slots := make(map[string]uint32)
	intern := func(s string) uint32 {
		if i, ok := slots[s]; ok {
			return i
		}
		slots[s] = uint32(len(names))
		names = append(names, s)
		return slots[s]
	}

	c := &zen.PackageChunk{
		Summary: zen.PackageSummary{
			Name:         zen.MappedName{Index: intern(p.Name)},
			PackageFlags: p.Flags | zen.PackageFlagFilterEditorOnly,
		},
		Versioning:                 p.Versioning,
		ImportedPublicExportHashes: p.Hashes,
		ImportMap:                  p.Imports,
		Bundles:                    p.Bundles,
		InternalArcs:               p.InternalArcs,
		ExternalArcs:               p.ExternalArcs,
		ExportData:                 make([][]byte, len(p.Exports)),
	}
	for i, e := range p.Exports {
		c.ExportMap = append(c.ExportMap, zen.ExportMapEntry{
			ObjectName:       zen.MappedName{Index: intern(e.Name), Number: e.Number},
			OuterIndex:       e.Outer,
			ClassIndex:       e.Class,
			SuperIndex:       e.Super,
			TemplateIndex:    e.Template,
			PublicExportHash: e.Hash,
			ObjectFlags:      e.Flags,
			FilterFlags:      e.Filter,
		})
		c.ExportData[i] = e.Data
	}
	c.Names = names
	if c.Bundles == nil {
		for i := range p.Exports {
			c.Bundles = append(c.Bundles, []zen.BundleEntry{
				{ExportIndex: uint32(i), Command: zen.CommandCreate},
				{ExportIndex: uint32(i), Command: zen.CommandSerialize},
			})
		}
	}
	if c.ExternalArcs == nil {
		c.ExternalArcs = make([][]zen.ExternalArc, len(p.Imported))
	}
	return c
}

// StoreEntry returns the container header record of the package.
func (p *Package) StoreEntry() zen.StoreEntry {
	c := p.Chunk()
	return zen.StoreEntry{
		ExportCount:       int32(len(c.ExportMap)),
		ExportBundleCount: int32(len(c.Bundles)),
		ImportedPackages:  p.Imported,
	}
}

// Marshal encodes the package chunk.
func (p *Package) Marshal() ([]byte, error) {
	data, err := p.Chunk().Marshal()
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", p.Name, err)
	}
	return data, nil
}

// Decode encodes and then decodes the package.
func (p *Package) Decode() (*zen.Package, error) {
	data, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	entry := p.StoreEntry()
	return zen.DecodePackage(p.ID, &entry, data)
}

// Chunk is one chunk of a fixture container.
type Chunk struct {
	ID       iostore.ChunkID
	FileName string
	Data     []byte
}

// Container describes a fixture container.
type Container struct {
	ID            iostore.ContainerID
	ScriptObjects []zen.ScriptObject
	Packages      []*Package
	// Extra chunks are stored verbatim, e.g. bulk payloads.
	Extra []Chunk
}

// Chunks encodes every chunk of the container.
func (c *Container) Chunks() ([]Chunk, error) {
	var out []Chunk
	if c.ScriptObjects != nil {
		data, err := zen.MarshalScriptObjects(c.ScriptObjects)
		if err != nil {
			return nil, err
		}
		out = append(out, Chunk{ID: iostore.ScriptObjectsChunkID, Data: data})
	}

	header := zen.ContainerHeader{ContainerID: uint64(c.ID)}
	for _, p := range c.Packages {
		data, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		var index uint16
		if p.Optional {
			index = 1
			header.OptionalPackages = append(header.OptionalPackages, p.ID)
			header.OptionalEntries = append(header.OptionalEntries, p.StoreEntry())
		} else {
			header.Packages = append(header.Packages, p.ID)
			header.Entries = append(header.Entries, p.StoreEntry())
		}
		out = append(out, Chunk{
			ID:       iostore.NewChunkID(uint64(p.ID), index, iostore.ChunkExportBundleData),
			FileName: p.FileName(),
			Data:     data,
		})
	}
	data, err := header.Marshal()
	if err != nil {
		return nil, err
	}
	out = append(out, Chunk{ID: c.ID.HeaderChunkID(), Data: data})
	return append(out, c.Extra...), nil
}

// Memory builds an in-memory container.
func (c *Container) Memory() (*iostore.MemoryContainer, error) {
	chunks, err := c.Chunks()
	if err != nil {
		return nil, err
	}
	mc := iostore.NewMemoryContainer(c.ID)
	for _, ch := range chunks {
		mc.Put(ch.ID, ch.FileName, ch.Data)
	}
	return mc, nil
}

// Write stores the container on disk at base using opts.
func (c *Container) Write(base string, opts iostore.WriterOptions) error {
	chunks, err := c.Chunks()
	if err != nil {
		return err
	}
	w, err := iostore.NewContainerWriter(base, c.ID, opts)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if err := w.Add(ch.ID, ch.FileName, ch.Data); err != nil {
			return err
		}
	}
	return w.Finish()
}
