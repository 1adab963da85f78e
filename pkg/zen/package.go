package zen

import "fmt"

// Package flags consulted by the transcoder.
const (
	PackageFlagContainsMap      uint32 = 0x00020000
	PackageFlagContainsMapData  uint32 = 0x00004000
	PackageFlagContainsNoAsset  uint32 = 0x00400000
	PackageFlagDynamicImports   uint32 = 0x10000000
	PackageFlagFilterEditorOnly uint32 = 0x80000000
)

// Export filter flags.
const (
	FilterNotForClient uint8 = 1
	FilterNotForServer uint8 = 2
)

const (
	exportMapEntrySize = 72
	bundleEntrySize    = 8
	bundleHeaderSize   = 16
	internalArcSize    = 8
	externalArcSize    = 9
)

// BundleCommand is the command of an export bundle entry.
type BundleCommand uint32

const (
	CommandCreate    BundleCommand = 0
	CommandSerialize BundleCommand = 1
)

func (c BundleCommand) String() string {
	switch c {
	case CommandCreate:
		return "create"
	case CommandSerialize:
		return "serialize"
	default:
		return fmt.Sprintf("command(%d)", uint32(c))
	}
}

// BundleEntry is one command of an export bundle.
type BundleEntry struct {
	ExportIndex uint32
	Command     BundleCommand
}

// InternalArc orders two bundles of the same package: the first entry of
// ToBundle depends on the last entry of FromBundle.
type InternalArc struct {
	FromBundle int32
	ToBundle   int32
}

// ExternalArc makes the first entry of ToBundle depend on an import.
// FromImport indexes the package's import map.
type ExternalArc struct {
	FromImport  int32
	FromCommand BundleCommand
	ToBundle    int32
}

// ExportMapEntry is the raw export map record.
type ExportMapEntry struct {
	CookedSerialOffset uint64
	CookedSerialSize   uint64
	ObjectName         MappedName
	OuterIndex         ObjectIndex
	ClassIndex         ObjectIndex
	SuperIndex         ObjectIndex
	TemplateIndex      ObjectIndex
	PublicExportHash   uint64
	ObjectFlags        uint32
	FilterFlags        uint8
}

// PackageChunk is the raw content of a package chunk, before references are
// resolved.
type PackageChunk struct {
	Summary                    PackageSummary
	Versioning                 *VersioningInfo
	Names                      []string
	ImportedPublicExportHashes []uint64
	ImportMap                  []ObjectIndex
	ExportMap                  []ExportMapEntry
	Bundles                    [][]BundleEntry
	InternalArcs               []InternalArc
	// ExternalArcs holds one group per imported package.
	ExternalArcs [][]ExternalArc
	// ExportData holds each export's payload, indexed by export.
	ExportData [][]byte
	// Unbundled lists the exports with a declared payload that no bundle
	// serializes. Their bytes follow the bundled payloads in export order
	// and are zero-filled where the chunk ends early.
	Unbundled []int
}

// Marshal encodes the chunk. Section offsets, the header size and export
// serial sizes are computed; the remaining summary fields are taken from
// c.Summary. Payloads are laid out in bundle serialize order, followed by
// the payloads of exports no bundle serializes.
func (c *PackageChunk) Marshal() ([]byte, error) {
	if c.ExportData != nil && len(c.ExportData) != len(c.ExportMap) {
		return nil, fmt.Errorf("package chunk: %d payloads for %d exports", len(c.ExportData), len(c.ExportMap))
	}
	var payload builder
	exports := append([]ExportMapEntry(nil), c.ExportMap...)
	serialized := make([]bool, len(exports))
	for bi, bundle := range c.Bundles {
		for _, e := range bundle {
			if int(e.ExportIndex) >= len(exports) {
				return nil, fmt.Errorf("package chunk: bundle %d references export %d of %d", bi, e.ExportIndex, len(exports))
			}
			if e.Command != CommandSerialize {
				continue
			}
			if serialized[e.ExportIndex] {
				return nil, fmt.Errorf("package chunk: export %d serialized twice", e.ExportIndex)
			}
			serialized[e.ExportIndex] = true
			var data []byte
			if c.ExportData != nil {
				data = c.ExportData[e.ExportIndex]
			}
			exports[e.ExportIndex].CookedSerialOffset = uint64(payload.len())
			exports[e.ExportIndex].CookedSerialSize = uint64(len(data))
			payload.putBytes(data)
		}
	}
	for i, done := range serialized {
		if done || c.ExportData == nil || len(c.ExportData[i]) == 0 {
			continue
		}
		exports[i].CookedSerialOffset = uint64(payload.len())
		exports[i].CookedSerialSize = uint64(len(c.ExportData[i]))
		payload.putBytes(c.ExportData[i])
	}

	sum := c.Summary
	sum.HasVersioningInfo = c.Versioning != nil

	var b builder
	b.putBytes(make([]byte, SummarySize))
	if c.Versioning != nil {
		c.Versioning.put(&b)
	}
	if err := putNameBatch(&b, c.Names); err != nil {
		return nil, fmt.Errorf("package chunk: %w", err)
	}
	b.align(8)

	sum.ImportedPublicExportHashesOffset = int32(b.len())
	for _, h := range c.ImportedPublicExportHashes {
		b.putUint64(h)
	}
	sum.ImportMapOffset = int32(b.len())
	for _, idx := range c.ImportMap {
		b.putUint64(uint64(idx))
	}
	sum.ExportMapOffset = int32(b.len())
	for _, e := range exports {
		b.putUint64(e.CookedSerialOffset)
		b.putUint64(e.CookedSerialSize)
		b.putMappedName(e.ObjectName)
		b.putUint64(uint64(e.OuterIndex))
		b.putUint64(uint64(e.ClassIndex))
		b.putUint64(uint64(e.SuperIndex))
		b.putUint64(uint64(e.TemplateIndex))
		b.putUint64(e.PublicExportHash)
		b.putUint32(e.ObjectFlags)
		b.putUint8(e.FilterFlags)
		b.putBytes([]byte{0, 0, 0})
	}
	sum.ExportBundleEntriesOffset = int32(b.len())
	for _, bundle := range c.Bundles {
		for _, e := range bundle {
			b.putUint32(e.ExportIndex)
			b.putUint32(uint32(e.Command))
		}
	}
	sum.GraphDataOffset = int32(b.len())
	var first uint32
	var serialOffset uint64
	for _, bundle := range c.Bundles {
		b.putUint64(serialOffset)
		b.putUint32(first)
		b.putUint32(uint32(len(bundle)))
		first += uint32(len(bundle))
		for _, e := range bundle {
			if e.Command == CommandSerialize {
				serialOffset += exports[e.ExportIndex].CookedSerialSize
			}
		}
	}
	b.putInt32(int32(len(c.InternalArcs)))
	for _, arc := range c.InternalArcs {
		b.putInt32(arc.FromBundle)
		b.putInt32(arc.ToBundle)
	}
	for _, group := range c.ExternalArcs {
		b.putInt32(int32(len(group)))
		for _, arc := range group {
			b.putInt32(arc.FromImport)
			b.putUint8(uint8(arc.FromCommand))
			b.putInt32(arc.ToBundle)
		}
	}

	sum.HeaderSize = uint32(b.len())
	if sum.CookedHeaderSize == 0 {
		sum.CookedHeaderSize = sum.HeaderSize
	}
	var head builder
	sum.put(&head)
	copy(b.buf, head.bytes())
	b.putBytes(payload.bytes())
	return b.bytes(), nil
}

// UnmarshalPackageChunk decodes a package chunk. The export, bundle and
// imported package counts come from the package's store entry.
func UnmarshalPackageChunk(data []byte, exportCount, bundleCount, importedPackageCount int) (*PackageChunk, error) {
	sum, err := unmarshalSummary(data)
	if err != nil {
		return nil, err
	}
	if err := sum.validate(len(data)); err != nil {
		return nil, err
	}
	header := data[:sum.HeaderSize]
	c := &PackageChunk{Summary: *sum}

	s := newStream(header)
	s.pos = SummarySize
	if sum.HasVersioningInfo {
		if c.Versioning, err = readVersioningInfo(s); err != nil {
			return nil, malformed("versioning_info", "%v", err)
		}
	}
	if c.Names, err = readNameBatch(s); err != nil {
		return nil, malformed("name_map", "%v", err)
	}
	if s.pos > int(sum.ImportedPublicExportHashesOffset) {
		return nil, malformed("name_map", "name batch overruns imported public export hashes at %d", sum.ImportedPublicExportHashesOffset)
	}

	hashes := header[sum.ImportedPublicExportHashesOffset:sum.ImportMapOffset]
	hs := newStream(hashes)
	c.ImportedPublicExportHashes = make([]uint64, len(hashes)/8)
	for i := range c.ImportedPublicExportHashes {
		c.ImportedPublicExportHashes[i], _ = hs.readUint64()
	}

	imports := header[sum.ImportMapOffset:sum.ExportMapOffset]
	is := newStream(imports)
	c.ImportMap = make([]ObjectIndex, len(imports)/8)
	for i := range c.ImportMap {
		v, _ := is.readUint64()
		c.ImportMap[i] = ObjectIndex(v)
	}

	if exportCount < 0 || bundleCount < 0 {
		return nil, malformed("store_entry", "negative export or bundle count")
	}
	exportBytes := header[sum.ExportMapOffset:sum.ExportBundleEntriesOffset]
	if exportCount > len(exportBytes)/exportMapEntrySize {
		return nil, malformed("export_map", "%d exports do not fit in %d bytes", exportCount, len(exportBytes))
	}
	es := newStream(exportBytes)
	c.ExportMap = make([]ExportMapEntry, exportCount)
	for i := range c.ExportMap {
		e := &c.ExportMap[i]
		e.CookedSerialOffset, _ = es.readUint64()
		e.CookedSerialSize, _ = es.readUint64()
		e.ObjectName, _ = es.readMappedName()
		outer, _ := es.readUint64()
		class, _ := es.readUint64()
		super, _ := es.readUint64()
		template, _ := es.readUint64()
		e.OuterIndex, e.ClassIndex = ObjectIndex(outer), ObjectIndex(class)
		e.SuperIndex, e.TemplateIndex = ObjectIndex(super), ObjectIndex(template)
		e.PublicExportHash, _ = es.readUint64()
		e.ObjectFlags, _ = es.readUint32()
		e.FilterFlags, _ = es.readUint8()
		_ = es.skip(3)
	}

	entryBytes := header[sum.ExportBundleEntriesOffset:sum.GraphDataOffset]
	entries := make([]BundleEntry, len(entryBytes)/bundleEntrySize)
	bs := newStream(entryBytes)
	for i := range entries {
		idx, _ := bs.readUint32()
		cmd, _ := bs.readUint32()
		if cmd > uint32(CommandSerialize) {
			return nil, malformed(fmt.Sprintf("export_bundle_entries[%d].command", i), "invalid command %d", cmd)
		}
		if int(idx) >= exportCount {
			return nil, malformed(fmt.Sprintf("export_bundle_entries[%d].export_index", i), "export %d out of range (%d exports)", idx, exportCount)
		}
		entries[i] = BundleEntry{ExportIndex: idx, Command: BundleCommand(cmd)}
	}

	gs := newStream(header)
	gs.pos = int(sum.GraphDataOffset)
	if bundleCount > gs.remaining()/bundleHeaderSize {
		return nil, malformed("export_bundle_headers", "%d bundle headers do not fit in graph data", bundleCount)
	}
	c.Bundles = make([][]BundleEntry, bundleCount)
	for i := range c.Bundles {
		_, _ = gs.readUint64() // serial offset
		firstEntry, _ := gs.readUint32()
		entryCount, _ := gs.readUint32()
		if uint64(firstEntry)+uint64(entryCount) > uint64(len(entries)) {
			return nil, malformed(fmt.Sprintf("export_bundle_headers[%d]", i), "entries [%d, +%d) out of range (%d entries)", firstEntry, entryCount, len(entries))
		}
		c.Bundles[i] = entries[firstEntry : firstEntry+entryCount : firstEntry+entryCount]
	}

	n, err := gs.readCount(internalArcSize)
	if err != nil {
		return nil, malformed("internal_arcs", "%v", err)
	}
	c.InternalArcs = make([]InternalArc, n)
	for i := range c.InternalArcs {
		c.InternalArcs[i].FromBundle, _ = gs.readInt32()
		c.InternalArcs[i].ToBundle, _ = gs.readInt32()
	}
	c.ExternalArcs = make([][]ExternalArc, importedPackageCount)
	for p := range c.ExternalArcs {
		n, err := gs.readCount(externalArcSize)
		if err != nil {
			return nil, malformed(fmt.Sprintf("external_arcs[%d]", p), "%v", err)
		}
		group := make([]ExternalArc, n)
		for i := range group {
			group[i].FromImport, _ = gs.readInt32()
			cmd, _ := gs.readUint8()
			group[i].ToBundle, _ = gs.readInt32()
			if cmd > uint8(CommandSerialize) {
				return nil, malformed(fmt.Sprintf("external_arcs[%d][%d].from_command", p, i), "invalid command %d", cmd)
			}
			group[i].FromCommand = BundleCommand(cmd)
		}
		c.ExternalArcs[p] = group
	}

	c.ExportData = make([][]byte, exportCount)
	seen := make([]bool, exportCount)
	offset := uint64(sum.HeaderSize)
	for _, bundle := range c.Bundles {
		for _, e := range bundle {
			if e.Command != CommandSerialize {
				continue
			}
			if seen[e.ExportIndex] {
				return nil, malformed(fmt.Sprintf("export_map[%d]", e.ExportIndex), "export serialized twice")
			}
			seen[e.ExportIndex] = true
			size := c.ExportMap[e.ExportIndex].CookedSerialSize
			if size > uint64(len(data)) || offset > uint64(len(data))-size {
				return nil, malformed(fmt.Sprintf("export_map[%d].cooked_serial_size", e.ExportIndex), "payload [%d, +%d) exceeds chunk size %d", offset, size, len(data))
			}
			c.ExportData[e.ExportIndex] = data[offset : offset+size : offset+size]
			offset += size
		}
	}
	for i, ok := range seen {
		size := c.ExportMap[i].CookedSerialSize
		if ok || size == 0 {
			continue
		}
		if size > uint64(len(data)) {
			return nil, malformed(fmt.Sprintf("export_map[%d].cooked_serial_size", i), "unbundled payload of %d bytes exceeds chunk size %d", size, len(data))
		}
		c.Unbundled = append(c.Unbundled, i)
		buf := make([]byte, size)
		if offset < uint64(len(data)) {
			copy(buf, data[offset:])
		}
		c.ExportData[i] = buf
		offset += size
	}
	return c, nil
}

// Export is a decoded export with resolved references.
type Export struct {
	Name             Name
	Outer            ObjectRef
	Class            ObjectRef
	Super            ObjectRef
	Template         ObjectRef
	PublicExportHash uint64
	ObjectFlags      uint32
	FilterFlags      uint8
	Data             []byte
}

// Package is a decoded package. It is immutable once returned by
// DecodePackage and may be shared between goroutines.
type Package struct {
	ID               PackageID
	Name             Name
	Flags            uint32
	Versioning       *VersioningInfo
	NameMap          []string
	ImportedPackages []PackageID
	// Imports are the import map entries in order. Each is NullRef,
	// ScriptRef or PackageRef.
	Imports      []ObjectRef
	Exports      []Export
	Bundles      [][]BundleEntry
	InternalArcs []InternalArc
	// ExternalArcs are flattened across imported packages.
	ExternalArcs []ExternalArc
	// Unbundled lists exports whose payload no bundle serializes.
	Unbundled []int

	exportsByHash map[uint64]int
}

// ExportByHash returns the export with the given public export hash.
func (p *Package) ExportByHash(hash uint64) (int, bool) {
	i, ok := p.exportsByHash[hash]
	return i, ok
}

// DecodePackage decodes a package chunk and resolves its references.
// Errors are *PackageError values naming the offending field.
func DecodePackage(id PackageID, entry *StoreEntry, data []byte) (*Package, error) {
	p, err := decodePackage(id, entry, data)
	if err != nil {
		return nil, asPackageError(id, err)
	}
	return p, nil
}

func decodePackage(id PackageID, entry *StoreEntry, data []byte) (*Package, error) {
	c, err := UnmarshalPackageChunk(data, int(entry.ExportCount), int(entry.ExportBundleCount), len(entry.ImportedPackages))
	if err != nil {
		return nil, err
	}
	p := &Package{
		ID:               id,
		Flags:            c.Summary.PackageFlags,
		Versioning:       c.Versioning,
		NameMap:          c.Names,
		ImportedPackages: entry.ImportedPackages,
		Bundles:          c.Bundles,
		InternalArcs:     c.InternalArcs,
		Unbundled:        c.Unbundled,
		exportsByHash:    make(map[uint64]int),
	}
	if p.Name, err = c.Summary.Name.Resolve("summary.name", c.Names); err != nil {
		return nil, err
	}

	hashes := c.ImportedPublicExportHashes
	p.Imports = make([]ObjectRef, len(c.ImportMap))
	for i, idx := range c.ImportMap {
		field := fmt.Sprintf("import_map[%d]", i)
		if !idx.IsNull() && idx.Kind() == KindExport {
			return nil, malformed(field, "import map entry %s is an export", idx)
		}
		if p.Imports[i], err = resolveRef(field, idx, entry.ImportedPackages, hashes); err != nil {
			return nil, err
		}
	}

	exportCount := len(c.ExportMap)
	p.Exports = make([]Export, exportCount)
	for i, raw := range c.ExportMap {
		field := fmt.Sprintf("export_map[%d]", i)
		e := &p.Exports[i]
		if e.Name, err = raw.ObjectName.Resolve(field+".object_name", c.Names); err != nil {
			return nil, err
		}
		refs := []struct {
			name string
			idx  ObjectIndex
			dst  *ObjectRef
		}{
			{"outer_index", raw.OuterIndex, &e.Outer},
			{"class_index", raw.ClassIndex, &e.Class},
			{"super_index", raw.SuperIndex, &e.Super},
			{"template_index", raw.TemplateIndex, &e.Template},
		}
		for _, r := range refs {
			ref, err := resolveRef(field+"."+r.name, r.idx, entry.ImportedPackages, hashes)
			if err != nil {
				return nil, err
			}
			if er, ok := ref.(ExportRef); ok && er.Index >= exportCount {
				return nil, malformed(field+"."+r.name, "export %d out of range (%d exports)", er.Index, exportCount)
			}
			*r.dst = ref
		}
		e.PublicExportHash = raw.PublicExportHash
		e.ObjectFlags = raw.ObjectFlags
		e.FilterFlags = raw.FilterFlags
		e.Data = c.ExportData[i]

		if e.PublicExportHash != 0 {
			if prev, dup := p.exportsByHash[e.PublicExportHash]; dup {
				return nil, &fieldError{
					field: field + ".public_export_hash",
					err:   fmt.Errorf("%w: hash 0x%016x shared with export %d", ErrInvariant, e.PublicExportHash, prev),
				}
			}
			p.exportsByHash[e.PublicExportHash] = i
		}
	}

	bundleCount := len(p.Bundles)
	for i, arc := range p.InternalArcs {
		if arc.FromBundle < 0 || int(arc.FromBundle) >= bundleCount || arc.ToBundle < 0 || int(arc.ToBundle) >= bundleCount {
			return nil, malformed(fmt.Sprintf("internal_arcs[%d]", i), "arc %d -> %d out of range (%d bundles)", arc.FromBundle, arc.ToBundle, bundleCount)
		}
	}
	for g, group := range c.ExternalArcs {
		for i, arc := range group {
			field := fmt.Sprintf("external_arcs[%d][%d]", g, i)
			if arc.FromImport < 0 || int(arc.FromImport) >= len(p.Imports) {
				return nil, malformed(field+".from_import", "import %d out of range (%d imports)", arc.FromImport, len(p.Imports))
			}
			if arc.ToBundle < 0 || int(arc.ToBundle) >= bundleCount {
				return nil, malformed(field+".to_bundle", "bundle %d out of range (%d bundles)", arc.ToBundle, bundleCount)
			}
			p.ExternalArcs = append(p.ExternalArcs, arc)
		}
	}
	return p, nil
}
