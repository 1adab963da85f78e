// Package packagemap indexes the packages of one or more chunk containers
// and holds the decoded package registry shared by every transcoding pass.
package packagemap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/zen"
)

// filenamePrefix is stripped from chunk file names to make them relative to
// the output root.
const filenamePrefix = "../../../"

// bulkChunkTypes are probed for every required package.
var bulkChunkTypes = []iostore.ChunkType{
	iostore.ChunkBulkData,
	iostore.ChunkOptionalBulkData,
	iostore.ChunkMemoryMappedBulkData,
}

// Entry is a decoded package together with where it came from.
type Entry struct {
	Package     *zen.Package
	ContainerID iostore.ContainerID
	ChunkID     iostore.ChunkID
	// Filename is the chunk's file name relative to the output root,
	// without extension handling applied.
	Filename string
	Optional bool
	// BulkChunks lists the bulk payload chunks stored alongside the package.
	BulkChunks []iostore.ChunkID
}

// ContainerMetadata lists the packages stored in a container.
type ContainerMetadata struct {
	Packages         []zen.PackageID
	OptionalPackages []zen.PackageID
}

// Map is the chunk store index. Populate is called once per container
// before any lookup; lookups are safe for concurrent use.
type Map struct {
	logger *slog.Logger

	mu               sync.RWMutex
	headers          map[zen.PackageID]zen.StoreEntry
	optionalHeaders  map[zen.PackageID]zen.StoreEntry
	scriptObjects    map[zen.ObjectIndex]zen.ScriptObject
	packages         map[zen.PackageID]*Entry
	optionalPackages map[zen.PackageID]*Entry
	containers       map[iostore.ContainerID]*ContainerMetadata
	failed           map[zen.PackageID]error
}

// New returns an empty map. A nil logger discards output.
func New(logger *slog.Logger) *Map {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Map{
		logger:           logger,
		headers:          make(map[zen.PackageID]zen.StoreEntry),
		optionalHeaders:  make(map[zen.PackageID]zen.StoreEntry),
		scriptObjects:    make(map[zen.ObjectIndex]zen.ScriptObject),
		packages:         make(map[zen.PackageID]*Entry),
		optionalPackages: make(map[zen.PackageID]*Entry),
		containers:       make(map[iostore.ContainerID]*ContainerMetadata),
		failed:           make(map[zen.PackageID]error),
	}
}

// Populate indexes one container: its script objects (when it carries the
// global table), its container header and every package chunk it lists.
// A package that fails to decode is logged and recorded; only invariant
// violations abort population. Populating the same container again replaces
// its entries with identical data.
func (m *Map) Populate(r iostore.Reader) error {
	containerID := r.ContainerID()
	log := m.logger.With("container", containerID.String())

	if data, err := r.Read(iostore.ScriptObjectsChunkID); err == nil {
		objects, err := zen.UnmarshalScriptObjects(data)
		if err != nil {
			return fmt.Errorf("container %s: script objects: %w", containerID, err)
		}
		m.mu.Lock()
		for _, obj := range objects {
			m.scriptObjects[obj.GlobalIndex] = obj
		}
		m.mu.Unlock()
		log.Debug("loaded script objects", "count", len(objects))
	} else if !errors.Is(err, iostore.ErrChunkNotFound) {
		return fmt.Errorf("container %s: read script objects: %w", containerID, err)
	}

	data, err := r.Read(containerID.HeaderChunkID())
	if errors.Is(err, iostore.ErrChunkNotFound) {
		log.Debug("container has no header, no packages indexed")
		m.mu.Lock()
		m.containers[containerID] = &ContainerMetadata{}
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("container %s: read header: %w", containerID, err)
	}
	header, err := zen.UnmarshalContainerHeader(data)
	if err != nil {
		return fmt.Errorf("container %s: %w", containerID, err)
	}

	m.mu.Lock()
	for i, id := range header.Packages {
		m.headers[id] = header.Entries[i]
	}
	for i, id := range header.OptionalPackages {
		m.optionalHeaders[id] = header.OptionalEntries[i]
	}
	m.mu.Unlock()

	meta := &ContainerMetadata{}
	for i, id := range header.Packages {
		ok, err := m.readPackage(r, log, id, &header.Entries[i], false)
		if err != nil {
			return err
		}
		if ok {
			meta.Packages = append(meta.Packages, id)
		}
	}
	for i, id := range header.OptionalPackages {
		ok, err := m.readPackage(r, log, id, &header.OptionalEntries[i], true)
		if err != nil {
			return err
		}
		if ok {
			meta.OptionalPackages = append(meta.OptionalPackages, id)
		}
	}

	m.mu.Lock()
	m.containers[containerID] = meta
	m.mu.Unlock()
	log.Info("indexed container", "packages", len(meta.Packages), "optional_packages", len(meta.OptionalPackages))
	return nil
}

// readPackage decodes one package chunk. It reports whether the package was
// added; a non-nil error aborts population.
func (m *Map) readPackage(r iostore.Reader, log *slog.Logger, id zen.PackageID, header *zen.StoreEntry, optional bool) (bool, error) {
	var index uint16
	if optional {
		index = 1
	}
	chunkID := iostore.NewChunkID(uint64(id), index, iostore.ChunkExportBundleData)
	plog := log.With("package_id", id.String(), "optional", optional)

	info, err := r.ChunkInfo(chunkID)
	if err != nil {
		m.recordFailure(id, fmt.Errorf("package chunk %s: %w: %w", chunkID, zen.ErrNotFound, err))
		plog.Error("package chunk missing", "error", err)
		return false, nil
	}
	data, err := r.Read(chunkID)
	if err != nil {
		m.recordFailure(id, err)
		plog.Error("read package chunk", "error", err)
		return false, nil
	}
	pkg, err := zen.DecodePackage(id, header, data)
	if err != nil {
		if errors.Is(err, zen.ErrInvariant) {
			return false, err
		}
		m.recordFailure(id, err)
		plog.Error("decode package", "error", err)
		return false, nil
	}
	if len(pkg.Unbundled) > 0 {
		plog.Warn("exports without a serialize command keep their declared payload", "exports", pkg.Unbundled)
	}

	entry := &Entry{
		Package:     pkg,
		ContainerID: r.ContainerID(),
		ChunkID:     chunkID,
		Filename:    strings.TrimPrefix(info.FileName, filenamePrefix),
		Optional:    optional,
	}
	if !optional {
		for _, typ := range bulkChunkTypes {
			bulk := iostore.NewChunkID(uint64(id), 0, typ)
			if _, err := r.ChunkInfo(bulk); err == nil {
				entry.BulkChunks = append(entry.BulkChunks, bulk)
			}
		}
	}

	m.mu.Lock()
	if optional {
		m.optionalPackages[id] = entry
	} else {
		m.packages[id] = entry
	}
	delete(m.failed, id)
	m.mu.Unlock()
	plog.Debug("decoded package", "package", pkg.Name.String(), "exports", len(pkg.Exports), "imports", len(pkg.Imports))
	return true, nil
}

func (m *Map) recordFailure(id zen.PackageID, err error) {
	m.mu.Lock()
	m.failed[id] = err
	m.mu.Unlock()
}

// FindPackageHeader returns the store entry of a required package.
func (m *Map) FindPackageHeader(id zen.PackageID) (zen.StoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.headers[id]
	if !ok {
		return zen.StoreEntry{}, fmt.Errorf("package header %s: %w", id, zen.ErrNotFound)
	}
	return h, nil
}

// FindPackage returns a decoded required package.
func (m *Map) FindPackage(id zen.PackageID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.packages[id]; ok {
		return e, nil
	}
	if err, ok := m.failed[id]; ok {
		return nil, fmt.Errorf("package %s failed to decode: %w", id, errors.Join(zen.ErrNotFound, err))
	}
	return nil, fmt.Errorf("package %s: %w", id, zen.ErrNotFound)
}

// LookupPackage returns the decoded required package with the given id.
func (m *Map) LookupPackage(id zen.PackageID) (*zen.Package, error) {
	e, err := m.FindPackage(id)
	if err != nil {
		return nil, err
	}
	return e.Package, nil
}

// FindPackageByName returns the required package with the given name.
func (m *Map) FindPackageByName(name string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.packages {
		if e.Package.Name.String() == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("package %q: %w", name, zen.ErrNotFound)
}

// FindOptionalPackage returns the decoded optional segment of a package.
func (m *Map) FindOptionalPackage(id zen.PackageID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.optionalPackages[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("optional package %s: %w", id, zen.ErrNotFound)
}

// FindScriptObject returns the script object with the given global index.
func (m *Map) FindScriptObject(idx zen.ObjectIndex) (zen.ScriptObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.scriptObjects[idx]
	if !ok {
		return zen.ScriptObject{}, fmt.Errorf("script object %s: %w", idx, zen.ErrNotFound)
	}
	return obj, nil
}

// FindContainerMetadata returns the packages indexed from a container.
func (m *Map) FindContainerMetadata(id iostore.ContainerID) (ContainerMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.containers[id]
	if !ok {
		return ContainerMetadata{}, fmt.Errorf("container %s: %w", id, zen.ErrNotFound)
	}
	return *meta, nil
}

// TotalPackageCount returns the number of decoded packages, optional
// segments included.
func (m *Map) TotalPackageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.packages) + len(m.optionalPackages)
}

// Failures returns the packages that failed to decode, sorted by id.
func (m *Map) Failures() []zen.PackageID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]zen.PackageID, 0, len(m.failed))
	for id := range m.failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
