package extract

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/odvcencio/zentools/pkg/iostore"
)

// ManifestFile maps a materialized chunk to the file it was written to,
// relative to the output root.
type ManifestFile struct {
	Path    string          `json:"Path"`
	ChunkID iostore.ChunkID `json:"ChunkId"`
}

// ManifestPackage lists the chunks materialized for one package.
type ManifestPackage struct {
	Name                 string            `json:"Name"`
	ExportBundleChunkIDs []iostore.ChunkID `json:"ExportBundleChunkIds,omitempty"`
	BulkDataChunkIDs     []iostore.ChunkID `json:"BulkDataChunkIds,omitempty"`
}

// ManifestDocument is the on-disk package store manifest.
type ManifestDocument struct {
	Files    []ManifestFile    `json:"Files"`
	Packages []ManifestPackage `json:"Packages"`
}

// Manifest accumulates the package store manifest. It is safe for
// concurrent use by package workers.
type Manifest struct {
	mu       sync.Mutex
	files    map[iostore.ChunkID]string
	packages map[string]*ManifestPackage
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		files:    make(map[iostore.ChunkID]string),
		packages: make(map[string]*ManifestPackage),
	}
}

// AddExportBundle records the package chunk of name written to path.
func (m *Manifest) AddExportBundle(name string, id iostore.ChunkID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = path
	p := m.pkg(name)
	p.ExportBundleChunkIDs = append(p.ExportBundleChunkIDs, id)
}

// AddBulkData records a bulk payload chunk of name written to path.
func (m *Manifest) AddBulkData(name string, id iostore.ChunkID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = path
	p := m.pkg(name)
	p.BulkDataChunkIDs = append(p.BulkDataChunkIDs, id)
}

func (m *Manifest) pkg(name string) *ManifestPackage {
	p, ok := m.packages[name]
	if !ok {
		p = &ManifestPackage{Name: name}
		m.packages[name] = p
	}
	return p
}

// Document returns a snapshot with files sorted by path and packages by
// name, so output does not depend on worker scheduling.
func (m *Manifest) Document() ManifestDocument {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := ManifestDocument{
		Files:    make([]ManifestFile, 0, len(m.files)),
		Packages: make([]ManifestPackage, 0, len(m.packages)),
	}
	for id, path := range m.files {
		doc.Files = append(doc.Files, ManifestFile{Path: path, ChunkID: id})
	}
	sort.Slice(doc.Files, func(i, j int) bool {
		if doc.Files[i].Path != doc.Files[j].Path {
			return doc.Files[i].Path < doc.Files[j].Path
		}
		return doc.Files[i].ChunkID.String() < doc.Files[j].ChunkID.String()
	})

	for _, p := range m.packages {
		cp := ManifestPackage{
			Name:                 p.Name,
			ExportBundleChunkIDs: sortedChunkIDs(p.ExportBundleChunkIDs),
			BulkDataChunkIDs:     sortedChunkIDs(p.BulkDataChunkIDs),
		}
		doc.Packages = append(doc.Packages, cp)
	}
	sort.Slice(doc.Packages, func(i, j int) bool { return doc.Packages[i].Name < doc.Packages[j].Name })
	return doc
}

func sortedChunkIDs(ids []iostore.ChunkID) []iostore.ChunkID {
	if len(ids) == 0 {
		return nil
	}
	out := append([]iostore.ChunkID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	data, err := json.MarshalIndent(m.Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("manifest marshal: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("manifest write: %w", err)
	}
	return nil
}
