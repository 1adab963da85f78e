// Package extract drives the transcoding of whole containers: it walks the
// packages each container holds, transcodes them on a bounded worker pool
// and writes the legacy asset files, bulk payloads and the package store
// manifest under an output directory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/zentools/pkg/asset"
	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/packagemap"
	"github.com/odvcencio/zentools/pkg/zen"
)

const (
	// ScriptObjectsFile is the dump of the global script objects chunk.
	ScriptObjectsFile = "ScriptObjects.bin"
	// ManifestFileName is the package store manifest.
	ManifestFileName = "PackageStoreManifest.json"

	filenamePrefix = "../../../"
	exportsExt     = ".uexp"
	assetExt       = ".uasset"
	mapExt         = ".umap"
	optionalPrefix = ".o"
)

// Options control an extraction run.
type Options struct {
	OutputDir string
	// Workers bounds the packages transcoded concurrently. Zero means
	// runtime.NumCPU.
	Workers            int
	WriteScriptObjects bool
	WriteManifest      bool
}

// Stats counts the outcome of a run.
type Stats struct {
	Packages  int
	Failed    int
	BulkFiles int
}

// Extractor writes the packages indexed in a package map.
type Extractor struct {
	pmap     *packagemap.Map
	opts     Options
	logger   *slog.Logger
	manifest *Manifest

	mu    sync.Mutex
	stats Stats
}

// New returns an extractor over an already populated map. A nil logger
// discards output.
func New(pmap *packagemap.Map, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Extractor{
		pmap:     pmap,
		opts:     opts,
		logger:   logger,
		manifest: NewManifest(),
	}
}

// Stats returns the counters accumulated so far.
func (x *Extractor) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats
}

// Manifest returns the manifest accumulated so far.
func (x *Extractor) Manifest() *Manifest { return x.manifest }

// WriteContainer transcodes every package of the container r, required
// packages first, then optional segments. A package failure is logged and
// counted; only invariant violations and cancellation stop the run.
func (x *Extractor) WriteContainer(ctx context.Context, r iostore.Reader) error {
	containerID := r.ContainerID()
	meta, err := x.pmap.FindContainerMetadata(containerID)
	if err != nil {
		return err
	}
	log := x.logger.With("container", containerID.String())
	log.Info("writing container", "packages", len(meta.Packages), "optional_packages", len(meta.OptionalPackages))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.Workers)

	schedule := func(id zen.PackageID, optional bool) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return x.runPackage(r, log, id, optional)
		})
	}
	for _, id := range meta.Packages {
		schedule(id, false)
	}
	for _, id := range meta.OptionalPackages {
		schedule(id, true)
	}
	return g.Wait()
}

// runPackage writes one package and applies the failure policy.
func (x *Extractor) runPackage(r iostore.Reader, log *slog.Logger, id zen.PackageID, optional bool) error {
	var (
		entry *packagemap.Entry
		err   error
	)
	if optional {
		entry, err = x.pmap.FindOptionalPackage(id)
	} else {
		entry, err = x.pmap.FindPackage(id)
	}
	if err == nil {
		err = x.WritePackage(r, entry)
	}
	if err == nil {
		x.mu.Lock()
		x.stats.Packages++
		x.mu.Unlock()
		return nil
	}
	if errors.Is(err, zen.ErrInvariant) {
		return err
	}
	x.mu.Lock()
	x.stats.Failed++
	x.mu.Unlock()
	log.Error("package failed", "package_id", id.String(), "optional", optional, "error", err)
	return nil
}

// WritePackage transcodes entry and writes its exports file, its header
// file and the bulk payloads stored alongside it. Bulk chunks are read from
// r, the container entry was indexed from.
func (x *Extractor) WritePackage(r iostore.Reader, entry *packagemap.Entry) error {
	pkg := entry.Package
	log := x.logger.With("package", pkg.Name.String(), "package_id", pkg.ID.String())

	c := asset.NewContext(pkg, x.pmap, log)
	if err := c.Process(); err != nil {
		return err
	}

	stem := packageStem(entry.Filename)
	headerExt := assetExt
	if pkg.Flags&zen.PackageFlagContainsMap != 0 {
		headerExt = mapExt
	}
	exportsName := stem + exportsExt
	headerName := stem + headerExt
	if entry.Optional {
		exportsName = stem + optionalPrefix + exportsExt
		headerName = stem + optionalPrefix + headerExt
	}

	exportsPath, err := x.outputPath(exportsName)
	if err != nil {
		return fmt.Errorf("package %s: %w", pkg.ID, err)
	}
	headerPath, err := x.outputPath(headerName)
	if err != nil {
		return fmt.Errorf("package %s: %w", pkg.ID, err)
	}
	bulk := make([]bulkFile, 0, len(entry.BulkChunks))
	for _, id := range entry.BulkChunks {
		b, err := x.resolveBulk(r, id)
		if err != nil {
			return fmt.Errorf("package %s: bulk %s: %w", pkg.ID, id, err)
		}
		bulk = append(bulk, b)
	}
	if err := writeFile(exportsPath, c.WriteExports); err != nil {
		return fmt.Errorf("package %s: %w", pkg.ID, err)
	}

	// The exports file is only kept next to a complete header.
	var header asset.Buffer
	if err := c.WriteHeader(&header); err != nil {
		os.Remove(exportsPath)
		return err
	}
	if err := writeBytes(headerPath, header.Bytes()); err != nil {
		os.Remove(exportsPath)
		return fmt.Errorf("package %s: %w", pkg.ID, err)
	}
	x.manifest.AddExportBundle(pkg.Name.String(), entry.ChunkID, headerName)

	for _, b := range bulk {
		if err := x.writeBulk(r, pkg, b); err != nil {
			return fmt.Errorf("package %s: bulk %s: %w", pkg.ID, b.id, err)
		}
	}
	log.Debug("wrote package", "path", headerPath, "exports", len(c.Exports), "imports", len(c.Imports))
	return nil
}

type bulkFile struct {
	id   iostore.ChunkID
	rel  string
	path string
}

// resolveBulk places a bulk chunk before any file of its package is written.
func (x *Extractor) resolveBulk(r iostore.Reader, id iostore.ChunkID) (bulkFile, error) {
	info, err := r.ChunkInfo(id)
	if err != nil {
		return bulkFile{}, fmt.Errorf("%w: %w", zen.ErrNotFound, err)
	}
	rel := strings.TrimPrefix(info.FileName, filenamePrefix)
	p, err := x.outputPath(rel)
	if err != nil {
		return bulkFile{}, err
	}
	return bulkFile{id: id, rel: rel, path: p}, nil
}

func (x *Extractor) writeBulk(r iostore.Reader, pkg *zen.Package, b bulkFile) error {
	data, err := r.Read(b.id)
	if err != nil {
		return fmt.Errorf("%w: %w", zen.ErrNotFound, err)
	}
	if err := writeBytes(b.path, data); err != nil {
		return err
	}
	x.manifest.AddBulkData(pkg.Name.String(), b.id, b.rel)
	x.mu.Lock()
	x.stats.BulkFiles++
	x.mu.Unlock()
	return nil
}

// WriteScriptObjects dumps the global script objects chunk of r. It reports
// false when r does not carry the chunk.
func (x *Extractor) WriteScriptObjects(r iostore.Reader) (bool, error) {
	data, err := r.Read(iostore.ScriptObjectsChunkID)
	if errors.Is(err, iostore.ErrChunkNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read script objects: %w", err)
	}
	p, err := x.outputPath(ScriptObjectsFile)
	if err != nil {
		return false, err
	}
	if err := writeBytes(p, data); err != nil {
		return false, err
	}
	x.logger.Info("wrote script objects", "path", p, "bytes", len(data))
	return true, nil
}

// WriteManifest writes the package store manifest for every package
// written so far.
func (x *Extractor) WriteManifest() error {
	p, err := x.outputPath(ManifestFileName)
	if err != nil {
		return err
	}
	if err := writeFile(p, x.manifest.Encode); err != nil {
		return err
	}
	x.logger.Info("wrote package store manifest", "path", p)
	return nil
}

// outputPath places rel under the output directory. Names come from the
// container, so anything that is not a plain relative path is rejected.
func (x *Extractor) outputPath(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: file name %q escapes the output directory", zen.ErrMalformed, rel)
	}
	return filepath.Join(x.opts.OutputDir, local), nil
}

// packageStem strips the extension, and an optional segment marker, from a
// package chunk file name.
func packageStem(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	return strings.TrimSuffix(stem, optionalPrefix)
}

// Run opens every container in dir, indexes them all, then writes each
// container's packages to opts.OutputDir.
func Run(ctx context.Context, dir string, keys iostore.Keys, opts Options, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	bases, err := iostore.FindContainers(dir)
	if err != nil {
		return Stats{}, err
	}
	if len(bases) == 0 {
		return Stats{}, fmt.Errorf("no containers in %s: %w", dir, zen.ErrNotFound)
	}

	containers := make([]*iostore.Container, 0, len(bases))
	defer func() {
		for _, c := range containers {
			c.Close()
		}
	}()
	for _, base := range bases {
		c, err := iostore.OpenContainer(base, keys)
		if err != nil {
			return Stats{}, err
		}
		containers = append(containers, c)
	}

	pmap := packagemap.New(logger)
	for _, c := range containers {
		if err := pmap.Populate(c); err != nil {
			return Stats{}, err
		}
	}
	logger.Info("indexed containers", "containers", len(containers), "packages", pmap.TotalPackageCount(), "failed", len(pmap.Failures()))

	x := New(pmap, opts, logger)
	x.stats.Failed = len(pmap.Failures())
	for _, c := range containers {
		if opts.WriteScriptObjects {
			if _, err := x.WriteScriptObjects(c); err != nil {
				return x.Stats(), err
			}
		}
		if err := x.WriteContainer(ctx, c); err != nil {
			return x.Stats(), fmt.Errorf("container %s: %w", c.Name(), err)
		}
	}
	if opts.WriteManifest {
		if err := x.WriteManifest(); err != nil {
			return x.Stats(), err
		}
	}
	stats := x.Stats()
	logger.Info("extraction finished", "packages", stats.Packages, "failed", stats.Failed, "bulk_files", stats.BulkFiles)
	return stats, nil
}
