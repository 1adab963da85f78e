package packagemap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/zen"
	"github.com/odvcencio/zentools/pkg/zentest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContainer() *zentest.Container {
	weapon := &zentest.Package{
		ID:      0x200,
		Name:    "/Game/Weapon",
		Exports: []zentest.Export{zentest.NewExport("Weapon", []byte("w"))},
	}
	weapon.Exports[0].Hash = 0xbeef

	hero := &zentest.Package{
		ID:       0x100,
		Name:     "/Game/Hero",
		Imported: []zen.PackageID{0x200},
		Hashes:   []uint64{0xbeef},
		Imports:  []zen.ObjectIndex{zen.PackageImportIndex(0, 0), zen.NullIndex},
		Exports:  []zentest.Export{zentest.NewExport("Hero", []byte("hero"))},
	}
	heroOptional := &zentest.Package{
		ID:       0x100,
		Name:     "/Game/Hero",
		Exports:  []zentest.Export{zentest.NewExport("HeroEditorData", []byte("opt"))},
		Optional: true,
	}
	return &zentest.Container{
		ID: 7,
		ScriptObjects: []zen.ScriptObject{
			{Name: zen.NewName("/Script/Engine"), GlobalIndex: zen.ScriptImportIndex(1), OuterIndex: zen.NullIndex, CDOClassIndex: zen.NullIndex},
		},
		Packages: []*zentest.Package{hero, weapon, heroOptional},
		Extra: []zentest.Chunk{
			{ID: iostore.NewChunkID(0x100, 0, iostore.ChunkBulkData), FileName: "../../../Game/Hero.ubulk", Data: []byte("bulk")},
		},
	}
}

func populate(t *testing.T, c *zentest.Container) *Map {
	t.Helper()
	mc, err := c.Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	m := New(testLogger())
	if err := m.Populate(mc); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	return m
}

func TestPopulate(t *testing.T) {
	m := populate(t, testContainer())

	if got := m.TotalPackageCount(); got != 3 {
		t.Fatalf("TotalPackageCount = %d, want 3", got)
	}
	hero, err := m.FindPackage(0x100)
	if err != nil {
		t.Fatalf("FindPackage: %v", err)
	}
	if hero.Filename != "Game/Hero.uasset" {
		t.Fatalf("Filename = %q, want Game/Hero.uasset", hero.Filename)
	}
	if hero.Package.Name.String() != "/Game/Hero" {
		t.Fatalf("Name = %q, want /Game/Hero", hero.Package.Name)
	}
	if len(hero.BulkChunks) != 1 || hero.BulkChunks[0].Type() != iostore.ChunkBulkData {
		t.Fatalf("BulkChunks = %v, want one bulk data chunk", hero.BulkChunks)
	}

	opt, err := m.FindOptionalPackage(0x100)
	if err != nil {
		t.Fatalf("FindOptionalPackage: %v", err)
	}
	if !opt.Optional || opt.ChunkID.Index() != 1 || opt.Package.Exports[0].Name.String() != "HeroEditorData" {
		t.Fatalf("optional entry = %+v", opt)
	}

	header, err := m.FindPackageHeader(0x100)
	if err != nil {
		t.Fatalf("FindPackageHeader: %v", err)
	}
	if len(header.ImportedPackages) != 1 || header.ImportedPackages[0] != 0x200 {
		t.Fatalf("ImportedPackages = %v, want [0x200]", header.ImportedPackages)
	}

	meta, err := m.FindContainerMetadata(7)
	if err != nil {
		t.Fatalf("FindContainerMetadata: %v", err)
	}
	if len(meta.Packages) != 2 || meta.Packages[0] != 0x100 || len(meta.OptionalPackages) != 1 {
		t.Fatalf("metadata = %+v", meta)
	}

	obj, err := m.FindScriptObject(zen.ScriptImportIndex(1))
	if err != nil {
		t.Fatalf("FindScriptObject: %v", err)
	}
	if obj.Name.String() != "/Script/Engine" {
		t.Fatalf("script object name = %q", obj.Name)
	}

	byName, err := m.FindPackageByName("/Game/Weapon")
	if err != nil || byName.Package.ID != 0x200 {
		t.Fatalf("FindPackageByName = (%v, %v)", byName, err)
	}
}

func TestPopulateNotFound(t *testing.T) {
	m := populate(t, testContainer())
	if _, err := m.FindPackage(0x999); !errors.Is(err, zen.ErrNotFound) {
		t.Fatalf("FindPackage err = %v, want ErrNotFound", err)
	}
	if _, err := m.FindScriptObject(zen.ScriptImportIndex(99)); !errors.Is(err, zen.ErrNotFound) {
		t.Fatalf("FindScriptObject err = %v, want ErrNotFound", err)
	}
	if _, err := m.FindContainerMetadata(99); !errors.Is(err, zen.ErrNotFound) {
		t.Fatalf("FindContainerMetadata err = %v, want ErrNotFound", err)
	}
}

func TestPopulateIsIdempotent(t *testing.T) {
	mc, err := testContainer().Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	m := New(testLogger())
	for i := 0; i < 2; i++ {
		if err := m.Populate(mc); err != nil {
			t.Fatalf("Populate #%d: %v", i, err)
		}
	}
	if got := m.TotalPackageCount(); got != 3 {
		t.Fatalf("TotalPackageCount = %d, want 3", got)
	}
	meta, _ := m.FindContainerMetadata(7)
	if len(meta.Packages) != 2 {
		t.Fatalf("len(Packages) = %d, want 2", len(meta.Packages))
	}
}

func TestPopulateSkipsCorruptPackage(t *testing.T) {
	mc, err := testContainer().Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	weaponChunk := iostore.NewChunkID(0x200, 0, iostore.ChunkExportBundleData)
	mc.Put(weaponChunk, "../../../Game/Weapon.uasset", []byte("garbage"))

	m := New(testLogger())
	if err := m.Populate(mc); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if _, err := m.FindPackage(0x100); err != nil {
		t.Fatalf("sibling package lost: %v", err)
	}
	_, err = m.FindPackage(0x200)
	if !errors.Is(err, zen.ErrNotFound) || !errors.Is(err, zen.ErrMalformed) {
		t.Fatalf("FindPackage err = %v, want not found wrapping malformed", err)
	}
	if failures := m.Failures(); len(failures) != 1 || failures[0] != 0x200 {
		t.Fatalf("Failures = %v, want [0x200]", failures)
	}
}

// missingChunk hides one chunk of the wrapped reader.
type missingChunk struct {
	iostore.Reader
	id iostore.ChunkID
}

func (r missingChunk) Read(id iostore.ChunkID) ([]byte, error) {
	if id == r.id {
		return nil, fmt.Errorf("read %s: %w", id, iostore.ErrChunkNotFound)
	}
	return r.Reader.Read(id)
}

func (r missingChunk) ChunkInfo(id iostore.ChunkID) (iostore.ChunkInfo, error) {
	if id == r.id {
		return iostore.ChunkInfo{}, fmt.Errorf("chunk info %s: %w", id, iostore.ErrChunkNotFound)
	}
	return r.Reader.ChunkInfo(id)
}

func TestPopulateRecordsMissingPackageChunk(t *testing.T) {
	mc, err := testContainer().Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	r := missingChunk{Reader: mc, id: iostore.NewChunkID(0x200, 0, iostore.ChunkExportBundleData)}

	m := New(testLogger())
	if err := m.Populate(r); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if _, err := m.FindPackage(0x100); err != nil {
		t.Fatalf("sibling package lost: %v", err)
	}
	if _, err := m.FindPackage(0x200); !errors.Is(err, zen.ErrNotFound) {
		t.Fatalf("FindPackage err = %v, want ErrNotFound", err)
	}
	if failures := m.Failures(); len(failures) != 1 || failures[0] != 0x200 {
		t.Fatalf("Failures = %v, want [0x200]", failures)
	}
}

func TestPopulateWithoutHeader(t *testing.T) {
	m := New(testLogger())
	if err := m.Populate(iostore.NewMemoryContainer(3)); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	meta, err := m.FindContainerMetadata(3)
	if err != nil {
		t.Fatalf("FindContainerMetadata: %v", err)
	}
	if len(meta.Packages) != 0 {
		t.Fatalf("Packages = %v, want none", meta.Packages)
	}
}

func TestPopulateDirectoryContainer(t *testing.T) {
	base := t.TempDir() + "/global"
	if err := testContainer().Write(base, iostore.WriterOptions{Name: "global", Compression: iostore.CompressionZstd}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	c, err := iostore.OpenContainer(base, nil)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c.Close()

	m := New(testLogger())
	if err := m.Populate(c); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	weapon, err := m.FindPackage(0x200)
	if err != nil {
		t.Fatalf("FindPackage: %v", err)
	}
	if string(weapon.Package.Exports[0].Data) != "w" {
		t.Fatalf("export data = %q, want w", weapon.Package.Exports[0].Data)
	}
}
