package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/zentools/pkg/iostore"
	"github.com/odvcencio/zentools/pkg/packagemap"
	"github.com/odvcencio/zentools/pkg/zen"
	"github.com/odvcencio/zentools/pkg/zentest"
)

const fileTag = 0x9E2A83C1

var (
	scriptEngine     = zen.ScriptImportIndex(1)
	scriptStaticMesh = zen.ScriptImportIndex(2)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContainer() *zentest.Container {
	weapon := zentest.NewExport("Weapon", []byte("w"))
	weapon.Hash = 0xbeef
	weapon.Class = scriptStaticMesh

	hero := zentest.NewExport("Hero", []byte("hero"))
	hero.Class = scriptStaticMesh

	arena := zentest.NewExport("Arena", []byte("level"))
	arena.Class = scriptStaticMesh

	return &zentest.Container{
		ID: 7,
		ScriptObjects: []zen.ScriptObject{
			{Name: zen.NewName("/Script/Engine"), GlobalIndex: scriptEngine, OuterIndex: zen.NullIndex, CDOClassIndex: zen.NullIndex},
			{Name: zen.NewName("StaticMesh"), GlobalIndex: scriptStaticMesh, OuterIndex: scriptEngine, CDOClassIndex: zen.NullIndex},
		},
		Packages: []*zentest.Package{
			{
				ID:       0x100,
				Name:     "/Game/Hero",
				Imported: []zen.PackageID{0x200},
				Hashes:   []uint64{0xbeef},
				Imports:  []zen.ObjectIndex{zen.PackageImportIndex(0, 0), zen.NullIndex},
				Exports:  []zentest.Export{hero},
			},
			{
				ID:      0x200,
				Name:    "/Game/Weapon",
				Exports: []zentest.Export{weapon},
			},
			{
				ID:       0x300,
				Name:     "/Game/Maps/Arena",
				Flags:    zen.PackageFlagContainsMap,
				Exports:  []zentest.Export{arena},
				Filename: "../../../Game/Maps/Arena.umap",
			},
			{
				ID:       0x100,
				Name:     "/Game/Hero",
				Exports:  []zentest.Export{zentest.NewExport("HeroEditorData", []byte("opt"))},
				Filename: "../../../Game/Hero.o.uasset",
				Optional: true,
			},
		},
		Extra: []zentest.Chunk{
			{ID: iostore.NewChunkID(0x100, 0, iostore.ChunkBulkData), FileName: "../../../Game/Hero.ubulk", Data: []byte("bulk")},
		},
	}
}

func setup(t *testing.T, c *zentest.Container) (*iostore.MemoryContainer, *Extractor, string) {
	t.Helper()
	mc, err := c.Memory()
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	pmap := packagemap.New(testLogger())
	if err := pmap.Populate(mc); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	out := t.TempDir()
	x := New(pmap, Options{OutputDir: out, Workers: 2}, testLogger())
	return mc, x, out
}

func readOutput(t *testing.T, out, rel string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return data
}

func TestWriteContainer(t *testing.T) {
	mc, x, out := setup(t, testContainer())
	if err := x.WriteContainer(context.Background(), mc); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}

	stats := x.Stats()
	if stats.Packages != 4 || stats.Failed != 0 || stats.BulkFiles != 1 {
		t.Fatalf("Stats = %+v, want 4 packages, 0 failed, 1 bulk file", stats)
	}

	for _, rel := range []string{
		"Game/Hero.uasset",
		"Game/Weapon.uasset",
		"Game/Maps/Arena.umap",
		"Game/Hero.o.uasset",
	} {
		header := readOutput(t, out, rel)
		if len(header) < 4 || binary.LittleEndian.Uint32(header) != fileTag {
			t.Fatalf("%s does not start with the package file tag", rel)
		}
	}

	tests := []struct {
		rel  string
		want string
	}{
		{"Game/Hero.uexp", "hero"},
		{"Game/Weapon.uexp", "w"},
		{"Game/Maps/Arena.uexp", "level"},
		{"Game/Hero.o.uexp", "opt"},
	}
	for _, tt := range tests {
		data := readOutput(t, out, tt.rel)
		want := binary.LittleEndian.AppendUint32([]byte(tt.want), fileTag)
		if !bytes.Equal(data, want) {
			t.Fatalf("%s = %q, want %q", tt.rel, data, want)
		}
	}

	if got := readOutput(t, out, "Game/Hero.ubulk"); string(got) != "bulk" {
		t.Fatalf("Hero.ubulk = %q, want bulk", got)
	}
	if _, err := os.Stat(filepath.Join(out, "Game", "Maps", "Arena.uasset")); !os.IsNotExist(err) {
		t.Fatalf("map package also written as .uasset (err = %v)", err)
	}
}

func TestWriteManifest(t *testing.T) {
	mc, x, out := setup(t, testContainer())
	if err := x.WriteContainer(context.Background(), mc); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}
	if err := x.WriteManifest(); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	var doc ManifestDocument
	if err := json.Unmarshal(readOutput(t, out, ManifestFileName), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	files := make(map[string]iostore.ChunkID)
	for _, f := range doc.Files {
		files[f.Path] = f.ChunkID
	}
	if len(files) != 5 {
		t.Fatalf("len(Files) = %d, want 5: %+v", len(files), doc.Files)
	}
	if got, want := files["Game/Hero.uasset"], iostore.NewChunkID(0x100, 0, iostore.ChunkExportBundleData); got != want {
		t.Fatalf("Hero.uasset chunk = %s, want %s", got, want)
	}
	if got, want := files["Game/Hero.o.uasset"], iostore.NewChunkID(0x100, 1, iostore.ChunkExportBundleData); got != want {
		t.Fatalf("Hero.o.uasset chunk = %s, want %s", got, want)
	}
	if got, want := files["Game/Hero.ubulk"], iostore.NewChunkID(0x100, 0, iostore.ChunkBulkData); got != want {
		t.Fatalf("Hero.ubulk chunk = %s, want %s", got, want)
	}

	if len(doc.Packages) != 3 {
		t.Fatalf("len(Packages) = %d, want 3", len(doc.Packages))
	}
	hero := doc.Packages[0]
	if hero.Name != "/Game/Hero" {
		t.Fatalf("Packages[0].Name = %q, want /Game/Hero", hero.Name)
	}
	if len(hero.ExportBundleChunkIDs) != 2 || len(hero.BulkDataChunkIDs) != 1 {
		t.Fatalf("hero manifest = %+v, want 2 export bundle chunks and 1 bulk chunk", hero)
	}
	if weapon := doc.Packages[2]; weapon.Name != "/Game/Weapon" || weapon.BulkDataChunkIDs != nil {
		t.Fatalf("Packages[2] = %+v, want /Game/Weapon without bulk data", weapon)
	}
}

func TestWriteContainerIsolatesPackageFailure(t *testing.T) {
	c := testContainer()
	c.Packages = append(c.Packages, &zentest.Package{
		ID:       0x400,
		Name:     "/Game/Broken",
		Imported: []zen.PackageID{0x999},
		Hashes:   []uint64{0x1},
		Imports:  []zen.ObjectIndex{zen.PackageImportIndex(0, 0)},
		Exports:  []zentest.Export{zentest.NewExport("Broken", []byte("b"))},
	})
	mc, x, out := setup(t, c)
	if err := x.WriteContainer(context.Background(), mc); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}

	stats := x.Stats()
	if stats.Packages != 4 || stats.Failed != 1 {
		t.Fatalf("Stats = %+v, want 4 packages and 1 failure", stats)
	}
	for _, name := range []string{"Broken.uasset", "Broken.uexp"} {
		if _, err := os.Stat(filepath.Join(out, "Game", name)); !os.IsNotExist(err) {
			t.Fatalf("%s exists after failure (err = %v)", name, err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(out, "Game"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name()[0] == '.' {
			t.Fatalf("stray file %s in output", e.Name())
		}
	}
}

func TestWriteContainerKeepsFilesInsideOutputDir(t *testing.T) {
	c := testContainer()
	c.Packages = append(c.Packages,
		&zentest.Package{
			ID:       0x500,
			Name:     "/Game/Evil",
			Exports:  []zentest.Export{zentest.NewExport("Evil", []byte("e"))},
			Filename: "../../../../escaped/Evil.uasset",
		},
		&zentest.Package{
			ID:       0x600,
			Name:     "/Game/Sneaky",
			Exports:  []zentest.Export{zentest.NewExport("Sneaky", []byte("s"))},
			Filename: "../../../Game/Sneaky.uasset",
		},
	)
	c.Extra = append(c.Extra, zentest.Chunk{
		ID:       iostore.NewChunkID(0x600, 0, iostore.ChunkBulkData),
		FileName: "../../../../bulkescaped/Evil.ubulk",
		Data:     []byte("bulk"),
	})
	mc, x, out := setup(t, c)
	if err := x.WriteContainer(context.Background(), mc); err != nil {
		t.Fatalf("WriteContainer: %v", err)
	}

	stats := x.Stats()
	if stats.Packages != 4 || stats.Failed != 2 {
		t.Fatalf("Stats = %+v, want 4 packages and 2 failures", stats)
	}
	parent := filepath.Dir(out)
	for _, dir := range []string{"escaped", "bulkescaped"} {
		if _, err := os.Stat(filepath.Join(parent, dir)); !os.IsNotExist(err) {
			t.Fatalf("%s created outside the output directory (err = %v)", dir, err)
		}
	}
	for _, name := range []string{"Sneaky.uasset", "Sneaky.uexp"} {
		if _, err := os.Stat(filepath.Join(out, "Game", name)); !os.IsNotExist(err) {
			t.Fatalf("%s written for a package whose bulk data escapes (err = %v)", name, err)
		}
	}
}

func TestOutputPath(t *testing.T) {
	x := New(packagemap.New(testLogger()), Options{OutputDir: "out"}, testLogger())
	tests := []struct {
		rel string
		ok  bool
	}{
		{"Game/Hero.uasset", true},
		{"Game/../Hero.uasset", true},
		{"../Hero.uasset", false},
		{"Game/../../Hero.uasset", false},
		{"/etc/Hero.uasset", false},
		{"", false},
	}
	for _, tt := range tests {
		_, err := x.outputPath(tt.rel)
		if (err == nil) != tt.ok {
			t.Fatalf("outputPath(%q) err = %v, want ok %v", tt.rel, err, tt.ok)
		}
		if err != nil && !errors.Is(err, zen.ErrMalformed) {
			t.Fatalf("outputPath(%q) err = %v, want ErrMalformed", tt.rel, err)
		}
	}
}

func TestWriteScriptObjects(t *testing.T) {
	mc, x, out := setup(t, testContainer())
	ok, err := x.WriteScriptObjects(mc)
	if err != nil || !ok {
		t.Fatalf("WriteScriptObjects = (%v, %v), want (true, nil)", ok, err)
	}
	want, err := mc.Read(iostore.ScriptObjectsChunkID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := readOutput(t, out, ScriptObjectsFile); !bytes.Equal(got, want) {
		t.Fatalf("ScriptObjects.bin differs from the chunk (%d vs %d bytes)", len(got), len(want))
	}

	ok, err = x.WriteScriptObjects(iostore.NewMemoryContainer(9))
	if err != nil || ok {
		t.Fatalf("WriteScriptObjects without chunk = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	if err := testContainer().Write(filepath.Join(dir, "global"), iostore.WriterOptions{Name: "global", Compression: iostore.CompressionZstd}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := t.TempDir()
	stats, err := Run(context.Background(), dir, nil, Options{
		OutputDir:          out,
		Workers:            4,
		WriteScriptObjects: true,
		WriteManifest:      true,
	}, testLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Packages != 4 || stats.Failed != 0 {
		t.Fatalf("Stats = %+v, want 4 packages and no failures", stats)
	}
	for _, rel := range []string{ScriptObjectsFile, ManifestFileName, "Game/Hero.uasset", "Game/Hero.ubulk"} {
		readOutput(t, out, rel)
	}
}

func TestRunWithoutContainers(t *testing.T) {
	_, err := Run(context.Background(), t.TempDir(), nil, Options{OutputDir: t.TempDir()}, nil)
	if !errors.Is(err, zen.ErrNotFound) {
		t.Fatalf("Run err = %v, want ErrNotFound", err)
	}
}

func TestWriteContainerCancelled(t *testing.T) {
	mc, x, _ := setup(t, testContainer())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := x.WriteContainer(ctx, mc); !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteContainer err = %v, want context.Canceled", err)
	}
	if got := x.Stats().Packages; got != 0 {
		t.Fatalf("Packages = %d, want 0", got)
	}
}

func TestWriteFileLeavesNoPartialOutput(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	failure := errors.New("boom")
	err := writeFile(target, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("writeFile err = %v, want %v", err, failure)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("directory holds %d entries after failed write, want 0", len(entries))
	}

	if err := writeBytes(target, []byte("done")); err != nil {
		t.Fatalf("writeBytes: %v", err)
	}
	if got, _ := os.ReadFile(target); string(got) != "done" {
		t.Fatalf("content = %q, want done", got)
	}
}

func TestWriteFileReportsIOFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := writeBytes(filepath.Join(blocker, "child.bin"), []byte("x"))
	if !errors.Is(err, zen.ErrIO) {
		t.Fatalf("writeBytes err = %v, want ErrIO", err)
	}
}

func TestPackageStem(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Game/Hero.uasset", "Game/Hero"},
		{"Game/Maps/Arena.umap", "Game/Maps/Arena"},
		{"Game/Hero.o.uasset", "Game/Hero"},
		{"Game/NoExt", "Game/NoExt"},
	}
	for _, tt := range tests {
		if got := packageStem(tt.in); got != tt.want {
			t.Fatalf("packageStem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
