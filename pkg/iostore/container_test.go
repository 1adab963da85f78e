package iostore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestContainer(t *testing.T, base string, opts WriterOptions, chunks map[ChunkID][]byte) {
	t.Helper()
	w, err := NewContainerWriter(base, 0x1234, opts)
	if err != nil {
		t.Fatalf("NewContainerWriter: %v", err)
	}
	for id, data := range chunks {
		if err := w.Add(id, "../../../Game/Content/"+id.Type().String()+".bin", data); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestContainerRoundTripAllCompressionMethods(t *testing.T) {
	payload := bytes.Repeat([]byte("export payload data "), 64)
	for _, method := range []CompressionMethod{CompressionNone, CompressionZlib, CompressionLZ4, CompressionZstd} {
		t.Run(method.String(), func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "pakchunk0")
			id := NewChunkID(42, 0, ChunkExportBundleData)
			writeTestContainer(t, base, WriterOptions{Name: "pakchunk0", Compression: method}, map[ChunkID][]byte{id: payload})

			c, err := OpenContainer(base+".utoc", nil)
			if err != nil {
				t.Fatalf("OpenContainer: %v", err)
			}
			defer c.Close()

			if got := c.ContainerID(); got != 0x1234 {
				t.Fatalf("ContainerID = %s, want 0x1234", got)
			}
			got, err := c.Read(id)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("Read returned %d bytes, want %d", len(got), len(payload))
			}
			info, err := c.ChunkInfo(id)
			if err != nil {
				t.Fatalf("ChunkInfo: %v", err)
			}
			if info.Size != uint64(len(payload)) {
				t.Fatalf("info.Size = %d, want %d", info.Size, len(payload))
			}
		})
	}
}

func TestContainerEncrypted(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "encrypted")
	key := bytes.Repeat([]byte{0xab}, KeySize)
	guid := "{0A1B2C3D-0000-0000-0000-000000000001}"
	id := NewChunkID(7, 0, ChunkBulkData)
	payload := []byte("seventeen bytes!!")

	writeTestContainer(t, base, WriterOptions{Compression: CompressionZstd, EncryptionKeyGUID: guid, Key: key}, map[ChunkID][]byte{id: payload})

	if _, err := OpenContainer(base, nil); err == nil {
		t.Fatal("expected missing key error")
	}

	keyFile := filepath.Join(dir, "keys.json")
	keyJSON := "{\n  // game key\n  \"0a1b2c3d-0000-0000-0000-000000000001\": \"0x" +
		strings.Repeat("ab", KeySize) + "\",\n  \"bad\": \"00\",\n}\n"
	if err := os.WriteFile(keyFile, []byte(keyJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	keys, skipped, err := LoadKeys(keyFile)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "bad" {
		t.Fatalf("skipped = %v, want [bad]", skipped)
	}

	c, err := OpenContainer(base, keys)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c.Close()
	got, err := c.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}
}

func TestContainerMissingChunk(t *testing.T) {
	base := filepath.Join(t.TempDir(), "c")
	writeTestContainer(t, base, WriterOptions{}, map[ChunkID][]byte{NewChunkID(1, 0, ChunkBulkData): []byte("x")})
	c, err := OpenContainer(base, nil)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c.Close()

	missing := NewChunkID(2, 0, ChunkBulkData)
	if _, err := c.Read(missing); !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("Read err = %v, want ErrChunkNotFound", err)
	}
	if _, err := c.ChunkInfo(missing); !errors.Is(err, ErrChunkNotFound) {
		t.Fatalf("ChunkInfo err = %v, want ErrChunkNotFound", err)
	}
}

func TestContainerDetectsCorruption(t *testing.T) {
	base := filepath.Join(t.TempDir(), "c")
	id := NewChunkID(1, 0, ChunkBulkData)
	writeTestContainer(t, base, WriterOptions{}, map[ChunkID][]byte{id: []byte("pristine")})

	if err := os.WriteFile(base+".ucas", []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := OpenContainer(base, nil)
	if err != nil {
		t.Fatalf("OpenContainer: %v", err)
	}
	defer c.Close()
	if _, err := c.Read(id); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func TestOpenContainerRejectsTruncatedPayload(t *testing.T) {
	base := filepath.Join(t.TempDir(), "c")
	id := NewChunkID(1, 0, ChunkBulkData)
	writeTestContainer(t, base, WriterOptions{}, map[ChunkID][]byte{id: []byte("pristine")})

	if err := os.Truncate(base+".ucas", 2); err != nil {
		t.Fatal(err)
	}
	if c, err := OpenContainer(base, nil); err == nil {
		c.Close()
		t.Fatal("expected out of range chunk error")
	}
}

func TestTOCEntryCheck(t *testing.T) {
	tests := []struct {
		name  string
		entry tocEntry
		ok    bool
	}{
		{"fits", tocEntry{Offset: 10, Size: 6, CompressedSize: 6}, true},
		{"ends at payload end", tocEntry{Offset: 94, Size: 6, CompressedSize: 6}, true},
		{"past end", tocEntry{Offset: 95, Size: 6, CompressedSize: 6}, false},
		{"offset overflow", tocEntry{Offset: ^uint64(0) - 2, Size: 6, CompressedSize: 6}, false},
		{"huge stored size", tocEntry{Size: 1 << 40, CompressedSize: 1 << 40}, false},
		{"encrypted padding past end", tocEntry{Offset: 90, Size: 6, CompressedSize: 6, Encrypted: true}, false},
		{"uncompressed size mismatch", tocEntry{Size: 1 << 40, CompressedSize: 6}, false},
		{"lz4 plausible", tocEntry{Size: 600, CompressedSize: 6, Compression: CompressionLZ4}, true},
		{"lz4 raw size too large", tocEntry{Size: 1 << 40, CompressedSize: 6, Compression: CompressionLZ4}, false},
	}
	for _, tt := range tests {
		err := tt.entry.check(100)
		if (err == nil) != tt.ok {
			t.Fatalf("%s: check err = %v, want ok %v", tt.name, err, tt.ok)
		}
	}
}

func TestWriterRejectsDuplicateChunk(t *testing.T) {
	w, err := NewContainerWriter(filepath.Join(t.TempDir(), "c"), 1, WriterOptions{})
	if err != nil {
		t.Fatalf("NewContainerWriter: %v", err)
	}
	id := NewChunkID(1, 0, ChunkBulkData)
	if err := w.Add(id, "", []byte("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Add(id, "", []byte("b")); err == nil {
		t.Fatal("expected duplicate chunk error")
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := w.Add(NewChunkID(2, 0, ChunkBulkData), "", nil); err == nil {
		t.Fatal("expected write-after-finish error")
	}
}

func TestFindContainers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b", "a"} {
		writeTestContainer(t, filepath.Join(dir, name), WriterOptions{}, map[ChunkID][]byte{NewChunkID(1, 0, ChunkBulkData): []byte("x")})
	}
	got, err := FindContainers(dir)
	if err != nil {
		t.Fatalf("FindContainers: %v", err)
	}
	want := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("FindContainers = %v, want %v", got, want)
	}
}
