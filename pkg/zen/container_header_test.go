package zen

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestContainerHeaderRoundTrip(t *testing.T) {
	h := &ContainerHeader{
		ContainerID: 0xc0ffee,
		Packages:    []PackageID{1, 2},
		Entries: []StoreEntry{
			{ExportCount: 3, ExportBundleCount: 1, ImportedPackages: []PackageID{2, 9}},
			{ExportCount: 1, ExportBundleCount: 1, ShaderMapHashes: [][20]byte{{1}, {2, 3}}},
		},
		OptionalPackages: []PackageID{1},
		OptionalEntries:  []StoreEntry{{ExportCount: 5, ExportBundleCount: 2, ImportedPackages: []PackageID{1}}},
	}
	data, err := h.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalContainerHeader(data)
	if err != nil {
		t.Fatalf("UnmarshalContainerHeader: %v", err)
	}
	if got.ContainerID != h.ContainerID {
		t.Fatalf("ContainerID = %#x, want %#x", got.ContainerID, h.ContainerID)
	}
	if len(got.Entries) != 2 || len(got.OptionalEntries) != 1 {
		t.Fatalf("entries = %d/%d, want 2/1", len(got.Entries), len(got.OptionalEntries))
	}
	e := got.Entries[0]
	if e.ExportCount != 3 || len(e.ImportedPackages) != 2 || e.ImportedPackages[1] != 9 {
		t.Fatalf("Entries[0] = %+v", e)
	}
	if hashes := got.Entries[1].ShaderMapHashes; len(hashes) != 2 || hashes[1][1] != 3 {
		t.Fatalf("Entries[1].ShaderMapHashes = %v", hashes)
	}
	if got.OptionalPackages[0] != 1 || got.OptionalEntries[0].ExportBundleCount != 2 {
		t.Fatalf("optional segment = %v %+v", got.OptionalPackages, got.OptionalEntries)
	}
}

func TestContainerHeaderRejectsBadSignature(t *testing.T) {
	data, _ := (&ContainerHeader{}).Marshal()
	data[0] ^= 0xff
	if _, err := UnmarshalContainerHeader(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestContainerHeaderRejectsViewOutsideBlob(t *testing.T) {
	h := &ContainerHeader{
		Packages: []PackageID{1},
		Entries:  []StoreEntry{{ExportCount: 1, ExportBundleCount: 1, ImportedPackages: []PackageID{2}}},
	}
	data, err := h.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// signature, version, container id, package count, one id, blob size,
	// then the entry: counts (8 bytes), import view count at +8.
	entry := 4 + 4 + 8 + 4 + 8 + 4
	binary.LittleEndian.PutUint32(data[entry+8:], 100)
	if _, err := UnmarshalContainerHeader(data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
