package iostore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	tocVersion   = 1
	tocExtension = ".utoc"
	casExtension = ".ucas"
)

// tocFile is the table of contents of a directory container, stored as
// deterministic CBOR next to the payload file.
type tocFile struct {
	Version           int        `cbor:"version"`
	ContainerID       uint64     `cbor:"container_id"`
	Name              string     `cbor:"name"`
	EncryptionKeyGUID string     `cbor:"encryption_key_guid,omitempty"`
	Entries           []tocEntry `cbor:"entries"`
}

// tocEntry locates one chunk in the payload file. Hash is the BLAKE3 digest
// of the raw (decompressed) bytes.
type tocEntry struct {
	ID             ChunkID           `cbor:"id"`
	FileName       string            `cbor:"file_name,omitempty"`
	Offset         uint64            `cbor:"offset"`
	Size           uint64            `cbor:"size"`
	CompressedSize uint64            `cbor:"compressed_size"`
	Compression    CompressionMethod `cbor:"compression"`
	Encrypted      bool              `cbor:"encrypted,omitempty"`
	Hash           [32]byte          `cbor:"hash"`
}

var (
	tocEncMode cbor.EncMode
	tocDecMode cbor.DecMode
)

func init() {
	var err error
	tocEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("iostore: CBOR encoder initialization failed: " + err.Error())
	}
	tocDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("iostore: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalTOC(toc *tocFile) ([]byte, error) {
	data, err := tocEncMode.Marshal(toc)
	if err != nil {
		return nil, fmt.Errorf("marshal toc: %w", err)
	}
	return data, nil
}

func unmarshalTOC(data []byte) (*tocFile, error) {
	var toc tocFile
	if err := tocDecMode.Unmarshal(data, &toc); err != nil {
		return nil, fmt.Errorf("unmarshal toc: %w", err)
	}
	if toc.Version != tocVersion {
		return nil, fmt.Errorf("unsupported toc version %d", toc.Version)
	}
	return &toc, nil
}

// maxLZ4Ratio bounds the raw size an LZ4 block can expand to.
const maxLZ4Ratio = 255

// check rejects entries that point past the end of a payload file of
// casSize bytes or claim a raw size their compressed bytes cannot produce.
func (e tocEntry) check(casSize uint64) error {
	stored := e.CompressedSize
	if e.Encrypted {
		stored = encryptedSize(stored)
	}
	if stored > casSize || e.Offset > casSize-stored {
		return fmt.Errorf("stored range %d+%d exceeds payload size %d", e.Offset, stored, casSize)
	}
	switch e.Compression {
	case CompressionNone:
		if e.Size != e.CompressedSize {
			return fmt.Errorf("uncompressed size %d does not match stored size %d", e.Size, e.CompressedSize)
		}
	case CompressionLZ4:
		if e.Size > e.CompressedSize*maxLZ4Ratio {
			return fmt.Errorf("lz4 raw size %d too large for %d compressed bytes", e.Size, e.CompressedSize)
		}
	}
	return nil
}

func (e tocEntry) info() ChunkInfo {
	return ChunkInfo{
		ID:             e.ID,
		FileName:       e.FileName,
		Size:           e.Size,
		CompressedSize: e.CompressedSize,
		Compression:    e.Compression,
		Encrypted:      e.Encrypted,
		Hash:           e.Hash,
	}
}
