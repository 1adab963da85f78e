package iostore

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ChunkType identifies what a chunk holds. Values match the on-disk chunk
// id encoding and must not change.
type ChunkType uint8

const (
	ChunkInvalid              ChunkType = 0
	ChunkExportBundleData     ChunkType = 1
	ChunkBulkData             ChunkType = 2
	ChunkOptionalBulkData     ChunkType = 3
	ChunkMemoryMappedBulkData ChunkType = 4
	ChunkScriptObjects        ChunkType = 5
	ChunkContainerHeader      ChunkType = 6
)

// String returns the human-readable name of a chunk type.
func (t ChunkType) String() string {
	switch t {
	case ChunkInvalid:
		return "invalid"
	case ChunkExportBundleData:
		return "export_bundle_data"
	case ChunkBulkData:
		return "bulk_data"
	case ChunkOptionalBulkData:
		return "optional_bulk_data"
	case ChunkMemoryMappedBulkData:
		return "memory_mapped_bulk_data"
	case ChunkScriptObjects:
		return "script_objects"
	case ChunkContainerHeader:
		return "container_header"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

const chunkIDSize = 12

// ChunkID addresses one chunk inside a container.
//
// Bytes:
//   - 0..7:  object id (little-endian)
//   - 8..9:  chunk index (big-endian)
//   - 10:    reserved, zero
//   - 11:    chunk type
type ChunkID [chunkIDSize]byte

// NewChunkID builds a chunk id from its components.
func NewChunkID(objectID uint64, index uint16, typ ChunkType) ChunkID {
	var id ChunkID
	binary.LittleEndian.PutUint64(id[0:8], objectID)
	binary.BigEndian.PutUint16(id[8:10], index)
	id[11] = byte(typ)
	return id
}

// ObjectID returns the object (package or container) id encoded in the chunk id.
func (id ChunkID) ObjectID() uint64 {
	return binary.LittleEndian.Uint64(id[0:8])
}

// Index returns the chunk index. Optional segment package data uses index 1.
func (id ChunkID) Index() uint16 {
	return binary.BigEndian.Uint16(id[8:10])
}

// Type returns the chunk type.
func (id ChunkID) Type() ChunkType {
	return ChunkType(id[11])
}

// String returns the 24-character lowercase hex form.
func (id ChunkID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ChunkID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ChunkID) UnmarshalText(text []byte) error {
	parsed, err := ParseChunkID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseChunkID parses the hex form produced by String.
func ParseChunkID(s string) (ChunkID, error) {
	var id ChunkID
	if len(s) != chunkIDSize*2 {
		return id, fmt.Errorf("chunk id must be %d hex chars, got %d", chunkIDSize*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid chunk id %q: %w", s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// ContainerID identifies a container. It is the object id of the container's
// header chunk.
type ContainerID uint64

// String returns the hex form of the container id.
func (id ContainerID) String() string {
	return fmt.Sprintf("0x%016x", uint64(id))
}

// HeaderChunkID returns the id of the container header chunk.
func (id ContainerID) HeaderChunkID() ChunkID {
	return NewChunkID(uint64(id), 0, ChunkContainerHeader)
}

// ScriptObjectsChunkID is the global script object table chunk. Only the
// global container carries it.
var ScriptObjectsChunkID = NewChunkID(0, 0, ChunkScriptObjects)

// ChunkInfo describes a chunk without reading it.
type ChunkInfo struct {
	ID             ChunkID
	FileName       string
	Size           uint64
	CompressedSize uint64
	Compression    CompressionMethod
	Encrypted      bool
	Hash           [32]byte
}
