// Package iostore provides the chunk store the transcoder reads from: chunk
// addressing, a directory-backed container format, an in-memory container
// and the read contract shared by both.
package iostore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrChunkNotFound is returned when a container has no chunk with the
// requested id.
var ErrChunkNotFound = errors.New("chunk not found")

// Reader is the read contract of a chunk container. Implementations must be
// safe for concurrent use.
type Reader interface {
	// ContainerID identifies the container.
	ContainerID() ContainerID
	// Read returns the decrypted, decompressed chunk payload.
	Read(id ChunkID) ([]byte, error)
	// ChunkInfo returns chunk metadata without reading the payload.
	ChunkInfo(id ChunkID) (ChunkInfo, error)
}

// MemoryContainer is an in-memory Reader. It is used by tests and by tools
// that assemble chunks on the fly.
type MemoryContainer struct {
	id     ContainerID
	mu     sync.RWMutex
	chunks map[ChunkID]memoryChunk
}

type memoryChunk struct {
	fileName string
	data     []byte
}

// NewMemoryContainer returns an empty in-memory container.
func NewMemoryContainer(id ContainerID) *MemoryContainer {
	return &MemoryContainer{id: id, chunks: make(map[ChunkID]memoryChunk)}
}

// Put stores a chunk, replacing any previous chunk with the same id.
func (c *MemoryContainer) Put(id ChunkID, fileName string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks[id] = memoryChunk{fileName: fileName, data: data}
}

// ContainerID implements Reader.
func (c *MemoryContainer) ContainerID() ContainerID { return c.id }

// Read implements Reader.
func (c *MemoryContainer) Read(id ChunkID) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chunk, ok := c.chunks[id]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", id, ErrChunkNotFound)
	}
	return chunk.data, nil
}

// ChunkInfo implements Reader.
func (c *MemoryContainer) ChunkInfo(id ChunkID) (ChunkInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chunk, ok := c.chunks[id]
	if !ok {
		return ChunkInfo{}, fmt.Errorf("chunk info %s: %w", id, ErrChunkNotFound)
	}
	return ChunkInfo{
		ID:             id,
		FileName:       chunk.fileName,
		Size:           uint64(len(chunk.data)),
		CompressedSize: uint64(len(chunk.data)),
	}, nil
}

// ChunkIDs returns all chunk ids in the container in byte order.
func (c *MemoryContainer) ChunkIDs() []ChunkID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]ChunkID, 0, len(c.chunks))
	for id := range c.chunks {
		ids = append(ids, id)
	}
	sortChunkIDs(ids)
	return ids
}

func sortChunkIDs(ids []ChunkID) {
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i][:]) < string(ids[j][:])
	})
}
