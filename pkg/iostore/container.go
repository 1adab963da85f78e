package iostore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Container is a read-only directory container: a CBOR table of contents
// (<base>.utoc) and a payload file (<base>.ucas) holding chunk bytes at the
// offsets the table of contents records.
type Container struct {
	base    string
	toc     *tocFile
	entries map[ChunkID]tocEntry
	data    *os.File
	key     []byte
}

// OpenContainer opens the container at base. base may name either the
// .utoc file or the path without extension. keys may be nil for containers
// that are not encrypted.
func OpenContainer(base string, keys Keys) (*Container, error) {
	base = strings.TrimSuffix(base, tocExtension)
	base = strings.TrimSuffix(base, casExtension)

	raw, err := os.ReadFile(base + tocExtension)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", base, err)
	}
	toc, err := unmarshalTOC(raw)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", base, err)
	}

	c := &Container{
		base:    base,
		toc:     toc,
		entries: make(map[ChunkID]tocEntry, len(toc.Entries)),
	}
	for _, entry := range toc.Entries {
		c.entries[entry.ID] = entry
	}

	if toc.EncryptionKeyGUID != "" {
		key, ok := keys.Lookup(toc.EncryptionKeyGUID)
		if !ok {
			return nil, fmt.Errorf("open container %s: missing encryption key %s", base, toc.EncryptionKeyGUID)
		}
		c.key = key
	}

	c.data, err = os.Open(base + casExtension)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", base, err)
	}
	fi, err := c.data.Stat()
	if err != nil {
		c.data.Close()
		return nil, fmt.Errorf("open container %s: %w", base, err)
	}
	for _, entry := range toc.Entries {
		if err := entry.check(uint64(fi.Size())); err != nil {
			c.data.Close()
			return nil, fmt.Errorf("open container %s: chunk %s: %w", base, entry.ID, err)
		}
	}
	return c, nil
}

// Close releases the payload file.
func (c *Container) Close() error {
	return c.data.Close()
}

// Name returns the container name recorded in the table of contents.
func (c *Container) Name() string { return c.toc.Name }

// Path returns the container path without extension.
func (c *Container) Path() string { return c.base }

// ContainerID implements Reader.
func (c *Container) ContainerID() ContainerID { return ContainerID(c.toc.ContainerID) }

// ChunkInfo implements Reader.
func (c *Container) ChunkInfo(id ChunkID) (ChunkInfo, error) {
	entry, ok := c.entries[id]
	if !ok {
		return ChunkInfo{}, fmt.Errorf("chunk info %s: %w", id, ErrChunkNotFound)
	}
	return entry.info(), nil
}

// ChunkIDs returns all chunk ids in table of contents order.
func (c *Container) ChunkIDs() []ChunkID {
	ids := make([]ChunkID, 0, len(c.toc.Entries))
	for _, entry := range c.toc.Entries {
		ids = append(ids, entry.ID)
	}
	return ids
}

// Read implements Reader. The payload is decrypted, decompressed and checked
// against the BLAKE3 hash recorded in the table of contents.
func (c *Container) Read(id ChunkID) ([]byte, error) {
	entry, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", id, ErrChunkNotFound)
	}

	stored := entry.CompressedSize
	if entry.Encrypted {
		stored = encryptedSize(stored)
	}
	buf := make([]byte, stored)
	if _, err := c.data.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}

	if entry.Encrypted {
		if c.key == nil {
			return nil, fmt.Errorf("read %s: chunk is encrypted but container has no key", id)
		}
		if err := decryptECB(c.key, buf); err != nil {
			return nil, fmt.Errorf("read %s: %w", id, err)
		}
		buf = buf[:entry.CompressedSize]
	}

	raw, err := decompressChunk(buf, entry.Compression, entry.Size)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if sum := blake3.Sum256(raw); sum != entry.Hash {
		return nil, fmt.Errorf("read %s: hash mismatch", id)
	}
	return raw, nil
}

// FindContainers lists the container base paths (without extension) in dir,
// sorted by name.
func FindContainers(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+tocExtension))
	if err != nil {
		return nil, fmt.Errorf("find containers: %w", err)
	}
	bases := make([]string, 0, len(matches))
	for _, m := range matches {
		bases = append(bases, strings.TrimSuffix(m, tocExtension))
	}
	sort.Strings(bases)
	return bases, nil
}
