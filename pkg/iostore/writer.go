package iostore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// WriterOptions configures a ContainerWriter.
type WriterOptions struct {
	Name        string
	Compression CompressionMethod
	// EncryptionKeyGUID and Key enable AES-256 encryption of every chunk.
	EncryptionKeyGUID string
	Key               []byte
}

// ContainerWriter builds a directory container. Chunks are appended to the
// payload file as they are added; the table of contents is written by Finish.
type ContainerWriter struct {
	base     string
	id       ContainerID
	opts     WriterOptions
	data     *os.File
	offset   uint64
	entries  []tocEntry
	seen     map[ChunkID]bool
	finished bool
}

// NewContainerWriter creates <base>.ucas and prepares to write chunks.
func NewContainerWriter(base string, id ContainerID, opts WriterOptions) (*ContainerWriter, error) {
	base = strings.TrimSuffix(base, tocExtension)
	if opts.EncryptionKeyGUID != "" && len(opts.Key) != KeySize {
		return nil, fmt.Errorf("container writer: key must be %d bytes, got %d", KeySize, len(opts.Key))
	}
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, fmt.Errorf("container writer mkdir: %w", err)
	}
	data, err := os.Create(base + casExtension)
	if err != nil {
		return nil, fmt.Errorf("container writer: %w", err)
	}
	return &ContainerWriter{
		base: base,
		id:   id,
		opts: opts,
		data: data,
		seen: make(map[ChunkID]bool),
	}, nil
}

// Add appends one chunk. fileName is the logical file the chunk belongs to
// and may be empty.
func (w *ContainerWriter) Add(id ChunkID, fileName string, raw []byte) error {
	if w.finished {
		return fmt.Errorf("container writer already finished")
	}
	if w.seen[id] {
		return fmt.Errorf("duplicate chunk %s", id)
	}

	method := w.opts.Compression
	stored, err := compressChunk(raw, method)
	if err != nil {
		// Incompressible payloads are stored as-is.
		method = CompressionNone
		stored = raw
	}
	compressedSize := uint64(len(stored))

	encrypted := w.opts.EncryptionKeyGUID != ""
	if encrypted {
		stored, err = encryptECB(w.opts.Key, stored)
		if err != nil {
			return fmt.Errorf("encrypt chunk %s: %w", id, err)
		}
	}

	if _, err := w.data.Write(stored); err != nil {
		return fmt.Errorf("write chunk %s: %w", id, err)
	}

	w.entries = append(w.entries, tocEntry{
		ID:             id,
		FileName:       fileName,
		Offset:         w.offset,
		Size:           uint64(len(raw)),
		CompressedSize: compressedSize,
		Compression:    method,
		Encrypted:      encrypted,
		Hash:           blake3.Sum256(raw),
	})
	w.offset += uint64(len(stored))
	w.seen[id] = true
	return nil
}

// Finish closes the payload file and atomically writes the table of contents.
func (w *ContainerWriter) Finish() error {
	if w.finished {
		return fmt.Errorf("container writer already finished")
	}
	w.finished = true

	if err := w.data.Close(); err != nil {
		return fmt.Errorf("container writer close: %w", err)
	}

	raw, err := marshalTOC(&tocFile{
		Version:           tocVersion,
		ContainerID:       uint64(w.id),
		Name:              w.opts.Name,
		EncryptionKeyGUID: w.opts.EncryptionKeyGUID,
		Entries:           w.entries,
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.base), ".toc-tmp-*")
	if err != nil {
		return fmt.Errorf("container writer tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("container writer toc: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("container writer toc close: %w", err)
	}
	if err := os.Rename(tmpName, w.base+tocExtension); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("container writer toc rename: %w", err)
	}
	return nil
}
