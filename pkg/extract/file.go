package extract

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/odvcencio/zentools/pkg/zen"
)

// writeFile creates path atomically: fill writes into a temp file in the
// destination directory which is renamed over path only after fill, flush
// and close all succeed. On any failure the temp file is removed and path
// is left untouched.
func writeFile(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ioError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ioError("create", path, err)
	}
	tmpName := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioError("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioError("close", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ioError("rename", path, err)
	}
	return nil
}

// writeBytes stores data at path atomically.
func writeBytes(path string, data []byte) error {
	return writeFile(path, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return ioError("write", path, err)
		}
		return nil
	})
}

func ioError(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, path, zen.ErrIO, err)
}
