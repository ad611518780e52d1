// Package content hashes file contents for change detection.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/afero"

	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 64 * 1024

// Hasher computes content hashes of files on a filesystem.
type Hasher struct {
	fs        afero.Fs
	chunkSize int
}

// NewHasher returns a Hasher reading from fsys. A non-positive chunkSize
// selects DefaultChunkSize.
func NewHasher(fsys afero.Fs, chunkSize int) *Hasher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Hasher{fs: fsys, chunkSize: chunkSize}
}

// Fs returns the filesystem the hasher reads from.
func (h *Hasher) Fs() afero.Fs {
	return h.fs
}

// Hash returns the hex SHA-256 digest of the file at path. The file is read
// in chunks and ctx is checked between them.
//
// A file that no longer exists yields an error wrapping
// schema.ErrTransientSource.
func (h *Hasher) Hash(ctx context.Context, path string) (string, error) {
	f, err := h.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, schema.ErrTransientSource)
		}
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot hash directory %s", path)
	}

	digest := sha256.New()
	buf := make([]byte, h.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("%s: %w", path, schema.ErrTransientSource)
			}
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), nil
}
