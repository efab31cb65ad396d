// Package blob stores uploaded images as files on the local filesystem.
package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cory-johannsen/barlink/internal/chat/upload"
)

// DiskStore writes each blob to its own file under a directory.
type DiskStore struct {
	dir        string
	publicPath string
	newID      func() string
}

// NewDiskStore creates dir if needed and returns a store serving files under publicPath.
//
// Precondition: dir and publicPath must be non-empty.
// Postcondition: dir exists, or a non-nil error is returned.
func NewDiskStore(dir, publicPath string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory %q: %w", dir, err)
	}
	return &DiskStore{
		dir:        dir,
		publicPath: strings.TrimRight(publicPath, "/"),
		newID:      uuid.NewString,
	}, nil
}

// Dir returns the directory blobs are written to.
func (s *DiskStore) Dir() string { return s.dir }

// Put writes b to "<dir>/<uuid>-<name>".
//
// Postcondition: Returns "<publicPath>/<uuid>-<name>"; no partial file is left on error.
func (s *DiskStore) Put(ctx context.Context, b upload.Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	file := s.newID() + "-" + SanitizeName(b.Name)
	full := filepath.Join(s.dir, file)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating blob file: %w", err)
	}
	if _, err := tmp.Write(b.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("writing blob %q: %w", file, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("closing blob %q: %w", file, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("publishing blob %q: %w", file, err)
	}
	return path.Join(s.publicPath, file), nil
}

// SanitizeName reduces a client file name to a safe single path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == 0, r == '/', r < 0x20:
			return -1
		case r == ' ':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
