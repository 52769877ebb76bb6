package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultDir is where sweepctl keeps its local state.
const DefaultDir = ".sweepctl"

// SaveLocal copies srcPath into dir, keeping its base name.
func SaveLocal(srcPath, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(srcPath))
	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return dst, nil
}

// EnsureSpecDir creates the local directory that archived sweep documents
// are copied to.
func EnsureSpecDir() (string, error) {
	d := filepath.Join(DefaultDir, "specs")
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("create local store: %w", err)
	}
	return d, nil
}
