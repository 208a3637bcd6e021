package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive persists generated report files on disk under a base directory.
// Names are relative paths; anything escaping the base directory is
// rejected.
type Archive struct {
	baseDir string
}

// NewArchive ensures the base directory exists and returns a handle.
func NewArchive(baseDir string) (*Archive, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archive{baseDir: baseDir}, nil
}

// Put writes a report under the given relative name.
func (a *Archive) Put(name string, data []byte) error {
	path, err := a.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Get reads a stored report back.
func (a *Archive) Get(name string) ([]byte, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return data, nil
}

// Delete removes a stored report if present.
func (a *Archive) Delete(name string) error {
	path, err := a.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}

// Sweep removes reports older than ttl and returns how many were deleted.
func (a *Archive) Sweep(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	err := filepath.WalkDir(a.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep archive: %w", err)
	}
	return removed, nil
}

func (a *Archive) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty report name")
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("report name escapes archive: %s", name)
	}
	return filepath.Join(a.baseDir, cleaned), nil
}
