// Package store persists the runner data directory. Every write lands through
// a sibling temporary file and a rename, so a concurrent reader observes
// either the old content or the new content and never a partial file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	dirPerm  fs.FileMode = 0o755
	filePerm fs.FileMode = 0o644
)

// EnsureDir creates path and any missing parents. Existing directories are left alone.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fmt.Errorf("store: ensure dir %s: %w", path, err)
	}
	return nil
}

// EnsureDirs runs EnsureDir for each path in order and stops at the first failure.
func EnsureDirs(paths ...string) error {
	for _, p := range paths {
		if err := EnsureDir(p); err != nil {
			return err
		}
	}
	return nil
}

// ReadJSON decodes the JSON document at path into out. It reports false with
// a nil error when path does not exist.
func ReadJSON(path string, out any) (bool, error) {
	data, ok, err := readFile(path)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("store: read json %s: %w", path, err)
	}
	return true, nil
}

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: write json %s: %w", path, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("store: write json %s: %w", path, err)
	}
	return nil
}

// ReadText returns the content at path. It reports false with a nil error
// when path does not exist.
func ReadText(path string) (string, bool, error) {
	data, ok, err := readFile(path)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(data), true, nil
}

// WriteText atomically replaces path with content.
func WriteText(path, content string) error {
	if err := writeAtomic(path, []byte(content)); err != nil {
		return fmt.Errorf("store: write file %s: %w", path, err)
	}
	return nil
}

// Exists reports whether anything is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes path, recursing into directories. A missing path is not an error.
func Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}

// DirSize sums the size of every regular file below path. A missing path is 0.
func DirSize(path string) (int64, error) {
	if !Exists(path) {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: dir size %s: %w", path, err)
	}
	return total, nil
}

var byteUnits = []string{"B", "KB", "MB", "GB"}

// FormatBytes renders n with base-1024 units and two decimals. Sizes beyond
// the largest unit stay in GB.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	unit := 0
	scale := int64(1)
	for unit < len(byteUnits)-1 && n >= scale*1024 {
		scale *= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(scale), byteUnits[unit])
}

func readFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", path, err)
	}
	return data, true, nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Chmod(filePerm); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
