package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// HumanReadableBytes formats a byte count as KiB, MiB or GiB.
func HumanReadableBytes(size int64) string {
	switch {
	case size < 1024*1024:
		return fmt.Sprintf("%d KiB", size/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%d MiB", size/1024/1024)
	default:
		return fmt.Sprintf("%.2f GiB", float64(size)/1024/1024/1024)
	}
}

// TempPattern matches the temporary siblings of path created by
// CreateTempSibling.
func TempPattern(path string) string {
	return path + ".*.tmp"
}

// CreateTempSibling creates a uniquely named file next to path, so that
// concurrent writers of the same path never share a temporary file.
func CreateTempSibling(path string, perm os.FileMode) (*os.File, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return f, nil
}

// WriteFileAtomic writes the content produced by fill to a temporary
// sibling of path and renames it over path once fill and the file close
// succeed. On failure the temporary file is removed and path is untouched.
func WriteFileAtomic(path string, perm os.FileMode, fill func(w io.Writer) error) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create parent directory: %w", err)
	}

	f, err := CreateTempSibling(path, perm)
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if err = fill(f); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("unable to close temporary file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("unable to rename temporary file: %w", err)
	}
	return nil
}

// IsRegularFile reports whether path exists and is a regular file,
// following symlinks.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
