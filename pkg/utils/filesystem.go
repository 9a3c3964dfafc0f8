// Package utils provides pattern matching and file system helpers used to
// assemble build contexts.
package utils

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultDirMode is used for every directory created while staging
const DefaultDirMode os.FileMode = 0755

// CopyFile copies a file from src to dst, replacing dst if it exists.
//
// The permission bits and modification time of src are carried over. Parent
// directories of dst must already exist.
func CopyFile(src, dst string) error {
	// Stat follows symlinks so linked files are copied by content
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "copy", Path: src, Err: fmt.Errorf("is a directory")}
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	// Read-only targets from an earlier copy cannot be truncated in place
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return &fs.PathError{Op: "write", Path: dst, Err: err}
	}
	if err := destFile.Close(); err != nil {
		return err
	}

	// OpenFile honours umask, so apply the mode explicitly
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CopyDirectory copies a directory tree recursively.
//
// Every directory is recreated, including empty ones. Existing files at the
// destination are overwritten; existing directories are reused.
func CopyDirectory(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Get relative path
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		// Construct destination path
		dstPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			return os.MkdirAll(dstPath, DefaultDirMode)
		}

		// Symlinked directories are copied as real directories
		if d.Type()&fs.ModeSymlink != 0 && DirectoryExists(path) {
			return CopyDirectory(path, dstPath)
		}

		return CopyFile(path, dstPath)
	})
}

// EnsureDirectory ensures a directory exists
func EnsureDirectory(path string) error {
	return os.MkdirAll(path, DefaultDirMode)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirectoryExists checks if a directory exists
func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveAll removes a path and all its contents
func RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// GetDirectorySize calculates the total size of a directory
func GetDirectorySize(path string) (int64, error) {
	var size int64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
