// Package utils provides filesystem helpers shared by the scheduler and workers
package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrFilesystemContention is returned when a remove or rename keeps failing
// after every retry.
var ErrFilesystemContention = errors.New("filesystem contention")

// Retry defaults for remove and rename.
const (
	DefaultRetries       = 20
	DefaultRetryInterval = 50 * time.Millisecond
)

// FileSystemUtils provides file system operations
type FileSystemUtils struct {
	retries  int
	interval time.Duration
}

// NewFileSystemUtils creates a new filesystem utils instance with default retry settings
func NewFileSystemUtils() *FileSystemUtils {
	return &FileSystemUtils{retries: DefaultRetries, interval: DefaultRetryInterval}
}

// NewFileSystemUtilsWithRetry creates a filesystem utils instance with custom retry settings
func NewFileSystemUtilsWithRetry(retries int, interval time.Duration) *FileSystemUtils {
	if retries < 0 {
		retries = 0
	}
	return &FileSystemUtils{retries: retries, interval: interval}
}

// ConstantBackoff is a backoff configuration used to retry contended filesystem operations
func ConstantBackoff(maxrtry int, interval time.Duration) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxrtry))
}

func (f *FileSystemUtils) retry(op string, path string, fn func() error) error {
	permanent := false
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && isPermanent(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}, ConstantBackoff(f.retries, f.interval))
	if err == nil {
		return nil
	}

	if permanent {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, path, ErrFilesystemContention, err)
}

// isPermanent reports errors that retrying cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid)
}

// Exists checks if a path exists
func (f *FileSystemUtils) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateDirectory creates a directory with all parents
func (f *FileSystemUtils) CreateDirectory(path string) error {
	return os.MkdirAll(path, 0755)
}

// RemoveDirectory removes a directory and all contents, retrying on contention
func (f *FileSystemUtils) RemoveDirectory(path string) error {
	return f.retry("remove directory", path, func() error {
		return os.RemoveAll(path)
	})
}

// Remove deletes a single file, retrying on contention.
// A missing file is not an error.
func (f *FileSystemUtils) Remove(path string) error {
	err := f.retry("remove", path, func() error {
		return os.Remove(path)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Rename moves src over dst, retrying on contention
func (f *FileSystemUtils) Rename(src, dst string) error {
	return f.retry("rename", src, func() error {
		return os.Rename(src, dst)
	})
}

// ReadFile reads the entire file
func (f *FileSystemUtils) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a file atomically: readers see either the old
// content or the complete new content, never a partial write.
func (f *FileSystemUtils) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempFile := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempFile)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempFile)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := f.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}

// ListFiles returns every regular file under root as slash-separated paths
// relative to root, sorted.
func (f *FileSystemUtils) ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
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
