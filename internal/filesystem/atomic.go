// Package filesystem holds crash-safe file writing helpers.
package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to target so that readers see either the old
// content or the new content, never a partial file. The data goes to a
// temporary file in the same directory which is synced and then renamed
// over target.
func WriteFileAtomic(target string, data []byte, perm os.FileMode) error {
	return writeAtomic(target, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteReaderAtomic streams r into target with the same guarantees as
// WriteFileAtomic.
func WriteReaderAtomic(target string, r io.Reader, perm os.FileMode) error {
	return writeAtomic(target, perm, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// CopyFileAtomic copies src to target atomically and returns the number of
// bytes written.
func CopyFileAtomic(src, target string, perm os.FileMode) (int64, error) {
	in, err := os.Open(src) //nolint:gosec // G304: path announced by the matcher worker
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close() //nolint:errcheck

	cr := &countingReader{r: in}
	err = WriteReaderAtomic(target, cr, perm)
	return cr.n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func writeAtomic(target string, perm os.FileMode, fill func(io.Writer) error) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: artifact directories are served publicly
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := fill(tmp); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := renameSafe(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp to target: %w", err)
	}
	return nil
}

// renameSafe attempts os.Rename first, then falls back to copy+delete.
func renameSafe(oldPath, newPath string) error {
	err := os.Rename(oldPath, newPath)
	if err == nil {
		return nil
	}
	if copyErr := copyFile(oldPath, newPath); copyErr != nil {
		return fmt.Errorf("copy fallback: %w (rename error: %w)", copyErr, err)
	}
	_ = os.Remove(oldPath)
	return nil
}

// copyFile copies a file using io.Copy and flushes with fsync.
func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: internal temp path
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dst) //nolint:gosec // G304: internal target path
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
