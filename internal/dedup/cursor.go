package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Cursor is the on-disk "last processed identifier" marker.
// Only one process is expected to use a given file at a time.
type Cursor struct {
	file string
}

// NewCursor returns a cursor stored at filePath.
func NewCursor(filePath string) *Cursor {
	return &Cursor{file: filePath}
}

// Path returns the backing file path.
func (c *Cursor) Path() string {
	return c.file
}

// Load returns the stored identifier. A missing file yields "".
func (c *Cursor) Load() (string, error) {
	data, err := os.ReadFile(c.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read cursor file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Store replaces the stored identifier. The write goes through a
// temporary file so a crash never leaves a truncated cursor.
func (c *Cursor) Store(id string) error {
	dir := filepath.Dir(c.file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.file)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create cursor temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fmt.Fprintln(tmp, id); err != nil {
		tmp.Close()
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cursor temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.file); err != nil {
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}
