package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalSource reads .eml files exported by a desktop mail client into a
// directory. The file name is the message identifier.
type LocalSource struct {
	dir    string
	logger *slog.Logger

	connected bool
}

// NewLocal creates a source over dir.
func NewLocal(dir string, logger *slog.Logger) *LocalSource {
	return &LocalSource{dir: dir, logger: logger}
}

func (r *LocalSource) Connect(_ context.Context) error {
	info, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("open mail directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("open mail directory: %s is not a directory", r.dir)
	}
	r.connected = true
	return nil
}

func (r *LocalSource) Items(ctx context.Context, _ time.Time) ([]Item, error) {
	if !r.connected {
		return nil, errors.New("local: not connected")
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read mail directory: %w", err)
	}

	var items []Item
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("read message file failed", "file", e.Name(), "error", err)
			continue
		}

		msgID, date := extractHeader(raw)
		if date.IsZero() {
			if info, err := e.Info(); err == nil {
				date = info.ModTime()
			}
		}

		items = append(items, Item{
			ID:         e.Name(),
			ReceivedAt: date,
			MessageID:  msgID,
			Raw:        raw,
		})
	}
	return items, nil
}

func (r *LocalSource) Close() error {
	r.connected = false
	return nil
}
