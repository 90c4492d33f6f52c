package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds files dropped into an inbox directory through the registry.
// Each created file is validated, registered, and uploaded; rejected files
// are logged and left in place.
type Watcher struct {
	dir      string
	registry *Registry
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over the given inbox directory, creating the
// directory if needed.
func NewWatcher(dir string, registry *Registry) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}

	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		dir:      dir,
		registry: registry,
		watcher:  fsWatcher,
	}, nil
}

// Run watches the inbox until the context ends
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	slog.Info("Watching document inbox", "path", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if err := w.handleEvent(ctx, event); err != nil {
				slog.Error("Failed to handle inbox file",
					"error", err,
					"path", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Inbox watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) error {
	// Skip temporary files and non-create events
	if strings.HasSuffix(event.Name, ".tmp") || !event.Op.Has(fsnotify.Create) {
		return nil
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return fmt.Errorf("failed to stat inbox file: %w", err)
	}
	if info.IsDir() {
		return nil
	}

	data, err := os.ReadFile(event.Name)
	if err != nil {
		return fmt.Errorf("failed to read inbox file: %w", err)
	}

	name := filepath.Base(event.Name)
	contentType := mime.TypeByExtension(filepath.Ext(name))

	record, err := w.registry.Add(name, contentType, data)
	if err != nil {
		var valErr *ValidationError
		if errors.As(err, &valErr) {
			slog.Warn("Inbox file rejected", "name", name, "reason", valErr.Detail)
			return nil
		}
		return err
	}

	if _, err := w.registry.Upload(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to upload inbox file %s: %w", name, err)
	}

	return nil
}
