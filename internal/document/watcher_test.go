package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherUploadsDroppedFile(t *testing.T) {
	stub := &stubUploader{reference: "inbox-ref"}
	registry := newTestRegistry(t, stub)

	dir := t.TempDir()
	watcher, err := NewWatcher(dir, registry)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "dropped.pdf")
	if err := os.WriteFile(path, []byte("pdf content"), 0644); err != nil {
		t.Fatalf("failed to write inbox file: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if stats := registry.GetStats(); stats.Succeeded == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dropped file never uploaded, stats: %+v", registry.GetStats())
		case <-time.After(20 * time.Millisecond):
		}
	}

	records := registry.List()
	if len(records) != 1 || records[0].Name != "dropped.pdf" {
		t.Errorf("records = %+v", records)
	}
	if records[0].Reference != "inbox-ref" {
		t.Errorf("reference = %q", records[0].Reference)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Error("watcher did not stop after cancellation")
	}
}

func TestWatcherIgnoresUnsupportedFiles(t *testing.T) {
	stub := &stubUploader{reference: "ref"}
	registry := newTestRegistry(t, stub)

	dir := t.TempDir()
	watcher, err := NewWatcher(dir, registry)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0644); err != nil {
		t.Fatalf("failed to write inbox file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if got := len(registry.List()); got != 0 {
		t.Errorf("unsupported file was registered, %d records", got)
	}
}

func TestNewWatcherValidation(t *testing.T) {
	registry := newTestRegistry(t, &stubUploader{})

	if _, err := NewWatcher("", registry); err == nil {
		t.Error("expected error for empty directory")
	}
	if _, err := NewWatcher(t.TempDir(), nil); err == nil {
		t.Error("expected error for nil registry")
	}
}
