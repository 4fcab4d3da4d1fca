package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	before := store.Current()

	w, err := NewWatcher(store)
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer w.Stop()

	updated := strings.Replace(fixtureYAML, "display_name: ARPU", "display_name: Average Revenue Per User", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if store.Current() != before {
			m, err := store.Current().Metric("arpu")
			if err != nil {
				t.Fatal(err)
			}
			if got, want := m.DisplayName, "Average Revenue Per User"; got != want {
				t.Fatalf("DisplayName = %q, want %q", got, want)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload within deadline")
}

func TestWatcherKeepsServingOnCorruptWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	before := store.Current()

	w, err := NewWatcher(store)
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("semantic_model: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the debounce window time to fire, then confirm the snapshot
	// is untouched.
	time.Sleep(1200 * time.Millisecond)
	if store.Current() != before {
		t.Fatalf("corrupt write replaced the served catalog")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(store)
	if err != nil {
		t.Fatalf("NewWatcher error: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	w.Stop()
	w.Stop()
}
