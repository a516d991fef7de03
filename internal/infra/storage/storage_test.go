package storage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telegram-forwarder/internal/infra/storage"
)

func TestAtomicWriteFileCreatesMissingDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b", "doc.json")
	if err := storage.AtomicWriteFile(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("AtomicWriteFile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("content = %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != storage.DefaultFilePerm {
		t.Fatalf("perm = %v, want %v", info.Mode().Perm(), os.FileMode(storage.DefaultFilePerm))
	}
}

func TestAtomicWriteFileReplacesWithoutLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	for _, content := range []string{"first", "second"} {
		if err := storage.AtomicWriteFile(path, []byte(content)); err != nil {
			t.Fatalf("AtomicWriteFile(%q) error: %v", content, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("content = %q, want %q", data, "second")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
