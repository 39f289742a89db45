package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "nested")

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("Expected dir %s, got %s", dir, store.Dir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("Expected directory to exist: %v", err)
	}
}

func TestFileStore_InvalidNames(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	for _, name := range []string{"", ".", "..", "../escape.csv", "a/b.json", `a\b.json`} {
		if err := store.Write(name, []byte("x")); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Write(%q): expected ErrInvalidName, got %v", name, err)
		}
		if _, err := store.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestFileStore_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.Write("dia_open_interest.csv", []byte("Expiration,Strike,CallOI,PutOI\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "dia_open_interest.csv" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only the artifact, found %v", names)
	}
}

func TestFileStore_WriteFailsWhenDirectoryRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	if err := store.Write("spy_top_strikes.json", []byte("{}")); err == nil {
		t.Error("Expected write error for missing directory")
	}
}
