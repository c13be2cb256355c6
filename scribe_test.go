package scribe_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/untoldecay/scribe"
)

func TestNewSQLiteStorage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.sqlite")

	store, err := scribe.NewSQLiteStorage(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestFindScribeDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(filepath.Join(root, ".scribe"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}

	dir := scribe.FindScribeDir()
	if dir == "" {
		t.Fatal("expected to find .scribe above the working directory")
	}
	if filepath.Base(dir) != ".scribe" {
		t.Fatalf("found %q, want a .scribe directory", dir)
	}
}
