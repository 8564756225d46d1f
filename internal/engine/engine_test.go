package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestNewDerivesIdentityFromPath(t *testing.T) {
	t.Parallel()

	eng := New("/engines/bin/stockfish", "--uci")
	if eng.Name != "stockfish" {
		t.Fatalf("name = %q, want %q", eng.Name, "stockfish")
	}
	if eng.WorkDir != "/engines/bin" {
		t.Fatalf("workdir = %q, want %q", eng.WorkDir, "/engines/bin")
	}
	if len(eng.Args) != 1 || eng.Args[0] != "--uci" {
		t.Fatalf("args = %v, want [--uci]", eng.Args)
	}
}

func TestDiscoverFiltersAndSorts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "beta", 0o755)
	writeFile(t, dir, "alpha", 0o755)
	writeFile(t, dir, "old-backup", 0o755)
	writeFile(t, dir, "notes.txt", 0o644)

	engines, err := Discover(dir, []string{"*"}, []string{"*backup"})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(engines) != 2 {
		t.Fatalf("found %d engines, want 2: %v", len(engines), engines)
	}
	if engines[0].Name != "alpha" || engines[1].Name != "beta" {
		t.Fatalf("engines out of order: %v", engines)
	}
}

func TestDiscoverAcceptsExeWithoutExecutableBit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "engine_v7.exe", 0o644)

	engines, err := Discover(dir, []string{"*.exe"}, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(engines) != 1 || engines[0].Name != "engine_v7.exe" {
		t.Fatalf("engines = %v, want engine_v7.exe", engines)
	}
}

func TestDiscoverDeduplicatesOverlappingIncludes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "alpha", 0o755)

	engines, err := Discover(dir, []string{"*", "alpha"}, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(engines) != 1 {
		t.Fatalf("found %d engines, want 1", len(engines))
	}
}

func TestDiscoverSkipsDirectoriesAndRejectsMissingRoot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	engines, err := Discover(dir, []string{"*"}, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(engines) != 0 {
		t.Fatalf("engines = %v, want none", engines)
	}

	if _, err := Discover(filepath.Join(dir, "missing"), []string{"*"}, nil); err == nil {
		t.Fatal("expected error for missing root")
	}
}
