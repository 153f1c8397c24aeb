package cachedir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenExpandsHomeAndCreatesDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := Open("~/cache/Module[0]")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	want := filepath.Join(home, "cache", "Module[0]")
	if dir.Root() != want {
		t.Fatalf("Root = %q, want %q", dir.Root(), want)
	}
	if info, err := os.Stat(want); err != nil || !info.IsDir() {
		t.Fatalf("directory missing: %v", err)
	}
}

func TestSaveAndReadRoundTrip(t *testing.T) {
	dir := mustOpen(t)

	if err := dir.SaveString("notes/a.txt", "hello"); err != nil {
		t.Fatalf("SaveString error: %v", err)
	}
	got, err := dir.ReadString("notes/a.txt")
	if err != nil {
		t.Fatalf("ReadString error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("ReadString = %q, want %q", got, "hello")
	}

	if err := dir.SaveBinary("b.bin", []byte{1, 2, 3}); err != nil {
		t.Fatalf("SaveBinary error: %v", err)
	}
	if !dir.Exists("b.bin") {
		t.Fatal("expected b.bin to exist")
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := mustOpen(t)

	_, err := dir.ReadBinary("missing.bin")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want not exist", err)
	}
	if strings.Contains(err.Error(), dir.Root()) {
		t.Fatalf("error %q leaks the absolute path", err)
	}
	var pathErr *PathError
	if !errors.As(err, &pathErr) || pathErr.Op != "read" || pathErr.Path != "missing.bin" {
		t.Fatalf("error = %#v, want read of missing.bin", err)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	dir := mustOpen(t)

	tests := map[string]string{
		"traversal": "../escape.txt",
		"absolute":  filepath.Join(t.TempDir(), "x.txt"),
		"empty":     "  ",
	}
	want := map[string]error{
		"traversal": ErrOutside,
		"absolute":  ErrInvalidPath,
		"empty":     ErrInvalidPath,
	}

	for name, input := range tests {
		_, err := dir.Resolve(input)
		if !errors.Is(err, want[name]) {
			t.Fatalf("%s: error = %v, want %v", name, err, want[name])
		}
	}
}

func mustOpen(t *testing.T) *Dir {
	t.Helper()

	dir, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	return dir
}
