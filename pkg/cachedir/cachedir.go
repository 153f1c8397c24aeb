package cachedir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a directory private to one module instance. Every relative path is
// resolved inside it and may not escape it.
type Dir struct {
	root string
}

// Open resolves root, expanding a leading ~, and creates it when missing.
func Open(root string) (*Dir, error) {
	resolved, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	return &Dir{root: resolved}, nil
}

// ResolveRoot normalizes a directory path and makes sure it exists.
func ResolveRoot(root string) (string, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return "", &PathError{Op: "open", Path: root, Err: ErrInvalidPath}
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute directory path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	return cleanPath, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string {
	if d == nil {
		return ""
	}

	return d.root
}

// Resolve returns the absolute path of rel inside the directory.
func (d *Dir) Resolve(rel string) (string, error) {
	if d == nil {
		return "", &PathError{Op: "resolve", Path: rel, Err: os.ErrClosed}
	}

	trimmed := strings.TrimSpace(rel)
	if trimmed == "" {
		return "", &PathError{Op: "resolve", Path: rel, Err: ErrInvalidPath}
	}
	if filepath.IsAbs(trimmed) {
		return "", &PathError{Op: "resolve", Path: trimmed, Err: ErrInvalidPath}
	}

	candidate := filepath.Clean(filepath.Join(d.root, trimmed))
	if !isWithin(d.root, candidate) {
		return "", &PathError{Op: "resolve", Path: trimmed, Err: ErrOutside}
	}

	return candidate, nil
}

func (d *Dir) ReadString(rel string) (string, error) {
	data, err := d.ReadBinary(rel)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (d *Dir) ReadBinary(rel string) ([]byte, error) {
	path, err := d.Resolve(rel)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pathError("read", rel, err)
	}

	return data, nil
}

func (d *Dir) SaveString(rel string, text string) error {
	return d.SaveBinary(rel, []byte(text))
}

// SaveBinary writes data to rel, creating parent directories and overwriting
// any existing file.
func (d *Dir) SaveBinary(rel string, data []byte) error {
	path, err := d.Resolve(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pathError("save", rel, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pathError("save", rel, err)
	}

	return nil
}

// Exists reports whether rel names an existing file.
func (d *Dir) Exists(rel string) bool {
	path, err := d.Resolve(rel)
	if err != nil {
		return false
	}

	_, err = os.Stat(path)
	return err == nil
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
