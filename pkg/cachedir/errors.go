package cachedir

import (
	"errors"
	"os"
)

var (
	// ErrInvalidPath rejects empty or absolute file names.
	ErrInvalidPath = errors.New("invalid path")
	// ErrOutside rejects file names that resolve outside the directory.
	ErrOutside = errors.New("path escapes module directory")
)

// PathError records the operation and the module-relative name that failed.
// Underlying os errors stay reachable, so errors.Is(err, fs.ErrNotExist) works.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// pathError wraps err for rel, dropping the absolute path an *os.PathError
// carries so module logs only show names inside the directory.
func pathError(op string, rel string, err error) error {
	var osErr *os.PathError
	if errors.As(err, &osErr) {
		err = osErr.Err
	}

	return &PathError{Op: op, Path: rel, Err: err}
}
