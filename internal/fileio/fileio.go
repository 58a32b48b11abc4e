// Package fileio opens timetable files named on the command line without
// following a symlink in the final path component.
package fileio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/classmate/internal/errors"
)

// Mode indicates whether a path is checked for reading or writing.
type Mode int

const (
	Read  Mode = iota // import
	Write             // export
)

// ValidatePath rejects traversal, a non-.json extension and symlinks. For
// Read the file must exist; for Write the parent directory must.
func ValidatePath(path string, mode Mode) error {
	if path == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}

	cleaned := filepath.Clean(path)
	if filepath.Ext(cleaned) != ".json" {
		return errors.NewInvalidRequest("path must have .json extension")
	}
	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	switch mode {
	case Read:
		if _, err := os.Stat(absPath); os.IsNotExist(err) {
			return errors.NewInvalidRequest("file not found: " + path)
		}
	case Write:
		if info, err := os.Stat(filepath.Dir(absPath)); err != nil || !info.IsDir() {
			return errors.NewInvalidRequest("directory does not exist: " + filepath.Dir(path))
		}
	}

	if info, err := os.Lstat(absPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// Open validates path and opens it for reading.
func Open(path string) (*os.File, error) {
	if err := ValidatePath(path, Read); err != nil {
		return nil, err
	}
	return openNoFollowRead(filepath.Clean(path))
}

// Create validates path and opens it for writing. An existing file is
// only replaced when overwrite is set.
func Create(path string, overwrite bool) (*os.File, error) {
	if err := ValidatePath(path, Write); err != nil {
		return nil, err
	}
	flag := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flag |= os.O_TRUNC
	} else {
		flag |= os.O_EXCL
	}
	f, err := openNoFollow(filepath.Clean(path), flag, 0o600)
	if os.IsExist(err) {
		return nil, errors.NewInvalidRequest("file already exists: " + path)
	}
	return f, err
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
