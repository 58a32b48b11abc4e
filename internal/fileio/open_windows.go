//go:build windows

package fileio

import (
	"os"

	"github.com/hpungsan/classmate/internal/errors"
)

// Windows has no O_NOFOLLOW; ValidatePath has already rejected symlinks.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func openNoFollowRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewInvalidRequest("file not found: " + path)
	}
	return f, err
}
