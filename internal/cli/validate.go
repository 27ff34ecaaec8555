package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIsDirectory is returned when a source path names a directory.
var ErrIsDirectory = errors.New("path is a directory")

// ResolveSource checks that path names a readable regular file and returns
// its absolute form.
func ResolveSource(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", path, ErrIsDirectory)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
