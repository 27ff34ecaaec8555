package cli

import (
	"errors"
	"fmt"

	"github.com/ncruces/zenity"
)

// ErrPickCanceled is returned when the user closes the picker.
var ErrPickCanceled = errors.New("file selection canceled")

// SourcePatterns are the file types the editor accepts.
var SourcePatterns = []string{"*.png", "*.jpg", "*.jpeg", "*.csv", "*.txt", "*.md", "*.pdf"}

// PickSource opens the native file dialog for one source file.
func PickSource() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select a file to prepare"),
		zenity.FileFilters{{Name: "Images, tables and documents", Patterns: SourcePatterns}},
	)
	return pickResult(path, err)
}

// PickImages opens the native file dialog for a batch of images.
func PickImages() ([]string, error) {
	paths, err := zenity.SelectFileMultiple(
		zenity.Title("Select images to process"),
		zenity.FileFilters{{Name: "Images", Patterns: SourcePatterns[:3]}},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return nil, ErrPickCanceled
		}
		return nil, fmt.Errorf("file picker failed: %w", err)
	}
	return paths, nil
}

func pickResult(path string, err error) (string, error) {
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickCanceled
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	return path, nil
}
