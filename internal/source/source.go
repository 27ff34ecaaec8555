// Package source describes the file a user is preparing: its bytes, its
// data type, and the goal suggested for that type.
package source

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DataType is the broad category of a source file.
type DataType string

const (
	TypeImage DataType = "image"
	TypeCSV   DataType = "csv"
	TypeText  DataType = "text"
)

// Suggested goals per data type.
const (
	GoalImage = "Prepare for image classification model"
	GoalCSV   = "Prepare for machine learning"
	GoalText  = "Prepare for NLP processing"
)

// File is a selected source file held in memory.
type File struct {
	Name     string
	Data     []byte
	MIMEType string
}

// DetectType maps a file name to its data type by extension. Unknown
// extensions are treated as images.
func DetectType(name string) DataType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "png", "jpg", "jpeg":
		return TypeImage
	case "csv":
		return TypeCSV
	case "txt", "md", "pdf":
		return TypeText
	default:
		return TypeImage
	}
}

// SuggestedGoal returns the default goal for t.
func SuggestedGoal(t DataType) string {
	switch t {
	case TypeCSV:
		return GoalCSV
	case TypeText:
		return GoalText
	default:
		return GoalImage
	}
}

// Type returns the data type of f.
func (f File) Type() DataType { return DetectType(f.Name) }

// IsImage reports whether f feeds the image preview pipeline.
func (f File) IsImage() bool { return f.Type() == TypeImage }

// Load reads path into a File, deriving the MIME type from the extension
// and falling back to content sniffing.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read source file: %w", err)
	}
	return New(filepath.Base(path), data), nil
}

// New wraps in-memory data as a File.
func New(name string, data []byte) File {
	return File{Name: name, Data: data, MIMEType: detectMIME(name, data)}
}

func detectMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
