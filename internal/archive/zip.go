// Package archive packages processed outputs into a zip bundle and, when a
// bucket is configured, stores the bundle in S3 behind a presigned link.
package archive

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Entry is one file in a bundle.
type Entry struct {
	Name string
	Data []byte
}

// Level is the deflate level used for bundle entries. PNG payloads are
// already compressed, so a fast level costs little in size.
var Level = flate.BestSpeed

// Write streams entries into a zip archive on w. Entry order is preserved.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, Level)
	})

	now := time.Now()
	for _, e := range entries {
		header := &zip.FileHeader{
			Name:   e.Name,
			Method: zip.Deflate,
		}
		header.Modified = now
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create zip entry for %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return fmt.Errorf("write zip entry for %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	return nil
}
