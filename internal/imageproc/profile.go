package imageproc

import (
	"bytes"
	"math"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

// Profile summarizes an image for planning. Channel statistics are in RGB
// order, rounded to two decimals.
type Profile struct {
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	AspectRatio   float64   `json:"aspect_ratio"`
	FileSizeBytes int       `json:"file_size_bytes"`
	Format        string    `json:"format"`
	MeanPixel     []float64 `json:"mean_pixel"`
	StdPixel      []float64 `json:"std_pixel"`
	CameraMake    string    `json:"camera_make,omitempty"`
	CameraModel   string    `json:"camera_model,omitempty"`
	HasGPS        bool      `json:"has_gps,omitempty"`
}

// ProfileImage decodes data and computes its profile. EXIF is read when the
// format carries it.
func ProfileImage(data []byte) (*Profile, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	p := &Profile{
		Width:         w,
		Height:        h,
		FileSizeBytes: len(data),
		Format:        format,
	}
	if h > 0 {
		p.AspectRatio = round(float64(w)/float64(h), 3)
	}

	channels := [3][]float64{}
	for i := range channels {
		channels[i] = make([]float64, 0, w*h)
	}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				channels[c] = append(channels[c], float64(row[x*4+c]))
			}
		}
	}
	for _, ch := range channels {
		if len(ch) == 0 {
			p.MeanPixel = append(p.MeanPixel, 0)
			p.StdPixel = append(p.StdPixel, 0)
			continue
		}
		mean := stat.Mean(ch, nil)
		std := stat.PopStdDev(ch, nil)
		p.MeanPixel = append(p.MeanPixel, round(mean, 2))
		p.StdPixel = append(p.StdPixel, round(std, 2))
	}

	readEXIF(data, p)

	log.Debug().
		Int("width", w).
		Int("height", h).
		Str("format", format).
		Str("camera_make", p.CameraMake).
		Msg("Image profiled")
	return p, nil
}

// readEXIF fills camera fields. PNG and most generated images have no EXIF;
// that is not an error.
func readEXIF(data []byte, p *Profile) {
	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata")
		return
	}
	p.CameraMake = strings.TrimSpace(exif.Make)
	p.CameraModel = strings.TrimSpace(exif.Model)
	p.HasGPS = exif.GPS.Latitude() != 0 || exif.GPS.Longitude() != 0
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
