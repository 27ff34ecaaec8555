package imageproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/fpang/prism/internal/plan"
)

// DefaultVariants is the number of images produced by ml_training
// augmentation when the plan does not say.
const DefaultVariants = 6

const maxVariants = 50

var opaqueBlack = image.NewUniform(color.NRGBA{A: 255})

func augment(img *image.NRGBA, op plan.Operation, rng *rand.Rand) ([]*image.NRGBA, error) {
	mode := op.EnumParam("mode", "deterministic")
	switch mode {
	case "deterministic":
		return []*image.NRGBA{augmentFixed(img, op)}, nil
	case "ml_training":
		if rng == nil {
			return nil, errors.New("augment: ml_training requires a random source")
		}
		return augmentRandom(img, op, rng), nil
	}
	return nil, fmt.Errorf("augment: unknown mode %q", mode)
}

// augmentFixed applies rotation, zoom, shift and flips in that order. The
// same parameters always give the same image so the preview matches the
// applied output.
func augmentFixed(img *image.NRGBA, op plan.Operation) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()

	if rot := op.Number("rotation", 0); rot != 0 {
		img = warp(img, rotationMatrix(float64(w)/2, float64(h)/2, rot, 1), w, h)
	}

	if zoom := op.Number("zoom", 1); zoom > 0 && zoom != 1 {
		zw := max(1, int(math.Round(float64(w)*zoom)))
		zh := max(1, int(math.Round(float64(h)*zoom)))
		out := image.NewNRGBA(image.Rect(0, 0, zw, zh))
		draw.BiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
		img, w, h = out, zw, zh
	}

	hs, vs := op.Number("h_shift", 0), op.Number("v_shift", 0)
	if hs != 0 || vs != 0 {
		img = warp(img, f64.Aff3{1, 0, hs * float64(w), 0, 1, vs * float64(h)}, w, h)
	}

	if op.BoolParam("h_flip", false) {
		img = flip(img, true)
	}
	if op.BoolParam("v_flip", false) {
		img = flip(img, false)
	}
	return img
}

// rotationMatrix returns the source-to-destination transform for a rotation
// of deg degrees counter-clockwise about (cx, cy) with the given scale.
func rotationMatrix(cx, cy, deg, scale float64) f64.Aff3 {
	rad := deg * math.Pi / 180
	a := scale * math.Cos(rad)
	b := scale * math.Sin(rad)
	return f64.Aff3{
		a, b, (1-a)*cx - b*cy,
		-b, a, b*cx + (1-a)*cy,
	}
}

// warp maps img through s2d onto a w x h canvas. Uncovered pixels are
// opaque black.
func warp(img *image.NRGBA, s2d f64.Aff3, w, h int) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), opaqueBlack, image.Point{}, draw.Src)
	draw.BiLinear.Transform(out, s2d, img, img.Bounds(), draw.Src, nil)
	return out
}

func flip(img *image.NRGBA, horizontal bool) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewNRGBA(img.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x, y
			if horizontal {
				sx = w - 1 - x
			} else {
				sy = h - 1 - y
			}
			copy(out.Pix[y*out.Stride+x*4:y*out.Stride+x*4+4], img.Pix[sy*img.Stride+sx*4:sy*img.Stride+sx*4+4])
		}
	}
	return out
}

// randomParams are the ranges for ml_training augmentation. Each variant
// draws its own transform from them.
type randomParams struct {
	rotation    float64
	zoom        float64
	widthShift  float64
	heightShift float64
	shear       float64
	brightness  [2]float64
	hasBright   bool
	hFlip       bool
	vFlip       bool
}

func randomParamsFrom(op plan.Operation) randomParams {
	p := randomParams{
		rotation:    op.Number("rotation_range", 0),
		zoom:        op.Number("zoom_range", 0),
		widthShift:  op.Number("width_shift_range", 0),
		heightShift: op.Number("height_shift_range", 0),
		shear:       op.Number("shear_range", 0),
		hFlip:       op.BoolParam("horizontal_flip", false),
		vFlip:       op.BoolParam("vertical_flip", false),
	}
	if v, ok := op.Param("brightness_range"); ok {
		if pair, ok := v.Pair(); ok && pair[0] > 0 && pair[1] >= pair[0] {
			p.brightness, p.hasBright = pair, true
		}
	}
	return p
}

func augmentRandom(img *image.NRGBA, op plan.Operation, rng *rand.Rand) []*image.NRGBA {
	n := op.IntParam("num_variants", DefaultVariants)
	n = clampInt(n, 1, maxVariants)
	p := randomParamsFrom(op)

	variants := make([]*image.NRGBA, 0, n)
	for range n {
		variants = append(variants, randomVariant(img, p, rng))
	}
	return variants
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func randomVariant(img *image.NRGBA, p randomParams, rng *rand.Rand) *image.NRGBA {
	w, h := float64(img.Rect.Dx()), float64(img.Rect.Dy())
	cx, cy := w/2, h/2

	theta := uniform(rng, -p.rotation, p.rotation) * math.Pi / 180
	shear := uniform(rng, -p.shear, p.shear) * math.Pi / 180
	tx := uniform(rng, -p.widthShift, p.widthShift) * w
	ty := uniform(rng, -p.heightShift, p.heightShift) * h
	zx, zy := 1.0, 1.0
	if p.zoom > 0 {
		zx = uniform(rng, 1-p.zoom, 1+p.zoom)
		zy = uniform(rng, 1-p.zoom, 1+p.zoom)
	}

	// Destination-to-source: rotate, shear, zoom about the center, then shift.
	cos, sin := math.Cos(theta), math.Sin(theta)
	d2s := mul(
		f64.Aff3{1, 0, cx + tx, 0, 1, cy + ty},
		mul(
			f64.Aff3{cos, -sin, 0, sin, cos, 0},
			mul(
				f64.Aff3{1, -math.Sin(shear), 0, 0, math.Cos(shear), 0},
				mul(
					f64.Aff3{zx, 0, 0, 0, zy, 0},
					f64.Aff3{1, 0, -cx, 0, 1, -cy},
				),
			),
		),
	)
	out := sampleReplicate(img, d2s)

	if p.hFlip && rng.IntN(2) == 1 {
		out = flip(out, true)
	}
	if p.vFlip && rng.IntN(2) == 1 {
		out = flip(out, false)
	}
	if p.hasBright {
		out = scaleBrightness(out, uniform(rng, p.brightness[0], p.brightness[1]))
	}
	return out
}

// mul composes affine transforms: the result applies b first, then a.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// sampleReplicate fills every destination pixel by bilinear sampling at
// d2s(x, y). Coordinates outside the source take the nearest edge pixel.
func sampleReplicate(img *image.NRGBA, d2s f64.Aff3) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewNRGBA(img.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			sx := d2s[0]*fx + d2s[1]*fy + d2s[2]
			sy := d2s[3]*fx + d2s[4]*fy + d2s[5]
			sx = math.Max(0, math.Min(sx, float64(w-1)))
			sy = math.Max(0, math.Min(sy, float64(h-1)))

			x0, y0 := int(sx), int(sy)
			x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
			ax, ay := sx-float64(x0), sy-float64(y0)
			for c := 0; c < 4; c++ {
				p00 := float64(img.Pix[y0*img.Stride+x0*4+c])
				p10 := float64(img.Pix[y0*img.Stride+x1*4+c])
				p01 := float64(img.Pix[y1*img.Stride+x0*4+c])
				p11 := float64(img.Pix[y1*img.Stride+x1*4+c])
				top := p00 + (p10-p00)*ax
				bottom := p01 + (p11-p01)*ax
				out.Pix[y*out.Stride+x*4+c] = clamp8(top + (bottom-top)*ay)
			}
		}
	}
	return out
}

func scaleBrightness(img *image.NRGBA, factor float64) *image.NRGBA {
	out := cloneNRGBA(img)
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clamp8(float64(out.Pix[i+c]) * factor)
		}
	}
	return out
}
