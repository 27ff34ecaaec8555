package imageproc

import (
	"fmt"
	"image"
	"math"
	"slices"

	"github.com/fpang/prism/internal/plan"
)

// oddKernel forces a usable kernel size: even sizes round up, sizes below
// one become one.
func oddKernel(k int) int {
	if k < 1 {
		return 1
	}
	if k%2 == 0 {
		return k + 1
	}
	return k
}

func denoise(img *image.NRGBA, op plan.Operation) (*image.NRGBA, error) {
	k := oddKernel(op.IntParam("ksize", 5))
	method := op.EnumParam("method", "gaussian")
	switch method {
	case "gaussian":
		return gaussianBlur(img, k), nil
	case "median":
		return medianBlur(img, k), nil
	case "bilateral":
		return bilateralFilter(img, k, float64(k*2), float64(k*2)), nil
	}
	return nil, fmt.Errorf("denoise: unknown method %q", method)
}

// gaussianKernel returns normalized 1-D weights. The sigma for a given size
// matches the usual default when none is specified.
func gaussianKernel(k int) []float64 {
	sigma := 0.3*(float64(k-1)*0.5-1) + 0.8
	r := k / 2
	weights := make([]float64, k)
	var sum float64
	for i := -r; i <= r; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		weights[i+r] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// gaussianBlur runs the separable kernel horizontally then vertically with
// edge pixels replicated.
func gaussianBlur(img *image.NRGBA, k int) *image.NRGBA {
	if k == 1 {
		return cloneNRGBA(img)
	}
	weights := gaussianKernel(k)
	r := k / 2
	w, h := img.Rect.Dx(), img.Rect.Dy()

	tmp := make([]float64, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				var acc float64
				for i := -r; i <= r; i++ {
					sx := clampInt(x+i, 0, w-1)
					acc += weights[i+r] * float64(img.Pix[y*img.Stride+sx*4+c])
				}
				tmp[(y*w+x)*3+c] = acc
			}
		}
	}

	out := cloneNRGBA(img)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				var acc float64
				for i := -r; i <= r; i++ {
					sy := clampInt(y+i, 0, h-1)
					acc += weights[i+r] * tmp[(sy*w+x)*3+c]
				}
				out.Pix[y*out.Stride+x*4+c] = clamp8(acc)
			}
		}
	}
	return out
}

func medianBlur(img *image.NRGBA, k int) *image.NRGBA {
	out := cloneNRGBA(img)
	if k == 1 {
		return out
	}
	r := k / 2
	w, h := img.Rect.Dx(), img.Rect.Dy()
	window := make([]uint8, 0, k*k)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				window = window[:0]
				for dy := -r; dy <= r; dy++ {
					sy := clampInt(y+dy, 0, h-1)
					for dx := -r; dx <= r; dx++ {
						sx := clampInt(x+dx, 0, w-1)
						window = append(window, img.Pix[sy*img.Stride+sx*4+c])
					}
				}
				slices.Sort(window)
				out.Pix[y*out.Stride+x*4+c] = window[len(window)/2]
			}
		}
	}
	return out
}

// bilateralFilter smooths while keeping edges: neighbors are weighted by
// both spatial distance and color distance.
func bilateralFilter(img *image.NRGBA, d int, sigmaColor, sigmaSpace float64) *image.NRGBA {
	out := cloneNRGBA(img)
	if d == 1 {
		return out
	}
	r := d / 2
	w, h := img.Rect.Dx(), img.Rect.Dy()
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := img.Pix[y*img.Stride+x*4:]
			var acc [3]float64
			var norm float64
			for dy := -r; dy <= r; dy++ {
				sy := clampInt(y+dy, 0, h-1)
				for dx := -r; dx <= r; dx++ {
					if dx*dx+dy*dy > r*r {
						continue
					}
					sx := clampInt(x+dx, 0, w-1)
					p := img.Pix[sy*img.Stride+sx*4:]
					var diff float64
					for c := 0; c < 3; c++ {
						dc := float64(p[c]) - float64(center[c])
						diff += dc * dc
					}
					weight := math.Exp(float64(dx*dx+dy*dy)*spaceCoeff + diff*colorCoeff)
					for c := 0; c < 3; c++ {
						acc[c] += weight * float64(p[c])
					}
					norm += weight
				}
			}
			for c := 0; c < 3; c++ {
				out.Pix[y*out.Stride+x*4+c] = clamp8(acc[c] / norm)
			}
		}
	}
	return out
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
