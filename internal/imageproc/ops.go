package imageproc

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/prism/internal/plan"
)

// StepLog records the outcome of one operation.
type StepLog struct {
	Op     string `json:"op"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Render applies ops in order for a preview. An operation that fails is
// skipped and logged; the image continues through the rest of the plan.
// Randomized augmentation contributes its first variant.
func Render(img *image.NRGBA, snap plan.Snapshot, rng *rand.Rand) (*image.NRGBA, []StepLog) {
	var logs []StepLog
	for _, op := range snap.Ops() {
		out, err := applyOp(img, op, rng)
		if err != nil {
			log.Warn().Err(err).Str("op", string(op.Kind)).Msg("Operation skipped")
			logs = append(logs, StepLog{Op: string(op.Kind), Status: "error", Error: err.Error()})
			continue
		}
		img = out[0]
		logs = append(logs, StepLog{Op: string(op.Kind), Status: "ok"})
	}
	return img, logs
}

// Output is one image produced while executing a plan.
type Output struct {
	Name  string
	Image *image.NRGBA
}

// Execute runs a plan for export. Every successful step emits its result;
// randomized augmentation emits one output per variant and the plan
// continues with the last variant. Failing steps are skipped.
func Execute(img *image.NRGBA, snap plan.Snapshot, rng *rand.Rand) ([]Output, []StepLog) {
	var (
		outputs []Output
		logs    []StepLog
	)
	for _, op := range snap.Ops() {
		kind := string(op.Kind)
		results, err := applyOp(img, op, rng)
		if err != nil {
			log.Warn().Err(err).Str("op", kind).Msg("Operation skipped")
			logs = append(logs, StepLog{Op: kind, Status: "error", Error: err.Error()})
			continue
		}
		for i, res := range results {
			name := kind
			if op.Kind == plan.KindAugment {
				name = fmt.Sprintf("%s_%s", kind, variantLabel(op, i))
			}
			outputs = append(outputs, Output{Name: name, Image: res})
			logs = append(logs, StepLog{Op: name, Status: "ok", Output: name})
		}
		img = results[len(results)-1]
	}
	return outputs, logs
}

func variantLabel(op plan.Operation, i int) string {
	if op.EnumParam("mode", "deterministic") == "ml_training" {
		return fmt.Sprintf("ml_aug_%d", i+1)
	}
	return "deterministic"
}

func applyOp(img *image.NRGBA, op plan.Operation, rng *rand.Rand) ([]*image.NRGBA, error) {
	switch op.Kind {
	case plan.KindResize:
		out, err := resize(img, op)
		return single(out, err)
	case plan.KindDenoise:
		out, err := denoise(img, op)
		return single(out, err)
	case plan.KindNormalize:
		out, err := normalize(img, op)
		return single(out, err)
	case plan.KindAugment:
		return augment(img, op, rng)
	}
	return nil, fmt.Errorf("unsupported operation %q", op.Kind)
}

func single(img *image.NRGBA, err error) ([]*image.NRGBA, error) {
	if err != nil {
		return nil, err
	}
	return []*image.NRGBA{img}, nil
}

// interpolators maps OpenCV-style names to scalers.
var interpolators = map[string]draw.Interpolator{
	"INTER_AREA":    draw.CatmullRom,
	"INTER_CUBIC":   draw.CatmullRom,
	"INTER_LINEAR":  draw.BiLinear,
	"INTER_NEAREST": draw.NearestNeighbor,
}

func resize(img *image.NRGBA, op plan.Operation) (*image.NRGBA, error) {
	w := op.IntParam("width", 224)
	h := op.IntParam("height", 224)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("resize: invalid size %dx%d", w, h)
	}
	name := op.EnumParam("interp", "INTER_AREA")
	interp, ok := interpolators[name]
	if !ok {
		return nil, fmt.Errorf("resize: unknown interpolation %q", name)
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	interp.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out, nil
}

func normalize(img *image.NRGBA, op plan.Operation) (*image.NRGBA, error) {
	method := op.EnumParam("method", "minmax")
	switch method {
	case "minmax":
		return stretch(img, func(v float64) float64 { return v }), nil
	case "zscore":
		mean, std := pixelMeanStd(img)
		if std == 0 {
			std = 1
		}
		// Standardize, then rescale the result to 0-255 so it can be shown.
		return stretch(img, func(v float64) float64 { return (v - mean) / std }), nil
	}
	return nil, fmt.Errorf("normalize: unknown method %q", method)
}

// stretch maps f over every color sample and linearly rescales the result to
// the full 0-255 range. Alpha is kept.
func stretch(img *image.NRGBA, f func(float64) float64) *image.NRGBA {
	lo, hi := math.Inf(1), math.Inf(-1)
	forEachSample(img, func(v uint8) {
		x := f(float64(v))
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	})
	scale := hi - lo
	if scale <= 0 {
		scale = 1
	}
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			out.Pix[i+c] = clamp8((f(float64(img.Pix[i+c])) - lo) / scale * 255)
		}
	}
	return out
}

func pixelMeanStd(img *image.NRGBA) (mean, std float64) {
	var sum, sq float64
	var n int
	forEachSample(img, func(v uint8) {
		x := float64(v)
		sum += x
		sq += x * x
		n++
	})
	if n == 0 {
		return 0, 0
	}
	mean = sum / float64(n)
	return mean, math.Sqrt(math.Max(sq/float64(n)-mean*mean, 0))
}

func forEachSample(img *image.NRGBA, fn func(uint8)) {
	for i := 0; i < len(img.Pix); i += 4 {
		fn(img.Pix[i])
		fn(img.Pix[i+1])
		fn(img.Pix[i+2])
	}
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
