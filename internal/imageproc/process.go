package imageproc

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/plan"
)

// NewRand returns a random source for augmentation. A zero seed draws from
// the clock.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Preview renders snap over an encoded image and returns PNG bytes. Only
// undecodable input is an error; failing operations are skipped.
func Preview(data []byte, snap plan.Snapshot, rng *rand.Rand) ([]byte, error) {
	start := time.Now()
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	out, steps := Render(img, snap, rng)
	encoded, err := EncodePNG(out)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Int("ops", snap.Len()).
		Int("steps", len(steps)).
		Int("width", out.Rect.Dx()).
		Int("height", out.Rect.Dy()).
		Dur("duration", time.Since(start)).
		Msg("Preview rendered")
	return encoded, nil
}

// EncodedOutput is one exported PNG.
type EncodedOutput struct {
	Name string
	Data []byte
}

// Result is the outcome of applying a plan to one image.
type Result struct {
	Outputs []EncodedOutput
	Steps   []StepLog
}

// Final returns the last output, or nil when every step failed.
func (r *Result) Final() *EncodedOutput {
	if len(r.Outputs) == 0 {
		return nil
	}
	return &r.Outputs[len(r.Outputs)-1]
}

// Apply executes snap over an encoded image and encodes every output.
func Apply(data []byte, snap plan.Snapshot, rng *rand.Rand) (*Result, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	outputs, steps := Execute(img, snap, rng)
	res := &Result{Steps: steps}
	for _, o := range outputs {
		encoded, err := EncodePNG(o.Image)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", o.Name, err)
		}
		res.Outputs = append(res.Outputs, EncodedOutput{Name: o.Name, Data: encoded})
	}
	return res, nil
}
