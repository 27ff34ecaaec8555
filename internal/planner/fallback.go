package planner

import (
	"fmt"
	"strings"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/plan"
)

// trainingKeywords mark a goal that wants an ML-training pipeline.
var trainingKeywords = []string{"train", "dataset", "augment", "ml model", "variety"}

// FallbackPlan is the plan used when the model is unavailable or its reply
// cannot be parsed.
func FallbackPlan(goal string) api.GeneratedPlan {
	resize := plan.NewOperation(plan.KindResize, map[string]plan.Value{
		"width": plan.Int(224), "height": plan.Int(224),
	})
	normalize := plan.NewOperation(plan.KindNormalize, map[string]plan.Value{
		"method": plan.Enum("minmax"),
	})

	lower := strings.ToLower(goal)
	for _, kw := range trainingKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		augment := plan.NewOperation(plan.KindAugment, map[string]plan.Value{
			"mode":            plan.Enum("ml_training"),
			"rotation_range":  plan.Int(15),
			"zoom_range":      plan.Number(0.1),
			"horizontal_flip": plan.Bool(true),
			"num_variants":    plan.Int(6),
		})
		return api.GeneratedPlan{
			Ops:       plan.MustSnapshot(resize, augment, normalize),
			Reasoning: "AI unavailable; standard ML-training pipeline with 6 aug variants.",
			Notes:     "ML training preprocessing (AI unavailable)",
		}
	}
	return api.GeneratedPlan{
		Ops:       plan.MustSnapshot(resize, normalize),
		Reasoning: "AI unavailable; basic 224x224 resize + minmax normalize.",
		Notes:     "Basic image preprocessing (AI unavailable)",
	}
}

// CannedExplanation describes op without the model.
func CannedExplanation(op plan.Operation) string {
	switch op.Kind {
	case plan.KindResize:
		return fmt.Sprintf("Resize to %dx%d to standardize input size.",
			op.IntParam("width", 224), op.IntParam("height", 224))
	case plan.KindDenoise:
		return fmt.Sprintf("Denoise (%s) reduces noise for cleaner input.", op.EnumParam("method", "gaussian"))
	case plan.KindNormalize:
		return fmt.Sprintf("Normalize (%s) scales pixels for stable training.", op.EnumParam("method", "minmax"))
	case plan.KindAugment:
		if op.EnumParam("mode", "") == "ml_training" {
			return fmt.Sprintf("ML augment: %d random variants (rot±%s°, zoom±%s) to boost model robustness.",
				op.IntParam("num_variants", 6), paramText(op, "rotation_range"), paramText(op, "zoom_range"))
		}
		return "Augment applies fixed transforms to preview results deterministically."
	}
	return fmt.Sprintf("No explanation available for op: %s", op.Kind)
}

func paramText(op plan.Operation, name string) string {
	if v, ok := op.Param(name); ok {
		return v.String()
	}
	return "0"
}
