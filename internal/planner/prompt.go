package planner

import (
	"encoding/json"
	"fmt"

	"github.com/fpang/prism/internal/plan"
)

const planPromptTemplate = `You are an expert image preprocessing planner. Analyze the image profile and user goal to create an optimal preprocessing plan.

Image Profile: %s
User Goal: %s

Available preprocessing operations:
- Resize: Standardize dimensions (e.g., {"op": "resize", "width": 224, "height": 224})
- Denoise: Reduce noise (e.g., {"op": "denoise", "method": "gaussian|median|bilateral", "ksize": 5})
- Normalize: Scale pixel values (e.g., {"op": "normalize", "method": "minmax|zscore"})
- Augment: Data transformation with two approaches:
  * Deterministic: Precise, consistent transforms ({"op": "augment", "mode": "deterministic", "rotation": 15, "zoom": 1.1, "h_flip": true})
  * ML Training: Random variations ({"op": "augment", "mode": "ml_training", "rotation_range": 30, "zoom_range": 0.2, "horizontal_flip": true, "num_variants": 8})

Use each operation at most once. For ML training augmentation, recommend 1-20 variants.

Return only valid JSON with:
- "ops": list of ops
- "reasoning": why you chose them
- "notes": brief strategy

NO MARKDOWN. ONLY JSON.`

const explainPromptTemplate = `You are a fair AI instructor. Context:
- Goal: %s
- Image Profile: %s
- Step: %s
Task: 1) What it does 2) Critical consideration 3) ML impact. Keep it under 120 words.`

func buildPlanPrompt(profile any, goal string) (string, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return fmt.Sprintf(planPromptTemplate, data, goal), nil
}

func buildExplainPrompt(step plan.Operation, profile json.RawMessage, goal string) (string, error) {
	data, err := json.Marshal(step)
	if err != nil {
		return "", fmt.Errorf("marshal step: %w", err)
	}
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}
	return fmt.Sprintf(explainPromptTemplate, goal, profile, data), nil
}
