package planner

import "os"

// Gemini model IDs.
//
// | Model Name             | API Model ID           | Use Case                      |
// |------------------------|------------------------|-------------------------------|
// | Gemini 3 Flash Preview | gemini-3-flash-preview | Best for speed + intelligence |
// | Gemini 2.5 Flash       | gemini-2.5-flash       | Stable, balanced performance  |
// | Gemini 2.5 Flash-Lite  | gemini-2.5-flash-lite  | High-throughput, lowest cost  |
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelGemini25FlashLite   = "gemini-2.5-flash-lite"
)

// DefaultModelName is used when GEMINI_MODEL is unset.
const DefaultModelName = ModelGemini25Flash

// ModelName returns GEMINI_MODEL if set, else DefaultModelName.
func ModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
