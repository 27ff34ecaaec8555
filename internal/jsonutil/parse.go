// Package jsonutil pulls JSON out of model replies that may wrap it in
// markdown fences or surrounding prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a reply contains no object or array.
var ErrNoJSON = errors.New("no JSON content found")

const previewLimit = 200

// StripMarkdownFences returns the body of a ```-fenced block, or text
// unchanged when it is not fenced.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}
	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// ExtractJSON returns the span from the first '{' or '[' to the last
// matching closer. Whichever opener appears first decides the closer.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	text = text[start:]
	end := strings.LastIndex(text, closer)
	if end < 0 {
		return "", fmt.Errorf("%w: no closing %s", ErrNoJSON, closer)
	}
	return text[:end+1], nil
}

// ParseJSON strips fences, extracts the JSON span and decodes it into T.
func ParseJSON[T any](raw string) (T, error) {
	var result T
	span, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return result, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	if err := json.Unmarshal([]byte(span), &result); err != nil {
		preview := span
		if len(preview) > previewLimit {
			preview = preview[:previewLimit] + "..."
		}
		var zero T
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return result, nil
}
