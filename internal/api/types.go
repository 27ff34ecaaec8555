// Package api defines the JSON and form contract between the editing engine
// and the processing service.
package api

import (
	"encoding/json"
	"time"

	"github.com/fpang/prism/internal/plan"
)

// Endpoint paths.
const (
	PathGeneratePlan = "/generate-plan"
	PathPreview      = "/preview-image"
	PathExplain      = "/explain-step"
	PathApply        = "/apply-plan"
	PathHealth       = "/health"
	PathBatches      = "/batches/"
)

// Multipart form field names.
const (
	FieldFile     = "file"
	FieldFiles    = "files"
	FieldPlan     = "plan"
	FieldGoal     = "user_goal"
	FieldStep     = "step"
	FieldProfile  = "profile"
	FieldDataType = "data_type"
)

// HeaderArchiveURL carries a presigned download link for an uploaded archive.
const HeaderArchiveURL = "X-Archive-URL"

// HeaderBatchID identifies an apply batch.
const HeaderBatchID = "X-Batch-ID"

// PlanEnvelope is the plan form value: {"ops":[...]}.
type PlanEnvelope struct {
	Ops plan.Snapshot `json:"ops"`
}

// GeneratedPlan is a plan proposed by the planner.
type GeneratedPlan struct {
	Ops       plan.Snapshot `json:"ops"`
	Reasoning string        `json:"reasoning,omitempty"`
	Notes     string        `json:"notes,omitempty"`
}

// PlanResponse is the body of a successful plan generation.
type PlanResponse struct {
	Plan     GeneratedPlan   `json:"plan"`
	Profile  json.RawMessage `json:"profile"`
	DataType string          `json:"data_type"`
	// CleanedPreview is column -> values for tabular input, a string for text.
	CleanedPreview json.RawMessage `json:"cleaned_preview,omitempty"`
}

// ExplainResponse is the body of a successful explanation.
type ExplainResponse struct {
	Explanation string `json:"explanation"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

// BatchResponse describes a processed batch.
type BatchResponse struct {
	BatchID   string        `json:"batch_id"`
	Files     []string      `json:"files"`
	Outputs   int           `json:"outputs"`
	Bytes     int64         `json:"bytes"`
	Plan      plan.Snapshot `json:"plan"`
	CreatedAt time.Time     `json:"created_at"`
	// ArchiveURL is a fresh download link when the bundle was uploaded.
	ArchiveURL string `json:"archive_url,omitempty"`
}
