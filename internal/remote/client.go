// Package remote is the HTTP client for the processing service. Requests are
// multipart forms; failures come back as *TransportError carrying the
// service's human-readable detail.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/explain"
	"github.com/fpang/prism/internal/plan"
	"github.com/fpang/prism/internal/source"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 60 * time.Second

// Client talks to one processing service.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// GeneratePlan profiles src and asks the service for a plan toward goal.
func (c *Client) GeneratePlan(ctx context.Context, src source.File, goal string) (*api.PlanResponse, error) {
	form := newForm()
	form.file(api.FieldFile, src)
	form.field(api.FieldGoal, goal)

	body, err := c.post(ctx, "generate-plan", api.PathGeneratePlan, form)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp api.PlanResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &TransportError{Op: "generate-plan", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &resp, nil
}

// Preview renders src with snap applied and returns PNG bytes.
func (c *Client) Preview(ctx context.Context, src source.File, snap plan.Snapshot) ([]byte, error) {
	form := newForm()
	form.file(api.FieldFile, src)
	form.json(api.FieldPlan, api.PlanEnvelope{Ops: snap})

	body, err := c.post(ctx, "preview", api.PathPreview, form)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &TransportError{Op: "preview", Err: err}
	}
	return data, nil
}

// Explain returns the explanation text for one step.
func (c *Client) Explain(ctx context.Context, req explain.Request) (string, error) {
	form := newForm()
	form.json(api.FieldStep, req.Step)
	profile := req.Profile
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}
	form.field(api.FieldProfile, string(profile))
	form.field(api.FieldGoal, req.Goal)

	body, err := c.post(ctx, "explain", api.PathExplain, form)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp api.ExplainResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", &TransportError{Op: "explain", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resp.Explanation, nil
}

// ApplyResult describes a packaged batch.
type ApplyResult struct {
	BatchID    string
	ArchiveURL string
	Bytes      int64
}

// Apply processes files with snap and streams the zip archive to w.
func (c *Client) Apply(ctx context.Context, files []source.File, snap plan.Snapshot, w io.Writer) (*ApplyResult, error) {
	form := newForm()
	for _, f := range files {
		form.file(api.FieldFiles, f)
	}
	form.json(api.FieldPlan, api.PlanEnvelope{Ops: snap})

	resp, err := c.do(ctx, "apply", api.PathApply, form)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "apply", Err: fmt.Errorf("failed to read archive: %w", err)}
	}
	return &ApplyResult{
		BatchID:    resp.Header.Get(api.HeaderBatchID),
		ArchiveURL: resp.Header.Get(api.HeaderArchiveURL),
		Bytes:      n,
	}, nil
}

// Health checks that the service is reachable.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.getJSON(ctx, "health", api.PathHealth, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batch looks up a processed batch by id.
func (c *Client) Batch(ctx context.Context, id string) (*api.BatchResponse, error) {
	var out api.BatchResponse
	if err := c.getJSON(ctx, "batch", api.PathBatches+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return newStatusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, form *formBuilder) (io.ReadCloser, error) {
	resp, err := c.do(ctx, op, path, form)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, op, path string, form *formBuilder) (*http.Response, error) {
	body, contentType, err := form.finish()
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newStatusError(op, resp)
	}

	log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Service request complete")
	return resp, nil
}

// formBuilder accumulates a multipart body, keeping the first error.
type formBuilder struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *formBuilder {
	f := &formBuilder{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *formBuilder) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *formBuilder) json(name string, v any) {
	if f.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		f.err = fmt.Errorf("failed to encode %s: %w", name, err)
		return
	}
	f.err = f.w.WriteField(name, string(data))
}

func (f *formBuilder) file(name string, src source.File) {
	if f.err != nil {
		return
	}
	part, err := f.w.CreateFormFile(name, src.Name)
	if err != nil {
		f.err = err
		return
	}
	_, f.err = part.Write(src.Data)
}

func (f *formBuilder) finish() (io.Reader, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.w.FormDataContentType(), nil
}
