// Package planner asks Gemini for preprocessing plans and per-step
// explanations. Every call degrades to a deterministic fallback so the
// service keeps working without an API key or when the model misbehaves.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fpang/prism/internal/api"
	"github.com/fpang/prism/internal/jsonutil"
	"github.com/fpang/prism/internal/plan"
)

// DefaultRate is the sustained number of model calls per second.
const DefaultRate = 2.0

// DefaultCallTimeout bounds a single model call.
const DefaultCallTimeout = 30 * time.Second

// ErrNoModel is returned when no client was configured.
var ErrNoModel = errors.New("model unavailable")

// generator is the part of genai.Models the planner uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Option configures a Planner.
type Option func(*Planner)

// WithModel overrides the model name.
func WithModel(name string) Option {
	return func(p *Planner) { p.model = name }
}

// WithRate sets the sustained call rate. Zero or less disables limiting.
func WithRate(perSecond float64) Option {
	return func(p *Planner) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// Planner produces plans and explanations.
type Planner struct {
	gen     generator
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

// New returns a planner backed by client. A nil client yields a planner that
// always answers with fallbacks.
func New(client *genai.Client, opts ...Option) *Planner {
	var gen generator
	if client != nil {
		gen = client.Models
	}
	return newPlanner(gen, opts...)
}

func newPlanner(gen generator, opts ...Option) *Planner {
	p := &Planner{
		gen:     gen,
		model:   ModelName(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRate), 1),
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the configured model name, or "" when running on fallbacks.
func (p *Planner) Model() string {
	if p.gen == nil {
		return ""
	}
	return p.model
}

// PlanImage proposes a plan for an image with the given profile. It never
// fails: model errors and unusable replies produce FallbackPlan(goal).
func (p *Planner) PlanImage(ctx context.Context, profile any, goal string) api.GeneratedPlan {
	prompt, err := buildPlanPrompt(profile, goal)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build plan prompt, using fallback plan")
		return FallbackPlan(goal)
	}

	text, err := p.ask(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Str("goal", goal).Msg("Plan generation failed, using fallback plan")
		return FallbackPlan(goal)
	}

	generated, err := parsePlan(text)
	if err != nil {
		log.Warn().Err(err).Int("response_length", len(text)).Msg("Unusable plan response, using fallback plan")
		return FallbackPlan(goal)
	}

	log.Info().
		Int("ops", generated.Ops.Len()).
		Str("plan", generated.Ops.String()).
		Msg("Plan generated")
	return generated
}

// Explain describes one step for the user. Model failures produce
// CannedExplanation(step).
func (p *Planner) Explain(ctx context.Context, step plan.Operation, profile json.RawMessage, goal string) string {
	prompt, err := buildExplainPrompt(step, profile, goal)
	if err == nil {
		var text string
		text, err = p.ask(ctx, prompt)
		if err == nil && text != "" {
			return text
		}
	}
	log.Debug().Err(err).Str("kind", string(step.Kind)).Msg("Using canned explanation")
	return CannedExplanation(step)
}

func (p *Planner) ask(ctx context.Context, prompt string) (string, error) {
	if p.gen == nil {
		return "", ErrNoModel
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.gen.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	duration := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("model", p.model).Dur("duration", duration).Msg("Gemini call failed")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("received empty response from Gemini API")
	}

	text := resp.Text()
	log.Debug().
		Str("model", p.model).
		Int("response_length", len(text)).
		Dur("duration", duration).
		Msg("Gemini response received")
	return text, nil
}

// rawPlan is the model's reply before validation.
type rawPlan struct {
	Ops       []json.RawMessage `json:"ops"`
	Reasoning string            `json:"reasoning"`
	Notes     string            `json:"notes"`
}

// parsePlan extracts the JSON object from a reply and keeps the usable
// operations: unknown kinds and repeated kinds are dropped.
func parsePlan(text string) (api.GeneratedPlan, error) {
	raw, err := jsonutil.ParseJSON[rawPlan](text)
	if err != nil {
		return api.GeneratedPlan{}, err
	}

	seen := make(map[plan.Kind]bool, len(raw.Ops))
	var ops []plan.Operation
	for _, msg := range raw.Ops {
		var op plan.Operation
		if err := json.Unmarshal(msg, &op); err != nil {
			log.Debug().Err(err).RawJSON("op", msg).Msg("Dropping unusable operation")
			continue
		}
		if seen[op.Kind] {
			log.Debug().Str("kind", string(op.Kind)).Msg("Dropping repeated operation")
			continue
		}
		seen[op.Kind] = true
		ops = append(ops, op)
	}

	snap, err := plan.NewSnapshot(ops...)
	if err != nil {
		return api.GeneratedPlan{}, err
	}
	return api.GeneratedPlan{Ops: snap, Reasoning: raw.Reasoning, Notes: raw.Notes}, nil
}
