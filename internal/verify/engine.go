// Package verify implements the authentication decision: compare a live
// embedding against the claimed user's stored template and emit an
// allow/deny result. Retry policy lives in the bridge adapter, not here.
package verify

import (
	"errors"
	"fmt"

	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
)

// ErrModelMismatch means the stored template and the live embedding come
// from different model versions. This is a deployment inconsistency and
// must never be silently downgraded to a comparison.
var ErrModelMismatch = errors.New("template model version mismatch")

// Reason explains a deny decision. Reasons go to logs, never to the
// user's terminal.
type Reason string

const (
	ReasonMatch       Reason = "match"
	ReasonNotEnrolled Reason = "not_enrolled"
	ReasonNoMatch     Reason = "above_threshold"
)

// Decision is the immutable result of one authentication comparison.
type Decision struct {
	Allow    bool
	Reason   Reason
	Distance float64 // meaningful for match / above_threshold
}

// TemplateLoader is the slice of the template store the engine needs.
type TemplateLoader interface {
	Load(username string) (*store.Template, error)
}

// Engine compares live embeddings against stored templates using a fixed
// distance threshold. The threshold is global per deployment, loaded once.
type Engine struct {
	templates TemplateLoader
	threshold float64
}

// NewEngine creates a decision engine with the given distance threshold.
func NewEngine(templates TemplateLoader, threshold float64) *Engine {
	return &Engine{templates: templates, threshold: threshold}
}

// Threshold returns the configured distance cutoff.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Decide compares the live embedding against the claimed user's template.
// Allow requires a current template, matching model versions, and a
// distance strictly below the threshold; everything else denies or errors.
func (e *Engine) Decide(username string, emb *extractor.Embedding) (Decision, error) {
	tpl, err := e.templates.Load(username)
	if err != nil {
		if errors.Is(err, store.ErrNotEnrolled) {
			return Decision{Allow: false, Reason: ReasonNotEnrolled}, nil
		}
		return Decision{}, fmt.Errorf("loading template: %w", err)
	}

	if tpl.Model != emb.Model {
		return Decision{}, fmt.Errorf("%w: template %q, live %q", ErrModelMismatch, tpl.Model, emb.Model)
	}

	d := CosineDistance(emb.Vector, tpl.Vector)
	if d < e.threshold {
		return Decision{Allow: true, Reason: ReasonMatch, Distance: d}, nil
	}
	return Decision{Allow: false, Reason: ReasonNoMatch, Distance: d}, nil
}
