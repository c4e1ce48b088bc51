// Package enroll captures a reference image for a user and writes the
// resulting template. This is the only code path that mutates the
// template store; authentication never writes.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/facegate/facegate/internal/capture"
	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
)

var (
	// ErrCaptureFailed means the camera produced no usable frame.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrAborted means the operator cancelled the enrollment.
	ErrAborted = errors.New("enrollment aborted")
	// ErrLowQuality means the committed frame's detection score is below
	// the configured minimum; the operator should recapture.
	ErrLowQuality = errors.New("capture quality too low")
	// ErrAttemptsExhausted means no frame was committed within the
	// bounded capture budget.
	ErrAttemptsExhausted = errors.New("capture attempts exhausted")
)

// Action is the operator's verdict on the latest captured frame.
type Action int

const (
	// Retry discards the frame and captures another.
	Retry Action = iota
	// Commit extracts and stores the current frame.
	Commit
	// Abort cancels the enrollment without writing anything.
	Abort
)

// Trigger is consulted after each capture. In the CLI it is a keypress
// (space commits, ESC aborts); tests drive it programmatically.
type Trigger func(attempt int) (Action, error)

// TemplateStore is the mutating slice of the store the pipeline needs.
type TemplateStore interface {
	Load(username string) (*store.Template, error)
	Save(tpl *store.Template) error
}

// Extractor mirrors the extraction primitive (see pam.Extractor).
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) (*extractor.Embedding, error)
	Model() string
}

// Options bound the enrollment session.
type Options struct {
	MaxCaptureAttempts int           // frames offered to the operator before giving up
	CaptureTimeout     time.Duration // per-frame grab bound
	MaxFrameSize       int
	MinDetScore        float64
}

// Result reports what was written.
type Result struct {
	Template store.Info
	Replaced bool // a previous template existed and was overwritten
}

// Pipeline wires capture, extraction, and the template store.
type Pipeline struct {
	opts      Options
	source    capture.Source
	extract   Extractor
	templates TemplateStore
}

// New creates an enrollment pipeline.
func New(opts Options, source capture.Source, extract Extractor, templates TemplateStore) *Pipeline {
	if opts.MaxCaptureAttempts < 1 {
		opts.MaxCaptureAttempts = 30
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 4 * time.Second
	}
	return &Pipeline{opts: opts, source: source, extract: extract, templates: templates}
}

// Enroll captures frames until the trigger commits one (or the attempt
// budget runs out), extracts the committed frame exactly once, and
// replaces any existing template for the user. One clean capture per
// enrollment keeps the template's provenance auditable; embeddings are
// never averaged.
func (p *Pipeline) Enroll(ctx context.Context, username string, trigger Trigger) (*Result, error) {
	replaced := false
	if _, err := p.templates.Load(username); err == nil {
		replaced = true
	} else if !errors.Is(err, store.ErrNotEnrolled) {
		return nil, err
	}

	frame, err := p.captureUntilCommit(ctx, trigger)
	if err != nil {
		return nil, err
	}

	if p.opts.MaxFrameSize > 0 {
		if scaled, err := capture.Downscale(frame, p.opts.MaxFrameSize); err == nil {
			frame = scaled
		}
	}

	emb, err := p.extract.Extract(ctx, frame)
	if err != nil {
		return nil, err
	}
	if emb.DetScore < p.opts.MinDetScore {
		return nil, fmt.Errorf("%w: det score %.2f below %.2f", ErrLowQuality, emb.DetScore, p.opts.MinDetScore)
	}

	tpl := &store.Template{
		ID:        uuid.NewString(),
		Username:  username,
		Vector:    emb.Vector,
		Model:     emb.Model,
		Dim:       emb.Dim,
		Quality:   emb.DetScore,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.templates.Save(tpl); err != nil {
		return nil, err
	}

	return &Result{Template: tpl.Info(), Replaced: replaced}, nil
}

func (p *Pipeline) captureUntilCommit(ctx context.Context, trigger Trigger) ([]byte, error) {
	for attempt := 1; attempt <= p.opts.MaxCaptureAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}

		actx, cancel := context.WithTimeout(ctx, p.opts.CaptureTimeout)
		frame, err := p.source.Grab(actx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}

		action, err := trigger(attempt)
		if err != nil {
			return nil, err
		}
		switch action {
		case Commit:
			return frame, nil
		case Abort:
			return nil, ErrAborted
		}
	}
	return nil, ErrAttemptsExhausted
}
