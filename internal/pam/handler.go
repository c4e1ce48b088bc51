package pam

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/facegate/facegate/internal/capture"
	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// Extractor is the face-detection-and-embedding primitive the handler
// drives. Implemented by extractor.Client; faked in tests.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) (*extractor.Embedding, error)
	Model() string
}

// TemplateLoader is the read-only slice of the store the handler needs.
// The authenticate path never writes templates; all mutation lives in the
// separately invoked enrollment pipeline.
type TemplateLoader interface {
	Load(username string) (*store.Template, error)
}

// Locker guards exclusive access to the camera device.
type Locker interface {
	Acquire() error
	Release()
}

// Options bundle the tuning knobs the handler reads once at start.
type Options struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	MaxFrameSize   int
	Model          string // deployed model version tag
}

// Handler implements the two PAM entry points. Each login attempt is one
// synchronous call chain; the handler spawns no goroutines of its own.
type Handler struct {
	opts      Options
	templates TemplateLoader
	engine    *verify.Engine
	extract   Extractor
	source    capture.Source
	lock      Locker
	logger    *log.Logger
}

// NewHandler wires the pipeline behind the PAM entry points.
func NewHandler(opts Options, templates TemplateLoader, engine *verify.Engine, extract Extractor, source capture.Source, lock Locker, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "facegate: ", log.LstdFlags)
	}
	return &Handler{
		opts:      opts,
		templates: templates,
		engine:    engine,
		extract:   extract,
		source:    source,
		lock:      lock,
		logger:    logger,
	}
}

// Authenticate runs up to MaxAttempts capture-and-decide cycles for the
// claimed user and maps the outcome onto the PAM code vocabulary. Failure
// detail (distances, face counts) goes to the log only; PAM shows the
// user nothing but its own generic prompt.
func (h *Handler) Authenticate(ctx context.Context, username string) Code {
	if username == "" {
		h.logger.Printf("authenticate: no username in conversation")
		return ConvErr
	}

	// Template preflight before touching the camera: an unenrolled user
	// must never trigger a capture, and a stale template must never be
	// compared against the deployed model.
	tpl, err := h.templates.Load(username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotEnrolled), errors.Is(err, store.ErrInvalidUsername):
			h.logger.Printf("authenticate user=%s: not enrolled", username)
			return UserUnknown
		default:
			h.logger.Printf("authenticate user=%s: template store: %v", username, err)
			return ServiceErr
		}
	}
	if tpl.Model != h.opts.Model {
		h.logger.Printf("authenticate user=%s: model mismatch: template %q, deployed %q", username, tpl.Model, h.opts.Model)
		return ServiceErr
	}

	// Exclusive camera access. A busy device fails fast; login must not
	// hang behind another session's capture.
	if err := h.lock.Acquire(); err != nil {
		h.logger.Printf("authenticate user=%s: camera lock: %v", username, err)
		return ServiceErr
	}
	defer h.lock.Release()

	for attempt := 1; attempt <= h.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			h.logger.Printf("authenticate user=%s: cancelled after %d attempts", username, attempt-1)
			return AuthErr
		}

		code, done := h.attempt(ctx, username, attempt)
		if done {
			return code
		}
	}

	h.logger.Printf("authenticate user=%s: %d attempts exhausted", username, h.opts.MaxAttempts)
	return AuthErr
}

// attempt runs one capture-extract-decide cycle under the per-attempt
// timeout. The second return value reports whether the loop should stop
// with the returned code; a false means the attempt failed recoverably.
func (h *Handler) attempt(ctx context.Context, username string, attempt int) (Code, bool) {
	actx, cancel := context.WithTimeout(ctx, h.opts.AttemptTimeout)
	defer cancel()

	frame, err := h.source.Grab(actx)
	if err != nil {
		h.logger.Printf("authenticate user=%s attempt=%d: capture: %v", username, attempt, err)
		if errors.Is(err, capture.ErrCameraUnavailable) {
			// A missing or broken device will not recover within this
			// session; fail over to the next PAM method without burning
			// the remaining attempt budget.
			return ServiceErr, true
		}
		return 0, false
	}

	if h.opts.MaxFrameSize > 0 {
		if scaled, err := capture.Downscale(frame, h.opts.MaxFrameSize); err == nil {
			frame = scaled
		}
	}

	emb, err := h.extract.Extract(actx, frame)
	if err != nil {
		h.logger.Printf("authenticate user=%s attempt=%d: extract: %v", username, attempt, err)
		return 0, false
	}

	decision, err := h.engine.Decide(username, emb)
	if err != nil {
		// Model mismatch or an unreadable store mid-session; neither is
		// recoverable by another capture.
		h.logger.Printf("authenticate user=%s attempt=%d: decide: %v", username, attempt, err)
		return ServiceErr, true
	}

	if decision.Allow {
		h.logger.Printf("authenticate user=%s attempt=%d: match distance=%.4f", username, attempt, decision.Distance)
		return Success, true
	}

	h.logger.Printf("authenticate user=%s attempt=%d: deny reason=%s distance=%.4f", username, attempt, decision.Reason, decision.Distance)
	return 0, false
}

// AccountValidity implements the account phase. The adapter process is
// spawned fresh per PAM phase, so nothing computed by Authenticate
// survives to here; validity is recomputed independently and cheaply from
// enrollment state, without touching the camera.
func (h *Handler) AccountValidity(username string) Code {
	if username == "" {
		h.logger.Printf("account: no username in conversation")
		return ConvErr
	}

	tpl, err := h.templates.Load(username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotEnrolled), errors.Is(err, store.ErrInvalidUsername):
			h.logger.Printf("account user=%s: not enrolled", username)
			return UserUnknown
		default:
			h.logger.Printf("account user=%s: template store: %v", username, err)
			return ServiceErr
		}
	}

	if tpl.Model != h.opts.Model {
		h.logger.Printf("account user=%s: model mismatch: template %q, deployed %q", username, tpl.Model, h.opts.Model)
		return AuthErr
	}

	return Success
}

// Username resolves the claimed username: an explicit argument wins,
// otherwise PAM_USER as set by pam_exec.
func Username(arg string) string {
	if arg != "" {
		return arg
	}
	return os.Getenv("PAM_USER")
}
