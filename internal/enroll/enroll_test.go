package enroll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
)

type seqSource struct {
	calls int
	err   error
}

func (s *seqSource) Grab(ctx context.Context) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte(fmt.Sprintf("frame-%d", s.calls)), nil
}

type stubExtractor struct {
	detScore  float64
	err       error
	lastFrame []byte
	calls     int
}

func (s *stubExtractor) Extract(ctx context.Context, imageData []byte) (*extractor.Embedding, error) {
	s.calls++
	s.lastFrame = imageData
	if s.err != nil {
		return nil, s.err
	}
	return &extractor.Embedding{
		Vector:   []float32{0.1, 0.2, 0.3},
		Model:    "m1",
		Dim:      3,
		DetScore: s.detScore,
	}, nil
}

func (s *stubExtractor) Model() string { return "m1" }

func commitOn(n int) Trigger {
	return func(attempt int) (Action, error) {
		if attempt == n {
			return Commit, nil
		}
		return Retry, nil
	}
}

func newPipeline(t *testing.T, source *seqSource, extract *stubExtractor) (*Pipeline, *store.Store) {
	t.Helper()
	templates, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	p := New(Options{
		MaxCaptureAttempts: 5,
		CaptureTimeout:     time.Second,
		MinDetScore:        0.5,
	}, source, extract, templates)
	return p, templates
}

func TestEnrollCommitsSelectedFrame(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, templates := newPipeline(t, source, extract)

	res, err := p.Enroll(context.Background(), "alice", commitOn(3))
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}
	if res.Replaced {
		t.Error("first enrollment must not report a replacement")
	}
	if source.calls != 3 {
		t.Errorf("expected 3 captures, got %d", source.calls)
	}
	if extract.calls != 1 {
		t.Errorf("only the committed frame may be extracted, got %d calls", extract.calls)
	}
	if string(extract.lastFrame) != "frame-3" {
		t.Errorf("extracted frame %q; want the committed frame-3", extract.lastFrame)
	}

	tpl, err := templates.Load("alice")
	if err != nil {
		t.Fatalf("loading saved template: %v", err)
	}
	if tpl.Model != "m1" || tpl.Dim != 3 || tpl.Quality != 0.9 {
		t.Errorf("unexpected template metadata: %+v", tpl)
	}
	if tpl.ID == "" {
		t.Error("template ID must be set")
	}
}

func TestEnrollReplacesExistingTemplate(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, templates := newPipeline(t, source, extract)

	first, err := p.Enroll(context.Background(), "alice", commitOn(1))
	if err != nil {
		t.Fatalf("first enrollment: %v", err)
	}
	second, err := p.Enroll(context.Background(), "alice", commitOn(1))
	if err != nil {
		t.Fatalf("second enrollment: %v", err)
	}
	if !second.Replaced {
		t.Error("re-enrollment must report the replacement")
	}
	if second.Template.ID == first.Template.ID {
		t.Error("replacement must carry a fresh ID")
	}

	infos, err := templates.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("expected exactly one template after re-enrollment, got %d", len(infos))
	}
}

func TestEnrollAbort(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, templates := newPipeline(t, source, extract)

	abort := func(attempt int) (Action, error) { return Abort, nil }
	_, err := p.Enroll(context.Background(), "alice", abort)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if extract.calls != 0 {
		t.Error("aborted enrollment must not extract")
	}
	if _, err := templates.Load("alice"); !errors.Is(err, store.ErrNotEnrolled) {
		t.Error("aborted enrollment must not write a template")
	}
}

func TestEnrollAttemptsExhausted(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, _ := newPipeline(t, source, extract)

	never := func(attempt int) (Action, error) { return Retry, nil }
	_, err := p.Enroll(context.Background(), "alice", never)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if source.calls != 5 {
		t.Errorf("expected the full attempt budget of 5, got %d", source.calls)
	}
}

func TestEnrollLowQualityRejected(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.2}
	p, templates := newPipeline(t, source, extract)

	_, err := p.Enroll(context.Background(), "alice", commitOn(1))
	if !errors.Is(err, ErrLowQuality) {
		t.Fatalf("expected ErrLowQuality, got %v", err)
	}
	if _, err := templates.Load("alice"); !errors.Is(err, store.ErrNotEnrolled) {
		t.Error("low quality capture must not write a template")
	}
}

func TestEnrollCaptureFailure(t *testing.T) {
	source := &seqSource{err: errors.New("device gone")}
	extract := &stubExtractor{detScore: 0.9}
	p, _ := newPipeline(t, source, extract)

	_, err := p.Enroll(context.Background(), "alice", commitOn(1))
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestEnrollNoFaceInCommittedFrame(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{err: extractor.ErrNoFaceDetected}
	p, templates := newPipeline(t, source, extract)

	_, err := p.Enroll(context.Background(), "alice", commitOn(1))
	if !errors.Is(err, extractor.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if _, err := templates.Load("alice"); !errors.Is(err, store.ErrNotEnrolled) {
		t.Error("failed extraction must not write a template")
	}
}

func TestEnrollCancelledContext(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, _ := newPipeline(t, source, extract)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Enroll(ctx, "alice", commitOn(1))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted for a cancelled session, got %v", err)
	}
	if source.calls != 0 {
		t.Errorf("no capture after cancellation, got %d", source.calls)
	}
}

func TestEnrollInvalidUsernameRejected(t *testing.T) {
	source := &seqSource{}
	extract := &stubExtractor{detScore: 0.9}
	p, _ := newPipeline(t, source, extract)

	_, err := p.Enroll(context.Background(), "../../etc/cron.d/evil", commitOn(1))
	if err == nil {
		t.Fatal("expected an error for a path-traversal username")
	}
	if source.calls != 0 {
		t.Errorf("invalid username must fail before any capture, got %d captures", source.calls)
	}
}
