package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facegate/facegate/internal/extractor"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/verify"
)

// scriptedExtractor maps the uploaded bytes onto canned embeddings.
type scriptedExtractor struct {
	byImage map[string]*extractor.Embedding
	err     error
}

func (s *scriptedExtractor) Extract(ctx context.Context, imageData []byte) (*extractor.Embedding, error) {
	if s.err != nil {
		return nil, s.err
	}
	emb, ok := s.byImage[string(imageData)]
	if !ok {
		return nil, extractor.ErrNoFaceDetected
	}
	return emb, nil
}

func (s *scriptedExtractor) Model() string { return "m1" }

func newTestServer(t *testing.T, extract *scriptedExtractor) (*Server, *store.Store) {
	t.Helper()
	templates, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	engine := verify.NewEngine(templates, 0.35)
	return NewServer("127.0.0.1", 0, templates, engine, extract), templates
}

func saveTemplate(t *testing.T, templates *store.Store, username string, vec []float32) {
	t.Helper()
	err := templates.Save(&store.Template{
		ID:        "tpl-" + username,
		Username:  username,
		Vector:    vec,
		Model:     "m1",
		Dim:       len(vec),
		Quality:   0.9,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("saving template for %s: %v", username, err)
	}
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// uploadRequest builds a multipart request carrying an image and extra
// form fields.
func uploadRequest(t *testing.T, url string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(image); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing field %s: %v", k, err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedExtractor{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var body map[string]string
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q; want ok", body["status"])
	}
}

func TestListUsers(t *testing.T) {
	srv, templates := newTestServer(t, &scriptedExtractor{})
	saveTemplate(t, templates, "alice", []float32{1, 0})
	saveTemplate(t, templates, "bob", []float32{0, 1})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var body struct {
		Users []store.Info `json:"users"`
		Count int          `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 2 || len(body.Users) != 2 {
		t.Fatalf("count = %d with %d users; want 2", body.Count, len(body.Users))
	}
	if body.Users[0].Username != "alice" || body.Users[1].Username != "bob" {
		t.Errorf("unexpected ordering: %+v", body.Users)
	}
}

func TestListUsersFilter(t *testing.T) {
	srv, templates := newTestServer(t, &scriptedExtractor{})
	saveTemplate(t, templates, "alice", []float32{1, 0})
	saveTemplate(t, templates, "bob", []float32{0, 1})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/users?filter=ALICE", nil))
	var body struct {
		Users []store.Info `json:"users"`
		Count int          `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 1 || body.Users[0].Username != "alice" {
		t.Errorf("filter=ALICE returned %+v; want just alice", body.Users)
	}
}

func TestGetUser(t *testing.T) {
	srv, templates := newTestServer(t, &scriptedExtractor{})
	saveTemplate(t, templates, "alice", []float32{1, 0})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/users/alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var info store.Info
	decode(t, w, &info)
	if info.Username != "alice" || info.Model != "m1" {
		t.Errorf("unexpected info: %+v", info)
	}

	// Vectors must never cross the API boundary.
	if bytes.Contains(w.Body.Bytes(), []byte("vector")) {
		t.Error("response leaks the template vector")
	}
}

func TestGetUserNotEnrolled(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedExtractor{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/users/ghost", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", w.Code)
	}
}

func TestGetUserInvalidName(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedExtractor{})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/users/Not%20A%20User", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", w.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	srv, templates := newTestServer(t, &scriptedExtractor{})
	saveTemplate(t, templates, "alice", []float32{1, 0})

	w := do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/users/alice", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if _, err := templates.Load("alice"); err == nil {
		t.Error("template still present after delete")
	}

	// Deleting again is idempotent.
	w = do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/users/alice", nil))
	if w.Code != http.StatusOK {
		t.Errorf("repeat delete status = %d; want 200", w.Code)
	}
}

func TestVerifyImageAllow(t *testing.T) {
	vec := []float32{0.3, 0.8, 0.2}
	extract := &scriptedExtractor{byImage: map[string]*extractor.Embedding{
		"alice-frame": {Vector: vec, Model: "m1", Dim: 3, DetScore: 0.9},
	}}
	srv, templates := newTestServer(t, extract)
	saveTemplate(t, templates, "alice", vec)

	req := uploadRequest(t, "/api/verify", []byte("alice-frame"), map[string]string{"username": "alice"})
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200; body %s", w.Code, w.Body.String())
	}
	var body struct {
		Allow     bool    `json:"allow"`
		Reason    string  `json:"reason"`
		Distance  float64 `json:"distance"`
		Threshold float64 `json:"threshold"`
	}
	decode(t, w, &body)
	if !body.Allow {
		t.Errorf("expected allow, got %+v", body)
	}
	if body.Threshold != 0.35 {
		t.Errorf("threshold = %f; want 0.35", body.Threshold)
	}
}

func TestVerifyImageDeny(t *testing.T) {
	extract := &scriptedExtractor{byImage: map[string]*extractor.Embedding{
		"stranger": {Vector: []float32{0, 0, 1}, Model: "m1", Dim: 3, DetScore: 0.9},
	}}
	srv, templates := newTestServer(t, extract)
	saveTemplate(t, templates, "alice", []float32{1, 0, 0})

	req := uploadRequest(t, "/api/verify", []byte("stranger"), map[string]string{"username": "alice"})
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var body struct {
		Allow  bool   `json:"allow"`
		Reason string `json:"reason"`
	}
	decode(t, w, &body)
	if body.Allow {
		t.Error("orthogonal embedding must be denied")
	}
	if body.Reason != "above_threshold" {
		t.Errorf("reason = %q; want above_threshold", body.Reason)
	}
}

func TestVerifyImageNoFace(t *testing.T) {
	srv, templates := newTestServer(t, &scriptedExtractor{})
	saveTemplate(t, templates, "alice", []float32{1, 0})

	req := uploadRequest(t, "/api/verify", []byte("empty-room"), map[string]string{"username": "alice"})
	w := do(t, srv, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d; want 422", w.Code)
	}
}

func TestVerifyImageMissingUsername(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedExtractor{})

	req := uploadRequest(t, "/api/verify", []byte("frame"), nil)
	w := do(t, srv, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", w.Code)
	}
}

func TestVerifyImageModelMismatch(t *testing.T) {
	extract := &scriptedExtractor{byImage: map[string]*extractor.Embedding{
		"frame": {Vector: []float32{1, 0}, Model: "m2", Dim: 2, DetScore: 0.9},
	}}
	srv, templates := newTestServer(t, extract)
	saveTemplate(t, templates, "alice", []float32{1, 0})

	req := uploadRequest(t, "/api/verify", []byte("frame"), map[string]string{"username": "alice"})
	w := do(t, srv, req)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d; want 409", w.Code)
	}
}

func TestIdentifyImage(t *testing.T) {
	extract := &scriptedExtractor{byImage: map[string]*extractor.Embedding{
		"bob-frame": {Vector: []float32{0, 1, 0}, Model: "m1", Dim: 3, DetScore: 0.9},
	}}
	srv, templates := newTestServer(t, extract)
	saveTemplate(t, templates, "alice", []float32{1, 0, 0})
	saveTemplate(t, templates, "bob", []float32{0, 1, 0})

	req := uploadRequest(t, "/api/identify", []byte("bob-frame"), map[string]string{"k": "1"})
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200; body %s", w.Code, w.Body.String())
	}
	var body struct {
		Matches []struct {
			Username string  `json:"Username"`
			Distance float64 `json:"Distance"`
		} `json:"matches"`
	}
	decode(t, w, &body)
	if len(body.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(body.Matches))
	}
	if body.Matches[0].Username != "bob" {
		t.Errorf("nearest = %q; want bob", body.Matches[0].Username)
	}
}

func TestIdentifyImageNoEnrollments(t *testing.T) {
	extract := &scriptedExtractor{byImage: map[string]*extractor.Embedding{
		"frame": {Vector: []float32{1, 0}, Model: "m1", Dim: 2, DetScore: 0.9},
	}}
	srv, _ := newTestServer(t, extract)

	req := uploadRequest(t, "/api/identify", []byte("frame"), nil)
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var body struct {
		Matches []json.RawMessage `json:"matches"`
	}
	decode(t, w, &body)
	if len(body.Matches) != 0 {
		t.Errorf("expected no matches, got %d", len(body.Matches))
	}
}

func TestVerifyImageNotMultipart(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedExtractor{})

	req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewBufferString("plain body"))
	w := do(t, srv, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", w.Code)
	}
}
