// Package extractor turns a captured frame into a face embedding by
// calling the local embedding sidecar. It enforces the exactly-one-face
// contract: an ambiguous frame is an error, never a guess.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

var (
	// ErrNoFaceDetected means the frame contains no detectable face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces means more than one face was detected; the
	// claimed identity would be ambiguous.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrImageUnreadable means the input could not be decoded as an image.
	ErrImageUnreadable = errors.New("image unreadable")
)

// Embedding is the identity vector extracted from a single face, tagged
// with the model version that produced it. Vectors from different model
// versions must never be compared.
type Embedding struct {
	Vector   []float32
	Model    string
	Dim      int
	DetScore float64
}

// Client talks to the face embedding server.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates an extractor client for the given sidecar URL. The
// model tag is stamped onto every embedding the client returns.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

// Model returns the model version tag this client stamps on embeddings.
func (c *Client) Model() string {
	return c.model
}

// faceDetection represents a single detected face in the server response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract detects faces in imageData and returns the embedding of the
// single detected face. Deterministic for a fixed model and input; does
// not touch any persistent state.
func (c *Client) Extract(ctx context.Context, imageData []byte) (*Embedding, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	switch {
	case faceResp.FacesCount == 0 || len(faceResp.Faces) == 0:
		return nil, ErrNoFaceDetected
	case faceResp.FacesCount > 1 || len(faceResp.Faces) > 1:
		return nil, ErrMultipleFaces
	}

	face := faceResp.Faces[0]
	if len(face.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return &Embedding{
		Vector:   face.Embedding,
		Model:    c.model,
		Dim:      face.Dim,
		DetScore: face.DetScore,
	}, nil
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit
// Content-Type header based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	mimeType := detectMIMEType(imageData)
	if mimeType == "application/octet-stream" {
		return nil, ErrImageUnreadable
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnsupportedMediaType {
		return nil, ErrImageUnreadable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}
