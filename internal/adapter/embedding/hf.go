package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"poisearch/internal/domain"
)

const defaultBaseURL = "https://api-inference.huggingface.co/pipeline/feature-extraction"

// HFEmbedder embeds text and images through the Hugging Face
// feature-extraction inference API. Inference is treated as an opaque,
// deterministic function; vectors are L2-normalized client-side so cosine
// similarity reduces to a dot product downstream.
type HFEmbedder struct {
	modelID   string
	dimension int
	token     string
	baseURL   string
	client    *http.Client
}

// NewHFEmbedder creates an embedder for the given upstream model. The API
// token is read from the named environment variable so it never appears in
// config files.
func NewHFEmbedder(modelID string, dimension int, tokenEnv, baseURL string) (*HFEmbedder, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: API token not found in environment variable %s", domain.ErrModelUnavailable, tokenEnv)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &HFEmbedder{
		modelID:   modelID,
		dimension: dimension,
		token:     token,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type textRequest struct {
	Inputs []string `json:"inputs"`
}

// EmbedText embeds a text query.
func (e *HFEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text query", domain.ErrBadInput)
	}

	body, err := json.Marshal(textRequest{Inputs: []string{text}})
	if err != nil {
		return nil, err
	}
	return e.call(ctx, "application/json", bytes.NewReader(body))
}

// EmbedImage embeds raw image bytes.
func (e *HFEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrBadInput)
	}
	if !strings.HasPrefix(http.DetectContentType(image), "image/") {
		return nil, fmt.Errorf("%w: payload is not an image", domain.ErrBadInput)
	}
	return e.call(ctx, "application/octet-stream", bytes.NewReader(image))
}

func (e *HFEmbedder) call(ctx context.Context, contentType string, body io.Reader) ([]float32, error) {
	url := e.baseURL + "/" + e.modelID

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: inference API rejected input: %s", domain.ErrBadInput, preview(data))
	default:
		return nil, fmt.Errorf("%w: inference API returned status %d: %s", domain.ErrModelUnavailable, resp.StatusCode, preview(data))
	}

	vec, err := parseVector(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	if len(vec) != e.dimension {
		return nil, &domain.DimensionMismatchError{Expected: e.dimension, Actual: len(vec)}
	}
	return l2Normalize(vec), nil
}

// parseVector accepts the API's two response shapes: a flat vector or a
// batch of one vector.
func parseVector(data []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(data, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, fmt.Errorf("unexpected feature-extraction response: %s", preview(data))
}

// Dimension returns the embedding vector dimension.
func (e *HFEmbedder) Dimension() int { return e.dimension }

// ModelName returns the upstream model identifier.
func (e *HFEmbedder) ModelName() string { return e.modelID }

func l2Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func preview(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
