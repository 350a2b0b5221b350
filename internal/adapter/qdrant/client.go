// Package qdrant is a narrow REST client for a managed Qdrant deployment.
// One collection exists per model (poi_<model>); point identity is a UUID
// derived deterministically from the corpus path, which is what makes
// upserts idempotent.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"poisearch/internal/domain"
	"poisearch/internal/port"
)

// pointNamespace is the fixed UUIDv5 namespace for deriving point ids from
// corpus paths. Changing it would orphan every previously upserted point.
var pointNamespace = uuid.MustParse("9a2f61d4-3dbb-45c7-9c1a-7b8f2e5d0c44")

// PointID returns the stable point id for a corpus path.
func PointID(path string) string {
	return uuid.NewSHA1(pointNamespace, []byte(path)).String()
}

// CollectionName returns the collection serving a model.
func CollectionName(model domain.Model) string {
	return "poi_" + string(model)
}

// Client talks to the Qdrant HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ port.VectorStore = (*Client)(nil)

// New creates a client for the given Qdrant URL. The API key is read from
// the named environment variable; an empty apiKeyEnv means an unsecured
// deployment.
func New(baseURL, apiKeyEnv string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: no URL configured", domain.ErrStoreUnavailable)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var apiKey string
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: API key not found in environment variable %s", domain.ErrStoreUnavailable, apiKeyEnv)
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type vectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors vectorParams `json:"vectors"`
}

// EnsureCollection creates the model's collection with cosine distance if it
// does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, model domain.Model, dimension int) error {
	name := CollectionName(model)

	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	body := createCollectionRequest{
		Vectors: vectorParams{Size: dimension, Distance: "Cosine"},
	}
	status, data, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: create collection %s: status %d: %s", domain.ErrStoreUnavailable, name, status, preview(data))
	}
	return nil
}

type point struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

// Upsert inserts or overwrites entries keyed by their path-derived point id.
// Re-upserting the same path rewrites the point in place; no duplicates
// accumulate. Concurrent upserts of the same key are last-write-wins.
func (c *Client) Upsert(ctx context.Context, model domain.Model, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]point, len(entries))
	for i, e := range entries {
		payload := map[string]string{"path": e.Path}
		for k, v := range e.Attributes {
			payload[k] = v
		}
		points[i] = point{
			ID:      PointID(e.Path),
			Vector:  e.Vector,
			Payload: payload,
		}
	}

	status, data, err := c.do(ctx, http.MethodPut, "/collections/"+CollectionName(model)+"/points?wait=true", upsertRequest{Points: points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: upsert into %s: status %d: %s", domain.ErrStoreUnavailable, CollectionName(model), status, preview(data))
	}
	return nil
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []struct {
		Score   float64           `json:"score"`
		Payload map[string]string `json:"payload"`
	} `json:"result"`
}

// Query runs a server-side top-k cosine search against the model's
// collection.
func (c *Client) Query(ctx context.Context, model domain.Model, vector []float32, k int) ([]port.Match, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidK
	}

	body := searchRequest{Vector: vector, Limit: k, WithPayload: true}
	status, data, err := c.do(ctx, http.MethodPost, "/collections/"+CollectionName(model)+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: search %s: status %d: %s", domain.ErrStoreUnavailable, CollectionName(model), status, preview(data))
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable search response: %v", domain.ErrStoreUnavailable, err)
	}

	matches := make([]port.Match, 0, len(resp.Result))
	for _, hit := range resp.Result {
		matches = append(matches, port.Match{
			Path:     hit.Payload["path"],
			RawScore: hit.Score,
		})
	}
	return matches, nil
}

// CountPoints returns the exact number of points in the model's collection.
func (c *Client) CountPoints(ctx context.Context, model domain.Model) (int, error) {
	status, data, err := c.do(ctx, http.MethodPost, "/collections/"+CollectionName(model)+"/points/count", map[string]bool{"exact": true})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("%w: count %s: status %d: %s", domain.ErrStoreUnavailable, CollectionName(model), status, preview(data))
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("%w: unreadable count response: %v", domain.ErrStoreUnavailable, err)
	}
	return resp.Result.Count, nil
}

// Ping reports whether the deployment is reachable.
func (c *Client) Ping(ctx context.Context) error {
	status, data, err := c.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", domain.ErrStoreUnavailable, status, preview(data))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, data, fmt.Errorf("%w: authentication failed (status %d)", domain.ErrStoreUnavailable, resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

func preview(data []byte) string {
	s := string(data)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
