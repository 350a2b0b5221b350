package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poisearch/internal/domain"
)

// fakeQdrant emulates the slice of the Qdrant REST API the client uses:
// collection creation, keyed upsert, cosine search and exact count.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]int              // name -> dimension
	points      map[string]map[string]point // collection -> id -> point
	apiKey      string
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: make(map[string]int),
		points:      make(map[string]map[string]point),
	}
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
			http.Error(w, `{"status":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case r.URL.Path == "/collections" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		case len(parts) == 2 && r.Method == http.MethodGet: // /collections/<name>
			if _, ok := f.collections[parts[1]]; !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		case len(parts) == 2 && r.Method == http.MethodPut:
			var req createCollectionRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.collections[parts[1]] = req.Vectors.Size
			f.points[parts[1]] = make(map[string]point)
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
			var req upsertRequest
			json.NewDecoder(r.Body).Decode(&req)
			if f.points[parts[1]] == nil {
				f.points[parts[1]] = make(map[string]point)
			}
			for _, p := range req.Points {
				f.points[parts[1]][p.ID] = p
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})

		case len(parts) == 4 && parts[3] == "search":
			var req searchRequest
			json.NewDecoder(r.Body).Decode(&req)

			type hit struct {
				Score   float64           `json:"score"`
				Payload map[string]string `json:"payload"`
			}
			var hits []hit
			for _, p := range f.points[parts[1]] {
				var dot float64
				for i := range req.Vector {
					dot += float64(req.Vector[i]) * float64(p.Vector[i])
				}
				hits = append(hits, hit{Score: dot, Payload: p.Payload})
			}
			sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
			if len(hits) > req.Limit {
				hits = hits[:req.Limit]
			}
			json.NewEncoder(w).Encode(map[string]any{"result": hits})

		case len(parts) == 4 && parts[3] == "count":
			json.NewEncoder(w).Encode(map[string]any{
				"result": map[string]int{"count": len(f.points[parts[1]])},
			})

		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeQdrant) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "", 5*time.Second)
	require.NoError(t, err)
	return c
}

func entries() []domain.IndexEntry {
	return []domain.IndexEntry{
		{Path: "images/a.jpg", Vector: []float32{1, 0}},
		{Path: "images/b.jpg", Vector: []float32{0, 1}},
	}
}

func TestEnsureCollection(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, c.EnsureCollection(ctx, domain.ModelBaseCLIP, 2))
	assert.Equal(t, 2, fake.collections["poi_base_clip"])

	// Second call is a no-op against the existing collection.
	require.NoError(t, c.EnsureCollection(ctx, domain.ModelBaseCLIP, 2))
	assert.Len(t, fake.collections, 1)
}

func TestUpsertIsIdempotent(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, c.EnsureCollection(ctx, domain.ModelBaseCLIP, 2))
	require.NoError(t, c.Upsert(ctx, domain.ModelBaseCLIP, entries()))
	require.NoError(t, c.Upsert(ctx, domain.ModelBaseCLIP, entries()))

	count, err := c.CountPoints(ctx, domain.ModelBaseCLIP)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-upserting the same paths must not accumulate points")
}

func TestQueryOrdering(t *testing.T) {
	fake := newFakeQdrant()
	c := newTestClient(t, fake)
	ctx := context.Background()

	require.NoError(t, c.EnsureCollection(ctx, domain.ModelSigLIP2, 2))
	require.NoError(t, c.Upsert(ctx, domain.ModelSigLIP2, entries()))

	matches, err := c.Query(ctx, domain.ModelSigLIP2, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "images/a.jpg", matches[0].Path)
	assert.InDelta(t, 1.0, matches[0].RawScore, 1e-6)
	assert.Greater(t, matches[0].RawScore, matches[1].RawScore)

	_, err = c.Query(ctx, domain.ModelSigLIP2, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidK)
}

func TestPointIDStable(t *testing.T) {
	assert.Equal(t, PointID("images/a.jpg"), PointID("images/a.jpg"))
	assert.NotEqual(t, PointID("images/a.jpg"), PointID("images/b.jpg"))
}

func TestAuthFailure(t *testing.T) {
	fake := newFakeQdrant()
	fake.apiKey = "secret"
	c := newTestClient(t, fake) // client sends no key

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestUnreachableStore(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, "", time.Second)
	require.NoError(t, err)

	err = c.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestNewRequiresConfiguredKey(t *testing.T) {
	t.Setenv("QDRANT_API_KEY", "")
	_, err := New("http://localhost:6333", "QDRANT_API_KEY", time.Second)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	t.Setenv("QDRANT_API_KEY", "k")
	c, err := New("http://localhost:6333", "QDRANT_API_KEY", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "k", c.apiKey)
}
