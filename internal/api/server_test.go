package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poisearch/internal/adapter/embedding"
	"poisearch/internal/domain"
	"poisearch/internal/port"
	"poisearch/internal/usecase"
)

type stubIndex struct {
	matches []port.Match
	err     error
}

func (s *stubIndex) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.matches) {
		return s.matches[:k], nil
	}
	return s.matches, nil
}

func newTestServer(t *testing.T, indexes map[domain.Model]port.VectorIndex, withHistory bool) *Server {
	t.Helper()
	registry := embedding.NewRegistry()
	for _, m := range domain.AllModels() {
		registry.Register(m, func() (port.Embedder, error) {
			return embedding.NewMockEmbedder(8), nil
		})
	}
	searcher := usecase.NewSearcher(registry, indexes, time.Second, nil)

	var history *History
	if withHistory {
		var err error
		history, err = OpenHistory(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { history.Close() })
	}

	return NewServer(searcher, history, func() error { return nil }, 5, "", nil)
}

func healthyIndexes() map[domain.Model]port.VectorIndex {
	return map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP:      &stubIndex{matches: []port.Match{{Path: "a.jpg", RawScore: 0.8}, {Path: "b.jpg", RawScore: 0.5}}},
		domain.ModelEnhancedCLIPL: &stubIndex{matches: []port.Match{{Path: "c.jpg", RawScore: 0.7}}},
		domain.ModelSigLIP2:       &stubIndex{matches: []port.Match{{Path: "d.jpg", RawScore: 0.3}}},
	}
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSearchText(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), false)

	rec := postForm(t, srv.Handler(), "/search/text", url.Values{"query": {"a young face"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a young face", resp.Query)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, "base_clip", resp.Results[0].Model)
	require.Len(t, resp.Results[0].Results, 2)
	assert.Equal(t, "a.jpg", resp.Results[0].Results[0].Path)
	assert.InDelta(t, 0.8, resp.Results[0].Results[0].RawScore, 1e-9)
	assert.Greater(t, resp.Results[0].Results[0].Score, resp.Results[0].Results[1].Score)

	// siglip2 display score is the raw score.
	sig := resp.Results[2]
	assert.Equal(t, "siglip2", sig.Model)
	assert.Equal(t, sig.Results[0].RawScore, sig.Results[0].Score)
}

func TestSearchTextMissingQuery(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), false)
	rec := postForm(t, srv.Handler(), "/search/text", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchModelSubsetAndUnknown(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), false)

	rec := postForm(t, srv.Handler(), "/search/text", url.Values{
		"query":  {"q"},
		"models": {"siglip2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "siglip2", resp.Results[0].Model)

	rec = postForm(t, srv.Handler(), "/search/text", url.Values{
		"query":  {"q"},
		"models": {"resnet50"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchPartialFailure(t *testing.T) {
	indexes := healthyIndexes()
	indexes[domain.ModelEnhancedCLIPL] = &stubIndex{err: domain.ErrIndexNotBuilt}
	srv := newTestServer(t, indexes, false)

	rec := postForm(t, srv.Handler(), "/search/text", url.Values{"query": {"q"}})
	require.Equal(t, http.StatusOK, rec.Code, "partial failure is still a success")

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results[1].Results)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.NotEmpty(t, resp.Results[0].Results)
}

func TestSearchTotalFailure(t *testing.T) {
	indexes := map[domain.Model]port.VectorIndex{
		domain.ModelBaseCLIP:      &stubIndex{err: domain.ErrIndexNotBuilt},
		domain.ModelEnhancedCLIPL: &stubIndex{err: domain.ErrIndexNotBuilt},
		domain.ModelSigLIP2:       &stubIndex{err: domain.ErrIndexNotBuilt},
	}
	srv := newTestServer(t, indexes, false)

	rec := postForm(t, srv.Handler(), "/search/text", url.Values{"query": {"q"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSearchImage(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "probe.png")
	require.NoError(t, err)
	fw.Write([]byte("fake image bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/search/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Query)
	assert.Len(t, resp.Results, 3)
}

func TestSearchRecordsHistory(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), true)
	h := srv.Handler()

	rec := postForm(t, h, "/search/text", url.Values{
		"query":   {"first"},
		"session": {"sess-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postForm(t, h, "/search/text", url.Values{
		"query":   {"second"},
		"session": {"sess-1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/history?session=sess-1", nil)
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	var entries []HistoryEntry
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Query)
	assert.Equal(t, "second", entries[1].Query)
	assert.Equal(t, 2, entries[0].Counts["base_clip"])
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, healthyIndexes(), false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"base_clip", "enhanced_clip_l", "siglip2"}, resp.Models)
	assert.True(t, resp.Store)
}
