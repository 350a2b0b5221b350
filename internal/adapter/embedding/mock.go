package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"poisearch/internal/domain"
)

// MockEmbedder is a deterministic in-process embedder for tests and offline
// development. The vector is derived from a hash of the input, so identical
// input always yields an identical, L2-normalized vector.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// EmbedText embeds a text query.
func (e *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text query", domain.ErrBadInput)
	}
	return e.hashVector([]byte("text:" + text)), nil
}

// EmbedImage embeds raw image bytes.
func (e *MockEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrBadInput)
	}
	return e.hashVector(append([]byte("image:"), image...)), nil
}

func (e *MockEmbedder) hashVector(seed []byte) []float32 {
	v := make([]float32, e.dimension)
	digest := sha256.Sum256(seed)
	for i := range v {
		if i%8 == 0 && i > 0 {
			digest = sha256.Sum256(digest[:])
		}
		bits := binary.LittleEndian.Uint32(digest[(i%8)*4 : (i%8)*4+4])
		v[i] = float32(bits%2000)/1000.0 - 1.0
	}
	return l2Normalize(v)
}

// Dimension returns the embedding vector dimension.
func (e *MockEmbedder) Dimension() int { return e.dimension }

// ModelName returns a fixed mock identifier.
func (e *MockEmbedder) ModelName() string { return "mock" }
