package port

import "context"

// Embedder converts text or image input into a fixed-length, L2-normalized
// vector in one model's embedding space. Implementations are deterministic:
// identical input yields an identical vector.
type Embedder interface {
	// EmbedText embeds a text query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedImage embeds raw image bytes.
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the underlying embedding model.
	ModelName() string
}
