package usecase

import (
	"math"

	"poisearch/internal/domain"
)

// displayScore maps a raw cosine similarity to the display score. The
// rescaling is defined explicitly per model and query kind:
//
//   - CLIP models, text query:  min(0.99, raw*2.5 + 0.1). Text-to-image
//     cosine similarities for CLIP cluster in a narrow low band; the affine
//     stretch spreads them over a user-legible range, capped below 1.
//   - CLIP models, image query: min(0.99, raw*1.5). Image-to-image
//     similarities run higher, so the stretch is gentler.
//   - siglip2: identity. The display score IS the raw cosine similarity,
//     by definition rather than by accident.
//
// Every rescaling is monotonic, so ordering by display score equals
// ordering by raw score within one model's list.
func displayScore(model domain.Model, kind domain.QueryKind, raw float64) float64 {
	switch model {
	case domain.ModelBaseCLIP, domain.ModelEnhancedCLIPL:
		if kind == domain.QueryText {
			return math.Min(0.99, raw*2.5+0.1)
		}
		return math.Min(0.99, raw*1.5)
	default:
		return raw
	}
}
