package domain

import "fmt"

// Model identifies one of the embedding models served by the engine.
// Each model occupies its own embedding space; vectors and scores are
// never comparable across models.
type Model string

const (
	ModelBaseCLIP      Model = "base_clip"
	ModelEnhancedCLIPL Model = "enhanced_clip_l"
	ModelSigLIP2       Model = "siglip2"
)

// AllModels returns the supported models in canonical order.
func AllModels() []Model {
	return []Model{ModelBaseCLIP, ModelEnhancedCLIPL, ModelSigLIP2}
}

// ParseModel validates a model identifier.
func ParseModel(s string) (Model, error) {
	switch Model(s) {
	case ModelBaseCLIP, ModelEnhancedCLIPL, ModelSigLIP2:
		return Model(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// QueryKind distinguishes text queries from image queries. The display-score
// rescaling differs between the two for CLIP models.
type QueryKind string

const (
	QueryText  QueryKind = "text"
	QueryImage QueryKind = "image"
)

// Query is a single search input: either text or raw image bytes.
type Query struct {
	Text  string
	Image []byte
}

// Kind reports whether the query is text or image. Image wins if both are
// set; callers should set exactly one.
func (q Query) Kind() QueryKind {
	if len(q.Image) > 0 {
		return QueryImage
	}
	return QueryText
}

// IndexEntry is one corpus item: a relative image path and its embedding.
// Entries are unique by Path within one model's corpus.
type IndexEntry struct {
	Path       string            `json:"path"`
	Vector     []float32         `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// QueryResult is a single ranked hit. RawScore is the unmodified similarity
// returned by the index (cosine, in [-1,1]); Score is the model-specific
// display rescaling. Both are always populated.
type QueryResult struct {
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	RawScore float64 `json:"raw_score"`
}

// ModelResults holds one model's ranked results, sorted strictly descending
// by Score. Err records the pipeline failure when Results is empty because
// the model's pipeline failed; it is nil on success.
type ModelResults struct {
	Model   Model         `json:"model"`
	Results []QueryResult `json:"results"`
	Err     error         `json:"-"`
}

// ResultSet is the ordered per-model outcome of one orchestrated search,
// one entry per requested model, in request order.
type ResultSet []ModelResults

// Failed reports whether every pipeline in the set failed.
func (rs ResultSet) Failed() bool {
	if len(rs) == 0 {
		return true
	}
	for _, mr := range rs {
		if mr.Err == nil {
			return false
		}
	}
	return true
}

// Errors collects the per-model pipeline errors, keyed by model.
func (rs ResultSet) Errors() map[Model]error {
	errs := make(map[Model]error)
	for _, mr := range rs {
		if mr.Err != nil {
			errs[mr.Model] = mr.Err
		}
	}
	return errs
}
