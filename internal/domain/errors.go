package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the failure taxonomy. Per-model failures are wrapped
// with one of these so the orchestrator can classify them; they are caught
// at the pipeline boundary and never abort a whole request.
var (
	// ErrUnknownModel is returned for a model identifier outside the
	// supported set.
	ErrUnknownModel = errors.New("poisearch: unknown model")

	// ErrBadInput is returned by an embedding provider for malformed or
	// unreadable query input.
	ErrBadInput = errors.New("poisearch: malformed input")

	// ErrModelUnavailable is returned when an embedding model cannot be
	// loaded or reached.
	ErrModelUnavailable = errors.New("poisearch: embedding model unavailable")

	// ErrIndexNotBuilt is returned when the flat index artifacts are
	// missing.
	ErrIndexNotBuilt = errors.New("poisearch: flat index not built")

	// ErrIndexCorrupt is returned when the vector array and metadata table
	// disagree. A corrupt index is never served, and never truncated to
	// the shorter length.
	ErrIndexCorrupt = errors.New("poisearch: flat index corrupt")

	// ErrStoreUnavailable is returned on remote store connectivity, auth
	// or timeout failures.
	ErrStoreUnavailable = errors.New("poisearch: vector store unavailable")

	// ErrInvalidK is returned when a query requests a non-positive k.
	ErrInvalidK = errors.New("poisearch: k must be positive")
)

// DimensionMismatchError indicates a vector whose length does not match the
// index or model dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("poisearch: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// AllModelsFailedError is the request-level failure raised only when every
// requested model's pipeline failed. Errs holds the per-model causes.
type AllModelsFailedError struct {
	Errs map[Model]error
}

func (e *AllModelsFailedError) Error() string {
	models := make([]string, 0, len(e.Errs))
	for m := range e.Errs {
		models = append(models, string(m))
	}
	sort.Strings(models)

	var b strings.Builder
	b.WriteString("poisearch: all model pipelines failed")
	for _, m := range models {
		fmt.Fprintf(&b, "; %s: %v", m, e.Errs[Model(m)])
	}
	return b.String()
}

// MigrationError is fatal to a migration job: a batch upsert failed after
// exhausting its retry budget. Migrated reports how many entries were
// already upserted, so a re-run simply restarts without risk of duplication.
type MigrationError struct {
	Model    Model
	Migrated int
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("poisearch: migration of %s failed after %d entries: %v", e.Model, e.Migrated, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
