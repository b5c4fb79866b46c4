// Package ai adapts the AI classification/extraction capability. Providers
// return free-form text that should contain JSON; the adapter unwraps common
// fencing and coerces out-of-enumeration categories so the pipeline always
// sees either a valid result or a typed failure.
package ai

import (
	"context"
	"errors"

	"github.com/taxbinder/taxbinder/internal/domain"
)

// ErrNotConfigured is returned when the provider has no credentials.
var ErrNotConfigured = errors.New("ai classifier credentials are not configured")

// ErrMalformedResponse is returned when the provider's output cannot be
// parsed even after unwrapping. The pipeline treats it as a step failure
// eligible for retry, never as a crash.
var ErrMalformedResponse = errors.New("ai classifier returned malformed output")

// Classifier is the classification capability boundary consumed by the pipeline.
type Classifier interface {
	// Configured reports whether the provider has credentials.
	Configured() bool
	// Classify categorizes raw OCR text into the closed category enumeration.
	Classify(ctx context.Context, text string) (*domain.ClassificationResult, error)
	// ExtractFormFields pulls a structured key/value map for a known form type.
	ExtractFormFields(ctx context.Context, text, formType string) (map[string]any, error)
}
