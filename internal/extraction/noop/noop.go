// Package noop provides an extractor that extracts nothing. Deployments that
// only need feature tagging run with it and keep the scene and sentiment
// columns null.
package noop

import (
	"context"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Extractor implements pipeline.Extractor as a no-op.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns an empty extraction.
func (Extractor) Extract(context.Context, string, *pipeline.ProductFeature) (pipeline.Extraction, error) {
	return pipeline.Extraction{}, nil
}
