package memory

import (
	"context"
	"sync"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// FeatureStore serves a fixed feature taxonomy from memory.
type FeatureStore struct {
	mu       sync.RWMutex
	features []pipeline.ProductFeature
}

// NewFeatureStore constructs a FeatureStore seeded with features.
func NewFeatureStore(features ...pipeline.ProductFeature) *FeatureStore {
	return &FeatureStore{features: features}
}

// ListFeatures returns a copy of the seeded features.
func (s *FeatureStore) ListFeatures(_ context.Context) ([]pipeline.ProductFeature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.ProductFeature, len(s.features))
	copy(out, s.features)
	return out, nil
}
