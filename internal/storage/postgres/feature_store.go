package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// FeatureStore reads the product feature taxonomy. Embeddings are stored as
// JSON float arrays in a text column and parsed on load; the taxonomy is
// small enough to read whole.
type FeatureStore struct {
	pool dbPool
}

// NewFeatureStore constructs a FeatureStore over an existing pool.
func NewFeatureStore(pool dbPool) *FeatureStore {
	return &FeatureStore{pool: pool}
}

const listFeaturesSQL = `
SELECT product_feature_id, feature_code, feature_name, feature_description,
	feature_embedding, parent_id_fk, hierarchy_level
FROM product_features
ORDER BY product_feature_id`

// ListFeatures returns every feature. A row with a malformed embedding is an
// error: serving a partial index would silently skew every match.
func (s *FeatureStore) ListFeatures(ctx context.Context) ([]pipeline.ProductFeature, error) {
	rows, err := s.pool.Query(ctx, listFeaturesSQL)
	if err != nil {
		return nil, fmt.Errorf("list product features: %w", err)
	}
	defer rows.Close()

	var features []pipeline.ProductFeature
	for rows.Next() {
		var (
			f           pipeline.ProductFeature
			description *string
			embedding   *string
		)
		if err := rows.Scan(&f.ID, &f.Code, &f.Name, &description, &embedding, &f.ParentID, &f.Level); err != nil {
			return nil, fmt.Errorf("scan product feature: %w", err)
		}
		if description != nil {
			f.Description = *description
		}
		if embedding != nil && *embedding != "" {
			if err := json.Unmarshal([]byte(*embedding), &f.Embedding); err != nil {
				return nil, fmt.Errorf("feature %d: parse embedding: %w", f.ID, err)
			}
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product features: %w", err)
	}
	return features, nil
}
