// Package matcher implements the semantic matching engine: the immutable
// feature index, cosine retrieval with deterministic ordering, and the
// per-comment chunk processing pipeline.
package matcher

import (
	"fmt"
	"math"
	"sort"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Index is an immutable snapshot of the product feature taxonomy with
// embeddings. It is built once per processing run and is safe for concurrent
// reads without locking.
type Index struct {
	features []pipeline.ProductFeature
	dims     int
}

// NewIndex builds an Index from features. Features without an embedding are
// skipped; a feature whose embedding dimensionality disagrees with the rest
// is an error, since similarity against it would be meaningless.
func NewIndex(features []pipeline.ProductFeature) (*Index, error) {
	idx := &Index{}
	for _, f := range features {
		if len(f.Embedding) == 0 {
			continue
		}
		if idx.dims == 0 {
			idx.dims = len(f.Embedding)
		}
		if len(f.Embedding) != idx.dims {
			return nil, fmt.Errorf("feature %d: embedding has %d dimensions, index has %d: %w",
				f.ID, len(f.Embedding), idx.dims, pipeline.ErrIndexUnavailable)
		}
		idx.features = append(idx.features, f)
	}
	if len(idx.features) == 0 {
		return nil, fmt.Errorf("no features with embeddings: %w", pipeline.ErrIndexUnavailable)
	}
	return idx, nil
}

// Len returns the number of indexed features.
func (idx *Index) Len() int { return len(idx.features) }

// Dimensions returns the embedding dimensionality of the index.
func (idx *Index) Dimensions() int { return idx.dims }

// Feature returns the indexed feature with the given id, if present.
func (idx *Index) Feature(id int64) (pipeline.ProductFeature, bool) {
	for _, f := range idx.features {
		if f.ID == id {
			return f, true
		}
	}
	return pipeline.ProductFeature{}, false
}

// Search scores vector against every indexed feature and returns the top k
// candidates ordered by score descending, ties broken by ascending feature
// id for determinism.
func (idx *Index) Search(vector []float64, k int) ([]pipeline.Candidate, error) {
	if len(vector) != idx.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d", len(vector), idx.dims)
	}
	if k <= 0 {
		k = 1
	}
	candidates := make([]pipeline.Candidate, 0, len(idx.features))
	for _, f := range idx.features {
		candidates = append(candidates, pipeline.Candidate{
			FeatureID:   f.ID,
			FeatureCode: f.Code,
			FeatureName: f.Name,
			Score:       Similarity(vector, f.Embedding),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].FeatureID < candidates[j].FeatureID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Similarity is cosine similarity clamped to [0, 1]. Orthogonal or opposed
// vectors score 0; a zero vector scores 0 against everything.
func Similarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		// Guard against float drift on identical vectors.
		return 1
	}
	return cos
}
