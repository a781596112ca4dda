// Package simple provides a deterministic stub embedder. It produces a
// fixed-size vector seeded by the SHA-256 of the input text, which exercises
// the full retrieval path without external network calls.
package simple

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

const defaultDimensions = 768

// Embedder implements pipeline.Embedder deterministically.
type Embedder struct {
	dims int
}

// New creates an Embedder. dims <= 0 uses the default dimension.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = defaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions reports the vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns an L2-normalized vector derived from a xorshift64* stream
// seeded by SHA-256(text). Identical text always yields an identical vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float64, error) {
	sum := sha256.Sum256([]byte(text))
	seed := binary.LittleEndian.Uint64(sum[:8])
	if seed == 0 {
		seed = 0x9e3779b97f4a7c15
	}
	x := seed

	out := make([]float64, e.dims)
	for i := range out {
		x ^= x >> 12
		x ^= x << 25
		x ^= x >> 27
		x *= 0x2545F4914F6CDD1D

		// Upper 53 bits make a float in [0,1), shifted to [-1,1).
		mantissa := (x >> 11) & ((1 << 53) - 1)
		f := float64(mantissa) / float64(1<<53)
		out[i] = 2.0*f - 1.0
	}

	var norm float64
	for _, v := range out {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		inv := 1.0 / norm
		for i := range out {
			out[i] *= inv
		}
	}
	return out, nil
}
