package hashing

import (
	"context"
	"errors"
	"hash/fnv"
	"math"

	"ragchat/internal/textutil"
)

// Embedder implements a stateless feature-hashing vectorizer: content
// words and adjacent word pairs are hashed into a fixed number of
// buckets, weighted by sublinear term frequency and L2-normalised.
// Identical input always yields the identical vector.
type Embedder struct {
	dimension int
}

// NewEmbedder creates a hashing embedder with the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, errors.New("hashing embedder: dimension must be greater than zero")
	}
	return &Embedder{dimension: dimension}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	tf := make(map[int]float64)
	tokens := textutil.ContentTokens(text)
	for i, tok := range tokens {
		e.add(tf, tok, 1)
		if i > 0 {
			e.add(tf, tokens[i-1]+" "+tok, 0.5)
		}
	}
	vec := make([]float32, e.dimension)
	norm := 0.0
	for idx, count := range tf {
		if count == 0 {
			delete(tf, idx)
			continue
		}
		w := 1 + math.Log1p(math.Abs(count))
		if count < 0 {
			w = -w
		}
		tf[idx] = w
		norm += w * w
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for idx, w := range tf {
		vec[idx] = float32(w / norm)
	}
	return vec
}

// add hashes a feature into a bucket; a second hash bit picks the sign so
// collisions tend to cancel out.
func (e *Embedder) add(tf map[int]float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimension))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	tf[idx] += weight
}
