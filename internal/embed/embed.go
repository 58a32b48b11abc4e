// Package embed defines the text-to-vector collaborator and a deterministic
// local implementation.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the vector size of the hashing embedder.
const DefaultDimensions = 256

// Embedder turns text into vectors. EmbedBatch must return one vector per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Hashing is a feature-hashing bag-of-words embedder. Tokens are lowercased
// alphanumeric runs plus their character trigrams, hashed with FNV-1a into a
// fixed number of buckets and L2-normalized. Identical text always yields an
// identical vector.
type Hashing struct {
	Dimensions int
}

// NewHashing returns a hashing embedder; dims <= 0 selects DefaultDimensions.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Hashing{Dimensions: dims}
}

// Embed implements Embedder.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// EmbedBatch implements Embedder.
func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	dims := h.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	vec := make([]float32, dims)

	for _, token := range tokenize(text) {
		vec[bucket(token, dims)] += 1
		// Trigrams let "structures" and "structure" share most of their mass.
		padded := "#" + token + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			vec[bucket(string(runes[i:i+3]), dims)] += 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func bucket(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}
