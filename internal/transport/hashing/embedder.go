// Package hashing is an offline embedding provider based on feature hashing.
//
// Vectors are built from word unigrams, word bigrams and character trigrams hashed
// into a fixed number of buckets with a sign bit, weighted by 1+log(1+tf) and L2
// normalized. Identical texts always produce identical vectors and texts sharing
// vocabulary land close in cosine space. It has no notion of meaning beyond that.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/kailas-cloud/workoutcache/internal/domain"
	"github.com/kailas-cloud/workoutcache/internal/domain/vector"
)

// DefaultDimensions matches the default remote model so indexes stay interchangeable.
const DefaultDimensions = 768

// Model is the name recorded on embeddings produced here.
const Model = "hashing-v1"

const (
	unigramWeight = 1.0
	bigramWeight  = 0.7
	trigramWeight = 0.35
)

// Embedder is a deterministic, dependency-free embedding provider.
type Embedder struct {
	dimensions int
}

// New creates a hashing embedder. dims <= 0 selects DefaultDimensions.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed implements domain.Embedder. Token counts are reported as word counts.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err //nolint:wrapcheck // caller cancellation
	}

	words := tokenize(text)
	tf := make(map[string]float64, len(words)*3)
	for i, w := range words {
		tf["w:"+w] += unigramWeight
		if i > 0 {
			tf["b:"+words[i-1]+" "+w] += bigramWeight
		}
		padded := " " + w + " "
		runes := []rune(padded)
		for j := 0; j+3 <= len(runes); j++ {
			tf["c:"+string(runes[j:j+3])] += trigramWeight
		}
	}

	v := make([]float32, e.dimensions)
	for feat, w := range tf {
		idx, sign := e.bucket(feat)
		v[idx] += sign * float32(1+math.Log(1+w))
	}

	return domain.EmbeddingResult{
		Embedding:    vector.Normalize(v),
		PromptTokens: len(words),
		TotalTokens:  len(words),
	}, nil
}

// HealthCheck always succeeds.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) bucket(feat string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feat))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dimensions)), sign //nolint:gosec // dimensions > 0
}

// tokenize lowercases text and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
