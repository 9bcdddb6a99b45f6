package contextstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// EmbeddingDim is the vector width specified in §4.4 — adequate for
// near-duplicate detection, not semantic search.
const EmbeddingDim = 256

// Embedder produces a fixed-width vector for a Context Entry's data. It's
// a narrow interface precisely so a real embedding provider can replace
// HashMixEmbedder later without changing Store's contract (see the
// Open Question decision in SPEC_FULL.md).
type Embedder interface {
	Embed(data map[string]interface{}) [EmbeddingDim]float64
}

// HashMixEmbedder is the deterministic placeholder embedder the spec
// explicitly sanctions: it hashes each canonical key=value pair into the
// vector, so structurally similar maps land close together under cosine
// similarity without needing any ML model.
type HashMixEmbedder struct{}

func (HashMixEmbedder) Embed(data map[string]interface{}) [EmbeddingDim]float64 {
	var vec [EmbeddingDim]float64
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		token := fmt.Sprintf("%s=%v", k, data[k])
		h := fnv1aBytes([]byte(token))
		for i := 0; i < EmbeddingDim; i += 8 {
			var chunk [8]byte
			binary.BigEndian.PutUint64(chunk[:], h)
			for j := 0; j < 8 && i+j < EmbeddingDim; j++ {
				vec[i+j] += float64(chunk[j]) - 127.5
			}
			h = h*1099511628211 ^ uint64(i)
		}
	}
	normalize(&vec)
	return vec
}

func fnv1aBytes(data []byte) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, b := range data {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

func normalize(vec *[EmbeddingDim]float64) {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, assuming both are already normalized (as HashMixEmbedder
// produces).
func CosineSimilarity(a, b [EmbeddingDim]float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// usesSemanticSimilarity reports whether entries of this context type
// carry an embedding (§4.4: learning and policy only).
func usesSemanticSimilarity(t domain.ContextType) bool {
	return t == domain.ContextLearning || t == domain.ContextPolicy
}

// SimilarityThreshold is the cosine threshold above which two entries are
// considered near-duplicates (§4.4).
const SimilarityThreshold = 0.9
