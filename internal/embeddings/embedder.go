// Package embeddings turns text into fixed-width vectors for similarity
// retrieval. Ollama and OpenAI backends implement [Embedder]; vectors
// from different models are not comparable, so one store must only ever
// see one model's output.
package embeddings

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Embedder generates embedding vectors.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity computes cosine similarity between two vectors. It
// returns 0 for vectors of different length or zero magnitude.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Encode packs a vector as little-endian float32 bytes for BLOB storage.
func Encode(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// ErrCorruptVector is returned by Decode for byte slices that are not a
// whole number of float32 values.
var ErrCorruptVector = errors.New("embedding blob length is not a multiple of 4")

// Decode is the inverse of Encode. An empty input yields a nil vector.
func Decode(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w (%d bytes)", ErrCorruptVector, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
