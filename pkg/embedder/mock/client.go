// Package mock provides a deterministic embedder for tests and examples.
//
// It generates embeddings from a hash of the input text, so identical texts
// always map to identical vectors without any network dependency.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Client is a deterministic hash-based embedder.
type Client struct {
	dimensions int
}

// NewClient creates a new mock embedder.
//
// Args:
//   - dimensions: Vector dimensions; zero defaults to 384
func NewClient(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Client{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float64, c.dimensions)
	for i := 0; i < c.dimensions; i++ {
		// Linear congruential generator seeded by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// EmbedBatch embeds each text independently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	normalized := make([]float64, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
