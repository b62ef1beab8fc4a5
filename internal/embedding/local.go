package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"runtime"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// HashEmbedder is an in-process feature hashing embedder. Words and
// character trigrams are hashed into signed buckets and the result is L2
// normalised, so texts sharing vocabulary land close together.
type HashEmbedder struct {
	dim     int
	workers int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim, workers: runtime.NumCPU()}
}

// EmbedBatch hashes texts on a worker pool bounded by the CPU count.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, t := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = h.embed(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, w := range words {
		h.add(vec, "w:"+w, 1)
		runes := []rune(" " + w + " ")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "g:"+string(runes[i:i+3]), 0.5)
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

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
