// Package embedding turns node text into vectors for similarity queries.
// Providers are optional: every caller must keep working when Embed returns
// ErrUnavailable.
package embedding

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrUnavailable means no vector could be produced. Semantic features skip
// the node instead of failing the operation.
var ErrUnavailable = errors.New("embedding: provider unavailable")

// Provider embeds text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Unavailable is the provider used when nothing is configured.
type Unavailable struct{}

// Embed always fails with ErrUnavailable.
func (Unavailable) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

// Available reports whether p can ever produce vectors.
func Available(p Provider) bool {
	if p == nil {
		return false
	}
	_, none := p.(Unavailable)
	return !none
}

// Cosine returns the cosine similarity of two vectors, 0 when they differ in
// length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Candidate is a vector to rank against a query.
type Candidate struct {
	UID    string
	Vector []float32
}

// Match is a ranked similarity hit.
type Match struct {
	UID   string  `json:"uid"`
	Score float64 `json:"score"`
}

// Rank scores candidates against query, keeps those strictly above
// threshold, and returns the top limit by descending score. Candidates
// without a vector are skipped.
func Rank(query []float32, candidates []Candidate, threshold float64, limit int) []Match {
	var out []Match
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		score := Cosine(query, c.Vector)
		if score > threshold {
			out = append(out, Match{UID: c.UID, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UID < out[j].UID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
