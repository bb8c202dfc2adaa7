// Package homeowner matches free-text caller addresses to homeowner records.
package homeowner

import (
	"cmp"
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/warranty-intake/internal/model"
	"github.com/sells-group/warranty-intake/internal/similarity"
)

// DefaultMinSimilarity is the lowest score accepted as a match.
const DefaultMinSimilarity = 0.4

// Match is a resolved homeowner and the similarity that selected it.
type Match struct {
	Homeowner  model.Homeowner `json:"homeowner"`
	Similarity float64         `json:"similarity"`
}

// Resolve scans every candidate and returns the best scoring one whose score
// is at least minSimilarity. On equal scores the candidate seen first wins.
// Returns nil for a blank address or when nothing clears the threshold.
func Resolve(address string, candidates []model.Homeowner, minSimilarity float64) *Match {
	if similarity.Normalize(address) == "" {
		return nil
	}

	var best *Match
	for i := range candidates {
		c := candidates[i]
		if similarity.Normalize(c.Address) == "" {
			continue
		}
		score := similarity.Score(address, c.Address)
		if score < minSimilarity {
			continue
		}
		if best == nil || score > best.Similarity {
			best = &Match{Homeowner: c, Similarity: score}
		}
	}
	return best
}

// Source supplies the full homeowner candidate set.
type Source interface {
	ListHomeowners(ctx context.Context) ([]model.Homeowner, error)
}

// Resolver loads candidates from a Source and resolves addresses against them.
type Resolver struct {
	source        Source
	minSimilarity float64
}

// NewResolver creates a Resolver. A non-positive minSimilarity falls back to
// DefaultMinSimilarity.
func NewResolver(source Source, minSimilarity float64) *Resolver {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Resolver{source: source, minSimilarity: minSimilarity}
}

// MinSimilarity returns the configured match threshold.
func (r *Resolver) MinSimilarity() float64 {
	return r.minSimilarity
}

// Match resolves address against the current homeowner set.
func (r *Resolver) Match(ctx context.Context, address string) (*Match, error) {
	if similarity.Normalize(address) == "" {
		return nil, nil
	}

	candidates, err := r.source.ListHomeowners(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "homeowner: list candidates")
	}

	m := Resolve(address, candidates, r.minSimilarity)
	if m == nil {
		zap.L().Debug("resolve: no homeowner above threshold",
			zap.String("address", address),
			zap.Int("candidates", len(candidates)),
			zap.Float64("min_similarity", r.minSimilarity),
		)
		return nil, nil
	}

	zap.L().Debug("resolve: matched homeowner by address",
		zap.String("address", address),
		zap.String("homeowner_id", m.Homeowner.ID),
		zap.Float64("similarity", m.Similarity),
	)
	return m, nil
}

// Rank scores every candidate against address, best first, keeping input
// order on ties. Used by the match command for operator diagnostics.
func Rank(address string, candidates []model.Homeowner) []Match {
	ranked := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Match{Homeowner: c, Similarity: similarity.Score(address, c.Address)})
	}
	slices.SortStableFunc(ranked, func(a, b Match) int {
		return cmp.Compare(b.Similarity, a.Similarity)
	})
	return ranked
}
