// File: internal/consistency/consistency.go

// Package consistency flags resources whose equivalence to a Target only
// holds through an indirect chain ending in a different representation under
// the same authority. Flagged resources go to the Rotten bucket; removal is
// left to the pruning cascade.
package consistency

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Rule names, as they appear in logs and metrics.
const (
	RuleCrossIteration = "cross-iteration"
	RuleSameIteration  = "same-iteration"
)

// Checker runs the detection rules against the gateway.
type Checker struct {
	kg  knowledgegraph.Gateway
	log *zap.Logger
}

// New creates a checker.
func New(kg knowledgegraph.Gateway, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{kg: kg, log: logger.Named("consistency")}
}

// records caches Target descriptions for the duration of one rule pass.
type records struct {
	kg    knowledgegraph.Gateway
	cache map[rdf.Term]rdf.Derived
}

func newRecords(kg knowledgegraph.Gateway) *records {
	return &records{kg: kg, cache: make(map[rdf.Term]rdf.Derived)}
}

func (r *records) derived(ctx context.Context, t rdf.Term) (rdf.Derived, error) {
	if d, ok := r.cache[t]; ok {
		return d, nil
	}
	rec, found, err := knowledgegraph.LoadTarget(ctx, r.kg, t)
	if err != nil {
		return rdf.Derived{}, err
	}
	d := rec.Derived
	if !found || d.Authority == "" {
		d = rdf.Derive(t.Value)
	}
	r.cache[t] = d
	return d, nil
}

// conflicting reports whether a and b are two representations under one
// authority that are only linked indirectly. b must be reachable from a.
func (c *Checker) conflicting(ctx context.Context, recs *records, a, b rdf.Term) (bool, error) {
	da, err := recs.derived(ctx, a)
	if err != nil {
		return false, err
	}
	db, err := recs.derived(ctx, b)
	if err != nil {
		return false, err
	}
	if da.Authority != db.Authority || da.NoScheme == db.NoScheme {
		return false, nil
	}
	direct, err := knowledgegraph.DirectlyLinked(ctx, c.kg, a, b)
	if err != nil {
		return false, err
	}
	return !direct, nil
}

// DetectCrossIterationRotten flags every Target x of iteration i that
// reaches a Target t of an iteration before i-1 only indirectly, with t under
// the same authority but a different value. Targets of i-1 are the
// resources x was discovered through and never count as a conflict. It
// returns the flagged resources, sorted.
func (c *Checker) DetectCrossIterationRotten(ctx context.Context, i int) ([]rdf.Term, error) {
	candidates, err := knowledgegraph.Targets(ctx, c.kg, i)
	if err != nil {
		return nil, err
	}
	iterations, err := knowledgegraph.TargetIterations(ctx, c.kg)
	if err != nil {
		return nil, err
	}
	rotten, err := knowledgegraph.RottenSet(ctx, c.kg)
	if err != nil {
		return nil, err
	}

	recs := newRecords(c.kg)
	var flagged []rdf.Term
	for _, x := range candidates {
		if rotten[x] {
			continue
		}
		reach, err := c.kg.Reachable(ctx, x, rdf.OWLSameAs)
		if err != nil {
			return nil, err
		}
		for _, t := range reach {
			j, ok := iterations[t]
			if !ok || j >= i-1 || rotten[t] {
				continue
			}
			bad, err := c.conflicting(ctx, recs, x, t)
			if err != nil {
				return nil, err
			}
			if bad {
				c.log.Debug("Indirect link across iterations", zap.Stringer("resource", x), zap.Stringer("target", t), zap.Int("target_iteration", j))
				flagged = append(flagged, x)
				break
			}
		}
	}
	return flagged, c.flag(ctx, RuleCrossIteration, i, flagged)
}

// DetectSameIterationRotten flags y for every pair (x, y) of Targets of one
// iteration k other than i where y is reachable from x only indirectly, under
// the same authority with a different value. Both members of such a pair end
// up flagged.
func (c *Checker) DetectSameIterationRotten(ctx context.Context, i int) ([]rdf.Term, error) {
	iterations, err := knowledgegraph.TargetIterations(ctx, c.kg)
	if err != nil {
		return nil, err
	}
	rotten, err := knowledgegraph.RottenSet(ctx, c.kg)
	if err != nil {
		return nil, err
	}

	recs := newRecords(c.kg)
	seen := make(map[rdf.Term]bool)
	for _, x := range sortedTargets(iterations) {
		k := iterations[x]
		if k == i || rotten[x] {
			continue
		}
		reach, err := c.kg.Reachable(ctx, x, rdf.OWLSameAs)
		if err != nil {
			return nil, err
		}
		for _, y := range reach {
			if seen[y] || rotten[y] {
				continue
			}
			if ky, ok := iterations[y]; !ok || ky != k {
				continue
			}
			bad, err := c.conflicting(ctx, recs, x, y)
			if err != nil {
				return nil, err
			}
			if bad {
				c.log.Debug("Indirect link within an iteration", zap.Stringer("resource", y), zap.Stringer("peer", x), zap.Int("iteration", k))
				seen[y] = true
			}
		}
	}
	flagged := make([]rdf.Term, 0, len(seen))
	for y := range seen {
		flagged = append(flagged, y)
	}
	rdf.SortTerms(flagged)
	return flagged, c.flag(ctx, RuleSameIteration, i, flagged)
}

// flag records each resource in the Rotten bucket with the cached
// description and provenance of its Target record.
func (c *Checker) flag(ctx context.Context, rule string, i int, resources []rdf.Term) error {
	for _, r := range resources {
		rec, found, err := knowledgegraph.LoadTarget(ctx, c.kg, r)
		if err != nil {
			return err
		}
		derived := rdf.Derive(r.Value)
		var datasets []rdf.Term
		if found {
			datasets = rec.Datasets
		}
		if err := c.kg.Insert(ctx, knowledgegraph.Rotten(), knowledgegraph.DescribeQuads(r, rdf.SameRotten, derived, datasets...)...); err != nil {
			return err
		}
	}
	if len(resources) > 0 {
		metrics.RottenFlags.WithLabelValues(rule).Add(float64(len(resources)))
		c.log.Info("Rotten resources flagged", zap.String("rule", rule), zap.Int("iteration", i), zap.Int("flagged", len(resources)))
	}
	return nil
}

func sortedTargets(iterations map[rdf.Term]int) []rdf.Term {
	out := make([]rdf.Term, 0, len(iterations))
	for t := range iterations {
		out = append(out, t)
	}
	rdf.SortTerms(out)
	return out
}
