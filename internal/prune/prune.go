// File: internal/prune/prune.go

// Package prune retires Rotten resources from the active graph. It removes
// their Target records and equivalence edges, stops neighbours that only led
// to rotten resources from propagating into the next iteration, and drops the
// property patterns that admitted them.
package prune

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Confirmer returns the properties currently confirmed functional or
// inverse-functional.
type Confirmer interface {
	ConfirmedProperties(ctx context.Context) (funcprop.Confirmed, error)
}

// Result summarises one cascade.
type Result struct {
	// Retired is the number of rotten resources removed from the Target graph.
	Retired int
	// Unlinked counts neighbours dropped from the next iteration.
	Unlinked int
	// Deleted is the total number of statements removed.
	Deleted int64
}

// Cascade applies the pruning passes.
type Cascade struct {
	kg        knowledgegraph.Gateway
	confirmer Confirmer
	log       *zap.Logger
}

// New creates a cascade. A nil confirmer disables the pattern pass.
func New(kg knowledgegraph.Gateway, confirmer Confirmer, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{kg: kg, confirmer: confirmer, log: logger.Named("prune")}
}

type pending struct {
	resource  rdf.Term
	iteration int
}

// Apply runs the cascade for every Rotten resource that still holds Target
// typing. Each pass finishes for all pending resources before the next one
// starts. The Rotten bucket is never modified.
func (c *Cascade) Apply(ctx context.Context) (Result, error) {
	var res Result
	work, err := c.pending(ctx)
	if err != nil || len(work) == 0 {
		return res, err
	}
	rotten, err := knowledgegraph.RottenSet(ctx, c.kg)
	if err != nil {
		return res, err
	}
	targets, err := knowledgegraph.TargetIterations(ctx, c.kg)
	if err != nil {
		return res, err
	}

	// Neighbours in the next iteration that only lead to rotten resources.
	for _, p := range work {
		next := knowledgegraph.Iteration(p.iteration + 1)
		neighbours, err := knowledgegraph.Neighbours(ctx, c.kg, p.resource)
		if err != nil {
			return res, err
		}
		for _, x := range neighbours {
			if rotten[x] {
				continue
			}
			inNext, err := c.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(next), Subject: x, Predicate: rdf.RDFType, Object: rdf.SameTarget})
			if err != nil {
				return res, err
			}
			if !inNext {
				continue
			}
			dead, err := c.onlyRotten(ctx, x, targets, rotten)
			if err != nil {
				return res, err
			}
			if !dead {
				continue
			}
			n, err := c.kg.Delete(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(next), Subject: x})
			if err != nil {
				return res, err
			}
			delete(targets, x)
			c.log.Debug("Dropped neighbour of rotten resource", zap.Stringer("resource", x), zap.Stringer("rotten", p.resource), zap.Int("iteration", p.iteration+1))
			res.Unlinked++
			res.Deleted += n
		}
	}

	// Pattern statements are collected before the edges go.
	var ifp, fp []knowledgegraph.Statement
	if c.confirmer != nil {
		confirmed, err := c.confirmer.ConfirmedProperties(ctx)
		if err != nil {
			return res, err
		}
		if !confirmed.Empty() {
			for _, p := range work {
				found, err := c.kg.Match(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindIFPPatterns, Subject: p.resource})
				if err != nil {
					return res, err
				}
				for _, s := range found {
					if confirmed.Contains(s.Predicate) {
						ifp = append(ifp, s)
					}
				}
				found, err = c.kg.Match(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindFPPatterns, Object: p.resource})
				if err != nil {
					return res, err
				}
				for _, s := range found {
					if confirmed.Contains(s.Predicate) {
						fp = append(fp, s)
					}
				}
			}
		}
	}

	// Edges and Target records of the rotten resources themselves.
	for _, p := range work {
		for _, pat := range []knowledgegraph.Pattern{
			{Kind: knowledgegraph.KindProvenance, Subject: p.resource, Predicate: rdf.OWLSameAs},
			{Kind: knowledgegraph.KindProvenance, Predicate: rdf.OWLSameAs, Object: p.resource},
			{Kind: knowledgegraph.KindIteration, Subject: p.resource},
		} {
			n, err := c.kg.Delete(ctx, pat)
			if err != nil {
				return res, err
			}
			res.Deleted += n
		}
		res.Retired++
	}

	// Property patterns shared with the rotten resources.
	for _, s := range ifp {
		n, err := c.kg.Delete(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindIFPPatterns, Predicate: s.Predicate, Object: s.Object})
		if err != nil {
			return res, err
		}
		res.Deleted += n
	}
	for _, s := range fp {
		n, err := c.kg.Delete(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindFPPatterns, Subject: s.Subject, Predicate: s.Predicate})
		if err != nil {
			return res, err
		}
		res.Deleted += n
	}

	metrics.PrunedStatements.Add(float64(res.Deleted))
	c.log.Info("Rotten resources pruned",
		zap.Int("retired", res.Retired),
		zap.Int("unlinked", res.Unlinked),
		zap.Int64("deleted", res.Deleted),
	)
	return res, nil
}

// pending lists the Rotten resources still typed as Target, sorted, each with
// the iteration that holds it.
func (c *Cascade) pending(ctx context.Context) ([]pending, error) {
	rotten, err := knowledgegraph.RottenSet(ctx, c.kg)
	if err != nil || len(rotten) == 0 {
		return nil, err
	}
	iterations, err := knowledgegraph.TargetIterations(ctx, c.kg)
	if err != nil {
		return nil, err
	}
	terms := make([]rdf.Term, 0, len(rotten))
	for r := range rotten {
		if _, ok := iterations[r]; ok {
			terms = append(terms, r)
		}
	}
	rdf.SortTerms(terms)
	out := make([]pending, len(terms))
	for i, r := range terms {
		out[i] = pending{resource: r, iteration: iterations[r]}
	}
	return out, nil
}

// onlyRotten reports whether x has no neighbour that is still a live Target.
// A neighbour without a Target record does not keep x alive.
func (c *Cascade) onlyRotten(ctx context.Context, x rdf.Term, targets map[rdf.Term]int, rotten map[rdf.Term]bool) (bool, error) {
	neighbours, err := knowledgegraph.Neighbours(ctx, c.kg, x)
	if err != nil {
		return false, err
	}
	for _, n := range neighbours {
		if _, live := targets[n]; live && !rotten[n] {
			return false, nil
		}
	}
	return true, nil
}
