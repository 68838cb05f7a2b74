// File: internal/knowledgegraph/records.go
package knowledgegraph

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Record is the cached view of a Target or Rotten resource.
type Record struct {
	Resource  rdf.Term
	Iteration int
	Datasets  []rdf.Term
	rdf.Derived
}

// DescribeQuads returns the cached description of resource r under the given
// type (Target or Rotten), with one provenance statement per dataset.
func DescribeQuads(r, typ rdf.Term, derived rdf.Derived, datasets ...rdf.Term) []rdf.Quad {
	quads := []rdf.Quad{
		rdf.NewQuad(r, rdf.RDFType, typ),
		rdf.NewQuad(r, rdf.SameHasNamespace, rdf.Literal(derived.Namespace)),
		rdf.NewQuad(r, rdf.SameHasAuthority, rdf.Literal(derived.Authority)),
	}
	if typ == rdf.SameTarget {
		quads = append(quads, rdf.NewQuad(r, rdf.SameHasValueNoScheme, rdf.Literal(derived.NoScheme)))
	}
	for _, d := range datasets {
		if d.IsZero() {
			continue
		}
		quads = append(quads, rdf.NewQuad(r, rdf.VoIDInDataset, d))
	}
	return quads
}

// AdmitTarget records r as a Target of iteration i.
func AdmitTarget(ctx context.Context, g Gateway, i int, r rdf.Term, datasets ...rdf.Term) error {
	if i < 0 {
		return fmt.Errorf("admit %s: iteration %d is reserved", r, i)
	}
	return g.Insert(ctx, Iteration(i), DescribeQuads(r, rdf.SameTarget, rdf.Derive(r.Value), datasets...)...)
}

// InsertEquivalence stores the edge a ≡ b in both directions in one provenance graph.
func InsertEquivalence(ctx context.Context, g Gateway, graph GraphKey, a, b rdf.Term) error {
	return g.Insert(ctx, graph,
		rdf.NewQuad(a, rdf.OWLSameAs, b),
		rdf.NewQuad(b, rdf.OWLSameAs, a),
	)
}

// Targets returns the Targets of iteration i, sorted.
func Targets(ctx context.Context, g Gateway, i int) ([]rdf.Term, error) {
	stmts, err := g.Match(ctx, Pattern{Graph: In(Iteration(i)), Predicate: rdf.RDFType, Object: rdf.SameTarget})
	if err != nil {
		return nil, err
	}
	return Subjects(stmts), nil
}

// TargetIterations maps every current Target to the iteration that holds it.
func TargetIterations(ctx context.Context, g Gateway) (map[rdf.Term]int, error) {
	stmts, err := g.Match(ctx, Pattern{Kind: KindIteration, Predicate: rdf.RDFType, Object: rdf.SameTarget})
	if err != nil {
		return nil, err
	}
	out := make(map[rdf.Term]int, len(stmts))
	for _, s := range stmts {
		if prev, ok := out[s.Subject]; !ok || s.Graph.Iteration < prev {
			out[s.Subject] = s.Graph.Iteration
		}
	}
	return out, nil
}

// RottenSet returns every resource in the Rotten bucket.
func RottenSet(ctx context.Context, g Gateway) (map[rdf.Term]bool, error) {
	stmts, err := g.Match(ctx, Pattern{Graph: In(Rotten()), Predicate: rdf.RDFType, Object: rdf.SameRotten})
	if err != nil {
		return nil, err
	}
	out := make(map[rdf.Term]bool, len(stmts))
	for _, s := range stmts {
		out[s.Subject] = true
	}
	return out, nil
}

// IsRotten reports whether r has been flagged.
func IsRotten(ctx context.Context, g Gateway, r rdf.Term) (bool, error) {
	return g.Exists(ctx, Pattern{Graph: In(Rotten()), Subject: r, Predicate: rdf.RDFType, Object: rdf.SameRotten})
}

// KnownResources returns the admission snapshot: every Target of any
// iteration plus every Rotten resource.
func KnownResources(ctx context.Context, g Gateway) (map[rdf.Term]bool, error) {
	known, err := RottenSet(ctx, g)
	if err != nil {
		return nil, err
	}
	targets, err := TargetIterations(ctx, g)
	if err != nil {
		return nil, err
	}
	for r := range targets {
		known[r] = true
	}
	return known, nil
}

// LoadTarget reads the cached record of r from the iteration graph holding it.
func LoadTarget(ctx context.Context, g Gateway, r rdf.Term) (Record, bool, error) {
	stmts, err := g.Match(ctx, Pattern{Kind: KindIteration, Subject: r})
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{Resource: r, Iteration: RottenIteration}
	found := false
	for _, s := range stmts {
		switch s.Predicate {
		case rdf.RDFType:
			if s.Object == rdf.SameTarget && (!found || s.Graph.Iteration < rec.Iteration) {
				rec.Iteration = s.Graph.Iteration
				found = true
			}
		case rdf.SameHasNamespace:
			rec.Namespace = s.Object.Value
		case rdf.SameHasAuthority:
			rec.Authority = s.Object.Value
		case rdf.SameHasValueNoScheme:
			rec.NoScheme = s.Object.Value
		case rdf.VoIDInDataset:
			rec.Datasets = appendUnique(rec.Datasets, s.Object)
		}
	}
	if !found {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Neighbours returns the resources one owl:sameAs hop away from r, in any
// direction and any subgraph.
func Neighbours(ctx context.Context, g Gateway, r rdf.Term) ([]rdf.Term, error) {
	out, err := g.Match(ctx, Pattern{Kind: KindProvenance, Subject: r, Predicate: rdf.OWLSameAs})
	if err != nil {
		return nil, err
	}
	in, err := g.Match(ctx, Pattern{Kind: KindProvenance, Predicate: rdf.OWLSameAs, Object: r})
	if err != nil {
		return nil, err
	}
	var terms []rdf.Term
	for _, s := range out {
		terms = appendUnique(terms, s.Object)
	}
	for _, s := range in {
		terms = appendUnique(terms, s.Subject)
	}
	rdf.SortTerms(terms)
	return terms, nil
}

// DirectlyLinked reports whether a and b share an owl:sameAs edge in either direction.
func DirectlyLinked(ctx context.Context, g Gateway, a, b rdf.Term) (bool, error) {
	ok, err := g.Exists(ctx, Pattern{Subject: a, Predicate: rdf.OWLSameAs, Object: b})
	if err != nil || ok {
		return ok, err
	}
	return g.Exists(ctx, Pattern{Subject: b, Predicate: rdf.OWLSameAs, Object: a})
}

// Subjects returns the distinct subjects of stmts, sorted.
func Subjects(stmts []Statement) []rdf.Term {
	var out []rdf.Term
	seen := make(map[rdf.Term]bool, len(stmts))
	for _, s := range stmts {
		if !seen[s.Subject] {
			seen[s.Subject] = true
			out = append(out, s.Subject)
		}
	}
	rdf.SortTerms(out)
	return out
}

// Objects returns the distinct objects of stmts, sorted.
func Objects(stmts []Statement) []rdf.Term {
	var out []rdf.Term
	seen := make(map[rdf.Term]bool, len(stmts))
	for _, s := range stmts {
		if !seen[s.Object] {
			seen[s.Object] = true
			out = append(out, s.Object)
		}
	}
	rdf.SortTerms(out)
	return out
}

func appendUnique(terms []rdf.Term, t rdf.Term) []rdf.Term {
	for _, existing := range terms {
		if existing == t {
			return terms
		}
	}
	return append(terms, t)
}
