// File: internal/knowledgegraph/gateway.go
package knowledgegraph

import (
	"context"

	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Gateway is the working store of a discovery run. Every component reads and
// writes the named subgraphs through it. Implementations must give set
// semantics to Insert and must be safe for concurrent use.
type Gateway interface {
	// Insert adds quads to one subgraph. Existing quads are left untouched.
	Insert(ctx context.Context, graph GraphKey, quads ...rdf.Quad) error
	// Delete removes every statement matching the pattern and reports how many went.
	Delete(ctx context.Context, pattern Pattern) (int64, error)
	// Match returns all matching statements in a stable order.
	Match(ctx context.Context, pattern Pattern) ([]Statement, error)
	// Exists reports whether at least one statement matches.
	Exists(ctx context.Context, pattern Pattern) (bool, error)
	// Reachable returns every node connected to start by one or more edges
	// labelled predicate, followed in either direction, across all subgraphs.
	// start itself is never part of the result.
	Reachable(ctx context.Context, start, predicate rdf.Term) ([]rdf.Term, error)
	// Graphs lists the keys of non-empty subgraphs of the given kind.
	Graphs(ctx context.Context, kind GraphKind) ([]GraphKey, error)
}

// Statement is a quad together with the subgraph holding it.
type Statement struct {
	Graph GraphKey
	rdf.Quad
}

// Pattern selects statements. Zero terms are wildcards. Graph pins a single
// subgraph and takes precedence over Kind; Kind restricts the match to one
// partition; leaving both unset matches the whole store.
type Pattern struct {
	Graph     *GraphKey
	Kind      GraphKind
	Subject   rdf.Term
	Predicate rdf.Term
	Object    rdf.Term
}

// In pins a pattern to one subgraph.
func In(key GraphKey) *GraphKey { return &key }

// MatchesGraph reports whether a subgraph is in scope for the pattern.
func (p Pattern) MatchesGraph(key GraphKey) bool {
	if p.Graph != nil {
		return *p.Graph == key
	}
	if p.Kind != KindAny {
		return p.Kind == key.Kind
	}
	return true
}

// MatchesQuad reports whether a quad satisfies the term constraints.
func (p Pattern) MatchesQuad(q rdf.Quad) bool {
	if !p.Subject.IsZero() && p.Subject != q.Subject {
		return false
	}
	if !p.Predicate.IsZero() && p.Predicate != q.Predicate {
		return false
	}
	if !p.Object.IsZero() && p.Object != q.Object {
		return false
	}
	return true
}
