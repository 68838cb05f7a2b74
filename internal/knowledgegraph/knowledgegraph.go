package knowledgegraph

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// InMemoryKG is an ephemeral Gateway kept entirely in process memory.
// It backs single-shot runs and every component test.
type InMemoryKG struct {
	graphs map[GraphKey]map[rdf.Quad]struct{}
	mu     sync.RWMutex
	log    *zap.Logger
}

// Ensures InMemoryKG correctly implements the Gateway interface at compile time.
var _ Gateway = (*InMemoryKG)(nil)

// NewInMemoryKG creates a new, empty in-memory store.
func NewInMemoryKG(logger *zap.Logger) *InMemoryKG {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryKG{
		graphs: make(map[GraphKey]map[rdf.Quad]struct{}),
		log:    logger.Named("InMemoryKG"),
	}
}

// Insert adds quads to a subgraph.
func (kg *InMemoryKG) Insert(ctx context.Context, graph GraphKey, quads ...rdf.Quad) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(quads) == 0 {
		return nil
	}

	kg.mu.Lock()
	defer kg.mu.Unlock()

	set, ok := kg.graphs[graph]
	if !ok {
		set = make(map[rdf.Quad]struct{}, len(quads))
		kg.graphs[graph] = set
	}
	added := 0
	for _, q := range quads {
		if _, exists := set[q]; exists {
			continue
		}
		set[q] = struct{}{}
		added++
	}
	kg.log.Debug("Quads inserted", zap.Stringer("graph", graph), zap.Int("added", added), zap.Int("requested", len(quads)))
	return nil
}

// Delete removes matching statements.
func (kg *InMemoryKG) Delete(ctx context.Context, pattern Pattern) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kg.mu.Lock()
	defer kg.mu.Unlock()

	var removed int64
	for key, set := range kg.graphs {
		if !pattern.MatchesGraph(key) {
			continue
		}
		for q := range set {
			if pattern.MatchesQuad(q) {
				delete(set, q)
				removed++
			}
		}
		if len(set) == 0 {
			delete(kg.graphs, key)
		}
	}
	return removed, nil
}

// Match returns matching statements ordered by graph, then subject, predicate and object.
func (kg *InMemoryKG) Match(ctx context.Context, pattern Pattern) ([]Statement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kg.mu.RLock()
	defer kg.mu.RUnlock()

	var out []Statement
	for key, set := range kg.graphs {
		if !pattern.MatchesGraph(key) {
			continue
		}
		for q := range set {
			if pattern.MatchesQuad(q) {
				out = append(out, Statement{Graph: key, Quad: q})
			}
		}
	}
	slices.SortFunc(out, compareStatements)
	return out, nil
}

// Exists reports whether anything matches the pattern.
func (kg *InMemoryKG) Exists(ctx context.Context, pattern Pattern) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	kg.mu.RLock()
	defer kg.mu.RUnlock()

	for key, set := range kg.graphs {
		if !pattern.MatchesGraph(key) {
			continue
		}
		for q := range set {
			if pattern.MatchesQuad(q) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Reachable walks predicate edges in both directions from start.
func (kg *InMemoryKG) Reachable(ctx context.Context, start, predicate rdf.Term) ([]rdf.Term, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kg.mu.RLock()
	adjacency := make(map[rdf.Term][]rdf.Term)
	for _, set := range kg.graphs {
		for q := range set {
			if q.Predicate != predicate {
				continue
			}
			adjacency[q.Subject] = append(adjacency[q.Subject], q.Object)
			adjacency[q.Object] = append(adjacency[q.Object], q.Subject)
		}
	}
	kg.mu.RUnlock()

	visited := map[rdf.Term]bool{start: true}
	queue := []rdf.Term{start}
	var out []rdf.Term
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	rdf.SortTerms(out)
	return out, nil
}

// Graphs lists non-empty subgraphs of one kind, in key order.
func (kg *InMemoryKG) Graphs(ctx context.Context, kind GraphKind) ([]GraphKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kg.mu.RLock()
	defer kg.mu.RUnlock()

	var keys []GraphKey
	for key, set := range kg.graphs {
		if len(set) == 0 {
			continue
		}
		if kind == KindAny || key.Kind == kind {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, CompareKeys)
	return keys, nil
}

// Len returns the number of statements held, across all subgraphs.
func (kg *InMemoryKG) Len() int {
	kg.mu.RLock()
	defer kg.mu.RUnlock()

	n := 0
	for _, set := range kg.graphs {
		n += len(set)
	}
	return n
}

func compareStatements(a, b Statement) int {
	if c := CompareKeys(a.Graph, b.Graph); c != 0 {
		return c
	}
	if c := rdf.Compare(a.Subject, b.Subject); c != 0 {
		return c
	}
	if c := rdf.Compare(a.Predicate, b.Predicate); c != 0 {
		return c
	}
	return rdf.Compare(a.Object, b.Object)
}
