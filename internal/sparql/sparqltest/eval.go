// File: internal/sparql/sparqltest/eval.go

// Package sparqltest provides an in-memory SPARQL endpoint for tests. It
// evaluates the typed query tree directly, so tests exercise the same
// queries the engine sends over the wire.
package sparqltest

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
)

// ErrUnsupported is returned for requests a configured endpoint refuses.
var ErrUnsupported = errors.New("query feature not supported by endpoint")

type solution map[sparql.Var]rdf.Term

func (s solution) extend(v sparql.Var, t rdf.Term) (solution, bool) {
	if cur, ok := s[v]; ok {
		return s, cur == t
	}
	out := make(solution, len(s)+1)
	for k, val := range s {
		out[k] = val
	}
	out[v] = t
	return out, true
}

// Store is one endpoint's triple set together with the capabilities it
// pretends to have.
type Store struct {
	mu      sync.RWMutex
	triples []rdf.Quad

	// RowCap truncates every result set, like a server-side result limit.
	RowCap int
	// RejectValues makes the endpoint fail any query with a VALUES block.
	RejectValues bool
	// RejectNonASCII makes the endpoint fail any query containing non-ASCII text.
	RejectNonASCII bool
}

// NewStore returns a store holding quads.
func NewStore(quads ...rdf.Quad) *Store {
	s := &Store{}
	s.Add(quads...)
	return s
}

// Add appends triples, ignoring duplicates.
func (s *Store) Add(quads ...rdf.Quad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quads {
		if !slices.Contains(s.triples, q) {
			s.triples = append(s.triples, q)
		}
	}
}

// Eval builds q, applies the endpoint's refusals and evaluates it.
func (s *Store) Eval(q *sparql.Query) (*sparql.Results, error) {
	text, err := q.Build()
	if err != nil {
		return nil, err
	}
	if s.RejectNonASCII && !rdf.IsASCII(text) {
		return nil, fmt.Errorf("%w: non-ascii characters", ErrUnsupported)
	}
	if s.RejectValues && usesValues(q.Where) {
		return nil, fmt.Errorf("%w: VALUES", ErrUnsupported)
	}

	s.mu.RLock()
	sols, err := s.group(q.Where, []solution{{}})
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.project(q, sols), nil
}

func (s *Store) group(g sparql.Group, in []solution) ([]solution, error) {
	sols := in
	var filters []sparql.Expr
	for _, el := range g.Elements {
		switch e := el.(type) {
		case sparql.TriplePattern:
			sols = s.joinTriple(sols, e)
		case sparql.ValuesBlock:
			var out []solution
			for _, sol := range sols {
				for _, t := range e.Terms {
					if next, ok := sol.extend(e.Var, t); ok {
						out = append(out, next)
					}
				}
			}
			sols = out
		case sparql.UnionBlock:
			var out []solution
			for _, b := range e.Branches {
				res, err := s.group(b, sols)
				if err != nil {
					return nil, err
				}
				out = append(out, res...)
			}
			sols = out
		case sparql.OptionalBlock:
			var out []solution
			for _, sol := range sols {
				res, err := s.group(e.Group, []solution{sol})
				if err != nil {
					return nil, err
				}
				if len(res) == 0 {
					out = append(out, sol)
				} else {
					out = append(out, res...)
				}
			}
			sols = out
		case sparql.FilterBlock:
			filters = append(filters, e.Expr)
		default:
			return nil, fmt.Errorf("%w: element %T", ErrUnsupported, el)
		}
	}

	if len(filters) == 0 {
		return sols, nil
	}
	var out []solution
	for _, sol := range sols {
		keep := true
		for _, f := range filters {
			if !eval(f, sol) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, sol)
		}
	}
	return out, nil
}

func (s *Store) joinTriple(sols []solution, tp sparql.TriplePattern) []solution {
	var out []solution
	for _, sol := range sols {
		for _, t := range s.triples {
			next, ok := bind(sol, tp.Subject, t.Subject)
			if !ok {
				continue
			}
			if next, ok = bind(next, tp.Predicate, t.Predicate); !ok {
				continue
			}
			if next, ok = bind(next, tp.Object, t.Object); !ok {
				continue
			}
			out = append(out, next)
		}
	}
	return out
}

func bind(sol solution, v sparql.Value, t rdf.Term) (solution, bool) {
	if v.IsVar() {
		return sol.extend(v.Var, t)
	}
	return sol, v.Term == t
}

func resolve(sol solution, v sparql.Value) (rdf.Term, bool) {
	if v.IsVar() {
		t, ok := sol[v.Var]
		return t, ok
	}
	return v.Term, true
}

func eval(x sparql.Expr, sol solution) bool {
	switch e := x.(type) {
	case sparql.NotExpr:
		return !eval(e.X, sol)
	case sparql.IsBlankExpr:
		t, ok := resolve(sol, e.X)
		return ok && t.IsBlank()
	case sparql.EqualsExpr:
		l, ok1 := resolve(sol, e.Left)
		r, ok2 := resolve(sol, e.Right)
		return ok1 && ok2 && l == r
	case sparql.InExpr:
		t, ok := resolve(sol, e.X)
		return ok && slices.Contains(e.Set, t)
	default:
		return false
	}
}

func (s *Store) project(q *sparql.Query, sols []solution) *sparql.Results {
	if q.Count != nil {
		n := 0
		seen := make(map[rdf.Term]bool)
		for _, sol := range sols {
			if q.Count.Of == "" {
				n++
				continue
			}
			t, ok := sol[q.Count.Of]
			if !ok {
				continue
			}
			if q.Count.Distinct {
				if seen[t] {
					continue
				}
				seen[t] = true
			}
			n++
		}
		as := string(q.Count.As)
		return &sparql.Results{
			Vars:     []string{as},
			Bindings: []sparql.Binding{{as: rdf.TypedLiteral(strconv.Itoa(n), rdf.XSDInteger)}},
		}
	}

	vars := q.Projection
	if len(vars) == 0 {
		vars = allVars(sols)
	}
	rows := make([]sparql.Binding, 0, len(sols))
	for _, sol := range sols {
		b := make(sparql.Binding, len(vars))
		for _, v := range vars {
			if t, ok := sol[v]; ok {
				b[string(v)] = t
			}
		}
		rows = append(rows, b)
	}
	if q.Distinct {
		rows = distinct(rows, vars)
	}
	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(rows, func(a, b sparql.Binding) int {
			for _, v := range q.OrderBy {
				if c := rdf.Compare(a[string(v)], b[string(v)]); c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Offset:]
		}
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	if s.RowCap > 0 && len(rows) > s.RowCap {
		rows = rows[:s.RowCap]
	}

	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = string(v)
	}
	return &sparql.Results{Vars: names, Bindings: rows}
}

func distinct(rows []sparql.Binding, vars []sparql.Var) []sparql.Binding {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		key := ""
		for _, v := range vars {
			key += r[string(v)].String() + "\x00"
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func allVars(sols []solution) []sparql.Var {
	set := make(map[sparql.Var]bool)
	for _, sol := range sols {
		for v := range sol {
			set[v] = true
		}
	}
	out := make([]sparql.Var, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func usesValues(g sparql.Group) bool {
	for _, el := range g.Elements {
		switch e := el.(type) {
		case sparql.ValuesBlock:
			return true
		case sparql.UnionBlock:
			for _, b := range e.Branches {
				if usesValues(b) {
					return true
				}
			}
		case sparql.OptionalBlock:
			if usesValues(e.Group) {
				return true
			}
		}
	}
	return false
}
