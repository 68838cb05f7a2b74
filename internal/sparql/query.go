// File: internal/sparql/query.go

// Package sparql builds SPARQL SELECT queries from a typed syntax tree and
// runs them against remote endpoints. Query text is only ever produced by
// Build, which validates every IRI and escapes every literal, so identifiers
// harvested from remote data never reach an endpoint unchecked.
package sparql

import (
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Var is a query variable, written without the leading '?'.
type Var string

// Value is a position in a triple pattern or expression: a variable or a
// constant term, never both.
type Value struct {
	Var  Var
	Term rdf.Term
}

// V refers to a variable.
func V(name Var) Value { return Value{Var: name} }

// T refers to a constant term.
func T(term rdf.Term) Value { return Value{Term: term} }

// IsVar reports whether the value is a variable.
func (v Value) IsVar() bool { return v.Var != "" }

// Element is one member of a group graph pattern.
type Element interface {
	isElement()
}

// Group is a sequence of elements evaluated as a join.
type Group struct {
	Elements []Element
}

// TriplePattern is a basic graph pattern of one triple.
type TriplePattern struct {
	Subject, Predicate, Object Value
}

// ValuesBlock binds one variable to an inline list of terms.
type ValuesBlock struct {
	Var   Var
	Terms []rdf.Term
}

// UnionBlock is the union of two or more groups.
type UnionBlock struct {
	Branches []Group
}

// OptionalBlock left-joins a group.
type OptionalBlock struct {
	Group Group
}

// FilterBlock restricts the solutions of its enclosing group.
type FilterBlock struct {
	Expr Expr
}

func (TriplePattern) isElement() {}
func (ValuesBlock) isElement()   {}
func (UnionBlock) isElement()    {}
func (OptionalBlock) isElement() {}
func (FilterBlock) isElement()   {}

// Expr is a filter expression.
type Expr interface {
	isExpr()
}

// NotExpr negates an expression.
type NotExpr struct{ X Expr }

// IsBlankExpr tests whether a value is a blank node.
type IsBlankExpr struct{ X Value }

// EqualsExpr tests two values for term equality.
type EqualsExpr struct{ Left, Right Value }

// InExpr tests membership of a value in a constant set.
type InExpr struct {
	X   Value
	Set []rdf.Term
}

func (NotExpr) isExpr()     {}
func (IsBlankExpr) isExpr() {}
func (EqualsExpr) isExpr()  {}
func (InExpr) isExpr()      {}

// Aggregate is a COUNT projection.
type Aggregate struct {
	Of       Var
	Distinct bool
	As       Var
}

// Query is a SELECT query.
type Query struct {
	Distinct   bool
	Projection []Var
	Count      *Aggregate
	Where      Group
	OrderBy    []Var
	Limit      int
	Offset     int
}

// Select starts a query projecting vars. No vars means SELECT *.
func Select(vars ...Var) *Query {
	return &Query{Projection: vars}
}

// SelectCount starts a query returning a single COUNT binding named as.
func SelectCount(of Var, distinct bool, as Var) *Query {
	return &Query{Count: &Aggregate{Of: of, Distinct: distinct, As: as}}
}

// WithDistinct sets SELECT DISTINCT.
func (q *Query) WithDistinct() *Query {
	q.Distinct = true
	return q
}

// Body sets the WHERE clause.
func (q *Query) Body(elements ...Element) *Query {
	q.Where = Group{Elements: elements}
	return q
}

// OrderAsc sets ascending ORDER BY variables.
func (q *Query) OrderAsc(vars ...Var) *Query {
	q.OrderBy = vars
	return q
}

// WithLimit sets LIMIT; zero means unbounded.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}

// Page returns a shallow copy of q with LIMIT and OFFSET set.
func (q *Query) Page(limit, offset int) *Query {
	cp := *q
	cp.Limit = limit
	cp.Offset = offset
	return &cp
}

// Triple builds a triple pattern.
func Triple(s, p, o Value) TriplePattern {
	return TriplePattern{Subject: s, Predicate: p, Object: o}
}

// Values builds a VALUES block.
func Values(v Var, terms ...rdf.Term) ValuesBlock {
	return ValuesBlock{Var: v, Terms: terms}
}

// Union builds a UNION of groups.
func Union(branches ...Group) UnionBlock {
	return UnionBlock{Branches: branches}
}

// Optional builds an OPTIONAL group.
func Optional(elements ...Element) OptionalBlock {
	return OptionalBlock{Group: G(elements...)}
}

// Filter builds a FILTER element.
func Filter(expr Expr) FilterBlock {
	return FilterBlock{Expr: expr}
}

// G groups elements.
func G(elements ...Element) Group {
	return Group{Elements: elements}
}

// Not negates x.
func Not(x Expr) NotExpr { return NotExpr{X: x} }

// IsBlank tests v for being a blank node.
func IsBlank(v Value) IsBlankExpr { return IsBlankExpr{X: v} }

// Equals compares two values.
func Equals(l, r Value) EqualsExpr { return EqualsExpr{Left: l, Right: r} }

// In tests v against a constant set.
func In(v Value, set ...rdf.Term) InExpr { return InExpr{X: v, Set: set} }
