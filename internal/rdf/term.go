// File: internal/rdf/term.go
package rdf

import (
	"slices"
	"strconv"
)

// TermKind distinguishes the three RDF term shapes the engine handles.
type TermKind uint8

const (
	// KindNone is the zero value and acts as a wildcard in store patterns.
	KindNone TermKind = iota
	KindIRI
	KindLiteral
	KindBlank
)

// String returns a short, stable name for the kind.
func (k TermKind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindLiteral:
		return "literal"
	case KindBlank:
		return "bnode"
	default:
		return "none"
	}
}

// Term is an RDF term. Literals carry an optional datatype and language tag.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

// IRI builds an IRI term.
func IRI(value string) Term { return Term{Kind: KindIRI, Value: value} }

// Literal builds a plain literal term.
func Literal(value string) Term { return Term{Kind: KindLiteral, Value: value} }

// TypedLiteral builds a literal with an explicit datatype IRI.
func TypedLiteral(value, datatype string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// Boolean builds an xsd:boolean literal.
func Boolean(b bool) Term { return TypedLiteral(strconv.FormatBool(b), XSDBoolean) }

// Integer builds an xsd:integer literal.
func Integer(n int) Term { return TypedLiteral(strconv.Itoa(n), XSDInteger) }

// Blank builds a blank node term.
func Blank(id string) Term { return Term{Kind: KindBlank, Value: id} }

// IsZero reports whether the term is unset.
func (t Term) IsZero() bool { return t.Kind == KindNone }

// IsIRI reports whether the term is an IRI.
func (t Term) IsIRI() bool { return t.Kind == KindIRI }

// IsBlank reports whether the term is a blank node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// String renders the term in N-Triples notation. It is meant for logs and
// map keys, not for query text; the sparql package does its own escaping.
func (t Term) String() string {
	if v := ToValue(t); v != nil {
		return v.String()
	}
	return ""
}

// Quad is a single statement. Graph membership lives in the graph store and
// is not part of the term layer.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// NewQuad is shorthand for building a statement.
func NewQuad(s, p, o Term) Quad {
	return Quad{Subject: s, Predicate: p, Object: o}
}

func (q Quad) String() string {
	return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " ."
}

// SortTerms orders terms by kind, then by value, in place.
func SortTerms(terms []Term) {
	slices.SortFunc(terms, Compare)
}

// Compare is the three-way form of Less.
func Compare(a, b Term) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// Less is the ordering used by SortTerms.
func Less(a, b Term) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	if a.Datatype != b.Datatype {
		return a.Datatype < b.Datatype
	}
	return a.Lang < b.Lang
}
