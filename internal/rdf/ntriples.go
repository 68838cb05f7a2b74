// File: internal/rdf/ntriples.go
package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cayleygraph/quad"
	"github.com/cayleygraph/quad/nquads"
)

// ErrSyntax is wrapped by every parse failure of the document readers.
var ErrSyntax = errors.New("rdf syntax error")

// SkipFunc receives a statement the N-Triples reader dropped.
type SkipFunc func(line int, err error)

// ParseNTriples reads an N-Triples (or N-Quads) document. Comment and blank
// lines are ignored. A malformed statement is dropped, reported to skip when
// it is set, and reading goes on with the next line. The returned error is
// only set when r itself fails.
func ParseNTriples(r io.Reader, skip SkipFunc) ([]Quad, error) {
	var out []Quad
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		q, err := parseStatement(text)
		if err != nil {
			if skip != nil {
				skip(line, err)
			}
			continue
		}
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func parseStatement(text string) (Quad, error) {
	raw, err := nquads.Parse(text)
	if err != nil {
		return Quad{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	s, err := FromValue(raw.Subject)
	if err != nil {
		return Quad{}, err
	}
	p, err := FromValue(raw.Predicate)
	if err != nil {
		return Quad{}, err
	}
	o, err := FromValue(raw.Object)
	if err != nil {
		return Quad{}, err
	}
	if s.Kind == KindLiteral {
		return Quad{}, fmt.Errorf("%w: literal subject %s", ErrSyntax, s)
	}
	if !p.IsIRI() {
		return Quad{}, fmt.Errorf("%w: predicate %s is not an IRI", ErrSyntax, p)
	}
	return NewQuad(s, p, o), nil
}

// FromValue converts a decoded quad value into a term.
func FromValue(v quad.Value) (Term, error) {
	switch v := v.(type) {
	case quad.IRI:
		return IRI(string(v)), nil
	case quad.BNode:
		return Blank(string(v)), nil
	case quad.String:
		return Literal(string(v)), nil
	case quad.LangString:
		return Term{Kind: KindLiteral, Value: string(v.Value), Lang: v.Lang}, nil
	case quad.TypedString:
		return TypedLiteral(string(v.Value), string(v.Type)), nil
	case quad.TypedStringer:
		ts := v.TypedString()
		return TypedLiteral(string(ts.Value), string(ts.Type)), nil
	case nil:
		return Term{}, fmt.Errorf("%w: missing term", ErrSyntax)
	default:
		return Term{}, fmt.Errorf("%w: unsupported term %T", ErrSyntax, v)
	}
}

// ToValue is the inverse of FromValue.
func ToValue(t Term) quad.Value {
	switch t.Kind {
	case KindIRI:
		return quad.IRI(t.Value)
	case KindBlank:
		return quad.BNode(t.Value)
	case KindLiteral:
		switch {
		case t.Lang != "":
			return quad.LangString{Value: quad.String(t.Value), Lang: t.Lang}
		case t.Datatype != "":
			return quad.TypedString{Value: quad.String(t.Value), Type: quad.IRI(t.Datatype)}
		default:
			return quad.String(t.Value)
		}
	default:
		return nil
	}
}
