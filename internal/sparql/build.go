// File: internal/sparql/build.go
package sparql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Build serializes the query. Any IRI outside the IRIREF production, any
// blank node constant and any malformed variable name fails the whole query
// with an invalid-class error.
func (q *Query) Build() (string, error) {
	w := &writer{}
	w.WriteString("SELECT ")
	if q.Distinct {
		w.WriteString("DISTINCT ")
	}
	switch {
	case q.Count != nil:
		of := "*"
		if q.Count.Of != "" {
			if err := checkVar(q.Count.Of); err != nil {
				return "", err
			}
			of = "?" + string(q.Count.Of)
		}
		if err := checkVar(q.Count.As); err != nil {
			return "", err
		}
		w.WriteString("(COUNT(")
		if q.Count.Distinct {
			w.WriteString("DISTINCT ")
		}
		fmt.Fprintf(w, "%s) AS ?%s)", of, q.Count.As)
	case len(q.Projection) == 0:
		w.WriteString("*")
	default:
		for i, v := range q.Projection {
			if err := checkVar(v); err != nil {
				return "", err
			}
			if i > 0 {
				w.WriteByte(' ')
			}
			w.WriteString("?" + string(v))
		}
	}

	w.WriteString(" WHERE ")
	w.group(q.Where)
	if w.err != nil {
		return "", w.err
	}

	if len(q.OrderBy) > 0 {
		w.WriteString(" ORDER BY")
		for _, v := range q.OrderBy {
			if err := checkVar(v); err != nil {
				return "", err
			}
			w.WriteString(" ?" + string(v))
		}
	}
	if q.Limit > 0 {
		w.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		w.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	return w.String(), nil
}

// MustBuild is Build for queries made only of constants known to be valid.
func (q *Query) MustBuild() string {
	s, err := q.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// writer accumulates query text and keeps the first error.
type writer struct {
	strings.Builder
	err error
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) group(g Group) {
	w.WriteString("{ ")
	for i, el := range g.Elements {
		if i > 0 {
			w.WriteByte(' ')
		}
		w.element(el)
	}
	w.WriteString(" }")
}

func (w *writer) element(el Element) {
	switch e := el.(type) {
	case TriplePattern:
		w.value(e.Subject)
		w.WriteByte(' ')
		if !e.Predicate.IsVar() && e.Predicate.Term == rdf.RDFType {
			w.WriteByte('a')
		} else {
			w.value(e.Predicate)
		}
		w.WriteByte(' ')
		w.value(e.Object)
		w.WriteString(" .")
	case ValuesBlock:
		if err := checkVar(e.Var); err != nil {
			w.fail(err)
			return
		}
		w.WriteString("VALUES ?" + string(e.Var) + " {")
		for _, t := range e.Terms {
			w.WriteByte(' ')
			w.term(t)
		}
		w.WriteString(" }")
	case UnionBlock:
		if len(e.Branches) == 0 {
			w.fail(invalid(fault.ErrMalformedQuery, "build union"))
			return
		}
		for i, b := range e.Branches {
			if i > 0 {
				w.WriteString(" UNION ")
			}
			w.group(b)
		}
	case OptionalBlock:
		w.WriteString("OPTIONAL ")
		w.group(e.Group)
	case FilterBlock:
		w.WriteString("FILTER(")
		w.expr(e.Expr)
		w.WriteByte(')')
	default:
		w.fail(invalid(fmt.Errorf("%w: element %T", fault.ErrMalformedQuery, el), "build element"))
	}
}

func (w *writer) expr(x Expr) {
	switch e := x.(type) {
	case NotExpr:
		w.WriteString("!(")
		w.expr(e.X)
		w.WriteByte(')')
	case IsBlankExpr:
		w.WriteString("isBlank(")
		w.value(e.X)
		w.WriteByte(')')
	case EqualsExpr:
		w.value(e.Left)
		w.WriteString(" = ")
		w.value(e.Right)
	case InExpr:
		w.value(e.X)
		w.WriteString(" IN (")
		for i, t := range e.Set {
			if i > 0 {
				w.WriteString(", ")
			}
			w.term(t)
		}
		w.WriteByte(')')
	default:
		w.fail(invalid(fmt.Errorf("%w: expression %T", fault.ErrMalformedQuery, x), "build expression"))
	}
}

func (w *writer) value(v Value) {
	if v.IsVar() {
		if err := checkVar(v.Var); err != nil {
			w.fail(err)
			return
		}
		w.WriteString("?" + string(v.Var))
		return
	}
	w.term(v.Term)
}

func (w *writer) term(t rdf.Term) {
	switch t.Kind {
	case rdf.KindIRI:
		if err := CheckIRI(t.Value); err != nil {
			w.fail(err)
			return
		}
		w.WriteString("<" + t.Value + ">")
	case rdf.KindLiteral:
		w.WriteString(QuoteLiteral(t.Value))
		switch {
		case t.Lang != "":
			if !validLang(t.Lang) {
				w.fail(invalid(fmt.Errorf("%w: language tag %q", fault.ErrMalformedQuery, t.Lang), "build literal"))
				return
			}
			w.WriteString("@" + t.Lang)
		case t.Datatype != "":
			if err := CheckIRI(t.Datatype); err != nil {
				w.fail(err)
				return
			}
			w.WriteString("^^<" + t.Datatype + ">")
		}
	default:
		w.fail(invalid(fmt.Errorf("%w: %s term cannot be a constant", fault.ErrInvalidIRI, t.Kind), "build term"))
	}
}

// CheckIRI validates s against the IRIREF production and additionally
// requires a scheme separator, so relative references are refused.
func CheckIRI(s string) error {
	if s == "" || !strings.Contains(s, ":") {
		return invalid(fmt.Errorf("%w: %q", fault.ErrInvalidIRI, s), "check iri")
	}
	for _, r := range s {
		if r <= 0x20 || unicode.IsControl(r) || strings.ContainsRune("<>\"{}|^`\\", r) {
			return invalid(fmt.Errorf("%w: %q", fault.ErrInvalidIRI, s), "check iri")
		}
	}
	return nil
}

// QuoteLiteral renders s as a double-quoted SPARQL string with ECHAR escapes.
func QuoteLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func invalid(err error, action string) error {
	return fault.WrapInvalid(err, "sparql", "Build", action)
}

func checkVar(v Var) error {
	if v == "" {
		return invalid(fmt.Errorf("%w: empty variable", fault.ErrMalformedQuery), "check variable")
	}
	for i, r := range string(v) {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return invalid(fmt.Errorf("%w: variable %q", fault.ErrMalformedQuery, v), "check variable")
	}
	return nil
}

func validLang(tag string) bool {
	for i, part := range strings.Split(tag, "-") {
		if part == "" || len(part) > 8 {
			return false
		}
		for _, r := range part {
			isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			if !isAlpha && (i == 0 || r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}
