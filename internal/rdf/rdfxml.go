// File: internal/rdf/rdfxml.go
package rdf

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/beevik/etree"
)

// ParseRDFXML reads the common subset of RDF/XML that vocabulary documents
// use: node elements (typed or rdf:Description) identified by rdf:about,
// rdf:ID or rdf:nodeID, and property elements carrying rdf:resource,
// a nested node or literal text. Relative references are resolved against
// xml:base, or base when the document declares none. Collections and
// reification are not read.
func ParseRDFXML(r io.Reader, base string) ([]Quad, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: empty document", ErrSyntax)
	}
	p := &xmlParser{}
	if b := xmlAttr(root, "base"); b != "" {
		base = b
	}
	if u, err := url.Parse(base); err == nil {
		p.base = u
	}

	nodes := []*etree.Element{root}
	if isRDF(root, "RDF") {
		nodes = root.ChildElements()
	}
	for _, n := range nodes {
		if _, err := p.node(n); err != nil {
			return nil, err
		}
	}
	return p.out, nil
}

type xmlParser struct {
	base   *url.URL
	out    []Quad
	blanks int
}

func (p *xmlParser) node(el *etree.Element) (Term, error) {
	subject, err := p.subject(el)
	if err != nil {
		return Term{}, err
	}
	if !isRDF(el, "Description") {
		p.out = append(p.out, NewQuad(subject, RDFType, IRI(el.NamespaceURI()+el.Tag)))
	}
	for _, prop := range el.ChildElements() {
		if err := p.property(subject, prop); err != nil {
			return Term{}, err
		}
	}
	return subject, nil
}

func (p *xmlParser) subject(el *etree.Element) (Term, error) {
	if about := rdfAttr(el, "about"); about != "" {
		return p.resolve(about)
	}
	if id := rdfAttr(el, "ID"); id != "" {
		return p.resolve("#" + id)
	}
	if id := rdfAttr(el, "nodeID"); id != "" {
		return Blank(id), nil
	}
	p.blanks++
	return Blank("x" + strconv.Itoa(p.blanks)), nil
}

func (p *xmlParser) property(subject Term, el *etree.Element) error {
	if el.NamespaceURI() == "" {
		return fmt.Errorf("%w: property element %q has no namespace", ErrSyntax, el.Tag)
	}
	predicate := IRI(el.NamespaceURI() + el.Tag)

	var object Term
	switch children := el.ChildElements(); {
	case rdfAttr(el, "resource") != "":
		o, err := p.resolve(rdfAttr(el, "resource"))
		if err != nil {
			return err
		}
		object = o
	case rdfAttr(el, "nodeID") != "":
		object = Blank(rdfAttr(el, "nodeID"))
	case len(children) > 0:
		o, err := p.node(children[0])
		if err != nil {
			return err
		}
		object = o
	default:
		object = Literal(el.Text())
		if lang := xmlAttr(el, "lang"); lang != "" {
			object.Lang = lang
		} else if dt := rdfAttr(el, "datatype"); dt != "" {
			object.Datatype = dt
		}
	}
	p.out = append(p.out, NewQuad(subject, predicate, object))
	return nil
}

func (p *xmlParser) resolve(ref string) (Term, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Term{}, fmt.Errorf("%w: reference %q: %w", ErrSyntax, ref, err)
	}
	if p.base != nil {
		u = p.base.ResolveReference(u)
	}
	return IRI(u.String()), nil
}

func isRDF(el *etree.Element, local string) bool {
	return el.Tag == local && el.NamespaceURI() == NSRDF
}

func rdfAttr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key == key && (a.Space == "rdf" || a.NamespaceURI() == NSRDF) {
			return a.Value
		}
	}
	return ""
}

func xmlAttr(el *etree.Element, key string) string {
	for _, a := range el.Attr {
		if a.Key == key && a.Space == "xml" {
			return a.Value
		}
	}
	return ""
}
