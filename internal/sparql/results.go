// File: internal/sparql/results.go
package sparql

import (
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Media types of the SPARQL 1.1 result formats.
const (
	MediaTypeJSON = "application/sparql-results+json"
	MediaTypeXML  = "application/sparql-results+xml"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binding maps variable names to the terms bound in one solution.
type Binding map[string]rdf.Term

// Results is a decoded SELECT response.
type Results struct {
	Vars     []string
	Bindings []Binding
}

// Len returns the number of solutions.
func (r *Results) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Bindings)
}

// Terms returns the non-zero values bound to v, in solution order.
func (r *Results) Terms(v Var) []rdf.Term {
	if r == nil {
		return nil
	}
	var out []rdf.Term
	for _, b := range r.Bindings {
		if t, ok := b[string(v)]; ok && !t.IsZero() {
			out = append(out, t)
		}
	}
	return out
}

// Int reads the integer bound to v in the first solution, as returned by a
// COUNT projection. No solution reads as zero.
func (r *Results) Int(v Var) (int, error) {
	if r.Len() == 0 {
		return 0, nil
	}
	t, ok := r.Bindings[0][string(v)]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(t.Value))
	if err != nil {
		return 0, fault.WrapInvalid(fmt.Errorf("%w: %q is not an integer", fault.ErrMalformedResponse, t.Value), "sparql", "Results.Int", "parse count")
	}
	return n, nil
}

// Decode reads a result document, choosing the format from the media type.
// Anything that is not XML is read as JSON.
func Decode(contentType string, body io.Reader) (*Results, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasSuffix(mediaType, "xml") {
		return DecodeXML(body)
	}
	return DecodeJSON(body)
}

type jsonDocument struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]jsonTerm `json:"bindings"`
	} `json:"results"`
}

type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang"`
	Datatype string `json:"datatype"`
}

// DecodeJSON reads the SPARQL 1.1 JSON results format.
func DecodeJSON(body io.Reader) (*Results, error) {
	var doc jsonDocument
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, malformed(err, "decode json")
	}
	res := &Results{Vars: doc.Head.Vars, Bindings: make([]Binding, 0, len(doc.Results.Bindings))}
	for _, raw := range doc.Results.Bindings {
		b := make(Binding, len(raw))
		for name, jt := range raw {
			t, err := termOf(jt.Type, jt.Value, jt.Datatype, jt.Lang)
			if err != nil {
				return nil, malformed(err, "decode json")
			}
			b[name] = t
		}
		res.Bindings = append(res.Bindings, b)
	}
	return res, nil
}

// DecodeXML reads the SPARQL Query Results XML format.
func DecodeXML(body io.Reader) (*Results, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(body); err != nil {
		return nil, malformed(err, "decode xml")
	}
	root := doc.SelectElement("sparql")
	if root == nil {
		return nil, malformed(fmt.Errorf("missing sparql root element"), "decode xml")
	}

	res := &Results{}
	if head := root.SelectElement("head"); head != nil {
		for _, v := range head.SelectElements("variable") {
			res.Vars = append(res.Vars, v.SelectAttrValue("name", ""))
		}
	}
	results := root.SelectElement("results")
	if results == nil {
		return res, nil
	}
	for _, sol := range results.SelectElements("result") {
		b := make(Binding)
		for _, bind := range sol.SelectElements("binding") {
			name := bind.SelectAttrValue("name", "")
			children := bind.ChildElements()
			if name == "" || len(children) == 0 {
				return nil, malformed(fmt.Errorf("incomplete binding %q", name), "decode xml")
			}
			value := children[0]
			typ := value.Tag
			if typ == "literal" && value.SelectAttr("datatype") != nil {
				typ = "typed-literal"
			}
			t, err := termOf(typ, value.Text(), value.SelectAttrValue("datatype", ""), value.SelectAttrValue("xml:lang", ""))
			if err != nil {
				return nil, malformed(err, "decode xml")
			}
			b[name] = t
		}
		res.Bindings = append(res.Bindings, b)
	}
	return res, nil
}

func termOf(typ, value, datatype, lang string) (rdf.Term, error) {
	switch typ {
	case "uri":
		return rdf.IRI(value), nil
	case "bnode":
		return rdf.Blank(value), nil
	case "literal", "typed-literal":
		t := rdf.Literal(value)
		if lang != "" {
			t.Lang = lang
		} else if datatype != "" {
			t.Datatype = datatype
		}
		return t, nil
	default:
		return rdf.Term{}, fmt.Errorf("unknown term type %q", typ)
	}
}

func malformed(err error, action string) error {
	return fault.WrapTransient(fmt.Errorf("%w: %w", fault.ErrMalformedResponse, err), "sparql", "Decode", action)
}
