// File: internal/rdf/parse_test.go
package rdf

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cayleygraph/quad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNTriples(t *testing.T) {
	t.Parallel()

	t.Run("should read every term shape", func(t *testing.T) {
		t.Parallel()
		doc := `# FOAF excerpt
<http://xmlns.com/foaf/0.1/mbox> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://www.w3.org/2002/07/owl#InverseFunctionalProperty> .

<http://xmlns.com/foaf/0.1/mbox> <http://www.w3.org/2000/01/rdf-schema#label> "personal mailbox"@en .
_:b1 <http://example.org/count> "3"^^<http://example.org/units> .
<http://example.org/s> <http://example.org/p> _:b1 .
<http://example.org/s> <http://example.org/q> "line\nbreak \"quoted\" é" .
`
		var skipped []int
		quads, err := ParseNTriples(strings.NewReader(doc), func(line int, err error) { skipped = append(skipped, line) })
		require.NoError(t, err)
		assert.Empty(t, skipped)
		require.Len(t, quads, 5)

		assert.Equal(t, NewQuad(IRI("http://xmlns.com/foaf/0.1/mbox"), RDFType, OWLInverseFunctionalProperty), quads[0])
		assert.Equal(t, Term{Kind: KindLiteral, Value: "personal mailbox", Lang: "en"}, quads[1].Object)
		assert.Equal(t, Blank("b1"), quads[2].Subject)
		assert.Equal(t, TypedLiteral("3", "http://example.org/units"), quads[2].Object)
		assert.Equal(t, Blank("b1"), quads[3].Object)
		assert.Equal(t, Literal("line\nbreak \"quoted\" é"), quads[4].Object)
	})

	t.Run("should skip a malformed line and keep the rest", func(t *testing.T) {
		t.Parallel()
		doc := "<http://a> <http://b> <http://c> .\n<http://a> <http://b> \"open .\n<http://a> <http://b> <http://d> .\n"
		var lines []int
		var errs []error
		quads, err := ParseNTriples(strings.NewReader(doc), func(line int, err error) {
			lines = append(lines, line)
			errs = append(errs, err)
		})
		require.NoError(t, err)
		assert.Equal(t, []Quad{
			NewQuad(IRI("http://a"), IRI("http://b"), IRI("http://c")),
			NewQuad(IRI("http://a"), IRI("http://b"), IRI("http://d")),
		}, quads)
		assert.Equal(t, []int{2}, lines)
		require.Len(t, errs, 1)
		assert.True(t, errors.Is(errs[0], ErrSyntax))
	})

	t.Run("should drop malformed statements", func(t *testing.T) {
		t.Parallel()
		for _, line := range []string{
			`<http://a> <http://b> <http://c>`,
			`"lit" <http://b> <http://c> .`,
			`<http://a> _:p <http://c> .`,
			`<http://a> <http://b> "x"^^"y" .`,
		} {
			skips := 0
			quads, err := ParseNTriples(strings.NewReader(line), func(int, error) { skips++ })
			require.NoError(t, err, line)
			assert.Empty(t, quads, line)
			assert.Equal(t, 1, skips, line)
		}
	})

	t.Run("should work without a skip callback", func(t *testing.T) {
		t.Parallel()
		quads, err := ParseNTriples(strings.NewReader("garbage\n<http://a> <http://b> <http://c> .\n"), nil)
		require.NoError(t, err)
		assert.Len(t, quads, 1)
	})

	t.Run("should fail when the reader fails", func(t *testing.T) {
		t.Parallel()
		_, err := ParseNTriples(iotest.ErrReader(io.ErrUnexpectedEOF), nil)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestFromValue(t *testing.T) {
	t.Parallel()

	term, err := FromValue(quad.Int(3))
	require.NoError(t, err)
	assert.Equal(t, KindLiteral, term.Kind)
	assert.Equal(t, "3", term.Value)

	_, err = FromValue(nil)
	assert.ErrorIs(t, err, ErrSyntax)

	for _, want := range []Term{IRI("http://a"), Blank("b0"), Literal("x"), TypedLiteral("3", XSDInteger), {Kind: KindLiteral, Value: "x", Lang: "en"}} {
		got, err := FromValue(ToValue(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseRDFXML(t *testing.T) {
	t.Parallel()

	t.Run("should read typed nodes and property elements", func(t *testing.T) {
		t.Parallel()
		doc := `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
         xmlns:rdfs="http://www.w3.org/2000/01/rdf-schema#"
         xmlns:owl="http://www.w3.org/2002/07/owl#"
         xml:base="http://xmlns.com/foaf/0.1/">
  <owl:InverseFunctionalProperty rdf:about="http://xmlns.com/foaf/0.1/mbox">
    <rdfs:label xml:lang="en">personal mailbox</rdfs:label>
    <rdf:type rdf:resource="http://www.w3.org/2002/07/owl#ObjectProperty"/>
  </owl:InverseFunctionalProperty>
  <rdf:Description rdf:about="#name">
    <rdfs:range rdf:resource="http://www.w3.org/2000/01/rdf-schema#Literal"/>
  </rdf:Description>
</rdf:RDF>`
		quads, err := ParseRDFXML(strings.NewReader(doc), "http://ignored.example/")
		require.NoError(t, err)

		mbox := IRI("http://xmlns.com/foaf/0.1/mbox")
		assert.Equal(t, []Quad{
			NewQuad(mbox, RDFType, OWLInverseFunctionalProperty),
			NewQuad(mbox, RDFSLabel, Term{Kind: KindLiteral, Value: "personal mailbox", Lang: "en"}),
			NewQuad(mbox, RDFType, OWLObjectProperty),
			NewQuad(IRI("http://xmlns.com/foaf/0.1/#name"), RDFSRange, IRI(NSRDFS+"Literal")),
		}, quads)
	})

	t.Run("should resolve against the request base and name anonymous nodes", func(t *testing.T) {
		t.Parallel()
		doc := `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:ex="http://example.org/">
  <rdf:Description rdf:ID="isbn">
    <ex:describedBy><ex:Note><ex:text>nested</ex:text></ex:Note></ex:describedBy>
  </rdf:Description>
</rdf:RDF>`
		quads, err := ParseRDFXML(strings.NewReader(doc), "http://example.org/vocab")
		require.NoError(t, err)
		require.Len(t, quads, 3)
		assert.Equal(t, NewQuad(Blank("x1"), RDFType, IRI("http://example.org/Note")), quads[0])
		assert.Equal(t, NewQuad(Blank("x1"), IRI("http://example.org/text"), Literal("nested")), quads[1])
		assert.Equal(t, NewQuad(IRI("http://example.org/vocab#isbn"), IRI("http://example.org/describedBy"), Blank("x1")), quads[2])
	})

	t.Run("should fail on broken XML", func(t *testing.T) {
		t.Parallel()
		_, err := ParseRDFXML(strings.NewReader("<rdf:RDF"), "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSyntax))
	})
}
