// File: internal/rdf/derive_test.go
package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		iri  string
		want Derived
	}{
		{
			name: "should split a slash namespace",
			iri:  "http://dbpedia.org/resource/Paris",
			want: Derived{Namespace: "http://dbpedia.org/resource/", Authority: "dbpedia.org", NoScheme: "dbpedia.org/resource/Paris"},
		},
		{
			name: "should split a hash namespace",
			iri:  "http://www.w3.org/2002/07/owl#sameAs",
			want: Derived{Namespace: "http://www.w3.org/2002/07/owl#", Authority: "www.w3.org", NoScheme: "www.w3.org/2002/07/owl#sameAs"},
		},
		{
			name: "should keep an IRI without a path as its own authority",
			iri:  "http://example.org",
			want: Derived{Namespace: "http://", Authority: "http://example.org", NoScheme: "example.org"},
		},
		{
			name: "should leave a schemeless value untouched",
			iri:  "urn:isbn:0451450523",
			want: Derived{Namespace: "urn:isbn:0451450523", Authority: "urn:isbn:0451450523", NoScheme: "urn:isbn:0451450523"},
		},
		{
			name: "should use the last scheme separator that is followed by a slash",
			iri:  "http://a.org/r?u=ftp://b",
			want: Derived{Namespace: "http://a.org/r?u=ftp://", Authority: "a.org", NoScheme: "b"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Derive(tc.iri))
		})
	}
}

func TestIsASCII(t *testing.T) {
	t.Parallel()

	assert.True(t, IsASCII("http://example.org/Paris"))
	assert.False(t, IsASCII("http://ja.dbpedia.org/resource/東京"))
	assert.False(t, IsASCII("http://example.org/café"))
	assert.True(t, IsASCII(""))
}

func TestSplitASCII(t *testing.T) {
	t.Parallel()

	in := []Term{IRI("http://a.org/x"), IRI("http://a.org/é"), IRI("http://b.org/y")}
	ascii, other := SplitASCII(in)

	assert.Equal(t, []Term{IRI("http://a.org/x"), IRI("http://b.org/y")}, ascii)
	assert.Equal(t, []Term{IRI("http://a.org/é")}, other)
}

func TestSortTerms(t *testing.T) {
	t.Parallel()

	terms := []Term{Literal("b"), IRI("http://z"), IRI("http://a"), Blank("x")}
	SortTerms(terms)

	assert.Equal(t, []Term{IRI("http://a"), IRI("http://z"), Literal("b"), Blank("x")}, terms)
}

func TestTermString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "<http://a>", IRI("http://a").String())
	assert.Equal(t, `"x"@en`, Term{Kind: KindLiteral, Value: "x", Lang: "en"}.String())
	assert.Equal(t, `"3"^^<`+XSDInteger+`>`, TypedLiteral("3", XSDInteger).String())
	assert.Equal(t, "_:b0", Blank("b0").String())
	assert.True(t, Term{}.IsZero())
}
