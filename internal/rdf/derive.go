// File: internal/rdf/derive.go
package rdf

import (
	"strings"
	"unicode/utf8"
)

// Derived holds the fields cached next to every Target and Rotten resource.
// They are computed once at admission so the consistency rules never have to
// re-derive them from the IRI.
type Derived struct {
	Namespace string
	Authority string
	NoScheme  string
}

// Derive computes all cached fields for an IRI.
func Derive(iri string) Derived {
	return Derived{
		Namespace: Namespace(iri),
		Authority: Authority(iri),
		NoScheme:  NoScheme(iri),
	}
}

// Namespace returns the IRI up to and including its last '#' or '/'.
// An IRI without either separator is returned unchanged.
func Namespace(iri string) string {
	idx := strings.LastIndexAny(iri, "#/")
	if idx < 0 {
		return iri
	}
	return iri[:idx+1]
}

// NoScheme strips everything up to and including the last "://" that has at
// least one character before it.
func NoScheme(iri string) string {
	idx := strings.LastIndex(iri, "://")
	if idx <= 0 {
		return iri
	}
	return iri[idx+3:]
}

// Authority returns the segment between a "://" and the next '/'. The
// rightmost "://" that is followed by a '/' wins. When no such pair exists
// the IRI is returned unchanged.
func Authority(iri string) string {
	end := len(iri)
	for end > 0 {
		idx := strings.LastIndex(iri[:end], "://")
		if idx <= 0 {
			return iri
		}
		rest := iri[idx+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			return rest[:slash]
		}
		end = idx
	}
	return iri
}

// IsASCII reports whether every rune of s lies in \x00-\x7F.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// SplitASCII partitions terms into ASCII-only IRIs and the rest, keeping order.
func SplitASCII(terms []Term) (ascii, other []Term) {
	for _, t := range terms {
		if IsASCII(t.Value) {
			ascii = append(ascii, t)
		} else {
			other = append(other, t)
		}
	}
	return ascii, other
}
