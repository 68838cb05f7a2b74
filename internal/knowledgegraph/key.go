// File: internal/knowledgegraph/key.go
package knowledgegraph

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// GraphKind identifies a partition of the working store.
type GraphKind uint8

const (
	// KindAny matches every partition in a Pattern.
	KindAny GraphKind = iota
	KindIteration
	KindRotten
	KindCatalog
	KindProperties
	KindPropertiesNotDeferenced
	KindVocabulary
	KindVotes
	KindProvenance
	KindIFPPatterns
	KindFPPatterns
)

// RottenIteration is the iteration index reserved for the Rotten bucket.
const RottenIteration = -1

var kindNames = map[GraphKind]string{
	KindAny:                     "any",
	KindIteration:               "iteration",
	KindRotten:                  "rotten",
	KindCatalog:                 "catalog",
	KindProperties:              "properties",
	KindPropertiesNotDeferenced: "properties-not-deferenced",
	KindVocabulary:              "vocabulary",
	KindVotes:                   "votes",
	KindProvenance:              "provenance",
	KindIFPPatterns:             "ifp-patterns",
	KindFPPatterns:              "fp-patterns",
}

func (k GraphKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// GraphKey addresses one subgraph. Iteration is meaningful for iteration,
// provenance and pattern graphs; Dataset holds the endpoint URL for
// provenance graphs and the dataset id for pattern graphs.
type GraphKey struct {
	Kind      GraphKind
	Iteration int
	Dataset   string
}

// Iteration returns the key of the Target subgraph for iteration i.
// Negative indices collapse onto the Rotten bucket.
func Iteration(i int) GraphKey {
	if i < 0 {
		return Rotten()
	}
	return GraphKey{Kind: KindIteration, Iteration: i}
}

// Rotten returns the key of the bucket that holds inconsistent resources.
func Rotten() GraphKey { return GraphKey{Kind: KindRotten, Iteration: RottenIteration} }

// Catalog returns the key of the dataset registry.
func Catalog() GraphKey { return GraphKey{Kind: KindCatalog} }

// Properties returns the key of the candidate property graph.
func Properties() GraphKey { return GraphKey{Kind: KindProperties} }

// PropertiesNotDeferenced returns the key of the graph of candidates whose
// vocabulary could not be loaded.
func PropertiesNotDeferenced() GraphKey { return GraphKey{Kind: KindPropertiesNotDeferenced} }

// Vocabulary returns the key of the graph of dereferenced vocabulary statements.
func Vocabulary() GraphKey { return GraphKey{Kind: KindVocabulary} }

// Votes returns the key of the global vote graph.
func Votes() GraphKey { return GraphKey{Kind: KindVotes} }

// Provenance returns the key of the edges discovered at endpoint during iteration i.
func Provenance(endpoint string, i int) GraphKey {
	return GraphKey{Kind: KindProvenance, Iteration: i, Dataset: endpoint}
}

// IFPPatterns returns the key of inverse-functional statements recorded from
// dataset during iteration i.
func IFPPatterns(i int, dataset string) GraphKey {
	return GraphKey{Kind: KindIFPPatterns, Iteration: i, Dataset: dataset}
}

// FPPatterns returns the key of functional statements recorded from dataset
// during iteration i.
func FPPatterns(i int, dataset string) GraphKey {
	return GraphKey{Kind: KindFPPatterns, Iteration: i, Dataset: dataset}
}

// IsZero reports whether the key is unset.
func (k GraphKey) IsZero() bool { return k == GraphKey{} }

// String renders the key the way it shows up in logs and exports.
func (k GraphKey) String() string {
	switch k.Kind {
	case KindIteration, KindRotten:
		return "same:Q" + strconv.Itoa(k.Iteration)
	case KindCatalog:
		return "same:N"
	case KindProperties:
		return "same:Properties"
	case KindPropertiesNotDeferenced:
		return "same:PropertiesNotDeferenced"
	case KindVocabulary:
		return "same:Vocabulary"
	case KindVotes:
		return "same:Votes"
	case KindProvenance:
		return fmt.Sprintf("%s#%d", k.Dataset, k.Iteration)
	case KindIFPPatterns:
		return fmt.Sprintf("same:IFP%d/%s", k.Iteration, k.Dataset)
	case KindFPPatterns:
		return fmt.Sprintf("same:FP%d/%s", k.Iteration, k.Dataset)
	default:
		return k.Kind.String()
	}
}

// CompareKeys orders keys by kind, iteration and dataset.
func CompareKeys(a, b GraphKey) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Iteration, b.Iteration); c != 0 {
		return c
	}
	return strings.Compare(a.Dataset, b.Dataset)
}
