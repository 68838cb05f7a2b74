// File: internal/rdf/vocab.go
package rdf

import (
	rdfvoc "github.com/cayleygraph/quad/voc/rdf"
	rdfsvoc "github.com/cayleygraph/quad/voc/rdfs"
)

// Namespace prefixes used by the engine.
const (
	NSRDF  = rdfvoc.NS
	NSRDFS = rdfsvoc.NS
	NSOWL  = "http://www.w3.org/2002/07/owl#"
	NSVOID = "http://rdfs.org/ns/void#"
	NSSame = "https://ns.inria.fr/same/same.owl#"
	NSEnds = "http://labs.mondeca.com/vocab/endpointStatus#"
	NSXSD  = "http://www.w3.org/2001/XMLSchema#"
	NSDCT  = "http://purl.org/dc/terms/"
)

// Standard vocabulary.
var (
	RDFType     = IRI(NSRDF + "type")
	RDFProperty = IRI(NSRDF + "Property")

	RDFSLabel  = IRI(NSRDFS + "label")
	RDFSDomain = IRI(NSRDFS + "domain")
	RDFSRange  = IRI(NSRDFS + "range")

	OWLSameAs                    = IRI(NSOWL + "sameAs")
	OWLFunctionalProperty        = IRI(NSOWL + "FunctionalProperty")
	OWLInverseFunctionalProperty = IRI(NSOWL + "InverseFunctionalProperty")
	OWLDatatypeProperty          = IRI(NSOWL + "DatatypeProperty")
	OWLObjectProperty            = IRI(NSOWL + "ObjectProperty")

	VoIDDataset        = IRI(NSVOID + "Dataset")
	VoIDSparqlEndpoint = IRI(NSVOID + "sparqlEndpoint")
	VoIDInDataset      = IRI(NSVOID + "inDataset")

	DCTIdentifier = IRI(NSDCT + "identifier")

	XSDInteger = NSXSD + "integer"
	XSDBoolean = NSXSD + "boolean"
)

// Working vocabulary of the discovery engine.
var (
	SameTarget             = IRI(NSSame + "Target")
	SameRotten             = IRI(NSSame + "Rotten")
	SameHasNamespace       = IRI(NSSame + "hasNamespace")
	SameHasAuthority       = IRI(NSSame + "hasAuthority")
	SameHasValueNoScheme   = IRI(NSSame + "hasValueWithNoScheme")
	SameHasSchemaFor       = IRI(NSSame + "hasSchemaFor")
	SameVotingType         = IRI(NSSame + "votingType")
	SameAssertedFunctional = IRI(NSSame + "assertedFunctionalIn")
	SameAssertedInverse    = IRI(NSSame + "assertedInverseFunctionalIn")
	SameVocabularyDocument = IRI(NSSame + "VocabularyDocument")

	SameInNbOfDatasetWithSchema = IRI(NSSame + "inNbOfDatasetWithSchema")
	SameNbFunctional            = IRI(NSSame + "nbOfTimesDefinedAsFunctionalProperty")
	SameNbInverseFunctional     = IRI(NSSame + "nbOfTimesDefinedAsInverseFunctionalProperty")

	EndsStatusIsAvailable = IRI(NSEnds + "statusIsAvailable")
	SameValuesIsAvailable = IRI(NSSame + "valuesIsAvailable")
	SameSupportsNonASCII  = IRI(NSSame + "supportsNonASCIICharacters")
	SameHasLimit          = IRI(NSSame + "hasLimit")
)

// PropertyKinds lists the two property characteristics the engine votes on.
var PropertyKinds = []Term{OWLFunctionalProperty, OWLInverseFunctionalProperty}

// SchemaTypes are the property types that count as a dataset describing a
// property in its schema.
var SchemaTypes = []Term{
	OWLDatatypeProperty,
	RDFProperty,
	OWLObjectProperty,
	OWLInverseFunctionalProperty,
	OWLFunctionalProperty,
}

// AssertionPredicate maps a property characteristic to the predicate that
// records which dataset declared it.
func AssertionPredicate(kind Term) Term {
	if kind == OWLInverseFunctionalProperty {
		return SameAssertedInverse
	}
	return SameAssertedFunctional
}
