// internal/funcprop/funcprop_test.go
package funcprop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/sparql/sparqltest"
)

const (
	endpointA = "http://a.example/sparql"
	endpointB = "http://b.example/sparql"
	endpointC = "http://c.example/sparql"
)

var (
	isbn  = rdf.IRI("http://example.org/onto/isbn")
	birth = rdf.IRI("http://example.org/onto/birthOf")
	mbox  = rdf.IRI("http://xmlns.com/foaf/0.1/mbox")

	bookA = rdf.IRI("http://a.example/book/1")
	bookB = rdf.IRI("http://b.example/item/77")
	bookC = rdf.IRI("http://c.example/work/x")
	code  = rdf.Literal("978-0-00-000000-2")
)

var capable = registry.Status{Alive: true, SupportsValues: true, SupportsNonASCII: true}

// fakeLoader serves fixed documents and fails for everything else.
type fakeLoader map[string][]rdf.Quad

func (l fakeLoader) Load(_ context.Context, document string) ([]rdf.Quad, error) {
	quads, ok := l[document]
	if !ok {
		return nil, errors.New("not found")
	}
	return quads, nil
}

type fixture struct {
	kg  *knowledgegraph.InMemoryKG
	reg *registry.Registry
	fed *sparqltest.Federation
}

func newFixture(t *testing.T, statuses map[string]registry.Status) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		kg:  knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t)),
		fed: sparqltest.NewFederation(),
	}
	f.reg = registry.New(f.kg, zaptest.NewLogger(t))
	endpoints := map[string]string{"a": endpointA, "b": endpointB, "c": endpointC}
	var datasets []config.DatasetConfig
	for id := range statuses {
		datasets = append(datasets, config.DatasetConfig{ID: id, Endpoint: endpoints[id]})
	}
	require.NoError(t, f.reg.Populate(ctx, datasets))
	for id, st := range statuses {
		require.NoError(t, f.reg.SetStatus(ctx, id, st))
	}
	return f
}

func (f *fixture) engine(t *testing.T, loader VocabularyLoader, cfg Config) *Engine {
	return New(f.kg, f.reg, f.fed, loader, cfg, zaptest.NewLogger(t))
}

// withSchema describes p the way a dataset schema would.
func withSchema(p rdf.Term) []rdf.Quad {
	return []rdf.Quad{
		rdf.NewQuad(p, rdf.RDFType, rdf.OWLDatatypeProperty),
		rdf.NewQuad(p, rdf.RDFSLabel, rdf.Literal("label")),
	}
}

// votingFixture: a declares isbn inverse-functional and birthOf functional,
// both with a schema; b describes isbn without declaring it; mbox comes from
// a loadable vocabulary.
func votingFixture(t *testing.T) *fixture {
	f := newFixture(t, map[string]registry.Status{"a": capable, "b": capable, "c": {Alive: false}})
	a := f.fed.Endpoint(endpointA)
	a.Add(
		rdf.NewQuad(isbn, rdf.RDFType, rdf.OWLInverseFunctionalProperty),
		rdf.NewQuad(birth, rdf.RDFType, rdf.OWLFunctionalProperty),
		rdf.NewQuad(mbox, rdf.RDFType, rdf.OWLInverseFunctionalProperty),
		rdf.NewQuad(rdf.Blank("anon"), rdf.RDFType, rdf.OWLFunctionalProperty),
	)
	a.Add(withSchema(isbn)...)
	a.Add(withSchema(birth)...)
	f.fed.Endpoint(endpointB).Add(withSchema(isbn)...)
	return f
}

func TestCandidatesAndVotes(t *testing.T) {
	ctx := context.Background()
	loader := fakeLoader{
		"http://xmlns.com/foaf/0.1/": {
			rdf.NewQuad(mbox, rdf.RDFType, rdf.OWLInverseFunctionalProperty),
			rdf.NewQuad(mbox, rdf.RDFSLabel, rdf.Literal("personal mailbox")),
		},
	}

	t.Run("should record candidates with namespace and provenance", func(t *testing.T) {
		f := votingFixture(t)
		e := f.engine(t, loader, Config{})

		report, err := e.RetrieveCandidateProperties(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Datasets)
		assert.Equal(t, 3, report.Recorded, "the blank node is not a candidate")

		candidates, err := e.Candidates(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[rdf.Term][]rdf.Term{
			isbn:  {rdf.OWLInverseFunctionalProperty},
			birth: {rdf.OWLFunctionalProperty},
			mbox:  {rdf.OWLInverseFunctionalProperty},
		}, candidates)

		ok, err := f.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Properties()), Subject: isbn, Predicate: rdf.SameAssertedInverse, Object: registry.DatasetTerm("a")})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = f.kg.Exists(ctx, knowledgegraph.Pattern{Subject: isbn, Predicate: rdf.SameHasNamespace, Object: rdf.Literal("http://example.org/onto/")})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("should load vocabularies once and count failures", func(t *testing.T) {
		f := votingFixture(t)
		e := f.engine(t, loader, Config{})
		_, err := e.RetrieveCandidateProperties(ctx)
		require.NoError(t, err)

		report, err := e.LoadVocabularies(ctx)
		require.NoError(t, err)
		assert.Equal(t, LoadReport{Namespaces: 2, Loaded: 1, Failed: 1, Statements: 1}, report)

		again, err := e.LoadVocabularies(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Skipped)
		assert.Equal(t, 1, again.Namespaces, "the failed namespace is retried")
	})

	t.Run("should vote on undeferenced properties only", func(t *testing.T) {
		f := votingFixture(t)
		e := f.engine(t, loader, Config{Concurrency: 2})
		_, err := e.RetrieveCandidateProperties(ctx)
		require.NoError(t, err)
		_, err = e.LoadVocabularies(ctx)
		require.NoError(t, err)

		schemas, err := e.DetectSchemas(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, schemas.Recorded)

		pending, err := f.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.PropertiesNotDeferenced())})
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{birth, isbn}, knowledgegraph.Subjects(pending))

		tallies, err := e.Vote(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Tally{
			{Property: birth, WithSchema: 1, Functional: 1},
			{Property: isbn, WithSchema: 2, InverseFunctional: 1},
		}, tallies)

		confirmed, err := e.ConfirmedProperties(ctx)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{birth}, confirmed.Functional)
		assert.Equal(t, []rdf.Term{isbn, mbox}, confirmed.InverseFunctional)
	})

	t.Run("should keep votes when the evidence shifts", func(t *testing.T) {
		f := votingFixture(t)
		e := f.engine(t, nil, Config{})
		_, err := e.RetrieveCandidateProperties(ctx)
		require.NoError(t, err)
		_, err = e.DetectSchemas(ctx)
		require.NoError(t, err)
		_, err = e.Vote(ctx)
		require.NoError(t, err)

		require.NoError(t, f.kg.Insert(ctx, knowledgegraph.Properties(),
			rdf.NewQuad(registry.DatasetTerm("x"), rdf.SameHasSchemaFor, isbn),
			rdf.NewQuad(registry.DatasetTerm("y"), rdf.SameHasSchemaFor, isbn),
		))
		tallies, err := e.Vote(ctx)
		require.NoError(t, err)
		for _, tally := range tallies {
			if tally.Property == isbn {
				assert.Equal(t, 4, tally.WithSchema)
				assert.False(t, tally.Confirms(rdf.OWLInverseFunctionalProperty))
			}
		}

		counts, err := f.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Votes()), Subject: isbn, Predicate: rdf.SameInNbOfDatasetWithSchema})
		require.NoError(t, err)
		require.Len(t, counts, 1, "evidence counts are replaced")
		assert.Equal(t, rdf.Integer(4), counts[0].Object)

		confirmed, err := e.ConfirmedProperties(ctx)
		require.NoError(t, err)
		assert.Contains(t, confirmed.InverseFunctional, isbn)
	})
}

func TestTallyConfirms(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		tally Tally
		want  bool
	}{
		{"should confirm on an exact half", Tally{WithSchema: 2, Functional: 1}, true},
		{"should confirm unanimously", Tally{WithSchema: 3, Functional: 3}, true},
		{"should reject a minority", Tally{WithSchema: 3, Functional: 1}, false},
		{"should cast no vote without schema", Tally{Functional: 2}, false},
		{"should reject without declarations", Tally{WithSchema: 2}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.tally.Confirms(rdf.OWLFunctionalProperty))
			assert.False(t, tc.tally.Confirms(rdf.OWLInverseFunctionalProperty))
		})
	}
}

// isbnFixture spreads one book over three datasets that share only an
// inverse-functional isbn value.
func isbnFixture(t *testing.T, statusB registry.Status) *fixture {
	ctx := context.Background()
	f := newFixture(t, map[string]registry.Status{"a": capable, "b": statusB, "c": capable})
	f.fed.Endpoint(endpointA).Add(rdf.NewQuad(bookA, isbn, code), rdf.NewQuad(bookA, rdf.RDFSLabel, rdf.Literal("Dune")))
	f.fed.Endpoint(endpointB).Add(rdf.NewQuad(bookB, isbn, code))
	f.fed.Endpoint(endpointC).Add(rdf.NewQuad(bookC, isbn, code), rdf.NewQuad(rdf.Blank("copy"), isbn, code))

	require.NoError(t, f.kg.Insert(ctx, knowledgegraph.Votes(), rdf.NewQuad(isbn, rdf.SameVotingType, rdf.OWLInverseFunctionalProperty)))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, f.kg, 0, bookA))
	return f
}

func TestExpandAndInfer(t *testing.T) {
	ctx := context.Background()

	t.Run("should link the ISBN holders of other datasets", func(t *testing.T) {
		f := isbnFixture(t, capable)
		e := f.engine(t, nil, Config{})

		expanded, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{bookA}, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, expanded.IFP)
		assert.Zero(t, expanded.FP)

		recorded, err := f.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.IFPPatterns(1, "a"))})
		require.NoError(t, err)
		require.Len(t, recorded, 1)
		assert.Equal(t, rdf.NewQuad(bookA, isbn, code), recorded[0].Quad)

		inferred, err := e.InferEquivalences(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, inferred.Admitted)
		assert.Empty(t, inferred.Failures)

		targets, err := knowledgegraph.Targets(ctx, f.kg, 1)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{bookB, bookC}, targets)

		for _, tc := range []struct {
			endpoint, dataset string
			found             rdf.Term
		}{{endpointB, "b", bookB}, {endpointC, "c", bookC}} {
			edges, err := f.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Provenance(tc.endpoint, 1))})
			require.NoError(t, err)
			require.Len(t, edges, 2)
			assert.ElementsMatch(t, []rdf.Quad{
				rdf.NewQuad(bookA, rdf.OWLSameAs, tc.found),
				rdf.NewQuad(tc.found, rdf.OWLSameAs, bookA),
			}, []rdf.Quad{edges[0].Quad, edges[1].Quad})

			own, err := f.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.IFPPatterns(1, tc.dataset)), Subject: tc.found, Predicate: isbn, Object: code})
			require.NoError(t, err)
			assert.True(t, own, "pattern recorded for %s", tc.found)
		}
		assert.Equal(t, 1, f.fed.Calls(endpointA), "the source dataset is not asked for its own patterns")
	})

	t.Run("should not readmit known resources", func(t *testing.T) {
		f := isbnFixture(t, capable)
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, f.kg, 0, bookB))
		e := f.engine(t, nil, Config{})

		_, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{bookA, bookB}, 1)
		require.NoError(t, err)
		inferred, err := e.InferEquivalences(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, inferred.Admitted)

		targets, err := knowledgegraph.Targets(ctx, f.kg, 1)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{bookC}, targets)
	})

	t.Run("should fall back to IN filters without VALUES", func(t *testing.T) {
		limited := registry.Status{Alive: true}
		f := isbnFixture(t, limited)
		f.fed.Endpoint(endpointB).RejectValues = true
		e := f.engine(t, nil, Config{})

		_, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{bookA}, 1)
		require.NoError(t, err)
		inferred, err := e.InferEquivalences(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, inferred.Admitted)
		assert.Empty(t, inferred.Failures)
		for _, q := range f.fed.Queries(endpointB) {
			assert.NotContains(t, q, "VALUES")
		}
	})

	t.Run("should skip a failing dataset and keep the others", func(t *testing.T) {
		f := isbnFixture(t, capable)
		e := f.engine(t, nil, Config{})
		_, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{bookA}, 1)
		require.NoError(t, err)

		reset := errors.New("connection reset by peer")
		f.fed.Fail(endpointC, reset)
		inferred, err := e.InferEquivalences(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, inferred.Admitted)
		require.Len(t, inferred.Failures, 1)
		assert.Equal(t, "c", inferred.Failures[0].Dataset)
		assert.Equal(t, endpointC, inferred.Failures[0].Endpoint)
		assert.ErrorIs(t, inferred.Failures[0].Err, reset)
		assert.ErrorIs(t, inferred.Err(), reset)
	})

	t.Run("should do nothing without confirmed properties", func(t *testing.T) {
		f := newFixture(t, map[string]registry.Status{"a": capable})
		e := f.engine(t, nil, Config{})
		report, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{bookA}, 1)
		require.NoError(t, err)
		assert.Zero(t, report.Queries)
		assert.Zero(t, f.fed.Calls(endpointA))
	})

	t.Run("should collect functional patterns with the resource as object", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, map[string]registry.Status{"a": capable, "b": capable})
		mother := rdf.IRI("http://a.example/person/mother")
		childA := rdf.IRI("http://a.example/person/child")
		childB := rdf.IRI("http://b.example/people/kid")
		f.fed.Endpoint(endpointA).Add(rdf.NewQuad(mother, birth, childA))
		f.fed.Endpoint(endpointB).Add(rdf.NewQuad(mother, birth, childB))
		require.NoError(t, f.kg.Insert(ctx, knowledgegraph.Votes(), rdf.NewQuad(birth, rdf.SameVotingType, rdf.OWLFunctionalProperty)))
		e := f.engine(t, nil, Config{})

		expanded, err := e.ExpandViaFunctionalProperties(ctx, []rdf.Term{childA}, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, expanded.FP)

		inferred, err := e.InferEquivalences(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, inferred.Admitted)
		linked, err := knowledgegraph.DirectlyLinked(ctx, f.kg, childA, childB)
		require.NoError(t, err)
		assert.True(t, linked)
	})
}

func TestQueries(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		`SELECT DISTINCT ?t ?p ?v WHERE { VALUES ?t { <http://a.example/book/1> } VALUES ?p { <http://example.org/onto/isbn> } ?t ?p ?v . FILTER(!(isBlank(?v))) }`,
		PatternQuery([]rdf.Term{bookA}, []rdf.Term{isbn}, true, true).MustBuild())
	assert.Equal(t,
		`SELECT DISTINCT ?shared ?t2 WHERE { FILTER(?shared IN ("978-0-00-000000-2")) ?t2 <http://example.org/onto/isbn> ?shared . FILTER(!(isBlank(?t2))) }`,
		CounterpartQuery(isbn, []rdf.Term{code}, true, false).MustBuild())
}
