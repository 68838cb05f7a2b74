// internal/prune/prune_test.go
package prune

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
)

const endpointA = "http://a.example/sparql"

var (
	seed    = rdf.IRI("http://seed.example/s")
	bad     = rdf.IRI("http://same.example/bad")
	orphan  = rdf.IRI("http://orphan.example/o")
	shared  = rdf.IRI("http://shared.example/x")
	healthy = rdf.IRI("http://healthy.example/h")
	isbn    = rdf.IRI("http://vocab.example/isbn")
	mother  = rdf.IRI("http://vocab.example/mother")
	twin    = rdf.IRI("http://twin.example/t")

	datasetA = registry.DatasetTerm("a")
)

type staticConfirmer funcprop.Confirmed

func (s staticConfirmer) ConfirmedProperties(context.Context) (funcprop.Confirmed, error) {
	return funcprop.Confirmed(s), nil
}

// graph builds seed(0) ≡ bad(1); bad ≡ orphan(2); bad ≡ shared(2) ≡ healthy(2).
func graph(t *testing.T) *knowledgegraph.InMemoryKG {
	t.Helper()
	ctx := context.Background()
	kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, seed))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, bad, datasetA))
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), seed, bad))
	for _, r := range []rdf.Term{orphan, shared, healthy} {
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 2, r, datasetA))
	}
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 2), bad, orphan))
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 2), bad, shared))
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 2), shared, healthy))

	require.NoError(t, kg.Insert(ctx, knowledgegraph.Rotten(), knowledgegraph.DescribeQuads(bad, rdf.SameRotten, rdf.Derive(bad.Value), datasetA)...))
	return kg
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("should retire rotten resources and their dead-end neighbours", func(t *testing.T) {
		kg := graph(t)
		res, err := New(kg, nil, zaptest.NewLogger(t)).Apply(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Retired)
		assert.Equal(t, 1, res.Unlinked)
		assert.Positive(t, res.Deleted)

		next, err := knowledgegraph.Targets(ctx, kg, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []rdf.Term{shared, healthy}, next, "orphan only led to the rotten resource")

		targets, err := knowledgegraph.Targets(ctx, kg, 1)
		require.NoError(t, err)
		assert.Empty(t, targets)

		neighbours, err := knowledgegraph.Neighbours(ctx, kg, bad)
		require.NoError(t, err)
		assert.Empty(t, neighbours, "every edge touching the rotten resource is gone")

		rotten, err := knowledgegraph.IsRotten(ctx, kg, bad)
		require.NoError(t, err)
		assert.True(t, rotten, "the exclusion record persists")

		linked, err := knowledgegraph.DirectlyLinked(ctx, kg, shared, healthy)
		require.NoError(t, err)
		assert.True(t, linked)
	})

	t.Run("should not count untyped neighbours as live", func(t *testing.T) {
		kg := graph(t)
		stale := rdf.IRI("http://stale.example/gone")
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 2), orphan, stale))

		res, err := New(kg, nil, zaptest.NewLogger(t)).Apply(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Unlinked)

		next, err := knowledgegraph.Targets(ctx, kg, 2)
		require.NoError(t, err)
		assert.ElementsMatch(t, []rdf.Term{shared, healthy}, next, "stale holds no Target record")
	})

	t.Run("should do nothing once everything is retired", func(t *testing.T) {
		kg := graph(t)
		c := New(kg, nil, zaptest.NewLogger(t))
		_, err := c.Apply(ctx)
		require.NoError(t, err)
		before := kg.Len()

		res, err := c.Apply(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
		assert.Equal(t, before, kg.Len())
	})

	t.Run("should drop patterns shared with the rotten resource", func(t *testing.T) {
		kg := graph(t)
		value := rdf.Literal("978-0")
		require.NoError(t, kg.Insert(ctx, knowledgegraph.IFPPatterns(1, "a"),
			rdf.NewQuad(bad, isbn, value),
			rdf.NewQuad(healthy, rdf.SameHasNamespace, value),
		))
		require.NoError(t, kg.Insert(ctx, knowledgegraph.IFPPatterns(2, "b"), rdf.NewQuad(twin, isbn, value)))
		require.NoError(t, kg.Insert(ctx, knowledgegraph.FPPatterns(1, "a"), rdf.NewQuad(seed, mother, bad)))
		require.NoError(t, kg.Insert(ctx, knowledgegraph.FPPatterns(2, "b"), rdf.NewQuad(seed, mother, twin)))

		confirmer := staticConfirmer{Functional: []rdf.Term{mother}, InverseFunctional: []rdf.Term{isbn}}
		_, err := New(kg, confirmer, zaptest.NewLogger(t)).Apply(ctx)
		require.NoError(t, err)

		left, err := kg.Match(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindIFPPatterns})
		require.NoError(t, err)
		require.Len(t, left, 1, "only the unconfirmed statement survives")
		assert.Equal(t, healthy, left[0].Subject)

		ok, err := kg.Exists(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindFPPatterns})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should leave patterns alone without confirmed properties", func(t *testing.T) {
		kg := graph(t)
		require.NoError(t, kg.Insert(ctx, knowledgegraph.IFPPatterns(1, "a"), rdf.NewQuad(bad, isbn, rdf.Literal("978-0"))))

		_, err := New(kg, staticConfirmer{}, zaptest.NewLogger(t)).Apply(ctx)
		require.NoError(t, err)

		ok, err := kg.Exists(ctx, knowledgegraph.Pattern{Kind: knowledgegraph.KindIFPPatterns})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
