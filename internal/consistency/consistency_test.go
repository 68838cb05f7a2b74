// internal/consistency/consistency_test.go
package consistency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
)

const (
	endpointA = "http://a.example/sparql"
	endpointB = "http://b.example/sparql"
)

var (
	datasetA = registry.DatasetTerm("a")
	datasetB = registry.DatasetTerm("b")

	res1 = rdf.IRI("http://same.example/R1")
	res2 = rdf.IRI("http://same.example/R2")
	res3 = rdf.IRI("http://same.example/R3")
)

// chain stores the seed res1, then res2 found by A and res3 found by B
// through res2.
func chain(t *testing.T) *knowledgegraph.InMemoryKG {
	t.Helper()
	ctx := context.Background()
	kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, res1))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, res2, datasetA))
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), res1, res2))
	require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 2, res3, datasetB))
	require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointB, 2), res2, res3))
	return kg
}

func TestDetectCrossIterationRotten(t *testing.T) {
	ctx := context.Background()

	t.Run("should flag the resource reached only through a chain", func(t *testing.T) {
		kg := chain(t)
		c := New(kg, zaptest.NewLogger(t))

		flagged, err := c.DetectCrossIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{res3}, flagged)

		rotten, err := knowledgegraph.RottenSet(ctx, kg)
		require.NoError(t, err)
		assert.Equal(t, map[rdf.Term]bool{res3: true}, rotten)

		ok, err := kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Rotten()), Subject: res3, Predicate: rdf.VoIDInDataset, Object: datasetB})
		require.NoError(t, err)
		assert.True(t, ok, "rotten record should keep the provenance of the target")

		ok, err = kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Rotten()), Subject: res3, Predicate: rdf.SameHasAuthority, Object: rdf.Literal("same.example")})
		require.NoError(t, err)
		assert.True(t, ok)

		again, err := c.DetectCrossIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, again, "already flagged resources are skipped")
	})

	t.Run("should keep directly linked resources", func(t *testing.T) {
		kg := chain(t)
		c := New(kg, zaptest.NewLogger(t))

		flagged, err := c.DetectCrossIterationRotten(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("should keep chains crossing authorities", func(t *testing.T) {
		kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
		other := rdf.IRI("http://other.example/R3")
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, res1))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, res2, datasetA))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), res1, res2))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 2, other, datasetB))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointB, 2), res2, other))

		flagged, err := New(kg, zaptest.NewLogger(t)).DetectCrossIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("should ignore a scheme change", func(t *testing.T) {
		kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
		secure := rdf.IRI("https://same.example/R1")
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, res1))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, res2, datasetA))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), res1, res2))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 2, secure, datasetB))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointB, 2), res2, secure))

		flagged, err := New(kg, zaptest.NewLogger(t)).DetectCrossIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, flagged, "same value without the scheme is not a conflict")
	})

	t.Run("should exempt targets of the previous iteration", func(t *testing.T) {
		kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
		sibling := rdf.IRI("http://h.example/1")
		middle := rdf.IRI("http://m.example/M")
		later := rdf.IRI("http://h.example/2")
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, res1))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, sibling, datasetA))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, middle, datasetA))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), res1, sibling))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), res1, middle))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 2, later, datasetB))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointB, 2), middle, later))

		flagged, err := New(kg, zaptest.NewLogger(t)).DetectCrossIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, flagged, "a conflicting target of iteration 1 explains the resource")

		rotten, err := knowledgegraph.RottenSet(ctx, kg)
		require.NoError(t, err)
		assert.Empty(t, rotten)
	})
}

func TestDetectSameIterationRotten(t *testing.T) {
	ctx := context.Background()
	hub := rdf.IRI("http://hub.example/s")
	left := rdf.IRI("http://same.example/left")
	right := rdf.IRI("http://same.example/right")

	pair := func(t *testing.T, direct bool) *knowledgegraph.InMemoryKG {
		kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 0, hub))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, left, datasetA))
		require.NoError(t, knowledgegraph.AdmitTarget(ctx, kg, 1, right, datasetA))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), hub, left))
		require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointA, 1), hub, right))
		if direct {
			require.NoError(t, knowledgegraph.InsertEquivalence(ctx, kg, knowledgegraph.Provenance(endpointB, 1), left, right))
		}
		return kg
	}

	t.Run("should flag both members of an indirect pair", func(t *testing.T) {
		kg := pair(t, false)
		flagged, err := New(kg, zaptest.NewLogger(t)).DetectSameIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []rdf.Term{left, right}, flagged)

		rotten, err := knowledgegraph.RottenSet(ctx, kg)
		require.NoError(t, err)
		assert.Len(t, rotten, 2)
	})

	t.Run("should skip the iteration being processed", func(t *testing.T) {
		kg := pair(t, false)
		flagged, err := New(kg, zaptest.NewLogger(t)).DetectSameIterationRotten(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("should keep a pair joined by a direct edge", func(t *testing.T) {
		kg := pair(t, true)
		flagged, err := New(kg, zaptest.NewLogger(t)).DetectSameIterationRotten(ctx, 2)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})

	t.Run("should ignore pairs from different iterations", func(t *testing.T) {
		kg := chain(t)
		flagged, err := New(kg, zaptest.NewLogger(t)).DetectSameIterationRotten(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, flagged)
	})
}
