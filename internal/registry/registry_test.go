// internal/registry/registry_test.go
package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql/sparqltest"
)

func newTestRegistry(t *testing.T) (*Registry, *knowledgegraph.InMemoryKG) {
	t.Helper()
	kg := knowledgegraph.NewInMemoryKG(zaptest.NewLogger(t))
	return New(kg, zaptest.NewLogger(t)), kg
}

func TestDatasetTerm(t *testing.T) {
	assert.Equal(t, rdf.IRI(rdf.NSSame+"dataset/dbpedia"), DatasetTerm("dbpedia"))
	assert.Equal(t, rdf.IRI(rdf.NSSame+"dataset/my%20data"), DatasetTerm("my data"))
	assert.Equal(t, rdf.IRI("http://example.org/void#ds"), DatasetTerm("http://example.org/void#ds"))
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("should populate and list sorted", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{
			{ID: "wikidata", Endpoint: "https://query.wikidata.org/sparql"},
			{ID: "dbpedia", Endpoint: "https://dbpedia.org/sparql"},
		}))

		all, err := reg.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "dbpedia", all[0].ID)
		assert.Equal(t, "https://dbpedia.org/sparql", all[0].Endpoint)
		assert.Equal(t, Status{}, all[0].Status)

		live, err := reg.ListLiveDatasets(ctx)
		require.NoError(t, err)
		assert.Empty(t, live, "unprobed datasets are not live")
	})

	t.Run("should replace the endpoint on repopulation", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{{ID: "a", Endpoint: "http://old.example/sparql"}}))
		require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{{ID: "a", Endpoint: "http://new.example/sparql"}}))

		all, err := reg.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "http://new.example/sparql", all[0].Endpoint)
	})

	t.Run("should reject an endpoint that is not an IRI", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		err := reg.Populate(ctx, []config.DatasetConfig{{ID: "a", Endpoint: "http://bad host/sparql"}})
		require.Error(t, err)
		assert.True(t, fault.IsInvalid(err))
	})

	t.Run("should round-trip status records", func(t *testing.T) {
		reg, kg := newTestRegistry(t)
		require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{
			{ID: "a", Endpoint: "http://a.example/sparql"},
			{ID: "b", Endpoint: "http://b.example/sparql"},
		}))
		require.NoError(t, reg.SetStatus(ctx, "a", Status{Alive: true, SupportsValues: true, ResultLimit: 10000}))
		require.NoError(t, reg.SetStatus(ctx, "b", Status{Alive: true}))
		require.NoError(t, reg.SetStatus(ctx, "b", Status{Alive: false}))

		live, err := reg.ListLiveDatasets(ctx)
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, Status{Alive: true, SupportsValues: true, ResultLimit: 10000}, live[0].Status)

		limits, err := kg.Match(ctx, knowledgegraph.Pattern{Predicate: rdf.SameHasLimit})
		require.NoError(t, err)
		require.Len(t, limits, 1)
		assert.Equal(t, rdf.Integer(10000), limits[0].Object)
	})

	t.Run("should refuse status for an unknown dataset", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		err := reg.SetStatus(ctx, "ghost", Status{Alive: true})
		require.Error(t, err)
		assert.True(t, fault.IsInvalid(err))
	})

	t.Run("should deduplicate shared endpoints", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{
			{ID: "dbpedia-en", Endpoint: "https://dbpedia.org/sparql"},
			{ID: "dbpedia", Endpoint: "https://dbpedia.org/sparql"},
			{ID: "dbpediab", Endpoint: "https://dbpedia.org/sparql"},
			{ID: "bb", Endpoint: "http://x.example/sparql"},
			{ID: "aa", Endpoint: "http://x.example/sparql"},
			{ID: "solo", Endpoint: "http://solo.example/sparql"},
		}))

		removed, err := reg.Deduplicate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bb", "dbpedia-en", "dbpediab"}, removed)

		all, err := reg.List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, d := range all {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"aa", "dbpedia", "solo"}, ids)
	})
}

func TestLookup(t *testing.T) {
	ds := []Dataset{{ID: "a", Endpoint: "http://a/sparql"}, {ID: "b", Endpoint: "http://b/sparql"}}
	m := Lookup(ds)
	assert.Equal(t, "http://b/sparql", m[DatasetTerm("b")].Endpoint)
	_, ok := m[DatasetTerm("c")]
	assert.False(t, ok)
}

func TestProber(t *testing.T) {
	ctx := context.Background()

	fed := sparqltest.NewFederation()
	triples := func(n int) []rdf.Quad {
		var out []rdf.Quad
		for i := 0; i < n; i++ {
			s := rdf.IRI(fmt.Sprintf("http://data.example/r%d", i))
			out = append(out, rdf.NewQuad(s, rdf.RDFType, rdf.IRI("http://data.example/Thing")))
		}
		return out
	}

	full := fed.Endpoint("http://full.example/sparql")
	full.Add(triples(5)...)

	limited := fed.Endpoint("http://limited.example/sparql")
	limited.Add(triples(10)...)
	limited.RowCap = 4
	limited.RejectValues = true
	limited.RejectNonASCII = true

	fed.Endpoint("http://empty.example/sparql")
	fed.Fail("http://down.example/sparql", nil)

	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Populate(ctx, []config.DatasetConfig{
		{ID: "full", Endpoint: "http://full.example/sparql"},
		{ID: "limited", Endpoint: "http://limited.example/sparql"},
		{ID: "empty", Endpoint: "http://empty.example/sparql"},
		{ID: "down", Endpoint: "http://down.example/sparql"},
	}))

	t.Run("should measure every capability", func(t *testing.T) {
		prober := NewProber(reg, fed, ProberConfig{Concurrency: 2, Ceiling: 8}, zaptest.NewLogger(t))
		probed, err := prober.Probe(ctx)
		require.NoError(t, err)
		require.Len(t, probed, 4)

		byID := make(map[string]Status)
		for _, d := range probed {
			byID[d.ID] = d.Status
		}
		assert.Equal(t, Status{Alive: true, SupportsValues: true, SupportsNonASCII: true, ResultLimit: 5}, byID["full"])
		assert.Equal(t, Status{Alive: true, ResultLimit: 4}, byID["limited"])
		assert.Equal(t, Status{}, byID["empty"])
		assert.Equal(t, Status{}, byID["down"])

		live, err := reg.ListLiveDatasets(ctx)
		require.NoError(t, err)
		require.Len(t, live, 2)
		assert.Equal(t, "full", live[0].ID)
		assert.Equal(t, "limited", live[1].ID)
	})

	t.Run("should not probe capabilities of a dead endpoint", func(t *testing.T) {
		before := fed.Calls("http://down.example/sparql")
		NewProber(reg, fed, ProberConfig{}, nil).ProbeDataset(ctx, Dataset{ID: "down", Endpoint: "http://down.example/sparql"})
		assert.Equal(t, before+1, fed.Calls("http://down.example/sparql"))
	})

	t.Run("should record no limit when the ceiling is reached", func(t *testing.T) {
		st := NewProber(reg, fed, ProberConfig{Ceiling: 3}, nil).ProbeDataset(ctx, Dataset{ID: "full", Endpoint: "http://full.example/sparql"})
		assert.Zero(t, st.ResultLimit)
	})

	t.Run("should assume full capability when probing is skipped", func(t *testing.T) {
		datasets, err := NewProber(reg, fed, ProberConfig{}, nil).AssumeCapable(ctx)
		require.NoError(t, err)
		for _, d := range datasets {
			assert.True(t, d.Status.Alive, d.ID)
			assert.True(t, d.Status.SupportsValues, d.ID)
		}
		live, err := reg.ListLiveDatasets(ctx)
		require.NoError(t, err)
		assert.Len(t, live, 4)
	})
}
