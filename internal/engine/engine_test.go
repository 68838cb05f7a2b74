// internal/engine/engine_test.go
package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/consistency"
	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/frontier"
	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/prune"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/retriever"
	"github.com/xkilldash9x/sameas-cli/internal/sparql/sparqltest"
	"github.com/xkilldash9x/sameas-cli/internal/store"
)

const (
	endpointA = "http://a.example/sparql"
	endpointB = "http://b.example/sparql"
)

var (
	res1 = rdf.IRI("http://same.example/R1")
	res2 = rdf.IRI("http://same.example/R2")
	res3 = rdf.IRI("http://same.example/R3")
)

// -- Mock Implementations --

// mockRecorder captures the run summaries handed to it.
type mockRecorder struct {
	mu   sync.Mutex
	runs []store.RunRecord
	err  error
}

func (m *mockRecorder) RecordRun(ctx context.Context, run store.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.err
}

// blockingFrontier holds Seed until release is closed.
type blockingFrontier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFrontier) Seed(ctx context.Context, seeds []rdf.Term) (int, error) {
	close(b.started)
	<-b.release
	return 0, nil
}

func (b *blockingFrontier) CurrentFrontier(ctx context.Context, i int) ([]rdf.Term, error) {
	return nil, nil
}

// failingRetriever fails every retrieval stage with err.
type failingRetriever struct {
	err   error
	calls int
}

func (f *failingRetriever) RetrieveEquivalences(ctx context.Context, frontier []rdf.Term, i int) (retriever.Report, error) {
	f.calls++
	return retriever.Report{Iteration: i}, f.err
}

type harness struct {
	kg  *knowledgegraph.InMemoryKG
	fed *sparqltest.Federation
	rec *mockRecorder
	out bytes.Buffer
	c   Components
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &harness{
		kg:  knowledgegraph.NewInMemoryKG(logger),
		fed: sparqltest.NewFederation(),
		rec: &mockRecorder{},
	}
	reg := registry.New(h.kg, logger)
	props := funcprop.New(h.kg, reg, h.fed, nil, funcprop.Config{Concurrency: 2}, logger)
	h.c = Components{
		KG:         h.kg,
		Frontier:   frontier.New(h.kg, logger),
		Catalog:    reg,
		Prober:     registry.NewProber(reg, h.fed, registry.ProberConfig{Concurrency: 2}, logger),
		Retriever:  retriever.New(h.kg, reg, h.fed, retriever.Config{Concurrency: 2}, logger),
		Properties: props,
		Checker:    consistency.New(h.kg, logger),
		Pruner:     prune.New(h.kg, props, logger),
		Recorder:   h.rec,
	}
	// A links R1 to R2; B links R2 to R3 under the same authority.
	h.fed.Endpoint(endpointA).Add(rdf.NewQuad(res1, rdf.OWLSameAs, res2))
	h.fed.Endpoint(endpointB).Add(rdf.NewQuad(res2, rdf.OWLSameAs, res3))
	return h
}

func (h *harness) config() Config {
	return Config{
		Seeds: []rdf.Term{res1},
		Datasets: []config.DatasetConfig{
			{ID: "a", Endpoint: endpointA},
			{ID: "b", Endpoint: endpointB},
		},
		SkipProbe: true,
	}
}

func (h *harness) driver(t *testing.T, cfg Config) *Driver {
	t.Helper()
	d, err := New(h.c, cfg, &h.out, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should discover the chain and prune the indirect representation", func(t *testing.T) {
		h := newHarness(t)
		sum, err := h.driver(t, h.config()).Run(ctx)
		require.NoError(t, err)

		assert.NotEmpty(t, sum.RunID)
		assert.Equal(t, 2, sum.Iterations)
		assert.Equal(t, 1, sum.Seeds)
		assert.Equal(t, 2, sum.Datasets)
		assert.Equal(t, 2, sum.LiveCount)
		assert.Equal(t, 2, sum.Admitted)
		assert.Equal(t, 1, sum.Rotten)
		assert.Positive(t, sum.Pruned)
		assert.NoError(t, sum.Errors)
		assert.False(t, sum.Stopped)

		iterations, err := knowledgegraph.TargetIterations(ctx, h.kg)
		require.NoError(t, err)
		assert.Equal(t, map[rdf.Term]int{res1: 0, res2: 1}, iterations)

		rotten, err := knowledgegraph.IsRotten(ctx, h.kg, res3)
		require.NoError(t, err)
		assert.True(t, rotten)

		assert.Equal(t, "datasets: 2 live of 2\niteration 1: frontier size 1\niteration 2: frontier size 1\n", h.out.String())

		require.Len(t, h.rec.runs, 1)
		run := h.rec.runs[0]
		assert.Equal(t, sum.RunID, run.ID)
		assert.Equal(t, 2, run.Iterations)
		assert.Equal(t, 1, run.Rotten)
		assert.False(t, run.FinishedAt.Before(run.StartedAt))
	})

	t.Run("should stop at the iteration limit", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.config()
		cfg.MaxIterations = 1
		sum, err := h.driver(t, cfg).Run(ctx)
		require.NoError(t, err)
		assert.True(t, sum.Stopped)
		assert.Equal(t, 1, sum.Iterations)
		assert.Equal(t, 1, sum.Admitted)
		assert.Zero(t, sum.Rotten)
	})

	t.Run("should keep going when an endpoint fails", func(t *testing.T) {
		h := newHarness(t)
		h.fed.Fail(endpointB, nil)
		sum, err := h.driver(t, h.config()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Admitted)
		require.Error(t, sum.Errors)
		assert.ErrorIs(t, sum.Errors, fault.ErrEndpointUnavailable)
		assert.Equal(t, 2, sum.Failures(), "B fails in both iterations")
	})

	t.Run("should keep the endpoint error of a property stage", func(t *testing.T) {
		h := newHarness(t)
		reset := errors.New("connection reset by peer")
		h.fed.Fail(endpointB, reset)
		cfg := h.config()
		cfg.FunctionalProperties = true
		sum, err := h.driver(t, cfg).Run(ctx)
		require.NoError(t, err)
		require.Error(t, sum.Errors)
		assert.ErrorIs(t, sum.Errors, reset)
		assert.NotErrorIs(t, sum.Errors, fault.ErrEndpointUnavailable)
		assert.Contains(t, sum.Errors.Error(), "candidates: dataset b ("+endpointB+")")
	})

	t.Run("should continue past a transient stage failure", func(t *testing.T) {
		h := newHarness(t)
		fr := &failingRetriever{err: fault.WrapTransient(fault.ErrEndpointUnavailable, "test", "Retrieve", "query federation")}
		h.c.Retriever = fr
		sum, err := h.driver(t, h.config()).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fr.calls)
		assert.Equal(t, 1, sum.Iterations)
		assert.Zero(t, sum.Admitted)
		assert.ErrorIs(t, sum.Errors, fault.ErrEndpointUnavailable)
		assert.Contains(t, sum.Errors.Error(), "retrieve: ")
	})

	t.Run("should abort on a fatal stage failure", func(t *testing.T) {
		h := newHarness(t)
		h.c.Retriever = &failingRetriever{err: fault.WrapFatal(fault.ErrStoreUnavailable, "test", "Retrieve", "write targets")}
		sum, err := h.driver(t, h.config()).Run(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, fault.ErrStoreUnavailable)
		assert.True(t, fault.IsFatal(err))
		assert.Zero(t, sum.Iterations)
		require.Len(t, h.rec.runs, 1)
	})

	t.Run("should run the property stages when enabled", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.config()
		cfg.FunctionalProperties = true
		sum, err := h.driver(t, cfg).Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, sum.Confirmed)
		assert.Equal(t, 2, sum.Admitted)
		assert.Zero(t, sum.Inferred)
	})

	t.Run("should stop after seeding without datasets", func(t *testing.T) {
		h := newHarness(t)
		cfg := h.config()
		cfg.Datasets = nil
		sum, err := h.driver(t, cfg).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Seeds)
		assert.Zero(t, sum.Iterations)
		assert.Equal(t, "datasets: 0 live of 0\n", h.out.String())
	})

	t.Run("should stop on a cancelled context", func(t *testing.T) {
		h := newHarness(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := h.driver(t, h.config()).Run(cctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		require.Len(t, h.rec.runs, 1, "aborted runs are still recorded")
	})

	t.Run("should report recorder failures", func(t *testing.T) {
		h := newHarness(t)
		h.rec.err = errors.New("db down")
		_, err := h.driver(t, h.config()).Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestRun_Concurrent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	bf := &blockingFrontier{started: make(chan struct{}), release: make(chan struct{})}
	h.c.Frontier = bf
	d := h.driver(t, Config{SkipProbe: true})

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(context.Background())
		done <- err
	}()
	<-bf.started

	_, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(bf.release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	missing := h.c
	missing.Pruner = nil
	_, err := New(missing, Config{}, nil, nil)
	assert.ErrorIs(t, err, fault.ErrInvalidConfig)

	noProps := h.c
	noProps.Properties = nil
	_, err = New(noProps, Config{FunctionalProperties: true}, nil, nil)
	assert.ErrorIs(t, err, fault.ErrInvalidConfig)

	_, err = New(noProps, Config{}, nil, nil)
	assert.NoError(t, err)
}
