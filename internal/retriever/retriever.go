// File: internal/retriever/retriever.go

// Package retriever federates owl:sameAs lookups for the current frontier
// across every live dataset and admits the newly found resources as Targets.
package retriever

import (
	"context"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/worker"
)

// Catalog is the registry view the retriever needs.
type Catalog interface {
	ListLiveDatasets(ctx context.Context) ([]registry.Dataset, error)
}

// Config tunes the fan-out and the query shape.
type Config struct {
	Concurrency int
	// BatchSize is the number of frontier resources per query.
	BatchSize int
	// NonASCII sends non-ASCII resources to endpoints that accept them.
	NonASCII bool
}

// Failure records one dataset whose contribution was dropped.
type Failure struct {
	Dataset  string
	Endpoint string
	Err      error
}

// Report summarises one retrieval stage.
type Report struct {
	Iteration int
	Datasets  int
	Queries   int
	Admitted  int
	Edges     int
	// Skipped counts identifiers dropped for having an unusable shape.
	Skipped  int
	Failures []Failure
}

// Err combines the failures of the stage.
func (r Report) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// Link is one equivalence found at an endpoint.
type Link struct {
	Target, Other rdf.Term
}

type fetched struct {
	links   []Link
	queries int
	skipped int
}

// Retriever runs the owl:sameAs stage.
type Retriever struct {
	kg      knowledgegraph.Gateway
	catalog Catalog
	q       sparql.Querier
	cfg     Config
	log     *zap.Logger
}

// New creates a retriever.
func New(kg knowledgegraph.Gateway, catalog Catalog, q sparql.Querier, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Retriever{kg: kg, catalog: catalog, q: q, cfg: cfg, log: logger.Named("retriever")}
}

// RetrieveEquivalences asks every live dataset for the resources it declares
// equivalent to a frontier resource. A resource is admitted into iteration i
// when it was neither a Target nor Rotten when the stage started; the edge
// that led to it is stored in both directions in the provenance graph of
// the endpoint. Endpoint failures are logged and reported, never returned.
func (r *Retriever) RetrieveEquivalences(ctx context.Context, frontier []rdf.Term, i int) (Report, error) {
	report := Report{Iteration: i}
	datasets, err := r.catalog.ListLiveDatasets(ctx)
	if err != nil {
		return report, err
	}
	report.Datasets = len(datasets)

	usable := r.usable(frontier, &report)
	if len(usable) == 0 || len(datasets) == 0 {
		return report, nil
	}
	ascii, _ := rdf.SplitASCII(usable)

	results := worker.Gather(ctx, r.cfg.Concurrency, datasets, func(ctx context.Context, d registry.Dataset) (fetched, error) {
		resources := ascii
		if r.cfg.NonASCII && d.Status.SupportsNonASCII {
			resources = usable
		}
		return r.fetch(ctx, d, resources)
	})

	known, err := knowledgegraph.KnownResources(ctx, r.kg)
	if err != nil {
		return report, err
	}
	admitted := make(map[rdf.Term]bool)
	for idx, res := range results {
		d := datasets[idx]
		report.Queries += res.Value.queries
		report.Skipped += res.Value.skipped
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			r.log.Warn("Skipping dataset for this iteration",
				zap.String("dataset", d.ID), zap.String("endpoint", d.Endpoint), zap.Int("iteration", i), zap.Error(res.Err))
			report.Failures = append(report.Failures, Failure{Dataset: d.ID, Endpoint: d.Endpoint, Err: res.Err})
		}
		if err := r.commit(ctx, d, res.Value.links, known, admitted, i, &report); err != nil {
			return report, err
		}
	}

	metrics.AdmittedTargets.WithLabelValues("sameas").Add(float64(report.Admitted))
	r.log.Info("Equivalence retrieval complete",
		zap.Int("iteration", i),
		zap.Int("frontier", len(frontier)),
		zap.Int("datasets", report.Datasets),
		zap.Int("admitted", report.Admitted),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// usable drops frontier entries that cannot be written into a query.
func (r *Retriever) usable(frontier []rdf.Term, report *Report) []rdf.Term {
	out := make([]rdf.Term, 0, len(frontier))
	for _, t := range frontier {
		if !t.IsIRI() || sparql.CheckIRI(t.Value) != nil {
			r.log.Warn("Skipping frontier resource with an unusable IRI", zap.Stringer("resource", t))
			report.Skipped++
			continue
		}
		out = append(out, t)
	}
	return out
}

// fetch queries one dataset chunk by chunk. The first endpoint failure ends
// the dataset's contribution; links already fetched are kept.
func (r *Retriever) fetch(ctx context.Context, d registry.Dataset, resources []rdf.Term) (fetched, error) {
	var out fetched
	for chunk := range slices.Chunk(resources, r.cfg.BatchSize) {
		q := LinkQuery(chunk, d.Status.SupportsValues)
		res, err := sparql.SelectAll(ctx, r.q, d.Endpoint, q, d.Status.ResultLimit)
		out.queries++
		if err != nil {
			return out, err
		}
		for _, b := range res.Bindings {
			link, ok := linkOf(b, chunk)
			if !ok {
				out.skipped++
				continue
			}
			out.links = append(out.links, link)
		}
	}
	return out, nil
}

func (r *Retriever) commit(ctx context.Context, d registry.Dataset, links []Link, known, admitted map[rdf.Term]bool, i int, report *Report) error {
	provenance := knowledgegraph.Provenance(d.Endpoint, i)
	for _, l := range links {
		if known[l.Other] {
			continue
		}
		if err := knowledgegraph.AdmitTarget(ctx, r.kg, i, l.Other, d.Term()); err != nil {
			return err
		}
		if err := knowledgegraph.InsertEquivalence(ctx, r.kg, provenance, l.Target, l.Other); err != nil {
			return err
		}
		if !admitted[l.Other] {
			admitted[l.Other] = true
			report.Admitted++
		}
		report.Edges++
	}
	return nil
}

// LinkQuery asks for every non-blank ?y equivalent to a ?t of chunk, in
// either direction. With values the chunk is bound by VALUES, otherwise by
// an IN filter; both shapes select the same rows.
func LinkQuery(chunk []rdf.Term, values bool) *sparql.Query {
	t, y := sparql.V("t"), sparql.V("y")
	links := sparql.Union(
		sparql.G(sparql.Triple(t, sparql.T(rdf.OWLSameAs), y)),
		sparql.G(sparql.Triple(y, sparql.T(rdf.OWLSameAs), t)),
	)
	notBlank := sparql.Filter(sparql.Not(sparql.IsBlank(y)))

	q := sparql.Select("t", "y").WithDistinct()
	if values {
		return q.Body(sparql.Values("t", chunk...), links, notBlank)
	}
	return q.Body(links, sparql.Filter(sparql.In(t, chunk...)), notBlank)
}

// linkOf validates one result row. Some datasets publish the equivalent
// resource as a string literal; such values are read as IRIs when they
// parse as one. Self links and identifiers outside the IRIREF production
// are not links.
func linkOf(b sparql.Binding, chunk []rdf.Term) (Link, bool) {
	t, y := b["t"], b["y"]
	if !slices.Contains(chunk, t) {
		return Link{}, false
	}
	switch y.Kind {
	case rdf.KindIRI:
	case rdf.KindLiteral:
		y = rdf.IRI(y.Value)
	default:
		return Link{}, false
	}
	if y == t || sparql.CheckIRI(y.Value) != nil {
		return Link{}, false
	}
	return Link{Target: t, Other: y}, true
}
