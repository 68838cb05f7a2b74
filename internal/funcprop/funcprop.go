// File: internal/funcprop/funcprop.go

// Package funcprop discovers (inverse) functional properties across the
// federation, confirms them by vocabulary lookup or dataset vote, and uses
// the confirmed ones to infer equivalences that no dataset states outright.
package funcprop

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

// DefaultSchemaPageSize is the page size of the schema detection queries.
const DefaultSchemaPageSize = 10000

// Catalog is the registry view the engine needs.
type Catalog interface {
	ListLiveDatasets(ctx context.Context) ([]registry.Dataset, error)
}

// Config tunes the fan-out and the query shapes.
type Config struct {
	Concurrency    int
	BatchSize      int
	SchemaPageSize int
	NonASCII       bool
}

// Engine runs the functional property stages.
type Engine struct {
	kg      knowledgegraph.Gateway
	catalog Catalog
	q       sparql.Querier
	loader  VocabularyLoader
	cfg     Config
	log     *zap.Logger
}

// New creates an engine. A nil loader disables vocabulary dereferencing, so
// every candidate goes to the vote.
func New(kg knowledgegraph.Gateway, catalog Catalog, q sparql.Querier, loader VocabularyLoader, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SchemaPageSize <= 0 {
		cfg.SchemaPageSize = DefaultSchemaPageSize
	}
	return &Engine{kg: kg, catalog: catalog, q: q, loader: loader, cfg: cfg, log: logger.Named("funcprop")}
}

// Failure records one dataset whose contribution to a stage was dropped.
type Failure struct {
	Dataset  string
	Endpoint string
	Err      error
}

func failed(d registry.Dataset, err error) Failure {
	return Failure{Dataset: d.ID, Endpoint: d.Endpoint, Err: err}
}

func combine(failures []Failure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, f.Err)
	}
	return err
}

// StageReport summarises one stage.
type StageReport struct {
	Datasets int
	Queries  int
	Recorded int
	Failures []Failure
}

// Err combines the failures of the stage.
func (r StageReport) Err() error { return combine(r.Failures) }

var (
	fpVar, ifpVar = sparql.Var("fp"), sparql.Var("ifp")

	candidateQuery = sparql.Select(fpVar, ifpVar).WithDistinct().Body(sparql.Union(
		sparql.G(
			sparql.Triple(sparql.V(fpVar), sparql.T(rdf.RDFType), sparql.T(rdf.OWLFunctionalProperty)),
			sparql.Filter(sparql.Not(sparql.IsBlank(sparql.V(fpVar)))),
		),
		sparql.G(
			sparql.Triple(sparql.V(ifpVar), sparql.T(rdf.RDFType), sparql.T(rdf.OWLInverseFunctionalProperty)),
			sparql.Filter(sparql.Not(sparql.IsBlank(sparql.V(ifpVar)))),
		),
	))
)

type candidate struct {
	property rdf.Term
	kind     rdf.Term
}

// RetrieveCandidateProperties asks every live dataset for the properties it
// declares functional or inverse-functional, and records each declaration
// with the namespace of the property and the dataset that made it.
func (e *Engine) RetrieveCandidateProperties(ctx context.Context) (StageReport, error) {
	var report StageReport
	datasets, err := e.catalog.ListLiveDatasets(ctx)
	if err != nil {
		return report, err
	}
	report.Datasets = len(datasets)

	results := worker.Gather(ctx, e.cfg.Concurrency, datasets, func(ctx context.Context, d registry.Dataset) ([]candidate, error) {
		res, err := sparql.SelectAll(ctx, e.q, d.Endpoint, candidateQuery, d.Status.ResultLimit)
		if err != nil {
			return nil, err
		}
		var out []candidate
		for _, b := range res.Bindings {
			if p, ok := propertyOf(b[string(fpVar)]); ok {
				out = append(out, candidate{property: p, kind: rdf.OWLFunctionalProperty})
			}
			if p, ok := propertyOf(b[string(ifpVar)]); ok {
				out = append(out, candidate{property: p, kind: rdf.OWLInverseFunctionalProperty})
			}
		}
		return out, nil
	})

	graph := knowledgegraph.Properties()
	for idx, res := range results {
		d := datasets[idx]
		report.Queries++
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			e.log.Warn("Skipping dataset for candidate retrieval", zap.String("dataset", d.ID), zap.Error(res.Err))
			report.Failures = append(report.Failures, failed(d, res.Err))
			continue
		}
		for _, c := range res.Value {
			err := e.kg.Insert(ctx, graph,
				rdf.NewQuad(c.property, rdf.RDFType, c.kind),
				rdf.NewQuad(c.property, rdf.SameHasNamespace, rdf.Literal(rdf.Namespace(c.property.Value))),
				rdf.NewQuad(c.property, rdf.AssertionPredicate(c.kind), d.Term()),
			)
			if err != nil {
				return report, err
			}
			report.Recorded++
		}
	}
	e.log.Info("Candidate properties retrieved", zap.Int("datasets", report.Datasets), zap.Int("declarations", report.Recorded))
	return report, nil
}

// propertyOf reads a property IRI, accepting IRIs published as strings.
func propertyOf(t rdf.Term) (rdf.Term, bool) {
	switch t.Kind {
	case rdf.KindIRI:
	case rdf.KindLiteral:
		t = rdf.IRI(t.Value)
	default:
		return rdf.Term{}, false
	}
	if sparql.CheckIRI(t.Value) != nil {
		return rdf.Term{}, false
	}
	return t, true
}

// Candidates returns every candidate property with the characteristics some
// dataset asserted for it.
func (e *Engine) Candidates(ctx context.Context) (map[rdf.Term][]rdf.Term, error) {
	stmts, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Properties()), Predicate: rdf.RDFType})
	if err != nil {
		return nil, err
	}
	out := make(map[rdf.Term][]rdf.Term)
	for _, s := range stmts {
		if slices.Contains(rdf.PropertyKinds, s.Object) && !slices.Contains(out[s.Subject], s.Object) {
			out[s.Subject] = append(out[s.Subject], s.Object)
		}
	}
	return out, nil
}

var (
	propVar = sparql.Var("property")

	schemaBody = []sparql.Element{
		sparql.Triple(sparql.V(propVar), sparql.T(rdf.RDFType), sparql.V("type")),
		sparql.Triple(sparql.V(propVar), sparql.V("p"), sparql.V("o")),
		sparql.Filter(sparql.In(sparql.V("type"), rdf.SchemaTypes...)),
		sparql.Filter(sparql.In(sparql.V("p"), rdf.RDFSLabel, rdf.RDFSRange, rdf.RDFSDomain)),
	}
	schemaCountQuery = sparql.SelectCount(propVar, true, "propertyCount").Body(schemaBody...)
	schemaPageQuery  = sparql.Select(propVar).WithDistinct().Body(schemaBody...).OrderAsc(propVar)
)

// DetectSchemas moves the candidates whose vocabulary gave no type for them
// into the not-dereferenced graph, then looks for a schema description of
// each such property in every live dataset. A dataset describing p gets a
// `D same:hasSchemaFor p` statement.
func (e *Engine) DetectSchemas(ctx context.Context) (StageReport, error) {
	var report StageReport
	candidates, err := e.Candidates(ctx)
	if err != nil {
		return report, err
	}
	pending := make(map[rdf.Term]bool)
	for p, kinds := range candidates {
		typed, err := e.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Vocabulary()), Subject: p, Predicate: rdf.RDFType})
		if err != nil {
			return report, err
		}
		if typed {
			continue
		}
		pending[p] = true
		for _, k := range kinds {
			if err := e.kg.Insert(ctx, knowledgegraph.PropertiesNotDeferenced(), rdf.NewQuad(p, rdf.RDFType, k)); err != nil {
				return report, err
			}
		}
	}
	if len(pending) == 0 {
		return report, nil
	}

	datasets, err := e.catalog.ListLiveDatasets(ctx)
	if err != nil {
		return report, err
	}
	report.Datasets = len(datasets)
	results := worker.Gather(ctx, e.cfg.Concurrency, datasets, func(ctx context.Context, d registry.Dataset) ([]rdf.Term, error) {
		return e.describedProperties(ctx, d)
	})

	for idx, res := range results {
		d := datasets[idx]
		report.Queries++
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			e.log.Warn("Skipping dataset for schema detection", zap.String("dataset", d.ID), zap.Error(res.Err))
			report.Failures = append(report.Failures, failed(d, res.Err))
			continue
		}
		for _, p := range res.Value {
			if !pending[p] {
				continue
			}
			if err := e.kg.Insert(ctx, knowledgegraph.Properties(), rdf.NewQuad(d.Term(), rdf.SameHasSchemaFor, p)); err != nil {
				return report, err
			}
			report.Recorded++
		}
	}
	e.log.Info("Schema detection complete", zap.Int("pending", len(pending)), zap.Int("schemas", report.Recorded))
	return report, nil
}

// describedProperties counts the schema-described properties of d, then
// pages through them in order.
func (e *Engine) describedProperties(ctx context.Context, d registry.Dataset) ([]rdf.Term, error) {
	res, err := e.q.Select(ctx, d.Endpoint, schemaCountQuery)
	if err != nil {
		return nil, err
	}
	n, err := res.Int("propertyCount")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	page := e.cfg.SchemaPageSize
	if limit := d.Status.ResultLimit; limit > 0 && limit < page {
		page = limit
	}
	res, err = sparql.SelectAll(ctx, e.q, d.Endpoint, schemaPageQuery, page)
	if err != nil {
		return nil, err
	}
	return res.Terms(propVar), nil
}

// Tally is the vote evidence for one property.
type Tally struct {
	Property          rdf.Term
	WithSchema        int
	Functional        int
	InverseFunctional int
}

// Confirms reports whether the tally carries kind. Datasets without a schema
// for the property do not take part.
func (t Tally) Confirms(kind rdf.Term) bool {
	n := t.Functional
	if kind == rdf.OWLInverseFunctionalProperty {
		n = t.InverseFunctional
	}
	return t.WithSchema > 0 && n > 0 && 2*n >= t.WithSchema
}

// Vote counts, for every not-dereferenced property, the datasets holding a
// schema for it and those among them that assert each characteristic. A
// majority of at least one half confirms the characteristic. Votes are only
// ever added; the evidence counts are replaced.
func (e *Engine) Vote(ctx context.Context) ([]Tally, error) {
	undeferenced, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.PropertiesNotDeferenced()), Predicate: rdf.RDFType})
	if err != nil {
		return nil, err
	}
	schemas, err := e.objectsBySubject(ctx, rdf.SameHasSchemaFor, true)
	if err != nil {
		return nil, err
	}
	functional, err := e.objectsBySubject(ctx, rdf.SameAssertedFunctional, false)
	if err != nil {
		return nil, err
	}
	inverse, err := e.objectsBySubject(ctx, rdf.SameAssertedInverse, false)
	if err != nil {
		return nil, err
	}

	votes := knowledgegraph.Votes()
	var tallies []Tally
	for _, p := range knowledgegraph.Subjects(undeferenced) {
		t := Tally{Property: p}
		for d := range schemas[p] {
			t.WithSchema++
			if functional[p][d] {
				t.Functional++
			}
			if inverse[p][d] {
				t.InverseFunctional++
			}
		}
		for _, pred := range []rdf.Term{rdf.SameInNbOfDatasetWithSchema, rdf.SameNbFunctional, rdf.SameNbInverseFunctional} {
			if _, err := e.kg.Delete(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(votes), Subject: p, Predicate: pred}); err != nil {
				return nil, err
			}
		}
		quads := []rdf.Quad{
			rdf.NewQuad(p, rdf.SameInNbOfDatasetWithSchema, rdf.Integer(t.WithSchema)),
			rdf.NewQuad(p, rdf.SameNbFunctional, rdf.Integer(t.Functional)),
			rdf.NewQuad(p, rdf.SameNbInverseFunctional, rdf.Integer(t.InverseFunctional)),
		}
		for _, kind := range rdf.PropertyKinds {
			if t.Confirms(kind) {
				quads = append(quads, rdf.NewQuad(p, rdf.SameVotingType, kind))
			}
		}
		if err := e.kg.Insert(ctx, votes, quads...); err != nil {
			return nil, err
		}
		tallies = append(tallies, t)
	}
	e.log.Info("Voting complete", zap.Int("properties", len(tallies)))
	return tallies, nil
}

// objectsBySubject indexes a Properties() predicate. With reversed the
// statement subject is the dataset and the object the property.
func (e *Engine) objectsBySubject(ctx context.Context, predicate rdf.Term, reversed bool) (map[rdf.Term]map[rdf.Term]bool, error) {
	stmts, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Properties()), Predicate: predicate})
	if err != nil {
		return nil, err
	}
	out := make(map[rdf.Term]map[rdf.Term]bool)
	for _, s := range stmts {
		p, d := s.Subject, s.Object
		if reversed {
			p, d = d, p
		}
		if out[p] == nil {
			out[p] = make(map[rdf.Term]bool)
		}
		out[p][d] = true
	}
	return out, nil
}

// Confirmed is the set of properties the inference stage may use.
type Confirmed struct {
	Functional        []rdf.Term
	InverseFunctional []rdf.Term
}

// Empty reports whether no property is confirmed.
func (c Confirmed) Empty() bool { return len(c.Functional) == 0 && len(c.InverseFunctional) == 0 }

// Contains reports whether p is confirmed with any characteristic.
func (c Confirmed) Contains(p rdf.Term) bool {
	return slices.Contains(c.Functional, p) || slices.Contains(c.InverseFunctional, p)
}

// ConfirmedProperties unions the characteristics declared by loaded
// vocabularies with the ones won by vote.
func (e *Engine) ConfirmedProperties(ctx context.Context) (Confirmed, error) {
	declared, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Vocabulary()), Predicate: rdf.RDFType})
	if err != nil {
		return Confirmed{}, err
	}
	voted, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Votes()), Predicate: rdf.SameVotingType})
	if err != nil {
		return Confirmed{}, err
	}
	fp := make(map[rdf.Term]bool)
	ifp := make(map[rdf.Term]bool)
	for _, s := range append(declared, voted...) {
		switch s.Object {
		case rdf.OWLFunctionalProperty:
			fp[s.Subject] = true
		case rdf.OWLInverseFunctionalProperty:
			ifp[s.Subject] = true
		}
	}
	c := Confirmed{Functional: sortedKeys(fp), InverseFunctional: sortedKeys(ifp)}
	metrics.ConfirmedProperties.Set(float64(len(c.Functional) + len(c.InverseFunctional)))
	return c, nil
}

func sortedKeys(m map[rdf.Term]bool) []rdf.Term {
	out := make([]rdf.Term, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	rdf.SortTerms(out)
	return out
}
