// File: internal/funcprop/expand.go
package funcprop

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/worker"
)

// patterns holds the statements one dataset returned for the frontier.
type patterns struct {
	ifp, fp []rdf.Quad
	queries int
}

// ExpandReport summarises pattern collection for one iteration.
type ExpandReport struct {
	Iteration int
	Datasets  int
	Queries   int
	IFP       int
	FP        int
	Failures  []Failure
}

// Err combines the failures of the stage.
func (r ExpandReport) Err() error { return combine(r.Failures) }

// ExpandViaFunctionalProperties records, for every frontier resource t and
// every live dataset D, the statements `t p v` with p inverse-functional and
// `s p t` with p functional. They land in IFPPatterns(i, D) and
// FPPatterns(i, D).
func (e *Engine) ExpandViaFunctionalProperties(ctx context.Context, frontier []rdf.Term, i int) (ExpandReport, error) {
	report := ExpandReport{Iteration: i}
	confirmed, err := e.ConfirmedProperties(ctx)
	if err != nil || confirmed.Empty() {
		return report, err
	}
	datasets, err := e.catalog.ListLiveDatasets(ctx)
	if err != nil {
		return report, err
	}
	report.Datasets = len(datasets)

	var usable []rdf.Term
	for _, t := range frontier {
		if t.IsIRI() && sparql.CheckIRI(t.Value) == nil {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 || len(datasets) == 0 {
		return report, nil
	}
	ascii, _ := rdf.SplitASCII(usable)

	results := worker.Gather(ctx, e.cfg.Concurrency, datasets, func(ctx context.Context, d registry.Dataset) (patterns, error) {
		resources := ascii
		if e.cfg.NonASCII && d.Status.SupportsNonASCII {
			resources = usable
		}
		return e.collect(ctx, d, resources, confirmed)
	})

	for idx, res := range results {
		d := datasets[idx]
		report.Queries += res.Value.queries
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			e.log.Warn("Skipping dataset for pattern collection", zap.String("dataset", d.ID), zap.Int("iteration", i), zap.Error(res.Err))
			report.Failures = append(report.Failures, failed(d, res.Err))
		}
		if len(res.Value.ifp) > 0 {
			if err := e.kg.Insert(ctx, knowledgegraph.IFPPatterns(i, d.ID), res.Value.ifp...); err != nil {
				return report, err
			}
		}
		if len(res.Value.fp) > 0 {
			if err := e.kg.Insert(ctx, knowledgegraph.FPPatterns(i, d.ID), res.Value.fp...); err != nil {
				return report, err
			}
		}
		report.IFP += len(res.Value.ifp)
		report.FP += len(res.Value.fp)
	}
	e.log.Info("Functional patterns collected", zap.Int("iteration", i), zap.Int("ifp", report.IFP), zap.Int("fp", report.FP))
	return report, nil
}

func (e *Engine) collect(ctx context.Context, d registry.Dataset, resources []rdf.Term, confirmed Confirmed) (patterns, error) {
	var out patterns
	for chunk := range slices.Chunk(resources, e.cfg.BatchSize) {
		if len(confirmed.InverseFunctional) > 0 {
			q := PatternQuery(chunk, confirmed.InverseFunctional, true, d.Status.SupportsValues)
			res, err := sparql.SelectAll(ctx, e.q, d.Endpoint, q, d.Status.ResultLimit)
			out.queries++
			if err != nil {
				return out, err
			}
			for _, b := range res.Bindings {
				if t, v := b["t"], b["v"]; slices.Contains(chunk, t) && !v.IsZero() && !v.IsBlank() {
					out.ifp = append(out.ifp, rdf.NewQuad(t, b["p"], v))
				}
			}
		}
		if len(confirmed.Functional) > 0 {
			q := PatternQuery(chunk, confirmed.Functional, false, d.Status.SupportsValues)
			res, err := sparql.SelectAll(ctx, e.q, d.Endpoint, q, d.Status.ResultLimit)
			out.queries++
			if err != nil {
				return out, err
			}
			for _, b := range res.Bindings {
				if t, s := b["t"], b["s"]; slices.Contains(chunk, t) && s.IsIRI() {
					out.fp = append(out.fp, rdf.NewQuad(s, b["p"], t))
				}
			}
		}
	}
	return out, nil
}

// PatternQuery selects the statements linking chunk through properties.
// Inverse-functional patterns have the frontier resource ?t as subject and
// bind ?v; functional patterns have ?t as object and bind ?s.
func PatternQuery(chunk, properties []rdf.Term, inverse bool, values bool) *sparql.Query {
	t, p := sparql.V("t"), sparql.V("p")
	other := sparql.Var("s")
	triple := sparql.Triple(sparql.V(other), p, t)
	if inverse {
		other = "v"
		triple = sparql.Triple(t, p, sparql.V(other))
	}
	q := sparql.Select("t", "p", other).WithDistinct()
	return q.Body(bindAll(values, "t", chunk), bindAll(values, "p", properties), triple, sparql.Filter(sparql.Not(sparql.IsBlank(sparql.V(other)))))
}

// bindAll restricts v to terms with a VALUES block, or an IN filter when the
// endpoint refuses VALUES.
func bindAll(values bool, v sparql.Var, terms []rdf.Term) sparql.Element {
	if values {
		return sparql.Values(v, terms...)
	}
	return sparql.Filter(sparql.In(sparql.V(v), terms...))
}

// inference is one candidate equivalence found in a second dataset.
type inference struct {
	source, found rdf.Term
	pattern       rdf.Quad
	inverse       bool
}

// recorded is one pattern statement together with the dataset it came from.
type recorded struct {
	quad    rdf.Quad
	dataset string
}

// InferReport summarises the inference stage of one iteration.
type InferReport struct {
	Iteration int
	Queries   int
	Admitted  int
	Edges     int
	Failures  []Failure
}

// Err combines the failures of the stage.
func (r InferReport) Err() error { return combine(r.Failures) }

// InferEquivalences resolves the patterns recorded for iteration i against
// the other live datasets. For `t1 p v` with p inverse-functional, every
// `t2 p v` elsewhere makes t2 equivalent to t1; for `s p t1` with p
// functional, every `s p t2` does. A t2 that was neither a Target nor
// Rotten when the stage started is admitted into iteration i, with the edge
// in the provenance graph of the answering endpoint and its own pattern
// recorded for that dataset.
func (e *Engine) InferEquivalences(ctx context.Context, i int) (InferReport, error) {
	report := InferReport{Iteration: i}
	ifp, err := e.recordedPatterns(ctx, knowledgegraph.KindIFPPatterns, i)
	if err != nil {
		return report, err
	}
	fp, err := e.recordedPatterns(ctx, knowledgegraph.KindFPPatterns, i)
	if err != nil {
		return report, err
	}
	if len(ifp) == 0 && len(fp) == 0 {
		return report, nil
	}
	datasets, err := e.catalog.ListLiveDatasets(ctx)
	if err != nil {
		return report, err
	}

	type found struct {
		inferences []inference
		queries    int
	}
	results := worker.Gather(ctx, e.cfg.Concurrency, datasets, func(ctx context.Context, d registry.Dataset) (found, error) {
		var out found
		for _, group := range []struct {
			patterns []recorded
			inverse  bool
		}{{ifp, true}, {fp, false}} {
			inf, n, err := e.resolve(ctx, d, group.patterns, group.inverse)
			out.queries += n
			out.inferences = append(out.inferences, inf...)
			if err != nil {
				return out, err
			}
		}
		return out, nil
	})

	known, err := knowledgegraph.KnownResources(ctx, e.kg)
	if err != nil {
		return report, err
	}
	admitted := make(map[rdf.Term]bool)
	for idx, res := range results {
		d := datasets[idx]
		report.Queries += res.Value.queries
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			e.log.Warn("Skipping dataset for inference", zap.String("dataset", d.ID), zap.Int("iteration", i), zap.Error(res.Err))
			report.Failures = append(report.Failures, failed(d, res.Err))
		}
		provenance := knowledgegraph.Provenance(d.Endpoint, i)
		for _, inf := range res.Value.inferences {
			if known[inf.found] {
				continue
			}
			if err := knowledgegraph.AdmitTarget(ctx, e.kg, i, inf.found, d.Term()); err != nil {
				return report, err
			}
			if err := knowledgegraph.InsertEquivalence(ctx, e.kg, provenance, inf.source, inf.found); err != nil {
				return report, err
			}
			graph := knowledgegraph.FPPatterns(i, d.ID)
			if inf.inverse {
				graph = knowledgegraph.IFPPatterns(i, d.ID)
			}
			if err := e.kg.Insert(ctx, graph, inf.pattern); err != nil {
				return report, err
			}
			if !admitted[inf.found] {
				admitted[inf.found] = true
				report.Admitted++
			}
			report.Edges++
		}
	}
	metrics.AdmittedTargets.WithLabelValues("functional").Add(float64(report.Admitted))
	e.log.Info("Functional inference complete", zap.Int("iteration", i), zap.Int("admitted", report.Admitted), zap.Int("edges", report.Edges))
	return report, nil
}

func (e *Engine) recordedPatterns(ctx context.Context, kind knowledgegraph.GraphKind, i int) ([]recorded, error) {
	keys, err := e.kg.Graphs(ctx, kind)
	if err != nil {
		return nil, err
	}
	var out []recorded
	for _, key := range keys {
		if key.Iteration != i {
			continue
		}
		stmts, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(key)})
		if err != nil {
			return nil, err
		}
		for _, s := range stmts {
			out = append(out, recorded{quad: s.Quad, dataset: key.Dataset})
		}
	}
	return out, nil
}

// resolve looks in d for the counterparts of patterns recorded by other
// datasets. One query per property and chunk of shared values.
func (e *Engine) resolve(ctx context.Context, d registry.Dataset, pats []recorded, inverse bool) ([]inference, int, error) {
	// sources maps (property, shared value) to the resources it identifies.
	type key struct{ p, shared rdf.Term }
	sources := make(map[key][]rdf.Term)
	var order []key
	for _, r := range pats {
		if r.dataset == d.ID {
			continue
		}
		k := key{p: r.quad.Predicate, shared: r.quad.Subject}
		resource := r.quad.Object
		if inverse {
			k.shared, resource = r.quad.Object, r.quad.Subject
		}
		if !rdf.IsASCII(k.shared.Value) && !(e.cfg.NonASCII && d.Status.SupportsNonASCII) {
			continue
		}
		if _, ok := sources[k]; !ok {
			order = append(order, k)
		}
		if !slices.Contains(sources[k], resource) {
			sources[k] = append(sources[k], resource)
		}
	}

	byProperty := make(map[rdf.Term][]rdf.Term)
	var properties []rdf.Term
	for _, k := range order {
		if _, ok := byProperty[k.p]; !ok {
			properties = append(properties, k.p)
		}
		byProperty[k.p] = append(byProperty[k.p], k.shared)
	}
	rdf.SortTerms(properties)

	var out []inference
	queries := 0
	for _, p := range properties {
		for chunk := range slices.Chunk(byProperty[p], e.cfg.BatchSize) {
			q := CounterpartQuery(p, chunk, inverse, d.Status.SupportsValues)
			res, err := sparql.SelectAll(ctx, e.q, d.Endpoint, q, d.Status.ResultLimit)
			queries++
			if err != nil {
				return out, queries, err
			}
			for _, b := range res.Bindings {
				shared, t2 := b["shared"], b["t2"]
				if !t2.IsIRI() || sparql.CheckIRI(t2.Value) != nil {
					continue
				}
				pattern := rdf.NewQuad(shared, p, t2)
				if inverse {
					pattern = rdf.NewQuad(t2, p, shared)
				}
				for _, t1 := range sources[key{p: p, shared: shared}] {
					if t1 == t2 {
						continue
					}
					out = append(out, inference{source: t1, found: t2, pattern: pattern, inverse: inverse})
				}
			}
		}
	}
	return out, queries, nil
}

// CounterpartQuery selects the resources ?t2 that share a value of p with
// one of shared. For inverse-functional p the shared terms are objects, for
// functional p they are subjects.
func CounterpartQuery(p rdf.Term, shared []rdf.Term, inverse bool, values bool) *sparql.Query {
	s, t2 := sparql.V("shared"), sparql.V("t2")
	triple := sparql.Triple(s, sparql.T(p), t2)
	if inverse {
		triple = sparql.Triple(t2, sparql.T(p), s)
	}
	return sparql.Select("shared", "t2").WithDistinct().Body(
		bindAll(values, "shared", shared),
		triple,
		sparql.Filter(sparql.Not(sparql.IsBlank(t2))),
	)
}
