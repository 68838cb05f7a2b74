// File: internal/registry/registry.go

// Package registry keeps the dataset catalog in the Catalog subgraph: one
// entry per dataset with its SPARQL endpoint and the capability flags the
// prober measured. The discovery stages read it as a snapshot through
// ListLiveDatasets.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
)

// Status is the capability record of one endpoint.
type Status struct {
	Alive            bool
	SupportsValues   bool
	SupportsNonASCII bool
	// ResultLimit is the row cap the server imposes; zero means none observed.
	ResultLimit int
}

// Dataset is one catalog entry.
type Dataset struct {
	ID       string
	Endpoint string
	Status   Status
}

// Term returns the IRI the dataset is recorded under.
func (d Dataset) Term() rdf.Term { return DatasetTerm(d.ID) }

// DatasetTerm maps a dataset id to its catalog IRI. Ids that are already
// absolute IRIs are used as they are.
func DatasetTerm(id string) rdf.Term {
	if sparql.CheckIRI(id) == nil {
		return rdf.IRI(id)
	}
	return rdf.IRI(rdf.NSSame + "dataset/" + url.PathEscape(id))
}

var statusPredicates = []rdf.Term{
	rdf.EndsStatusIsAvailable,
	rdf.SameValuesIsAvailable,
	rdf.SameSupportsNonASCII,
	rdf.SameHasLimit,
}

// Registry reads and writes the catalog through the gateway.
type Registry struct {
	kg  knowledgegraph.Gateway
	log *zap.Logger
}

// New creates a registry over kg.
func New(kg knowledgegraph.Gateway, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{kg: kg, log: logger.Named("registry")}
}

// Populate records the configured datasets. A dataset that is already known
// keeps its status but takes the configured endpoint.
func (r *Registry) Populate(ctx context.Context, datasets []config.DatasetConfig) error {
	catalog := knowledgegraph.Catalog()
	for _, ds := range datasets {
		if err := sparql.CheckIRI(ds.Endpoint); err != nil {
			return fault.WrapInvalid(fmt.Errorf("dataset %q: %w", ds.ID, err), "registry", "Populate", "check endpoint")
		}
		d := DatasetTerm(ds.ID)
		if _, err := r.kg.Delete(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(catalog), Subject: d, Predicate: rdf.VoIDSparqlEndpoint}); err != nil {
			return err
		}
		err := r.kg.Insert(ctx, catalog,
			rdf.NewQuad(d, rdf.RDFType, rdf.VoIDDataset),
			rdf.NewQuad(d, rdf.DCTIdentifier, rdf.Literal(ds.ID)),
			rdf.NewQuad(d, rdf.VoIDSparqlEndpoint, rdf.IRI(ds.Endpoint)),
		)
		if err != nil {
			return err
		}
	}
	r.log.Info("Catalog populated", zap.Int("datasets", len(datasets)))
	return nil
}

// Deduplicate collapses datasets sharing one endpoint onto a single entry.
// The shortest id wins, ties go to the lexically smallest. It returns the
// ids that were removed, sorted.
func (r *Registry) Deduplicate(ctx context.Context) ([]string, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	byEndpoint := make(map[string][]Dataset)
	for _, d := range all {
		byEndpoint[d.Endpoint] = append(byEndpoint[d.Endpoint], d)
	}

	var removed []string
	for endpoint, group := range byEndpoint {
		if len(group) < 2 {
			continue
		}
		slices.SortFunc(group, func(a, b Dataset) int {
			if c := cmp.Compare(len(a.ID), len(b.ID)); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for _, d := range group[1:] {
			if _, err := r.kg.Delete(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Catalog()), Subject: d.Term()}); err != nil {
				return nil, err
			}
			removed = append(removed, d.ID)
			r.log.Debug("Dropped duplicate dataset", zap.String("dataset", d.ID), zap.String("kept", group[0].ID), zap.String("endpoint", endpoint))
		}
	}
	slices.Sort(removed)
	return removed, nil
}

// SetStatus replaces the status record of dataset id.
func (r *Registry) SetStatus(ctx context.Context, id string, st Status) error {
	d := DatasetTerm(id)
	catalog := knowledgegraph.Catalog()
	known, err := r.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(catalog), Subject: d, Predicate: rdf.RDFType, Object: rdf.VoIDDataset})
	if err != nil {
		return err
	}
	if !known {
		return fault.WrapInvalid(fmt.Errorf("unknown dataset %q", id), "registry", "SetStatus", "look up dataset")
	}
	for _, p := range statusPredicates {
		if _, err := r.kg.Delete(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(catalog), Subject: d, Predicate: p}); err != nil {
			return err
		}
	}
	quads := []rdf.Quad{
		rdf.NewQuad(d, rdf.EndsStatusIsAvailable, rdf.Boolean(st.Alive)),
		rdf.NewQuad(d, rdf.SameValuesIsAvailable, rdf.Boolean(st.SupportsValues)),
		rdf.NewQuad(d, rdf.SameSupportsNonASCII, rdf.Boolean(st.SupportsNonASCII)),
	}
	if st.ResultLimit > 0 {
		quads = append(quads, rdf.NewQuad(d, rdf.SameHasLimit, rdf.Integer(st.ResultLimit)))
	}
	return r.kg.Insert(ctx, catalog, quads...)
}

// List returns every dataset in the catalog, sorted by id.
func (r *Registry) List(ctx context.Context) ([]Dataset, error) {
	stmts, err := r.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Catalog())})
	if err != nil {
		return nil, err
	}

	entries := make(map[rdf.Term]*Dataset)
	isDataset := make(map[rdf.Term]bool)
	entry := func(s rdf.Term) *Dataset {
		d, ok := entries[s]
		if !ok {
			d = &Dataset{}
			entries[s] = d
		}
		return d
	}
	for _, s := range stmts {
		d := entry(s.Subject)
		switch s.Predicate {
		case rdf.RDFType:
			if s.Object == rdf.VoIDDataset {
				isDataset[s.Subject] = true
			}
		case rdf.DCTIdentifier:
			d.ID = s.Object.Value
		case rdf.VoIDSparqlEndpoint:
			d.Endpoint = s.Object.Value
		case rdf.EndsStatusIsAvailable:
			d.Status.Alive = s.Object.Value == "true"
		case rdf.SameValuesIsAvailable:
			d.Status.SupportsValues = s.Object.Value == "true"
		case rdf.SameSupportsNonASCII:
			d.Status.SupportsNonASCII = s.Object.Value == "true"
		case rdf.SameHasLimit:
			if n, err := strconv.Atoi(s.Object.Value); err == nil && n > 0 {
				d.Status.ResultLimit = n
			}
		}
	}

	out := make([]Dataset, 0, len(isDataset))
	for s := range isDataset {
		d := entries[s]
		if d.ID == "" || d.Endpoint == "" {
			r.log.Warn("Skipping incomplete catalog entry", zap.Stringer("dataset", s))
			continue
		}
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b Dataset) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ListLiveDatasets returns the datasets whose endpoint answered the alive
// probe, sorted by id.
func (r *Registry) ListLiveDatasets(ctx context.Context) ([]Dataset, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, d := range all {
		if d.Status.Alive {
			live = append(live, d)
		}
	}
	return live, nil
}

// Lookup maps dataset terms to entries, for resolving void:inDataset values.
func Lookup(datasets []Dataset) map[rdf.Term]Dataset {
	out := make(map[rdf.Term]Dataset, len(datasets))
	for _, d := range datasets {
		out[d.Term()] = d
	}
	return out
}
