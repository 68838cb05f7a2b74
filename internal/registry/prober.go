// File: internal/registry/prober.go
package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/worker"
)

// DefaultProbeCeiling caps the result-limit probe.
const DefaultProbeCeiling = 100000

var (
	anyTriple   = sparql.Triple(sparql.V("x"), sparql.V("p"), sparql.V("y"))
	typedTriple = sparql.Triple(sparql.V("x"), sparql.T(rdf.RDFType), sparql.V("y"))

	aliveQuery    = sparql.Select("x").Body(anyTriple).WithLimit(1)
	valuesQuery   = sparql.Select("x").Body(sparql.Values("dummy", rdf.Literal("dummy")), typedTriple).WithLimit(1)
	nonASCIIQuery = sparql.Select("x").Body(
		typedTriple,
		sparql.Optional(sparql.Triple(sparql.V("x1"), sparql.V("p1"), sparql.T(rdf.Literal("あ")))),
	).WithLimit(1)
)

// ProberConfig bounds the probing work.
type ProberConfig struct {
	Concurrency int
	// Ceiling is the LIMIT of the result-limit probe.
	Ceiling int
}

// Prober measures endpoint capabilities and records them in the registry.
type Prober struct {
	reg *Registry
	q   sparql.Querier
	cfg ProberConfig
	log *zap.Logger
}

// NewProber creates a prober.
func NewProber(reg *Registry, q sparql.Querier, cfg ProberConfig, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultProbeCeiling
	}
	return &Prober{reg: reg, q: q, cfg: cfg, log: logger.Named("prober")}
}

// Probe checks every catalog entry and stores the measured status. Probes
// against different datasets run concurrently; the status records are
// written afterwards in id order.
func (p *Prober) Probe(ctx context.Context) ([]Dataset, error) {
	datasets, err := p.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	results := worker.Gather(ctx, p.cfg.Concurrency, datasets, func(ctx context.Context, d Dataset) (Status, error) {
		return p.ProbeDataset(ctx, d), nil
	})

	live := 0
	for i, r := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		datasets[i].Status = r.Value
		if err := p.reg.SetStatus(ctx, datasets[i].ID, r.Value); err != nil {
			return nil, err
		}
		if r.Value.Alive {
			live++
		}
	}
	metrics.LiveDatasets.Set(float64(live))
	p.log.Info("Endpoint probing complete", zap.Int("datasets", len(datasets)), zap.Int("live", live))
	return datasets, nil
}

// ProbeDataset runs the probe sequence against one endpoint. A dead endpoint
// is not probed further; a failing capability probe reads as unsupported.
func (p *Prober) ProbeDataset(ctx context.Context, d Dataset) Status {
	log := p.log.With(zap.String("dataset", d.ID), zap.String("endpoint", d.Endpoint))

	var st Status
	st.Alive = p.answers(ctx, log, d.Endpoint, aliveQuery, "alive")
	if !st.Alive {
		log.Warn("Endpoint is not available")
		return st
	}
	st.SupportsValues = p.answers(ctx, log, d.Endpoint, valuesQuery, "values")
	st.SupportsNonASCII = p.answers(ctx, log, d.Endpoint, nonASCIIQuery, "non-ascii")

	res, err := p.q.Select(ctx, d.Endpoint, sparql.Select("x").Body(anyTriple).WithLimit(p.cfg.Ceiling))
	switch {
	case err != nil:
		log.Debug("Result-limit probe failed", zap.Error(err))
	case res.Len() > 0 && res.Len() < p.cfg.Ceiling:
		st.ResultLimit = res.Len()
	}

	log.Debug("Endpoint probed",
		zap.Bool("values", st.SupportsValues),
		zap.Bool("non_ascii", st.SupportsNonASCII),
		zap.Int("result_limit", st.ResultLimit),
	)
	return st
}

func (p *Prober) answers(ctx context.Context, log *zap.Logger, endpoint string, q *sparql.Query, probe string) bool {
	res, err := p.q.Select(ctx, endpoint, q)
	if err != nil {
		log.Debug("Probe failed", zap.String("probe", probe), zap.Error(err))
		return false
	}
	return res.Len() > 0
}

// AssumeCapable marks every catalog entry alive with full capabilities,
// for runs that skip probing.
func (p *Prober) AssumeCapable(ctx context.Context) ([]Dataset, error) {
	datasets, err := p.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range datasets {
		datasets[i].Status = Status{Alive: true, SupportsValues: true, SupportsNonASCII: true}
		if err := p.reg.SetStatus(ctx, datasets[i].ID, datasets[i].Status); err != nil {
			return nil, err
		}
	}
	metrics.LiveDatasets.Set(float64(len(datasets)))
	return datasets, nil
}
