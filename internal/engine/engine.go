// File: internal/engine/engine.go

// Package engine drives the discovery loop: it seeds the frontier, prepares
// the dataset catalog, and then alternates retrieval, inference, consistency
// checks and pruning until no new Target is found.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/prune"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/retriever"
	"github.com/xkilldash9x/sameas-cli/internal/store"
)

// ErrAlreadyRunning is returned when Run is called on a driver that is busy.
var ErrAlreadyRunning = errors.New("discovery run already in progress")

// -- Interfaces for Dependency Inversion --

// Frontier seeds iteration zero and computes each iteration's frontier.
type Frontier interface {
	Seed(ctx context.Context, seeds []rdf.Term) (int, error)
	CurrentFrontier(ctx context.Context, i int) ([]rdf.Term, error)
}

// Catalog loads and cleans the dataset catalog.
type Catalog interface {
	Populate(ctx context.Context, datasets []config.DatasetConfig) error
	Deduplicate(ctx context.Context) ([]string, error)
}

// Prober measures what each endpoint supports.
type Prober interface {
	Probe(ctx context.Context) ([]registry.Dataset, error)
	AssumeCapable(ctx context.Context) ([]registry.Dataset, error)
}

// Retriever runs the owl:sameAs stage.
type Retriever interface {
	RetrieveEquivalences(ctx context.Context, frontier []rdf.Term, i int) (retriever.Report, error)
}

// Properties runs the functional property stages.
type Properties interface {
	RetrieveCandidateProperties(ctx context.Context) (funcprop.StageReport, error)
	LoadVocabularies(ctx context.Context) (funcprop.LoadReport, error)
	DetectSchemas(ctx context.Context) (funcprop.StageReport, error)
	Vote(ctx context.Context) ([]funcprop.Tally, error)
	ExpandViaFunctionalProperties(ctx context.Context, frontier []rdf.Term, i int) (funcprop.ExpandReport, error)
	InferEquivalences(ctx context.Context, i int) (funcprop.InferReport, error)
}

// Checker runs the two consistency rules.
type Checker interface {
	DetectCrossIterationRotten(ctx context.Context, i int) ([]rdf.Term, error)
	DetectSameIterationRotten(ctx context.Context, i int) ([]rdf.Term, error)
}

// Pruner retires flagged resources.
type Pruner interface {
	Apply(ctx context.Context) (prune.Result, error)
}

// RunRecorder persists run summaries. Only the Postgres store provides one.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.RunRecord) error
}

// Components bundles the collaborators of a driver. Properties and Recorder
// are optional.
type Components struct {
	KG         knowledgegraph.Gateway
	Frontier   Frontier
	Catalog    Catalog
	Prober     Prober
	Retriever  Retriever
	Properties Properties
	Checker    Checker
	Pruner     Pruner
	Recorder   RunRecorder
}

// Config selects what a run does.
type Config struct {
	Seeds    []rdf.Term
	Datasets []config.DatasetConfig
	// FunctionalProperties enables the property stages.
	FunctionalProperties bool
	// MaxIterations stops the loop early; zero means unbounded.
	MaxIterations int
	// SkipProbe marks every dataset capable instead of probing it.
	SkipProbe bool
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	// Iterations is the number of expansion iterations that ran.
	Iterations int
	Seeds      int
	Datasets   int
	LiveCount  int
	Admitted   int
	Inferred   int
	Rotten     int
	Pruned     int64
	// Confirmed lists the properties won by vote.
	Confirmed []funcprop.Tally
	// Errors combines the endpoint failures of every stage.
	Errors error
	// Stopped is set when MaxIterations ended the loop.
	Stopped bool
}

// Failures returns the number of stage failures.
func (s Summary) Failures() int { return len(multierr.Errors(s.Errors)) }

// Driver owns the discovery loop.
type Driver struct {
	c      Components
	cfg    Config
	out    io.Writer
	logger *zap.Logger

	// stateLock guards running so a driver never runs twice at once.
	stateLock sync.Mutex
	running   bool
}

// New validates the components and creates a driver. Progress lines go to
// out when it is not nil.
func New(c Components, cfg Config, out io.Writer, logger *zap.Logger) (*Driver, error) {
	if c.KG == nil || c.Frontier == nil || c.Catalog == nil || c.Prober == nil ||
		c.Retriever == nil || c.Checker == nil || c.Pruner == nil {
		return nil, fault.WrapInvalid(fmt.Errorf("%w: missing discovery component", fault.ErrInvalidConfig), "engine", "New", "validate components")
	}
	if cfg.FunctionalProperties && c.Properties == nil {
		return nil, fault.WrapInvalid(fmt.Errorf("%w: functional properties enabled without a property engine", fault.ErrInvalidConfig), "engine", "New", "validate components")
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{c: c, cfg: cfg, out: out, logger: logger.Named("engine")}, nil
}

// Run executes one discovery run. Endpoint failures and stages that fail
// with a transient or invalid error are collected in the summary; a fatal
// error or a cancelled context ends the run with an error.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	d.stateLock.Lock()
	if d.running {
		d.stateLock.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	d.running = true
	d.stateLock.Unlock()
	defer func() {
		d.stateLock.Lock()
		d.running = false
		d.stateLock.Unlock()
	}()

	sum := Summary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := d.logger.With(zap.String("run_id", sum.RunID))
	log.Info("Starting discovery run", zap.Int("seeds", len(d.cfg.Seeds)), zap.Int("datasets", len(d.cfg.Datasets)))

	err := d.run(ctx, log, &sum)
	sum.FinishedAt = time.Now().UTC()
	if rerr := d.record(log, sum); rerr != nil {
		err = multierr.Append(err, rerr)
	}
	if err != nil {
		log.Error("Discovery run aborted", zap.Int("iterations", sum.Iterations), zap.Error(err))
		return sum, err
	}
	log.Info("Discovery run finished",
		zap.Int("iterations", sum.Iterations),
		zap.Int("admitted", sum.Admitted),
		zap.Int("rotten", sum.Rotten),
		zap.Int("failures", sum.Failures()),
		zap.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)
	return sum, nil
}

func (d *Driver) run(ctx context.Context, log *zap.Logger, sum *Summary) error {
	seeded, err := d.c.Frontier.Seed(ctx, d.cfg.Seeds)
	if err != nil {
		return err
	}
	sum.Seeds = seeded
	if err := d.prepareCatalog(ctx, log, sum); err != nil {
		return err
	}

	i := 1
	frontier, err := d.c.Frontier.CurrentFrontier(ctx, i)
	if err != nil {
		return err
	}
	if sum.LiveCount == 0 {
		log.Warn("No live dataset to query, nothing to expand")
		frontier = nil
	}

	if d.cfg.FunctionalProperties {
		if err := d.prepareProperties(ctx, log, sum); err != nil {
			return err
		}
	}

	for len(frontier) > 0 {
		if d.cfg.MaxIterations > 0 && i > d.cfg.MaxIterations {
			log.Info("Iteration limit reached", zap.Int("max_iterations", d.cfg.MaxIterations))
			sum.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		metrics.CurrentIteration.Set(float64(i))
		metrics.FrontierSize.Set(float64(len(frontier)))
		log.Info("Starting iteration", zap.Int("iteration", i), zap.Int("frontier", len(frontier)))
		fmt.Fprintf(d.out, "iteration %d: frontier size %d\n", i, len(frontier))

		if err := d.iterate(ctx, frontier, i, sum); err != nil {
			return err
		}
		sum.Iterations = i
		i++
		if frontier, err = d.c.Frontier.CurrentFrontier(ctx, i); err != nil {
			return err
		}
	}
	metrics.FrontierSize.Set(0)

	if err := ctx.Err(); err != nil {
		return err
	}
	return d.checkSameIteration(ctx, i, sum)
}

// prepareCatalog loads the configured datasets, drops duplicates, and
// records what every endpoint supports.
func (d *Driver) prepareCatalog(ctx context.Context, log *zap.Logger, sum *Summary) error {
	if err := d.c.Catalog.Populate(ctx, d.cfg.Datasets); err != nil {
		return err
	}
	dropped, err := d.c.Catalog.Deduplicate(ctx)
	if err != nil {
		return err
	}
	if len(dropped) > 0 {
		log.Info("Dropped duplicate datasets", zap.Strings("datasets", dropped))
	}

	var datasets []registry.Dataset
	if d.cfg.SkipProbe {
		datasets, err = d.c.Prober.AssumeCapable(ctx)
	} else {
		datasets, err = d.c.Prober.Probe(ctx)
	}
	if err != nil {
		return err
	}
	sum.Datasets = len(datasets)
	for _, ds := range datasets {
		if ds.Status.Alive {
			sum.LiveCount++
		}
	}
	fmt.Fprintf(d.out, "datasets: %d live of %d\n", sum.LiveCount, sum.Datasets)
	return nil
}

// prepareProperties finds candidate functional properties and votes on them.
func (d *Driver) prepareProperties(ctx context.Context, log *zap.Logger, sum *Summary) error {
	p := d.c.Properties
	candidates, err := p.RetrieveCandidateProperties(ctx)
	if err := tolerate(ctx, log, "candidates", err, sum); err != nil {
		return err
	}
	sum.Errors = multierr.Append(sum.Errors, stageFailures("candidates", candidates.Failures))
	_, err = p.LoadVocabularies(ctx)
	if err := tolerate(ctx, log, "vocabularies", err, sum); err != nil {
		return err
	}
	schemas, err := p.DetectSchemas(ctx)
	if err := tolerate(ctx, log, "schemas", err, sum); err != nil {
		return err
	}
	sum.Errors = multierr.Append(sum.Errors, stageFailures("schemas", schemas.Failures))
	tallies, err := p.Vote(ctx)
	if err != nil {
		return err
	}
	for _, t := range tallies {
		if t.Confirms(rdf.OWLFunctionalProperty) || t.Confirms(rdf.OWLInverseFunctionalProperty) {
			sum.Confirmed = append(sum.Confirmed, t)
		}
	}
	log.Info("Functional properties prepared",
		zap.Int("candidates", candidates.Recorded),
		zap.Int("voted", len(tallies)),
		zap.Int("confirmed", len(sum.Confirmed)),
	)
	return nil
}

// iterate runs every stage of iteration i. Each stage sees the writes of
// the stages before it.
func (d *Driver) iterate(ctx context.Context, frontier []rdf.Term, i int, sum *Summary) error {
	log := d.logger.With(zap.Int("iteration", i))
	report, err := d.c.Retriever.RetrieveEquivalences(ctx, frontier, i)
	if err := tolerate(ctx, log, "retrieve", err, sum); err != nil {
		return err
	}
	sum.Admitted += report.Admitted
	sum.Errors = multierr.Append(sum.Errors, report.Err())

	if d.cfg.FunctionalProperties {
		expand, err := d.c.Properties.ExpandViaFunctionalProperties(ctx, frontier, i)
		if err := tolerate(ctx, log, "expand", err, sum); err != nil {
			return err
		}
		sum.Errors = multierr.Append(sum.Errors, stageFailures("expand", expand.Failures))
		infer, err := d.c.Properties.InferEquivalences(ctx, i)
		if err := tolerate(ctx, log, "infer", err, sum); err != nil {
			return err
		}
		sum.Inferred += infer.Admitted
		sum.Errors = multierr.Append(sum.Errors, stageFailures("infer", infer.Failures))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	flagged, err := d.c.Checker.DetectCrossIterationRotten(ctx, i)
	if err != nil {
		return err
	}
	sum.Rotten += len(flagged)
	if err := d.prune(ctx, sum); err != nil {
		return err
	}
	return d.checkSameIteration(ctx, i, sum)
}

func (d *Driver) checkSameIteration(ctx context.Context, i int, sum *Summary) error {
	flagged, err := d.c.Checker.DetectSameIterationRotten(ctx, i)
	if err != nil {
		return err
	}
	sum.Rotten += len(flagged)
	return d.prune(ctx, sum)
}

func (d *Driver) prune(ctx context.Context, sum *Summary) error {
	res, err := d.c.Pruner.Apply(ctx)
	if err != nil {
		return err
	}
	sum.Pruned += res.Deleted
	return nil
}

// record stores the summary when a recorder is wired. It uses its own
// deadline so a cancelled run is still recorded.
func (d *Driver) record(log *zap.Logger, sum Summary) error {
	if d.c.Recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := d.c.Recorder.RecordRun(ctx, store.RunRecord{
		ID:         sum.RunID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Iterations: sum.Iterations,
		Targets:    sum.Seeds + sum.Admitted + sum.Inferred,
		Rotten:     sum.Rotten,
		Failures:   sum.Failures(),
	})
	if err != nil {
		log.Error("Failed to record run summary", zap.Error(err))
		return err
	}
	return nil
}

// tolerate decides whether a failed stage ends the run. A cancelled run and
// fatal errors are returned. Transient and invalid errors go into the
// summary and the run continues with whatever the stage committed.
func tolerate(ctx context.Context, log *zap.Logger, stage string, err error, sum *Summary) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil, fault.IsFatal(err):
		return err
	case fault.IsTransient(err), fault.IsInvalid(err):
		log.Warn("Stage failed, continuing without it", zap.String("stage", stage), zap.Error(err))
		sum.Errors = multierr.Append(sum.Errors, fmt.Errorf("%s: %w", stage, err))
		return nil
	default:
		return err
	}
}

// stageFailures tags every dropped dataset with the stage it failed in and
// keeps the endpoint error.
func stageFailures(stage string, failures []funcprop.Failure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, fmt.Errorf("%s: dataset %s (%s): %w", stage, f.Dataset, f.Endpoint, f.Err))
	}
	return err
}
