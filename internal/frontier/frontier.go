// File: internal/frontier/frontier.go

// Package frontier tracks which Targets get expanded in each iteration.
package frontier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
)

// Manager reads and seeds the iteration subgraphs.
type Manager struct {
	kg  knowledgegraph.Gateway
	log *zap.Logger
}

// New creates a frontier manager.
func New(kg knowledgegraph.Gateway, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{kg: kg, log: logger.Named("frontier")}
}

// Seed admits the seed resources as Targets of iteration 0. Seeds that are
// already Rotten, or Targets of a later iteration, are skipped. An invalid
// seed fails the whole call before anything is written.
func (m *Manager) Seed(ctx context.Context, seeds []rdf.Term) (int, error) {
	for _, s := range seeds {
		if !s.IsIRI() {
			return 0, fault.WrapInvalid(fmt.Errorf("%w: seed %s is not an IRI", fault.ErrInvalidIRI, s), "frontier", "Seed", "check seed")
		}
		if err := sparql.CheckIRI(s.Value); err != nil {
			return 0, err
		}
	}
	rotten, err := knowledgegraph.RottenSet(ctx, m.kg)
	if err != nil {
		return 0, err
	}
	iterations, err := knowledgegraph.TargetIterations(ctx, m.kg)
	if err != nil {
		return 0, err
	}

	admitted := 0
	for _, s := range seeds {
		if rotten[s] {
			m.log.Info("Skipping rotten seed", zap.Stringer("resource", s))
			continue
		}
		if i, ok := iterations[s]; ok && i > 0 {
			m.log.Info("Skipping seed already discovered", zap.Stringer("resource", s), zap.Int("iteration", i))
			continue
		}
		if err := knowledgegraph.AdmitTarget(ctx, m.kg, 0, s); err != nil {
			return admitted, err
		}
		admitted++
	}
	m.log.Info("Seeded frontier", zap.Int("seeds", admitted))
	return admitted, nil
}

// CurrentFrontier returns the Targets of iteration i-1, sorted and with every
// Rotten resource removed. A store failure yields an empty frontier so the
// loop stops; the error is returned alongside for the caller to report.
func (m *Manager) CurrentFrontier(ctx context.Context, i int) ([]rdf.Term, error) {
	targets, err := knowledgegraph.Targets(ctx, m.kg, i-1)
	if err != nil {
		m.log.Error("Could not read frontier, treating it as empty", zap.Int("iteration", i), zap.Error(err))
		return nil, err
	}
	rotten, err := knowledgegraph.RottenSet(ctx, m.kg)
	if err != nil {
		m.log.Error("Could not read rotten set, treating frontier as empty", zap.Int("iteration", i), zap.Error(err))
		return nil, err
	}
	frontier := targets[:0]
	for _, t := range targets {
		if !rotten[t] {
			frontier = append(frontier, t)
		}
	}
	return frontier, nil
}

// Size returns the number of Targets held by iteration i.
func (m *Manager) Size(ctx context.Context, i int) (int, error) {
	targets, err := knowledgegraph.Targets(ctx, m.kg, i)
	if err != nil {
		return 0, err
	}
	return len(targets), nil
}
