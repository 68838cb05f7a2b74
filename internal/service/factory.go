// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/consistency"
	"github.com/xkilldash9x/sameas-cli/internal/frontier"
	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/prune"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/retriever"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
)

// ComponentFactory defines the interface for creating the set of components
// needed for a discovery run. Commands depend on it so tests can swap it.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// FactoryOption customizes the production factory.
type FactoryOption func(*concreteFactory)

// WithQuerier replaces the HTTP SPARQL client, e.g. with an in-process federation.
func WithQuerier(q sparql.Querier) FactoryOption {
	return func(f *concreteFactory) { f.querier = q }
}

// WithVocabularyLoader replaces the HTTP vocabulary loader.
func WithVocabularyLoader(l funcprop.VocabularyLoader) FactoryOption {
	return func(f *concreteFactory) { f.loader = l }
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	querier sparql.Querier
	loader  funcprop.VocabularyLoader
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory(opts ...FactoryOption) ComponentFactory {
	f := &concreteFactory{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create handles the full dependency injection and initialization of the
// discovery components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Graph store
	kg, st, cleanup, err := InitializeGateway(ctx, cfg.Store(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.KG = kg
	components.Store = st
	components.cleanup = cleanup
	logger.Debug("Graph store initialized.", zap.String("type", cfg.Store().Type))

	// 2. Remote access
	fed := cfg.Federation()
	disc := cfg.Discovery()
	httpClient, err := InitializeHTTPClient(fed, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	querier := f.querier
	if querier == nil {
		querier = InitializeQuerier(fed, httpClient, logger)
	}
	components.Querier = querier
	loader := f.loader
	if loader == nil {
		loader = funcprop.NewHTTPLoader(httpClient, disc.VocabularyTimeout, fed.UserAgent, logger)
	}
	logger.Debug("Federation client initialized.", zap.Duration("timeout", fed.Timeout), zap.Int("concurrency", fed.Concurrency))

	// 3. Catalog
	components.Registry = registry.New(kg, logger)
	components.Prober = registry.NewProber(components.Registry, querier, registry.ProberConfig{
		Concurrency: fed.Concurrency,
		Ceiling:     disc.ProbeCeiling,
	}, logger)

	// 4. Discovery stages
	components.Frontier = frontier.New(kg, logger)
	components.Retriever = retriever.New(kg, components.Registry, querier, retriever.Config{
		Concurrency: fed.Concurrency,
		BatchSize:   fed.BatchSize,
		NonASCII:    disc.NonASCIIHandling,
	}, logger)
	components.Properties = funcprop.New(kg, components.Registry, querier, loader, funcprop.Config{
		Concurrency:    fed.Concurrency,
		BatchSize:      fed.BatchSize,
		SchemaPageSize: disc.SchemaPageSize,
		NonASCII:       disc.NonASCIIHandling,
	}, logger)
	components.Checker = consistency.New(kg, logger)
	components.Pruner = prune.New(kg, components.Properties, logger)

	if components.Retriever == nil || components.Properties == nil {
		initializationErr = fmt.Errorf("failed to initialize discovery stages")
		return nil, initializationErr
	}
	logger.Info("All discovery components initialized successfully.")
	return components, nil
}
