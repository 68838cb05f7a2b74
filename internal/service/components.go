// File: internal/service/components.go
package service

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/consistency"
	"github.com/xkilldash9x/sameas-cli/internal/engine"
	"github.com/xkilldash9x/sameas-cli/internal/frontier"
	"github.com/xkilldash9x/sameas-cli/internal/funcprop"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/prune"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
	"github.com/xkilldash9x/sameas-cli/internal/retriever"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/store"
)

// Components holds every initialized service a discovery run needs and
// centralizes their lifecycle.
type Components struct {
	KG         knowledgegraph.Gateway
	Store      *store.Store // nil for the in-memory backend
	Querier    sparql.Querier
	Registry   *registry.Registry
	Prober     *registry.Prober
	Frontier   *frontier.Manager
	Retriever  *retriever.Retriever
	Properties *funcprop.Engine
	Checker    *consistency.Checker
	Pruner     *prune.Cascade

	logger  *zap.Logger
	cleanup func()
}

// Engine returns the driver's view of the components.
func (c *Components) Engine() engine.Components {
	ec := engine.Components{
		KG:         c.KG,
		Frontier:   c.Frontier,
		Catalog:    c.Registry,
		Prober:     c.Prober,
		Retriever:  c.Retriever,
		Properties: c.Properties,
		Checker:    c.Checker,
		Pruner:     c.Pruner,
	}
	if c.Store != nil {
		ec.Recorder = c.Store
	}
	return ec
}

// Shutdown releases the store connection. It is safe to call more than once.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
		logger.Debug("Graph store closed.")
	}
	logger.Info("All discovery components shut down successfully.")
}
