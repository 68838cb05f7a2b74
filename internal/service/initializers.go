// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/network"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/store"
)

// InitializeGateway connects to PostgreSQL or starts an in-memory graph.
// The returned store is nil for the in-memory backend. cleanup may be nil.
func InitializeGateway(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (knowledgegraph.Gateway, *store.Store, func(), error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		logger.Warn("No persistent graph store configured; using a temporary in-memory store. All discovered links are lost on exit.")
		return knowledgegraph.NewInMemoryKG(logger), nil, nil, nil

	case config.StorePostgres:
		logger.Info("Initializing PostgreSQL graph store.", zap.String("host", cfg.Postgres.Host), zap.String("dbname", cfg.Postgres.DBName))
		s, pool, err := store.Connect(ctx, cfg.Postgres.DSN(), logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("failed to prepare graph schema: %w", err)
		}
		cleanup := func() {
			logger.Debug("Closing PostgreSQL connection pool.")
			pool.Close()
		}
		return s, s, cleanup, nil
	}
	return nil, nil, nil, fault.WrapInvalid(fmt.Errorf("%w: unsupported store type %q", fault.ErrInvalidConfig, cfg.Type), "service", "InitializeGateway", "select backend")
}

// InitializeHTTPClient builds the outbound client shared by the SPARQL
// client and the vocabulary loader. Its own timeout is disabled; every caller
// bounds its requests through the context.
func InitializeHTTPClient(cfg config.FederationConfig, logger *zap.Logger) (*network.Client, error) {
	netCfg := network.NewDefaultClientConfig()
	netCfg.RequestTimeout = 0
	netCfg.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	netCfg.Logger = logger
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fault.WrapInvalid(fmt.Errorf("%w: proxy_url: %v", fault.ErrInvalidConfig, err), "service", "InitializeHTTPClient", "parse proxy")
		}
		netCfg.ProxyURL = proxy
	}
	if cfg.IgnoreTLSErrors {
		logger.Warn("TLS certificate verification is disabled for remote endpoints.")
	}
	return network.NewClient(netCfg), nil
}

// InitializeQuerier creates the SPARQL client for the federation.
func InitializeQuerier(cfg config.FederationConfig, httpClient sparql.Doer, logger *zap.Logger) *sparql.Client {
	clientCfg := sparql.DefaultClientConfig()
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.Burst = cfg.Burst
	if cfg.UserAgent != "" {
		clientCfg.UserAgent = cfg.UserAgent
	}
	return sparql.NewClient(clientCfg, sparql.WithHTTPClient(httpClient), sparql.WithLogger(logger))
}
