// File: internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Query outcomes recorded by RemoteQueries.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeInvalid = "invalid"
)

var (
	// RemoteQueries counts SPARQL requests per endpoint and outcome.
	RemoteQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sameas_remote_queries_total",
			Help: "Remote SPARQL queries issued, by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// RemoteQueryDuration observes the wall time of one query including retries.
	RemoteQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sameas_remote_query_duration_seconds",
			Help:    "Duration of remote SPARQL queries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"endpoint"},
	)

	// AdmittedTargets counts resources admitted as Targets, by the stage that found them.
	AdmittedTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sameas_admitted_targets_total",
			Help: "Resources admitted as Targets",
		},
		[]string{"stage"},
	)

	// RottenFlags counts resources flagged by each consistency rule.
	RottenFlags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sameas_rotten_flags_total",
			Help: "Resources flagged rotten, by rule",
		},
		[]string{"rule"},
	)

	// PrunedStatements counts statements removed by the pruning cascade.
	PrunedStatements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sameas_pruned_statements_total",
			Help: "Statements deleted by the pruning cascade",
		},
	)

	// CurrentIteration tracks the iteration the driver is working on.
	CurrentIteration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sameas_current_iteration",
			Help: "Iteration currently being expanded",
		},
	)

	// LiveDatasets tracks how many endpoints passed the alive probe.
	LiveDatasets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sameas_live_datasets",
			Help: "Datasets whose endpoint answered the alive probe",
		},
	)

	// ConfirmedProperties tracks how many (inverse) functional properties inference may use.
	ConfirmedProperties = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sameas_confirmed_properties",
			Help: "Properties confirmed functional or inverse-functional",
		},
	)

	// VocabularyLoads counts vocabulary documents fetched, by outcome.
	VocabularyLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sameas_vocabulary_loads_total",
			Help: "Vocabulary documents dereferenced, by outcome",
		},
		[]string{"outcome"},
	)

	// FrontierSize tracks the size of the frontier being expanded.
	FrontierSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sameas_frontier_size",
			Help: "Number of Targets in the current frontier",
		},
	)
)

func init() {
	prometheus.MustRegister(RemoteQueries)
	prometheus.MustRegister(RemoteQueryDuration)
	prometheus.MustRegister(AdmittedTargets)
	prometheus.MustRegister(RottenFlags)
	prometheus.MustRegister(PrunedStatements)
	prometheus.MustRegister(CurrentIteration)
	prometheus.MustRegister(FrontierSize)
	prometheus.MustRegister(LiveDatasets)
	prometheus.MustRegister(ConfirmedProperties)
	prometheus.MustRegister(VocabularyLoads)
}

// ObserveQuery records one finished remote query.
func ObserveQuery(endpoint, outcome string, elapsed time.Duration) {
	RemoteQueries.WithLabelValues(endpoint, outcome).Inc()
	RemoteQueryDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Serve exposes the default registry on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics listener started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
