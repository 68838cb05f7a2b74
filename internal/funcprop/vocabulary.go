// File: internal/funcprop/vocabulary.go
package funcprop

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/metrics"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
	"github.com/xkilldash9x/sameas-cli/internal/worker"
)

// VocabularyLoader dereferences a vocabulary document.
type VocabularyLoader interface {
	Load(ctx context.Context, document string) ([]rdf.Quad, error)
}

// Doer is the subset of *http.Client the loader needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxVocabularyBytes = 32 << 20

// HTTPLoader fetches vocabularies with content negotiation and reads
// N-Triples or RDF/XML.
type HTTPLoader struct {
	http      Doer
	timeout   time.Duration
	userAgent string
	log       *zap.Logger
}

// NewHTTPLoader creates a loader. A zero timeout leaves the deadline to ctx.
func NewHTTPLoader(d Doer, timeout time.Duration, userAgent string, logger *zap.Logger) *HTTPLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPLoader{http: d, timeout: timeout, userAgent: userAgent, log: logger.Named("vocabulary")}
}

// Load implements VocabularyLoader.
func (l *HTTPLoader) Load(ctx context.Context, document string) ([]rdf.Quad, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	target, _, _ := strings.Cut(document, "#")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fault.WrapInvalid(fmt.Errorf("%w: %s", fault.ErrInvalidIRI, document), "funcprop", "HTTPLoader.Load", "create request")
	}
	req.Header.Set("Accept", "application/n-triples, application/rdf+xml;q=0.9, text/plain;q=0.5")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fault.WrapTransient(fmt.Errorf("%w: %s: %w", fault.ErrEndpointUnavailable, target, err), "funcprop", "HTTPLoader.Load", "fetch vocabulary")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fault.WrapTransient(fmt.Errorf("%w: %d", fault.ErrUnexpectedStatus, resp.StatusCode), "funcprop", "HTTPLoader.Load", "fetch vocabulary")
	}

	base := target
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL.String()
	}
	body := io.LimitReader(resp.Body, maxVocabularyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var quads []rdf.Quad
	switch mediaType {
	case "application/n-triples", "text/plain":
		quads, err = rdf.ParseNTriples(body, func(line int, err error) {
			l.log.Debug("Skipped malformed statement", zap.String("document", target), zap.Int("line", line), zap.Error(err))
		})
	case "application/rdf+xml", "application/xml", "text/xml":
		quads, err = rdf.ParseRDFXML(body, base)
	default:
		err = fmt.Errorf("unsupported media type %q", mediaType)
	}
	if err != nil {
		return nil, fault.WrapTransient(fmt.Errorf("%w: %w", fault.ErrMalformedResponse, err), "funcprop", "HTTPLoader.Load", "parse vocabulary")
	}
	return quads, nil
}

// LoadReport summarises one vocabulary load.
type LoadReport struct {
	Namespaces int
	Loaded     int
	Failed     int
	Skipped    int
	Statements int
}

// LoadVocabularies dereferences the namespace of every candidate property
// and keeps the property type declarations found there. A namespace loaded
// by an earlier run is not fetched again. Failures are logged and counted.
func (e *Engine) LoadVocabularies(ctx context.Context) (LoadReport, error) {
	var report LoadReport
	if e.loader == nil {
		return report, nil
	}
	stmts, err := e.kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Properties()), Predicate: rdf.SameHasNamespace})
	if err != nil {
		return report, err
	}
	vocab := knowledgegraph.Vocabulary()
	var namespaces []string
	for _, ns := range knowledgegraph.Objects(stmts) {
		if sparql.CheckIRI(ns.Value) != nil || slices.Contains(namespaces, ns.Value) {
			continue
		}
		done, err := e.kg.Exists(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(vocab), Subject: rdf.IRI(ns.Value), Object: rdf.SameVocabularyDocument})
		if err != nil {
			return report, err
		}
		if done {
			report.Skipped++
			continue
		}
		namespaces = append(namespaces, ns.Value)
	}
	report.Namespaces = len(namespaces)

	results := worker.Gather(ctx, e.cfg.Concurrency, namespaces, e.loader.Load)
	for idx, res := range results {
		ns := namespaces[idx]
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			e.log.Warn("Could not load vocabulary", zap.String("namespace", ns), zap.Error(res.Err))
			metrics.VocabularyLoads.WithLabelValues(metrics.OutcomeFailure).Inc()
			report.Failed++
			continue
		}
		quads := []rdf.Quad{rdf.NewQuad(rdf.IRI(ns), rdf.RDFType, rdf.SameVocabularyDocument)}
		for _, q := range res.Value {
			if q.Subject.IsIRI() && q.Predicate == rdf.RDFType && slices.Contains(rdf.SchemaTypes, q.Object) {
				quads = append(quads, q)
			}
		}
		if err := e.kg.Insert(ctx, vocab, quads...); err != nil {
			return report, err
		}
		metrics.VocabularyLoads.WithLabelValues(metrics.OutcomeSuccess).Inc()
		report.Loaded++
		report.Statements += len(quads) - 1
	}
	e.log.Info("Vocabularies loaded",
		zap.Int("namespaces", report.Namespaces),
		zap.Int("loaded", report.Loaded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
