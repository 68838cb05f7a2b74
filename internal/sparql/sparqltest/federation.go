// File: internal/sparql/sparqltest/federation.go
package sparqltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/sparql"
)

// Federation routes queries to in-memory stores by endpoint URL. It
// implements sparql.Querier.
type Federation struct {
	mu       sync.Mutex
	stores   map[string]*Store
	failures map[string]error
	calls    map[string]int
	queries  map[string][]string
}

var _ sparql.Querier = (*Federation)(nil)

// NewFederation returns an empty federation.
func NewFederation() *Federation {
	return &Federation{
		stores:   make(map[string]*Store),
		failures: make(map[string]error),
		calls:    make(map[string]int),
		queries:  make(map[string][]string),
	}
}

// Endpoint registers (or returns) the store behind url.
func (f *Federation) Endpoint(url string) *Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[url]
	if !ok {
		s = NewStore()
		f.stores[url] = s
	}
	return s
}

// Fail makes every query to url fail with err, or with a transient
// unavailability error when err is nil.
func (f *Federation) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = fault.WrapTransient(fmt.Errorf("%w: %s", fault.ErrEndpointUnavailable, url), "sparqltest", "Federation.Select", "query endpoint")
	}
	f.failures[url] = err
}

// Recover clears an injected failure.
func (f *Federation) Recover(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, url)
}

// Calls returns how many queries reached url, failed ones included.
func (f *Federation) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// Queries returns the query texts sent to url, in arrival order.
func (f *Federation) Queries(url string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries[url]...)
}

// Select implements sparql.Querier.
func (f *Federation) Select(ctx context.Context, endpoint string, q *sparql.Query) (*sparql.Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.WrapTransient(err, "sparqltest", "Federation.Select", "query endpoint")
	}
	f.mu.Lock()
	f.calls[endpoint]++
	if text, err := q.Build(); err == nil {
		f.queries[endpoint] = append(f.queries[endpoint], text)
	}
	store, known := f.stores[endpoint]
	failure := f.failures[endpoint]
	f.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !known {
		return nil, fault.WrapTransient(fmt.Errorf("%w: %s", fault.ErrEndpointUnavailable, endpoint), "sparqltest", "Federation.Select", "query endpoint")
	}
	res, err := store.Eval(q)
	if err != nil {
		if fault.IsInvalid(err) {
			return nil, err
		}
		return nil, fault.WrapTransient(err, "sparqltest", "Federation.Select", "evaluate query")
	}
	return res, nil
}
