// File: internal/sparql/paging.go
package sparql

import (
	"context"
)

// SelectAll runs q page by page when pageSize is positive, concatenating the
// pages until one comes back short. Unordered queries are ordered by their
// projection so that OFFSET walks a stable sequence.
func SelectAll(ctx context.Context, querier Querier, endpoint string, q *Query, pageSize int) (*Results, error) {
	if pageSize <= 0 {
		return querier.Select(ctx, endpoint, q)
	}
	if len(q.OrderBy) == 0 && len(q.Projection) > 0 {
		cp := *q
		cp.OrderBy = q.Projection
		q = &cp
	}

	all := &Results{}
	for offset := 0; ; offset += pageSize {
		page, err := querier.Select(ctx, endpoint, q.Page(pageSize, offset))
		if err != nil {
			return nil, err
		}
		if all.Vars == nil {
			all.Vars = page.Vars
		}
		all.Bindings = append(all.Bindings, page.Bindings...)
		if page.Len() < pageSize {
			return all, nil
		}
	}
}
