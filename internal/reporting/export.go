// -- internal/reporting/export.go --
package reporting

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// Row is one exported resource with the id of its equivalence class.
type Row struct {
	ClassID  int
	Resource rdf.Term
}

// Classes groups the current Targets, plus the Rotten resources when
// includeRotten is set, into equivalence classes. Classes are numbered from
// 1 in the order of their smallest member; rows are sorted by class then
// resource.
func Classes(ctx context.Context, kg knowledgegraph.Gateway, includeRotten bool) ([]Row, error) {
	iterations, err := knowledgegraph.TargetIterations(ctx, kg)
	if err != nil {
		return nil, err
	}
	members := make(map[rdf.Term]bool, len(iterations))
	for r := range iterations {
		members[r] = true
	}
	if includeRotten {
		rotten, err := knowledgegraph.RottenSet(ctx, kg)
		if err != nil {
			return nil, err
		}
		for r := range rotten {
			members[r] = true
		}
	}

	ordered := make([]rdf.Term, 0, len(members))
	for r := range members {
		ordered = append(ordered, r)
	}
	rdf.SortTerms(ordered)

	class := make(map[rdf.Term]int, len(members))
	var rows []Row
	next := 0
	for _, r := range ordered {
		if _, done := class[r]; done {
			continue
		}
		next++
		group := []rdf.Term{r}
		class[r] = next
		reach, err := kg.Reachable(ctx, r, rdf.OWLSameAs)
		if err != nil {
			return nil, err
		}
		for _, o := range reach {
			if _, done := class[o]; members[o] && !done {
				class[o] = next
				group = append(group, o)
			}
		}
		rdf.SortTerms(group)
		for _, m := range group {
			rows = append(rows, Row{ClassID: next, Resource: m})
		}
	}
	return rows, nil
}

// WriteCSV writes the export as `new_eq_id;term` rows under a header line.
func WriteCSV(ctx context.Context, kg knowledgegraph.Gateway, w io.Writer, includeRotten bool) (int, error) {
	rows, err := Classes(ctx, kg, includeRotten)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write([]string{"new_eq_id", "term"}); err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(r.ClassID), r.Resource.Value}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(rows), cw.Error()
}
