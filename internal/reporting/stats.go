// -- internal/reporting/stats.go --
package reporting

import (
	"context"
	"sort"

	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
	"github.com/xkilldash9x/sameas-cli/internal/registry"
)

// IterationStats counts the Targets of one iteration.
type IterationStats struct {
	Iteration int `json:"iteration" yaml:"iteration"`
	Targets   int `json:"targets" yaml:"targets"`
}

// Stats is the activity report of the working graph.
type Stats struct {
	Targets      int `json:"targets" yaml:"targets"`
	Rotten       int `json:"rotten" yaml:"rotten"`
	Iterations   int `json:"iterations" yaml:"iterations"`
	Datasets     int `json:"datasets" yaml:"datasets"`
	LiveDatasets int `json:"live_datasets" yaml:"live_datasets"`

	CandidateProperties    int `json:"candidate_properties" yaml:"candidate_properties"`
	NotDereferenced        int `json:"not_dereferenced_properties" yaml:"not_dereferenced_properties"`
	VotedFunctional        int `json:"voted_functional" yaml:"voted_functional"`
	VotedInverseFunctional int `json:"voted_inverse_functional" yaml:"voted_inverse_functional"`
	// Incorrect* count candidates whose loaded vocabulary types them, but
	// not with the characteristic a dataset claimed.
	IncorrectFunctional        int `json:"incorrect_functional" yaml:"incorrect_functional"`
	IncorrectInverseFunctional int `json:"incorrect_inverse_functional" yaml:"incorrect_inverse_functional"`
	LoadedDocuments            int `json:"loaded_documents" yaml:"loaded_documents"`
	NotLoadedDocuments         int `json:"not_loaded_documents" yaml:"not_loaded_documents"`

	PerIteration []IterationStats `json:"per_iteration,omitempty" yaml:"per_iteration,omitempty"`
}

// Collect reads the activity report from the gateway.
func Collect(ctx context.Context, kg knowledgegraph.Gateway) (Stats, error) {
	var s Stats

	iterations, err := knowledgegraph.TargetIterations(ctx, kg)
	if err != nil {
		return s, err
	}
	s.Targets = len(iterations)
	perIteration := make(map[int]int)
	for _, i := range iterations {
		perIteration[i]++
	}
	for i, n := range perIteration {
		s.PerIteration = append(s.PerIteration, IterationStats{Iteration: i, Targets: n})
		if i > s.Iterations {
			s.Iterations = i
		}
	}
	sort.Slice(s.PerIteration, func(a, b int) bool { return s.PerIteration[a].Iteration < s.PerIteration[b].Iteration })

	rotten, err := knowledgegraph.RottenSet(ctx, kg)
	if err != nil {
		return s, err
	}
	s.Rotten = len(rotten)

	datasets, err := registry.New(kg, nil).List(ctx)
	if err != nil {
		return s, err
	}
	s.Datasets = len(datasets)
	for _, d := range datasets {
		if d.Status.Alive {
			s.LiveDatasets++
		}
	}

	if err := collectProperties(ctx, kg, &s); err != nil {
		return s, err
	}
	return s, nil
}

func collectProperties(ctx context.Context, kg knowledgegraph.Gateway, s *Stats) error {
	props := knowledgegraph.In(knowledgegraph.Properties())
	vocab := knowledgegraph.In(knowledgegraph.Vocabulary())

	declared, err := kg.Match(ctx, knowledgegraph.Pattern{Graph: props, Predicate: rdf.RDFType})
	if err != nil {
		return err
	}
	s.CandidateProperties = len(knowledgegraph.Subjects(declared))

	pending, err := kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.PropertiesNotDeferenced()), Predicate: rdf.RDFType})
	if err != nil {
		return err
	}
	s.NotDereferenced = len(knowledgegraph.Subjects(pending))

	for kind, count := range map[rdf.Term]*int{
		rdf.OWLFunctionalProperty:        &s.VotedFunctional,
		rdf.OWLInverseFunctionalProperty: &s.VotedInverseFunctional,
	} {
		voted, err := kg.Match(ctx, knowledgegraph.Pattern{Graph: knowledgegraph.In(knowledgegraph.Votes()), Predicate: rdf.SameVotingType, Object: kind})
		if err != nil {
			return err
		}
		*count = len(knowledgegraph.Subjects(voted))
	}

	typed, err := kg.Match(ctx, knowledgegraph.Pattern{Graph: vocab, Predicate: rdf.RDFType})
	if err != nil {
		return err
	}
	types := make(map[rdf.Term]map[rdf.Term]bool)
	for _, st := range typed {
		if st.Object == rdf.SameVocabularyDocument {
			s.LoadedDocuments++
			continue
		}
		if types[st.Subject] == nil {
			types[st.Subject] = make(map[rdf.Term]bool)
		}
		types[st.Subject][st.Object] = true
	}
	for _, st := range declared {
		known := types[st.Subject]
		if len(known) == 0 || known[st.Object] {
			continue
		}
		switch st.Object {
		case rdf.OWLFunctionalProperty:
			s.IncorrectFunctional++
		case rdf.OWLInverseFunctionalProperty:
			s.IncorrectInverseFunctional++
		}
	}

	namespaces, err := kg.Match(ctx, knowledgegraph.Pattern{Graph: props, Predicate: rdf.SameHasNamespace})
	if err != nil {
		return err
	}
	for _, ns := range knowledgegraph.Objects(namespaces) {
		loaded, err := kg.Exists(ctx, knowledgegraph.Pattern{Graph: vocab, Subject: rdf.IRI(ns.Value), Predicate: rdf.RDFType, Object: rdf.SameVocabularyDocument})
		if err != nil {
			return err
		}
		if !loaded {
			s.NotLoadedDocuments++
		}
	}
	return nil
}
