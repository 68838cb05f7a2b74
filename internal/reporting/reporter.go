// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Output formats accepted by Render.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// Open returns the destination for a report. An empty path or "stdout"
// writes to standard output, and closing it is a no-op.
func Open(outputPath string) (io.WriteCloser, error) {
	if outputPath == "" || outputPath == "stdout" {
		return &nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
	}
	return f, nil
}

// Render writes stats in the requested format.
func Render(w io.Writer, stats Stats, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		return renderTable(w, stats)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func renderTable(w io.Writer, s Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value int
	}{
		{"Targets", s.Targets},
		{"Rotten resources", s.Rotten},
		{"Iterations", s.Iterations},
		{"Datasets", s.Datasets},
		{"Live datasets", s.LiveDatasets},
		{"Candidate properties", s.CandidateProperties},
		{"Not dereferenced properties", s.NotDereferenced},
		{"Voted functional", s.VotedFunctional},
		{"Voted inverse functional", s.VotedInverseFunctional},
		{"Incorrect functional declarations", s.IncorrectFunctional},
		{"Incorrect inverse functional declarations", s.IncorrectInverseFunctional},
		{"Loaded vocabularies", s.LoadedDocuments},
		{"Vocabularies not loaded", s.NotLoadedDocuments},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\n", r.label, r.value)
	}
	if len(s.PerIteration) > 0 {
		fmt.Fprintln(tw, "\nIteration\tTargets")
		for _, it := range s.PerIteration {
			fmt.Fprintf(tw, "%d\t%d\n", it.Iteration, it.Targets)
		}
	}
	return tw.Flush()
}
