// File: cmd/seeds.go
package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/sameas-cli/internal/config"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// collectSeeds merges the configured seeds with the seeds file, keeping the
// first occurrence of each IRI.
func collectSeeds(d config.DiscoveryConfig) ([]rdf.Term, error) {
	raw := append([]string(nil), d.Seeds...)
	if d.SeedsFile != "" {
		f, err := os.Open(d.SeedsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open seeds file: %w", err)
		}
		defer f.Close()
		fromFile, err := readSeeds(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read seeds file %s: %w", d.SeedsFile, err)
		}
		raw = append(raw, fromFile...)
	}

	seen := make(map[string]bool, len(raw))
	seeds := make([]rdf.Term, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		seeds = append(seeds, rdf.IRI(s))
	}
	return seeds, nil
}

// readSeeds reads one IRI per line. Blank lines and lines starting with '#'
// are ignored.
func readSeeds(r io.Reader) ([]string, error) {
	var seeds []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seeds = append(seeds, line)
	}
	return seeds, scanner.Err()
}

// parseDatasets turns repeated --dataset id=endpoint flags into catalog
// entries. Flag entries replace configured entries with the same id.
func parseDatasets(configured []config.DatasetConfig, flags []string) ([]config.DatasetConfig, error) {
	if len(flags) == 0 {
		return configured, nil
	}
	byID := make(map[string]int, len(configured))
	out := append([]config.DatasetConfig(nil), configured...)
	for i, d := range out {
		byID[d.ID] = i
	}
	for _, f := range flags {
		d, err := config.ParseDataset(f)
		if err != nil {
			return nil, err
		}
		if i, ok := byID[d.ID]; ok {
			out[i] = d
			continue
		}
		byID[d.ID] = len(out)
		out = append(out, d)
	}
	return out, nil
}
